package positioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patrol-beat-tracker/internal/models"
)

var _ Source = (*ManualSource)(nil)
var _ Source = (*MQTTSource)(nil)

type collector struct {
	mu      sync.Mutex
	samples []models.Position
}

func (c *collector) add(p models.Position) {
	c.mu.Lock()
	c.samples = append(c.samples, p)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func TestManualSourceSubscribe(t *testing.T) {
	src := NewManualSource()
	var got collector

	id, err := src.Subscribe(time.Hour, 5, got.add)
	require.NoError(t, err)
	assert.Equal(t, 1, src.Active())

	src.Push(at(0, 14.5995, 120.9842))
	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)

	// far enough to trigger on distance alone
	src.Push(at(1, 14.6005, 120.9842))
	require.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, src.Unsubscribe(id))
	assert.Zero(t, src.Active())
	assert.ErrorIs(t, src.Unsubscribe(id), ErrUnknownSubscription)

	src.Push(at(2, 14.7005, 120.9842))
	assert.Never(t, func() bool { return got.len() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestManualSourceIntervalTick(t *testing.T) {
	src := NewManualSource()
	var got collector

	_, err := src.Subscribe(20*time.Millisecond, 1000, got.add)
	require.NoError(t, err)

	src.Push(at(0, 14.5995, 120.9842))
	src.Push(at(1, 14.5996, 120.9842))
	require.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestManualSourceGetOnceAndPermissions(t *testing.T) {
	src := NewManualSource()
	ctx := context.Background()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := src.GetOnce(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go src.Push(at(0, 14.5995, 120.9842))
	p, err := src.GetOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14.5995, p.Latitude)

	perm, err := src.RequestBackgroundPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, Granted, perm)

	src.SetPermission(Background, Denied)
	perm, err = src.RequestBackgroundPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, Denied, perm)
}
