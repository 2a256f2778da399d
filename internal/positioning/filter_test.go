package positioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"patrol-beat-tracker/internal/models"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func at(sec int, lat, lng float64) models.Position {
	return models.Position{Latitude: lat, Longitude: lng, Accuracy: 5, Timestamp: t0.Add(time.Duration(sec) * time.Second)}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name    string
		a, b    models.Position
		want    float64
		epsilon float64
	}{
		{
			name: "Same point",
			a:    at(0, 14.5995, 120.9842),
			b:    at(0, 14.5995, 120.9842),
			want: 0,
		},
		{
			name:    "One millidegree of latitude",
			a:       at(0, 14.5995, 120.9842),
			b:       at(0, 14.6005, 120.9842),
			want:    111.2,
			epsilon: 0.5,
		},
		{
			name:    "Manila to Quezon City",
			a:       at(0, 14.5995, 120.9842),
			b:       at(0, 14.6760, 121.0437),
			want:    10650,
			epsilon: 150,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), tt.epsilon+1e-9)
			assert.InDelta(t, Distance(tt.a, tt.b), Distance(tt.b, tt.a), 1e-9)
		})
	}
}

func TestFilterDistanceTrigger(t *testing.T) {
	f := NewFilter(5*time.Second, 5)

	assert.True(t, f.Observe(at(0, 14.5995, 120.9842)), "first fix is emitted")
	// about 1 m away
	assert.False(t, f.Observe(at(1, 14.59951, 120.9842)))
	// about 11 m from the last emitted fix
	assert.True(t, f.Observe(at(2, 14.5996, 120.9842)))

	_, ok := f.Tick()
	assert.False(t, ok, "nothing held after a distance emit")
}

func TestFilterIntervalTrigger(t *testing.T) {
	f := NewFilter(5*time.Second, 5)

	assert.True(t, f.Observe(at(0, 14.5995, 120.9842)))
	assert.False(t, f.Observe(at(1, 14.5995, 120.98421)))
	assert.False(t, f.Observe(at(2, 14.5995, 120.98422)))

	p, ok := f.Tick()
	assert.True(t, ok)
	assert.Equal(t, at(2, 14.5995, 120.98422), p, "newest held fix wins")

	_, ok = f.Tick()
	assert.False(t, ok, "a held fix is emitted once")
}

func TestFilterDropsOutOfOrderFixes(t *testing.T) {
	f := NewFilter(5*time.Second, 5)

	assert.True(t, f.Observe(at(10, 14.5995, 120.9842)))
	assert.False(t, f.Observe(at(5, 15.0, 121.0)), "older than last emitted")
	assert.False(t, f.Observe(at(10, 15.0, 121.0)), "same timestamp")

	assert.False(t, f.Observe(at(12, 14.5995, 120.98421)))
	assert.False(t, f.Observe(at(11, 14.5995, 120.98421)), "older than held")
	p, ok := f.Tick()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(12*time.Second), p.Timestamp)
}

func TestFilterZeroDistanceDisablesDistanceTrigger(t *testing.T) {
	f := NewFilter(time.Second, 0)

	assert.True(t, f.Observe(at(0, 14.5995, 120.9842)))
	assert.False(t, f.Observe(at(1, 15.5995, 121.9842)))
	_, ok := f.Tick()
	assert.True(t, ok)
}
