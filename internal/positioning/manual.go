package positioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"patrol-beat-tracker/internal/models"
)

// ManualSource is an in-process Source whose fixes are pushed by the caller,
// used when no device broker is configured.
type ManualSource struct {
	mu          sync.Mutex
	permissions map[Tier]Permission
	latest      *models.Position
	waiters     []chan models.Position
	subs        map[SubscriptionID]*subscription
}

// NewManualSource creates a source with both permission tiers granted
func NewManualSource() *ManualSource {
	return &ManualSource{
		permissions: map[Tier]Permission{Foreground: Granted, Background: Granted},
		subs:        make(map[SubscriptionID]*subscription),
	}
}

// SetPermission fixes the answer returned for a tier
func (s *ManualSource) SetPermission(tier Tier, p Permission) {
	s.mu.Lock()
	s.permissions[tier] = p
	s.mu.Unlock()
}

// Push feeds a fix to GetOnce waiters and every active subscription
func (s *ManualSource) Push(p models.Position) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil || p.Timestamp.After(s.latest.Timestamp) {
		s.latest = &p
	}
	for _, w := range s.waiters {
		w <- p
	}
	s.waiters = nil
	for _, sub := range s.subs {
		select {
		case sub.fixes <- p:
		default:
		}
	}
}

// Active returns the number of live subscriptions
func (s *ManualSource) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *ManualSource) RequestForegroundPermission(ctx context.Context) (Permission, error) {
	return s.permission(ctx, Foreground)
}

func (s *ManualSource) RequestBackgroundPermission(ctx context.Context) (Permission, error) {
	return s.permission(ctx, Background)
}

func (s *ManualSource) permission(ctx context.Context, tier Tier) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return Denied, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions[tier], nil
}

func (s *ManualSource) GetOnce(ctx context.Context) (models.Position, error) {
	s.mu.Lock()
	if s.latest != nil {
		p := *s.latest
		s.mu.Unlock()
		return p, nil
	}
	w := make(chan models.Position, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case p := <-w:
		return p, nil
	case <-ctx.Done():
		return models.Position{}, fmt.Errorf("waiting for fix: %w", ctx.Err())
	}
}

func (s *ManualSource) Subscribe(interval time.Duration, minDistance float64, onSample func(models.Position)) (SubscriptionID, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	sub := &subscription{
		fixes: make(chan models.Position, subscriberQueue),
		stop:  make(chan struct{}),
	}
	id := SubscriptionID(uuid.NewString())

	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()

	go runFilter(NewFilter(interval, minDistance), sub.fixes, sub.stop, onSample)
	return id, nil
}

func (s *ManualSource) Unsubscribe(id SubscriptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return ErrUnknownSubscription
	}
	close(sub.stop)
	delete(s.subs, id)
	return nil
}
