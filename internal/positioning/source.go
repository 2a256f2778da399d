// Package positioning adapts device position sources for the duty engine
package positioning

import (
	"context"
	"errors"
	"time"

	"patrol-beat-tracker/internal/models"
)

// Permission is the answer to a location permission request
type Permission string

const (
	Granted Permission = "granted"
	Denied  Permission = "denied"
)

// Tier names the two permission levels a device grants
type Tier string

const (
	Foreground Tier = "foreground"
	Background Tier = "background"
)

var (
	// ErrTimeout is returned when the device does not answer in time
	ErrTimeout = errors.New("position source timeout")
	// ErrClosed is returned after the source has been closed
	ErrClosed = errors.New("position source closed")
	// ErrUnknownSubscription is returned by Unsubscribe for a stale handle
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// SubscriptionID is the handle returned by Subscribe
type SubscriptionID string

// Source supplies device position samples
type Source interface {
	RequestForegroundPermission(ctx context.Context) (Permission, error)
	RequestBackgroundPermission(ctx context.Context) (Permission, error)
	// GetOnce returns a single fix
	GetOnce(ctx context.Context) (models.Position, error)
	// Subscribe delivers samples to onSample whenever interval elapses or the device
	// moves at least minDistance meters from the last delivered sample.
	// onSample must not block.
	Subscribe(interval time.Duration, minDistance float64, onSample func(models.Position)) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
}
