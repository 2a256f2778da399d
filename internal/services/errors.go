// Package services implements business logic for the application
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/repository"
)

var (
	ErrConfiguration     = errors.New("identity service is not configured")
	ErrNetwork           = errors.New("unable to reach the server")
	ErrAuthentication    = errors.New("invalid email or password")
	ErrProfileNotFound   = errors.New("personnel profile not found")
	ErrPermissionDenied  = errors.New("location permission denied")
	ErrNoAssignment      = errors.New("no beat assignment")
	ErrUnauthenticated   = errors.New("not authenticated")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSyncFailure       = errors.New("location sync failed")
	ErrTeardownFailure   = errors.New("failed to clear location record")
)

// remoteErr translates a repository error into the service error space
func remoteErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotConfigured):
		return fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
	case errors.Is(err, repository.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// readWithRetry runs a read-only call under a bounded timeout and retries it
// once when the failure looks like a network problem
func readWithRetry[T any](ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err = fn(callCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		err = remoteErr(op, err)
		if !errors.Is(err, ErrNetwork) || ctx.Err() != nil {
			return out, err
		}
		if attempt == 1 {
			logrus.WithError(err).WithField("op", op).Warn("⚠️ Read failed, retrying once")
		}
	}
	return out, err
}
