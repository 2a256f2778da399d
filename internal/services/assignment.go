package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/models"
	"patrol-beat-tracker/internal/repository"
)

const (
	defaultBeatRadius  = 1000.0
	defaultBeatAddress = "Beat location"
)

// BeatTracker defines the assignment operations the control API drives
type BeatTracker interface {
	GetAssignedBeat(ctx context.Context) (*models.BeatAssignment, error)
	AcceptBeat(ctx context.Context, assignmentID string) error
}

var (
	_ BeatTracker = (*AssignmentTracker)(nil)
	_ BeatSource  = (*AssignmentTracker)(nil)
)

// AssignmentTracker resolves and accepts the principal's beat assignment
type AssignmentTracker struct {
	session *Session
	store   repository.AssignmentStore
	timeout time.Duration

	mu          sync.Mutex
	cached      *models.BeatAssignment
	cachedOwner string
}

// NewAssignmentTracker creates a tracker bound to a session
func NewAssignmentTracker(session *Session, store repository.AssignmentStore, timeout time.Duration) *AssignmentTracker {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &AssignmentTracker{session: session, store: store, timeout: timeout}
}

// GetAssignedBeat returns the principal's single assignment joined with its beat.
// ErrNoAssignment is the normal empty state.
func (t *AssignmentTracker) GetAssignedBeat(ctx context.Context) (*models.BeatAssignment, error) {
	principal := t.session.CurrentPrincipal()
	if principal == nil {
		return nil, ErrUnauthenticated
	}

	row, err := t.readRow(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		t.remember(principal.ID, nil)
		return nil, ErrNoAssignment
	}

	ba := toBeatAssignment(row)
	t.remember(principal.ID, ba)
	return ba, nil
}

// AcceptBeat moves a pending assignment to accepted. Accepting twice is a no-op.
func (t *AssignmentTracker) AcceptBeat(ctx context.Context, assignmentID string) error {
	principal := t.session.CurrentPrincipal()
	if principal == nil {
		return ErrUnauthenticated
	}

	row, err := t.readRow(ctx, principal.ID)
	if err != nil {
		return err
	}
	if row == nil || row.ID != assignmentID {
		return fmt.Errorf("%w: %s", ErrNoAssignment, assignmentID)
	}

	switch status := assignmentStatus(row.Status); status {
	case models.AssignmentAccepted:
		logrus.WithField("assignment", assignmentID).Debug("assignment already accepted")
		return nil
	case models.AssignmentActive, models.AssignmentCompleted:
		return fmt.Errorf("%w: assignment is %s", ErrInvalidTransition, status)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err = t.store.UpdateAssignmentStatus(callCtx, assignmentID, principal.ID, models.AssignmentAccepted)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNoAssignment, assignmentID)
	}
	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	if err != nil {
		return remoteErr("accept assignment", err)
	}

	now := time.Now().UTC()
	row.Status = string(models.AssignmentAccepted)
	row.AcceptedAt = &now
	row.UpdatedAt = now
	t.remember(principal.ID, toBeatAssignment(row))

	logrus.WithFields(logrus.Fields{
		"principal":  principal.ID,
		"assignment": assignmentID,
		"beat":       row.Beat.Name,
	}).Info("✅ Beat accepted")
	return nil
}

// CachedAssignment returns the last assignment resolved for the current principal
func (t *AssignmentTracker) CachedAssignment() *models.BeatAssignment {
	principal := t.session.CurrentPrincipal()
	if principal == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cached == nil || t.cachedOwner != principal.ID {
		return nil
	}
	cp := *t.cached
	return &cp
}

func (t *AssignmentTracker) readRow(ctx context.Context, principalID string) (*models.AssignmentRow, error) {
	return readWithRetry(ctx, "read assignment", t.timeout, func(ctx context.Context) (*models.AssignmentRow, error) {
		return t.store.GetAssignmentForPrincipal(ctx, principalID)
	})
}

func (t *AssignmentTracker) remember(principalID string, ba *models.BeatAssignment) {
	t.mu.Lock()
	t.cached = ba
	t.cachedOwner = principalID
	t.mu.Unlock()
}

func assignmentStatus(raw string) models.AssignmentStatus {
	status := models.AssignmentStatus(raw)
	if !status.Valid() {
		if raw != "" {
			logrus.WithField("status", raw).Warn("⚠️ Unknown assignment status, treating as pending")
		}
		return models.AssignmentPending
	}
	return status
}

// toBeatAssignment joins the row into the public shape and fills defaults
func toBeatAssignment(row *models.AssignmentRow) *models.BeatAssignment {
	beat := row.Beat
	if beat.RadiusMeters <= 0 {
		beat.RadiusMeters = defaultBeatRadius
	}
	if beat.Address == "" {
		beat.Address = defaultBeatAddress
	}
	if beat.CreatedAt.IsZero() {
		beat.CreatedAt = row.AssignedAt
	}

	updated := row.UpdatedAt
	if updated.IsZero() {
		updated = row.AssignedAt
	}

	return &models.BeatAssignment{
		Beat: beat,
		Assignment: models.Assignment{
			ID:           row.ID,
			PersonnelID:  row.PersonnelID,
			BeatID:       beat.ID,
			AssignedDate: row.AssignedAt.Format("2006-01-02"),
			StartTime:    beat.DutyStartTime,
			EndTime:      beat.DutyEndTime,
			Status:       assignmentStatus(row.Status),
			AcceptedAt:   row.AcceptedAt,
			CreatedAt:    row.AssignedAt,
			UpdatedAt:    updated,
		},
	}
}
