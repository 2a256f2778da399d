// Package repository defines repository interfaces for data access
package repository

import (
	"context"
	"errors"

	"patrol-beat-tracker/internal/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrNotConfigured is returned when the backend endpoint is not configured
	ErrNotConfigured = errors.New("backend not configured")
	// ErrInvalidCredentials is returned when the identity provider rejects a login
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnavailable is returned for transport failures and 5xx responses
	ErrUnavailable = errors.New("backend unavailable")
	// ErrConflict is returned when a guarded update finds the row in another state
	ErrConflict = errors.New("record state conflict")
)

// IdentityProvider authenticates principals against the remote backend
type IdentityProvider interface {
	// Ping checks that the identity endpoint is configured and reachable
	Ping(ctx context.Context) error
	// Authenticate exchanges credentials for a principal id
	Authenticate(ctx context.Context, email, password string) (string, error)
	// CurrentPrincipalID returns the id behind the held identity token
	CurrentPrincipalID(ctx context.Context) (string, error)
	// SignOut drops the identity token
	SignOut(ctx context.Context) error
}

// PersonnelDirectory looks up personnel records
type PersonnelDirectory interface {
	// GetPersonnelByID returns ErrNotFound when no record exists
	GetPersonnelByID(ctx context.Context, id string) (*models.Personnel, error)
}

// AssignmentStore reads and transitions beat assignments
type AssignmentStore interface {
	// GetAssignmentForPrincipal returns at most one assignment joined with its beat,
	// or nil without error when the principal has none
	GetAssignmentForPrincipal(ctx context.Context, principalID string) (*models.AssignmentRow, error)
	// UpdateAssignmentStatus updates a row matched by both assignment id and principal id
	UpdateAssignmentStatus(ctx context.Context, assignmentID, principalID string, status models.AssignmentStatus) error
}

// LocationStore holds the single current location row per principal
type LocationStore interface {
	// UpsertLocation inserts or updates the row keyed on PersonnelID in one atomic step
	UpsertLocation(ctx context.Context, rec models.LocationRecord) error
	// DeleteLocation removes the principal's row; a missing row is not an error
	DeleteLocation(ctx context.Context, personnelID string) error
	// GetLocation returns ErrNotFound when the principal has no row
	GetLocation(ctx context.Context, personnelID string) (*models.LocationRecord, error)
}
