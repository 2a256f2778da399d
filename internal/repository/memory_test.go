package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patrol-beat-tracker/internal/models"
)

func newTestBackend(t *testing.T) *MemoryBackend {
	t.Helper()
	b := NewMemoryBackend()
	require.NoError(t, b.AddPersonnel(models.Personnel{
		ID: "p-1", Email: "Officer@Example.com", Rank: "PCpl", FullName: "Juan Dela Cruz",
	}, "secret"))
	require.NoError(t, b.AddPersonnel(models.Personnel{ID: "p-2", Email: "other@example.com"}, "secret"))
	b.AddBeat(models.Beat{ID: "beat-1", Name: "Rizal Park North"})
	require.NoError(t, b.AddAssignment("a-1", "p-1", "beat-1", models.AssignmentPending, time.Now()))
	return b
}

func TestMemoryIdentityProvider(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	idp := b.IdentityProvider()

	_, err := idp.CurrentPrincipalID(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = idp.Authenticate(ctx, "officer@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = idp.Authenticate(ctx, "nobody@example.com", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	id, err := idp.Authenticate(ctx, "OFFICER@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)

	current, err := idp.CurrentPrincipalID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p-1", current)

	// sign-in state is per provider
	_, err = b.IdentityProvider().CurrentPrincipalID(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, idp.SignOut(ctx))
	_, err = idp.CurrentPrincipalID(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackendPersonnel(t *testing.T) {
	b := newTestBackend(t)

	p, err := b.GetPersonnelByID(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Juan Dela Cruz", p.FullName)

	_, err = b.GetPersonnelByID(context.Background(), "p-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackendAssignments(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	accepted := time.Date(2025, 1, 15, 7, 55, 0, 0, time.UTC)
	b.now = func() time.Time { return accepted }

	row, err := b.GetAssignmentForPrincipal(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Rizal Park North", row.Beat.Name)
	assert.Equal(t, string(models.AssignmentPending), row.Status)

	row, err = b.GetAssignmentForPrincipal(ctx, "p-2")
	require.NoError(t, err)
	assert.Nil(t, row)

	// another principal cannot move the row
	err = b.UpdateAssignmentStatus(ctx, "a-1", "p-2", models.AssignmentAccepted)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.UpdateAssignmentStatus(ctx, "a-1", "p-1", models.AssignmentAccepted))
	row, err = b.GetAssignmentForPrincipal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.AssignmentAccepted), row.Status)
	require.NotNil(t, row.AcceptedAt)
	assert.Equal(t, accepted, *row.AcceptedAt)

	// once active the row no longer moves back through acceptance
	require.NoError(t, b.UpdateAssignmentStatus(ctx, "a-1", "p-1", models.AssignmentActive))
	err = b.UpdateAssignmentStatus(ctx, "a-1", "p-1", models.AssignmentAccepted)
	assert.ErrorIs(t, err, ErrConflict)
	row, err = b.GetAssignmentForPrincipal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.AssignmentActive), row.Status)

	err = b.AddAssignment("a-2", "p-2", "missing", models.AssignmentPending, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
