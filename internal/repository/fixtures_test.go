package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patrol-beat-tracker/internal/models"
)

const testFixtures = `
personnel:
  - id: p-1
    email: officer@example.com
    password: secret
    rank: PCpl
    full_name: Juan Dela Cruz
beats:
  - id: beat-1
    name: Rizal Park North
    center_lat: 14.5831
    center_lng: 120.9794
    duty_start_time: "08:00"
assignments:
  - id: a-1
    personnel_id: p-1
    beat_id: beat-1
`

func TestParseFixtures(t *testing.T) {
	ctx := context.Background()
	b, err := ParseFixtures([]byte(testFixtures))
	require.NoError(t, err)

	id, err := b.IdentityProvider().Authenticate(ctx, "officer@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)

	p, err := b.GetPersonnelByID(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, p.IsActive)

	row, err := b.GetAssignmentForPrincipal(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, string(models.AssignmentPending), row.Status)
	assert.Equal(t, "08:00", row.Beat.DutyStartTime)
	assert.False(t, row.AssignedAt.IsZero())
}

func TestParseFixturesErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"Malformed YAML", "personnel: [", "decode fixtures"},
		{"Unknown status", "beats:\n  - id: b\nassignments:\n  - id: a\n    personnel_id: p\n    beat_id: b\n    status: lost\n", "unknown status"},
		{"Unknown beat", "assignments:\n  - id: a\n    personnel_id: p\n    beat_id: b\n", "assignment a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testFixtures), 0o600))

	_, err := LoadFixtures(path)
	require.NoError(t, err)

	_, err = LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read fixtures")
}
