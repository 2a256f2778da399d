package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignmentUpdateRule(t *testing.T) {
	assert.Contains(t, assignmentUpdateRule, ownRow)
	assert.Contains(t, assignmentUpdateRule, "@request.body.personnel_id:isset = false")
	assert.Contains(t, assignmentUpdateRule, "(acceptance_status = 'pending' || acceptance_status = 'accepted')")
}

func TestLocationUpdateRule(t *testing.T) {
	assert.Contains(t, locationUpdateRule, ownRow)
	assert.Contains(t, locationUpdateRule, "@request.body.updated_at >= updated_at")
}
