package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepType_Valid(t *testing.T) {
	for _, typ := range []StepType{StepTypeForm, StepTypeTask, StepTypeEmail, StepTypeSignature, StepTypeWait} {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, StepType("meeting").Valid())
	assert.False(t, StepType("").Valid())
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.False(t, RunStatusPaused.IsTerminal())
	assert.True(t, RunStatusCancelled.IsTerminal())
	assert.True(t, RunStatusCompleted.IsTerminal())
}

func TestStepInstance_JSONOmitsUnsetFields(t *testing.T) {
	raw, err := json.Marshal(StepInstance{ID: "s1", Status: StepStatusPending})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "assigned_to")
	assert.NotContains(t, fields, "due_at")
	assert.NotContains(t, fields, "completed_at")
	assert.Equal(t, "pending", fields["status"])
}
