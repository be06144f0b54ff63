package models

import (
	"encoding/json"
	"time"
)

// Run is one instantiation of a workflow against a specific employee.
type Run struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id"`
	EmployeeID  string     `json:"employee_id"`
	OrgID       string     `json:"org_id"`
	StartedAt   time.Time  `json:"started_at"`
	StartedBy   string     `json:"started_by"`
	Status      RunStatus  `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Steps []*StepInstance `json:"steps,omitempty"`
}

// StepInstance is the run-scoped copy of a step definition. Ordinal is frozen
// at instantiation and never follows later template reorders.
type StepInstance struct {
	ID             string          `json:"id"`
	RunID          string          `json:"run_id"`
	WorkflowStepID string          `json:"workflow_step_id"`
	Ordinal        int             `json:"ordinal"`
	Title          string          `json:"title"`
	Type           StepType        `json:"type"`
	AssignedTo     *string         `json:"assigned_to,omitempty"`
	Status         StepStatus      `json:"status"`
	DueAt          *time.Time      `json:"due_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"` // JSONB config snapshot
}
