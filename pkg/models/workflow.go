package models

import (
	"encoding/json"
	"time"
)

// Workflow is a reusable onboarding template owned by an organization.
type Workflow struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"` // Multi-tenancy isolation
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Steps []*StepDefinition `json:"steps,omitempty"`
}

// StepDefinition is one ordered unit of a workflow template.
type StepDefinition struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id"`
	Ordinal          int             `json:"ordinal"` // dense 1..N within the workflow
	Title            string          `json:"title"`
	Type             StepType        `json:"type"`
	OwnerRole        string          `json:"owner_role,omitempty"`
	DueDaysFromStart int             `json:"due_days_from_start"`
	AutoAdvance      bool            `json:"auto_advance"`
	Config           json.RawMessage `json:"config,omitempty"` // JSONB, shape depends on Type
	CreatedAt        time.Time       `json:"created_at"`
}
