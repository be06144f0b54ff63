package api

import (
	"encoding/json"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"onboarding/backend/pkg/models"
)

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	WorkflowID string              `json:"workflow_id"`
	EmployeeID string              `json:"employee_id"`
	StartDate  *openapi_types.Date `json:"start_date,omitempty"`
}

type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

type ReassignStepRequest struct {
	UserID string `json:"user_id"`
}

type ReorderStepsRequest struct {
	FromOrdinal int `json:"from_ordinal"`
	ToOrdinal   int `json:"to_ordinal"`
}

type CreateWorkflowRequest struct {
	Name string `json:"name"`
	// Active defaults to true.
	Active *bool `json:"active,omitempty"`
}

type AddStepRequest struct {
	Title            string          `json:"title"`
	Type             models.StepType `json:"type"`
	OwnerRole        string          `json:"owner_role,omitempty"`
	DueDaysFromStart int             `json:"due_days_from_start"`
	AutoAdvance      bool            `json:"auto_advance"`
	Config           json.RawMessage `json:"config,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type TogglePauseResponse struct {
	Success bool             `json:"success"`
	Status  models.RunStatus `json:"status"`
}

type CancelRunResponse struct {
	Success   bool             `json:"success"`
	RunID     string           `json:"run_id"`
	NewStatus models.RunStatus `json:"new_status"`
}

type ReorderStepsResponse struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
}

type DuplicateWorkflowResponse struct {
	Success    bool   `json:"success"`
	WorkflowID string `json:"workflowId"`
	StepsCount int    `json:"stepsCount"`
}
