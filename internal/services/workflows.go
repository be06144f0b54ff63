package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"onboarding/backend/internal/eventbus"
	"onboarding/backend/internal/repository"
	"onboarding/backend/internal/stepconfig"
	"onboarding/backend/pkg/models"
)

// copySuffix is appended to the name of a duplicated workflow.
const copySuffix = " (Copy)"

// DuplicateWorkflow copies a workflow and all of its step definitions under
// new ids. Runs are not copied and the source is left untouched.
func (e *Engine) DuplicateWorkflow(ctx context.Context, caller models.Caller, workflowID string) (copied *models.Workflow, err error) {
	ctx, done := e.begin(ctx, "duplicate_workflow", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := requireID("workflow", workflowID); err != nil {
		return nil, err
	}

	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		source, err := q.GetWorkflow(ctx, caller.OrgID, workflowID, false)
		if err != nil {
			return storageErr("workflow", err)
		}
		steps, err := q.ListStepDefinitions(ctx, source.ID, false)
		if err != nil {
			return storageErr("workflow steps", err)
		}

		now := e.timestamp()
		copied = &models.Workflow{
			ID:        uuid.NewString(),
			OrgID:     source.OrgID,
			Name:      source.Name + copySuffix,
			Active:    source.Active,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := q.CreateWorkflow(ctx, copied); err != nil {
			return storageErr("workflow", err)
		}

		copied.Steps = make([]*models.StepDefinition, 0, len(steps))
		for _, s := range steps {
			copied.Steps = append(copied.Steps, &models.StepDefinition{
				ID:               uuid.NewString(),
				WorkflowID:       copied.ID,
				Ordinal:          s.Ordinal,
				Title:            s.Title,
				Type:             s.Type,
				OwnerRole:        s.OwnerRole,
				DueDaysFromStart: s.DueDaysFromStart,
				AutoAdvance:      s.AutoAdvance,
				Config:           append(json.RawMessage(nil), s.Config...),
				CreatedAt:        now,
			})
		}
		if len(copied.Steps) > 0 {
			if err := q.CreateStepDefinitions(ctx, copied.Steps); err != nil {
				return storageErr("workflow steps", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, eventbus.NewEvent(eventbus.EventTypeWorkflowDuplicated, caller.OrgID, copied.ID, map[string]any{
		"source_workflow_id": workflowID,
		"steps":              len(copied.Steps),
	}))
	return copied, nil
}

// CreateWorkflow creates an empty workflow template.
func (e *Engine) CreateWorkflow(ctx context.Context, caller models.Caller, name string, active bool) (workflow *models.Workflow, err error) {
	ctx, done := e.begin(ctx, "create_workflow", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Validation("workflow name is required")
	}

	now := e.timestamp()
	workflow = &models.Workflow{
		ID:        uuid.NewString(),
		OrgID:     caller.OrgID,
		Name:      name,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repo.CreateWorkflow(ctx, workflow); err != nil {
		return nil, storageErr("workflow", err)
	}
	return workflow, nil
}

// NewStep describes a step to append to a workflow.
type NewStep struct {
	Title            string
	Type             models.StepType
	OwnerRole        string
	DueDaysFromStart int
	AutoAdvance      bool
	Config           json.RawMessage
}

// AddStep appends a step at ordinal N+1. The config is validated against the
// schema of the step type.
func (e *Engine) AddStep(ctx context.Context, caller models.Caller, workflowID string, in NewStep) (step *models.StepDefinition, err error) {
	ctx, done := e.begin(ctx, "add_step", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := requireID("workflow", workflowID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, Validation("step title is required")
	}
	if !in.Type.Valid() {
		return nil, Validation("unknown step type %q", in.Type)
	}
	if in.DueDaysFromStart < 0 {
		return nil, Validation("due_days_from_start must not be negative")
	}
	if err := stepconfig.Validate(in.Type, in.Config); err != nil {
		return nil, storageErr("step config", err)
	}

	config := in.Config
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}

	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetWorkflow(ctx, caller.OrgID, workflowID, true); err != nil {
			return storageErr("workflow", err)
		}
		existing, err := q.ListStepDefinitions(ctx, workflowID, true)
		if err != nil {
			return storageErr("workflow steps", err)
		}

		step = &models.StepDefinition{
			ID:               uuid.NewString(),
			WorkflowID:       workflowID,
			Ordinal:          len(existing) + 1,
			Title:            strings.TrimSpace(in.Title),
			Type:             in.Type,
			OwnerRole:        in.OwnerRole,
			DueDaysFromStart: in.DueDaysFromStart,
			AutoAdvance:      in.AutoAdvance,
			Config:           config,
			CreatedAt:        e.timestamp(),
		}
		if err := q.CreateStepDefinitions(ctx, []*models.StepDefinition{step}); err != nil {
			return storageErr("workflow steps", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// ListWorkflows returns the caller's org workflows without their steps.
func (e *Engine) ListWorkflows(ctx context.Context, caller models.Caller) (workflows []*models.Workflow, err error) {
	ctx, done := e.begin(ctx, "list_workflows", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	workflows, err = e.repo.ListWorkflows(ctx, caller.OrgID)
	if err != nil {
		return nil, storageErr("workflows", err)
	}
	return workflows, nil
}

// GetWorkflow returns a workflow with its steps ordered by ordinal.
func (e *Engine) GetWorkflow(ctx context.Context, caller models.Caller, workflowID string) (workflow *models.Workflow, err error) {
	ctx, done := e.begin(ctx, "get_workflow", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := requireID("workflow", workflowID); err != nil {
		return nil, err
	}

	workflow, err = e.repo.GetWorkflow(ctx, caller.OrgID, workflowID, false)
	if err != nil {
		return nil, storageErr("workflow", err)
	}
	workflow.Steps, err = e.repo.ListStepDefinitions(ctx, workflow.ID, false)
	if err != nil {
		return nil, storageErr("workflow steps", err)
	}
	return workflow, nil
}
