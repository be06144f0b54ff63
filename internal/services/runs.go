package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"onboarding/backend/internal/eventbus"
	"onboarding/backend/internal/repository"
	"onboarding/backend/internal/stepconfig"
	"onboarding/backend/pkg/models"
)

// CreateRunInput names the template and the employee to onboard. StartDate
// defaults to now.
type CreateRunInput struct {
	WorkflowID string
	EmployeeID string
	StartDate  *time.Time
}

// CreateRun materialises a run and one pending step instance per step
// definition of the workflow. The run and all of its instances are written
// in one transaction, so either everything exists afterwards or nothing does.
func (e *Engine) CreateRun(ctx context.Context, caller models.Caller, in CreateRunInput) (run *models.Run, err error) {
	ctx, done := e.begin(ctx, "create_run", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := requireID("workflow", in.WorkflowID); err != nil {
		return nil, err
	}
	if err := requireID("employee", in.EmployeeID); err != nil {
		return nil, err
	}

	startedAt := e.timestamp()
	if in.StartDate != nil {
		startedAt = in.StartDate.UTC()
	}

	run = &models.Run{
		ID:         uuid.NewString(),
		WorkflowID: in.WorkflowID,
		EmployeeID: in.EmployeeID,
		OrgID:      caller.OrgID,
		StartedAt:  startedAt,
		StartedBy:  caller.CallerID,
		Status:     models.RunStatusRunning,
	}

	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		workflow, err := q.GetWorkflow(ctx, caller.OrgID, in.WorkflowID, false)
		if err != nil {
			return storageErr("workflow", err)
		}
		if !workflow.Active {
			return NotFound("workflow")
		}

		employee, err := q.GetEmployee(ctx, caller.OrgID, in.EmployeeID)
		if err != nil {
			return storageErr("employee", err)
		}

		defs, err := q.ListStepDefinitions(ctx, workflow.ID, false)
		if err != nil {
			return storageErr("workflow steps", err)
		}

		if err := q.CreateRun(ctx, run); err != nil {
			return storageErr("run", err)
		}

		instances := make([]*models.StepInstance, 0, len(defs))
		for _, def := range defs {
			inst, err := e.instantiateStep(ctx, q, run, def, employee)
			if err != nil {
				return err
			}
			instances = append(instances, inst)
		}

		if len(instances) > 0 {
			if err := q.CreateStepInstances(ctx, instances); err != nil {
				return storageErr("step instances", err)
			}
		}
		run.Steps = instances
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RunCreated(ctx)
	e.logger.Info("run created",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"employee_id", run.EmployeeID,
		"steps", len(run.Steps))
	e.publish(ctx, eventbus.NewEvent(eventbus.EventTypeRunCreated, caller.OrgID, run.ID, map[string]any{
		"workflow_id": run.WorkflowID,
		"employee_id": run.EmployeeID,
		"steps":       len(run.Steps),
	}))
	return run, nil
}

func (e *Engine) instantiateStep(ctx context.Context, q repository.Queries, run *models.Run, def *models.StepDefinition, employee *models.Employee) (*models.StepInstance, error) {
	cfg, err := stepconfig.Decode(def.Type, def.Config)
	if err != nil {
		return nil, &Error{
			Kind:    KindValidation,
			Message: "step " + def.Title + " has an invalid config",
			Err:     err,
		}
	}

	assignee, err := ResolveAssignee(ctx, q, cfg.Assignment(), employee, run.OrgID)
	if err != nil {
		return nil, storageErr("profile", err)
	}
	if assignee != nil {
		assignee, err = e.sameOrgAssignee(ctx, q, run, def, *assignee)
		if err != nil {
			return nil, err
		}
	}

	dueAt := run.StartedAt.AddDate(0, 0, def.DueDaysFromStart)
	payload := append(json.RawMessage(nil), def.Config...)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	return &models.StepInstance{
		ID:             uuid.NewString(),
		RunID:          run.ID,
		WorkflowStepID: def.ID,
		Ordinal:        def.Ordinal,
		Title:          def.Title,
		Type:           def.Type,
		AssignedTo:     assignee,
		Status:         models.StepStatusPending,
		DueAt:          &dueAt,
		Payload:        payload,
	}, nil
}

// sameOrgAssignee drops a resolved owner that is not a profile of the run's
// org. The instance is then created unassigned.
func (e *Engine) sameOrgAssignee(ctx context.Context, q repository.Queries, run *models.Run, def *models.StepDefinition, profileID string) (*string, error) {
	if _, err := uuid.Parse(profileID); err == nil {
		_, err := q.GetProfile(ctx, run.OrgID, profileID)
		if err == nil {
			return &profileID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, storageErr("profile", err)
		}
	}
	e.logger.Warn("dropping assignee outside the run's org",
		"run_id", run.ID,
		"workflow_step_id", def.ID,
		"assignee", profileID)
	return nil, nil
}

// GetRun returns the run with its step instances ordered by ordinal.
func (e *Engine) GetRun(ctx context.Context, caller models.Caller, runID string) (run *models.Run, err error) {
	ctx, done := e.begin(ctx, "get_run", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := requireID("run", runID); err != nil {
		return nil, err
	}

	run, err = e.repo.GetRun(ctx, caller.OrgID, runID, false)
	if err != nil {
		return nil, storageErr("run", err)
	}
	run.Steps, err = e.repo.ListStepInstances(ctx, run.ID)
	if err != nil {
		return nil, storageErr("step instances", err)
	}
	return run, nil
}

// ListRuns returns the caller's org runs, newest first, optionally limited
// to one workflow. Step instances are not loaded.
func (e *Engine) ListRuns(ctx context.Context, caller models.Caller, workflowID string) (runs []*models.Run, err error) {
	ctx, done := e.begin(ctx, "list_runs", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if workflowID != "" {
		if err := requireID("workflow", workflowID); err != nil {
			return nil, err
		}
	}

	runs, err = e.repo.ListRuns(ctx, caller.OrgID, workflowID)
	if err != nil {
		return nil, storageErr("runs", err)
	}
	return runs, nil
}

// TogglePause flips a run between running and paused and returns the new
// status. Terminal runs are rejected. Step instances are not touched.
func (e *Engine) TogglePause(ctx context.Context, caller models.Caller, runID string) (status models.RunStatus, err error) {
	ctx, done := e.begin(ctx, "toggle_run_pause", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return "", err
	}
	if err := requireID("run", runID); err != nil {
		return "", err
	}

	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		run, err := q.GetRun(ctx, caller.OrgID, runID, true)
		if err != nil {
			return storageErr("run", err)
		}

		switch run.Status {
		case models.RunStatusRunning:
			status = models.RunStatusPaused
		case models.RunStatusPaused:
			status = models.RunStatusRunning
		default:
			return Conflict("cannot pause or resume a %s run", run.Status)
		}

		ok, err := q.SetRunStatus(ctx, run.ID, []models.RunStatus{run.Status}, status, nil)
		if err != nil {
			return storageErr("run", err)
		}
		if !ok {
			return Conflict("run status changed concurrently")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	eventType := eventbus.EventTypeRunPaused
	if status == models.RunStatusRunning {
		eventType = eventbus.EventTypeRunResumed
	}
	e.metrics.RunTransition(ctx, string(status))
	e.publish(ctx, eventbus.NewEvent(eventType, caller.OrgID, runID, map[string]any{"status": string(status)}))
	return status, nil
}

// CancelRun moves a running or paused run to cancelled. Cancelling a
// terminal run is a conflict.
func (e *Engine) CancelRun(ctx context.Context, caller models.Caller, runID string) (err error) {
	ctx, done := e.begin(ctx, "cancel_run", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}
	if err := requireID("run", runID); err != nil {
		return err
	}

	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		run, err := q.GetRun(ctx, caller.OrgID, runID, true)
		if err != nil {
			return storageErr("run", err)
		}
		if run.Status.IsTerminal() {
			return Conflict("run is already %s", run.Status)
		}

		ok, err := q.SetRunStatus(ctx, run.ID,
			[]models.RunStatus{models.RunStatusRunning, models.RunStatusPaused},
			models.RunStatusCancelled, nil)
		if err != nil {
			return storageErr("run", err)
		}
		if !ok {
			return Conflict("run status changed concurrently")
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.metrics.RunTransition(ctx, string(models.RunStatusCancelled))
	e.publish(ctx, eventbus.NewEvent(eventbus.EventTypeRunCancelled, caller.OrgID, runID, nil))
	return nil
}
