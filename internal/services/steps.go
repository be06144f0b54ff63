package services

import (
	"context"

	"onboarding/backend/internal/eventbus"
	"onboarding/backend/internal/repository"
	"onboarding/backend/pkg/models"
)

// CompleteStep marks a pending step instance done. Completing an instance
// that is already done succeeds without side effects, so retried deliveries
// are harmless. When no pending instance with a greater ordinal remains, the
// run is closed as completed.
func (e *Engine) CompleteStep(ctx context.Context, caller models.Caller, stepID string) (err error) {
	ctx, done := e.begin(ctx, "complete_step", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}
	if err := requireID("step", stepID); err != nil {
		return err
	}

	var (
		step      *models.StepInstance
		run       *models.Run
		fresh     bool
		runClosed bool
	)
	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		step, err = q.GetStepInstance(ctx, caller.OrgID, stepID)
		if err != nil {
			return storageErr("step", err)
		}
		// the run row lock serialises completion scans of the same run
		run, err = q.GetRun(ctx, caller.OrgID, step.RunID, true)
		if err != nil {
			return storageErr("run", err)
		}

		now := e.timestamp()
		fresh, err = q.TransitionStep(ctx, step.ID, models.StepStatusPending, models.StepStatusDone, now)
		if err != nil {
			return storageErr("step", err)
		}
		if !fresh {
			return settledStep(ctx, q, caller, step.ID, models.StepStatusDone)
		}

		pending, err := q.HasPendingStepAfter(ctx, run.ID, step.Ordinal)
		if err != nil {
			return storageErr("step instances", err)
		}
		if pending {
			return nil
		}

		// a cancelled run stays cancelled
		runClosed, err = q.SetRunStatus(ctx, run.ID,
			[]models.RunStatus{models.RunStatusRunning, models.RunStatusPaused},
			models.RunStatusCompleted, &now)
		if err != nil {
			return storageErr("run", err)
		}
		return nil
	})
	if err != nil || !fresh {
		return err
	}

	e.metrics.StepTransition(ctx, string(models.StepStatusDone))
	events := []*eventbus.Event{
		eventbus.NewEvent(eventbus.EventTypeStepCompleted, caller.OrgID, step.ID, map[string]any{
			"run_id":  run.ID,
			"ordinal": step.Ordinal,
		}),
	}
	if runClosed {
		e.metrics.RunTransition(ctx, string(models.RunStatusCompleted))
		e.logger.Info("run completed", "run_id", run.ID, "last_step_id", step.ID)
		events = append(events, eventbus.NewEvent(eventbus.EventTypeRunCompleted, caller.OrgID, run.ID, map[string]any{
			"workflow_id": run.WorkflowID,
			"employee_id": run.EmployeeID,
		}))
	}
	e.publish(ctx, events...)
	return nil
}

// SkipStep marks a pending step instance skipped. Unlike CompleteStep it
// never closes the run: a run whose remaining steps are all skipped keeps
// running.
func (e *Engine) SkipStep(ctx context.Context, caller models.Caller, stepID string) (err error) {
	ctx, done := e.begin(ctx, "skip_step", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}
	if err := requireID("step", stepID); err != nil {
		return err
	}

	var (
		step  *models.StepInstance
		fresh bool
	)
	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		step, err = q.GetStepInstance(ctx, caller.OrgID, stepID)
		if err != nil {
			return storageErr("step", err)
		}
		fresh, err = q.TransitionStep(ctx, step.ID, models.StepStatusPending, models.StepStatusSkipped, e.timestamp())
		if err != nil {
			return storageErr("step", err)
		}
		if !fresh {
			return settledStep(ctx, q, caller, step.ID, models.StepStatusSkipped)
		}
		return nil
	})
	if err != nil || !fresh {
		return err
	}

	e.metrics.StepTransition(ctx, string(models.StepStatusSkipped))
	e.publish(ctx, eventbus.NewEvent(eventbus.EventTypeStepSkipped, caller.OrgID, step.ID, map[string]any{
		"run_id":  step.RunID,
		"ordinal": step.Ordinal,
	}))
	return nil
}

// settledStep decides the outcome of a transition whose compare-and-set
// found the instance no longer pending: repeating the same transition is a
// no-op, switching between done and skipped is a conflict.
func settledStep(ctx context.Context, q repository.Queries, caller models.Caller, stepID string, want models.StepStatus) error {
	current, err := q.GetStepInstance(ctx, caller.OrgID, stepID)
	if err != nil {
		return storageErr("step", err)
	}
	if current.Status == want {
		return nil
	}
	return Conflict("step is already %s", current.Status)
}

// ReassignStep changes the owner of a step instance. The new owner must be a
// profile of the caller's org and the run must not be terminal. Status is
// left unchanged.
func (e *Engine) ReassignStep(ctx context.Context, caller models.Caller, stepID, userID string) (err error) {
	ctx, done := e.begin(ctx, "reassign_step", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}
	if err := requireID("step", stepID); err != nil {
		return err
	}
	if err := requireID("user", userID); err != nil {
		return err
	}

	var step *models.StepInstance
	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		step, err = q.GetStepInstance(ctx, caller.OrgID, stepID)
		if err != nil {
			return storageErr("step", err)
		}
		if _, err := q.GetProfile(ctx, caller.OrgID, userID); err != nil {
			return storageErr("user", err)
		}

		run, err := q.GetRun(ctx, caller.OrgID, step.RunID, true)
		if err != nil {
			return storageErr("run", err)
		}
		if run.Status.IsTerminal() {
			return Conflict("cannot reassign a step of a %s run", run.Status)
		}

		if err := q.SetStepAssignee(ctx, step.ID, userID); err != nil {
			return storageErr("step", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	data := map[string]any{"run_id": step.RunID, "assigned_to": userID}
	if step.AssignedTo != nil {
		data["previous_assignee"] = *step.AssignedTo
	}
	e.publish(ctx, eventbus.NewEvent(eventbus.EventTypeStepReassigned, caller.OrgID, step.ID, data))
	return nil
}
