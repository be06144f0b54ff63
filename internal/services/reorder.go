package services

import (
	"context"

	"onboarding/backend/internal/eventbus"
	"onboarding/backend/internal/repository"
	"onboarding/backend/pkg/models"
)

// PlanReorder computes the new ordinal of every step affected by moving the
// step at from to position to. steps must carry the dense ordinals 1..N.
//
// Moving down (from < to) shifts the steps in (from, to] up by one; moving
// up (from > to) shifts the steps in [to, from) down by one. The moved step
// lands on to. Steps outside the range are absent from the result.
func PlanReorder(steps []*models.StepDefinition, from, to int) (map[string]int, error) {
	n := len(steps)
	if from < 1 || to < 1 {
		return nil, Validation("ordinals start at 1")
	}
	if to > n {
		return nil, Validation("to_ordinal %d is past the last step (%d)", to, n)
	}

	var moved *models.StepDefinition
	for _, s := range steps {
		if s.Ordinal == from {
			moved = s
			break
		}
	}
	if moved == nil {
		return nil, NotFound("step")
	}
	if from == to {
		return map[string]int{}, nil
	}

	plan := map[string]int{moved.ID: to}
	for _, s := range steps {
		switch {
		case from < to && s.Ordinal > from && s.Ordinal <= to:
			plan[s.ID] = s.Ordinal - 1
		case from > to && s.Ordinal >= to && s.Ordinal < from:
			plan[s.ID] = s.Ordinal + 1
		}
	}
	return plan, nil
}

// ReorderSteps moves one step of a workflow and renumbers the others so the
// ordinals stay 1..N. The whole shift is applied in one statement inside a
// transaction holding row locks on the workflow's steps. It returns the
// number of steps whose ordinal changed.
func (e *Engine) ReorderSteps(ctx context.Context, caller models.Caller, workflowID string, from, to int) (updated int, err error) {
	ctx, done := e.begin(ctx, "reorder_steps", caller)
	defer func() { done(err) }()

	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	if err := requireID("workflow", workflowID); err != nil {
		return 0, err
	}

	err = e.repo.InTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetWorkflow(ctx, caller.OrgID, workflowID, true); err != nil {
			return storageErr("workflow", err)
		}
		steps, err := q.ListStepDefinitions(ctx, workflowID, true)
		if err != nil {
			return storageErr("workflow steps", err)
		}

		plan, err := PlanReorder(steps, from, to)
		if err != nil {
			return err
		}
		if len(plan) == 0 {
			return nil
		}

		updated, err = q.UpdateStepOrdinals(ctx, workflowID, plan)
		if err != nil {
			return storageErr("workflow steps", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if updated > 0 {
		e.publish(ctx, eventbus.NewEvent(eventbus.EventTypeWorkflowReordered, caller.OrgID, workflowID, map[string]any{
			"from_ordinal": from,
			"to_ordinal":   to,
			"updated":      updated,
		}))
	}
	return updated, nil
}
