package services

import (
	"context"
	"errors"

	"onboarding/backend/internal/repository"
	"onboarding/backend/pkg/models"
)

// ResolveAssignee turns an assignment rule into a profile id, or nil when
// the step should stay unassigned.
//
//   - user: the rule's user_id as given.
//   - role: the active profile with that role in orgID. When several match,
//     the one with the lowest id wins.
//   - dynamic/employee_manager: the employee's manager.
//
// Unknown modes and strategies resolve to nil. Only role mode touches
// storage, with a single org-scoped read.
func ResolveAssignee(ctx context.Context, lookup RoleLookup, rule *models.AssignmentRule, employee *models.Employee, orgID string) (*string, error) {
	if rule == nil {
		return nil, nil
	}

	switch rule.Mode {
	case models.AssignmentModeUser:
		if rule.UserID == "" {
			return nil, nil
		}
		id := rule.UserID
		return &id, nil

	case models.AssignmentModeRole:
		if rule.Role == "" {
			return nil, nil
		}
		profile, err := lookup.FindActiveProfileByRole(ctx, orgID, rule.Role)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		id := profile.ID
		return &id, nil

	case models.AssignmentModeDynamic:
		if rule.Strategy != models.StrategyEmployeeManager || employee == nil || employee.ManagerID == nil || *employee.ManagerID == "" {
			return nil, nil
		}
		id := *employee.ManagerID
		return &id, nil
	}

	return nil, nil
}
