package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"onboarding/backend/internal/repository"
	"onboarding/backend/pkg/models"
)

type MockRoleLookup struct {
	mock.Mock
}

func (m *MockRoleLookup) FindActiveProfileByRole(ctx context.Context, orgID, role string) (*models.Profile, error) {
	args := m.Called(ctx, orgID, role)
	if p, ok := args.Get(0).(*models.Profile); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func strPtr(s string) *string { return &s }

func TestResolveAssignee(t *testing.T) {
	ctx := context.Background()
	employee := &models.Employee{ID: "e1", OrgID: "org", ManagerID: strPtr("mgr-1")}

	tests := []struct {
		name     string
		rule     *models.AssignmentRule
		employee *models.Employee
		want     *string
	}{
		{"no rule", nil, employee, nil},
		{"user", &models.AssignmentRule{Mode: models.AssignmentModeUser, UserID: "u-7"}, employee, strPtr("u-7")},
		{"user without id", &models.AssignmentRule{Mode: models.AssignmentModeUser}, employee, nil},
		{"manager", &models.AssignmentRule{Mode: models.AssignmentModeDynamic, Strategy: models.StrategyEmployeeManager}, employee, strPtr("mgr-1")},
		{"manager missing", &models.AssignmentRule{Mode: models.AssignmentModeDynamic, Strategy: models.StrategyEmployeeManager}, &models.Employee{ID: "e2"}, nil},
		{"unknown strategy", &models.AssignmentRule{Mode: models.AssignmentModeDynamic, Strategy: "buddy"}, employee, nil},
		{"unknown mode", &models.AssignmentRule{Mode: "round_robin"}, employee, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := new(MockRoleLookup)
			got, err := ResolveAssignee(ctx, lookup, tt.rule, tt.employee, "org")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			lookup.AssertNotCalled(t, "FindActiveProfileByRole", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestResolveAssignee_Role(t *testing.T) {
	ctx := context.Background()
	rule := &models.AssignmentRule{Mode: models.AssignmentModeRole, Role: "hr"}

	t.Run("found", func(t *testing.T) {
		lookup := new(MockRoleLookup)
		lookup.On("FindActiveProfileByRole", ctx, "org", "hr").Return(&models.Profile{ID: "p-1"}, nil).Once()

		got, err := ResolveAssignee(ctx, lookup, rule, nil, "org")
		require.NoError(t, err)
		assert.Equal(t, strPtr("p-1"), got)
		lookup.AssertExpectations(t)
	})

	t.Run("nobody holds the role", func(t *testing.T) {
		lookup := new(MockRoleLookup)
		lookup.On("FindActiveProfileByRole", ctx, "org", "hr").Return(nil, repository.ErrNotFound).Once()

		got, err := ResolveAssignee(ctx, lookup, rule, nil, "org")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("storage failure", func(t *testing.T) {
		lookup := new(MockRoleLookup)
		lookup.On("FindActiveProfileByRole", ctx, "org", "hr").Return(nil, errors.New("connection reset")).Once()

		_, err := ResolveAssignee(ctx, lookup, rule, nil, "org")
		assert.Error(t, err)
	})
}

func TestResolveAssignee_RoleIsDeterministic(t *testing.T) {
	f := newFixture(t)
	first := f.addProfile(f.org.ID, "hr1@acme.test", "hr")
	second := f.addProfile(f.org.ID, "hr2@acme.test", "hr")
	f.addProfile(f.otherOrg.ID, "hr@globex.test", "hr")

	lowest := first.ID
	if second.ID < lowest {
		lowest = second.ID
	}

	rule := &models.AssignmentRule{Mode: models.AssignmentModeRole, Role: "hr"}
	for i := 0; i < 5; i++ {
		got, err := ResolveAssignee(f.ctx, f.store, rule, f.employee, f.org.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, lowest, *got)
	}
}
