package repository

import (
	"context"
	"errors"
	"time"

	"onboarding/backend/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row in the caller's scope.
var ErrNotFound = errors.New("not found")

// Queries is the set of reads and writes available both on the pool and
// inside a transaction. Org-scoped lookups take the org id explicitly and
// report rows of another org as ErrNotFound.
type Queries interface {
	GetOrganizationByDomain(ctx context.Context, domain string) (*models.Organization, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error

	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, orgID, id string) (*models.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error)
	// FindActiveProfileByRole returns the active profile with the lowest id
	// holding role in the org.
	FindActiveProfileByRole(ctx context.Context, orgID, role string) (*models.Profile, error)

	CreateEmployee(ctx context.Context, employee *models.Employee) error
	GetEmployee(ctx context.Context, orgID, id string) (*models.Employee, error)

	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, orgID, id string, forUpdate bool) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, orgID string) ([]*models.Workflow, error)
	// ListStepDefinitions returns the workflow's steps ordered by ordinal.
	ListStepDefinitions(ctx context.Context, workflowID string, forUpdate bool) ([]*models.StepDefinition, error)
	CreateStepDefinitions(ctx context.Context, steps []*models.StepDefinition) error
	// UpdateStepOrdinals applies the whole id→ordinal map in one statement and
	// returns the number of rows whose ordinal changed.
	UpdateStepOrdinals(ctx context.Context, workflowID string, ordinals map[string]int) (int, error)

	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, orgID, id string, forUpdate bool) (*models.Run, error)
	// ListRuns returns the org's runs, newest first. An empty workflowID
	// matches every workflow.
	ListRuns(ctx context.Context, orgID, workflowID string) ([]*models.Run, error)
	// SetRunStatus moves the run to status only if its current status is one of
	// from. It reports whether a row was updated.
	SetRunStatus(ctx context.Context, id string, from []models.RunStatus, to models.RunStatus, completedAt *time.Time) (bool, error)

	CreateStepInstances(ctx context.Context, instances []*models.StepInstance) error
	GetStepInstance(ctx context.Context, orgID, id string) (*models.StepInstance, error)
	ListStepInstances(ctx context.Context, runID string) ([]*models.StepInstance, error)
	// TransitionStep is a compare-and-set on the instance status.
	TransitionStep(ctx context.Context, id string, from, to models.StepStatus, at time.Time) (bool, error)
	HasPendingStepAfter(ctx context.Context, runID string, ordinal int) (bool, error)
	SetStepAssignee(ctx context.Context, id, profileID string) error
}

// Repository is the storage facade used by the service layer.
type Repository interface {
	Queries
	// InTx runs fn inside a single transaction. Any error from fn rolls the
	// whole transaction back.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}
