package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"onboarding/backend/pkg/models"
)

func setupStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("onboarding-test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	// second run must be a no-op
	require.NoError(t, Migrate(ctx, pool))

	return NewPostgresStore(pool), ctx
}

type fixture struct {
	org      *models.Organization
	hr       *models.Profile
	employee *models.Employee
	workflow *models.Workflow
	steps    []*models.StepDefinition
}

func seedFixture(t *testing.T, ctx context.Context, store *PostgresStore, stepCount int) *fixture {
	t.Helper()
	f := &fixture{}

	f.org = &models.Organization{ID: uuid.NewString(), Name: "Acme", Domain: uuid.NewString() + ".example.com"}
	require.NoError(t, store.CreateOrganization(ctx, f.org))

	f.hr = &models.Profile{ID: uuid.NewString(), OrgID: f.org.ID, Email: uuid.NewString() + "@acme.test", Role: "hr", Active: true}
	require.NoError(t, store.CreateProfile(ctx, f.hr))

	f.employee = &models.Employee{ID: uuid.NewString(), OrgID: f.org.ID, FullName: "New Hire", ManagerID: &f.hr.ID}
	require.NoError(t, store.CreateEmployee(ctx, f.employee))

	f.workflow = &models.Workflow{ID: uuid.NewString(), OrgID: f.org.ID, Name: "Engineering onboarding", Active: true}
	require.NoError(t, store.CreateWorkflow(ctx, f.workflow))

	for i := 1; i <= stepCount; i++ {
		f.steps = append(f.steps, &models.StepDefinition{
			ID:         uuid.NewString(),
			WorkflowID: f.workflow.ID,
			Ordinal:    i,
			Title:      "step",
			Type:       models.StepTypeTask,
			Config:     []byte(`{"instructions":"do it"}`),
		})
	}
	require.NoError(t, store.CreateStepDefinitions(ctx, f.steps))
	return f
}

func TestPostgresStore(t *testing.T) {
	store, ctx := setupStore(t)

	t.Run("org scoped lookups hide other orgs", func(t *testing.T) {
		f := seedFixture(t, ctx, store, 1)
		other := seedFixture(t, ctx, store, 1)

		_, err := store.GetWorkflow(ctx, other.org.ID, f.workflow.ID, false)
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = store.GetEmployee(ctx, other.org.ID, f.employee.ID)
		assert.True(t, errors.Is(err, ErrNotFound))

		got, err := store.GetProfileByEmail(ctx, f.hr.Email)
		require.NoError(t, err)
		assert.Equal(t, f.org.ID, got.OrgID)
	})

	t.Run("role lookup picks lowest id", func(t *testing.T) {
		f := seedFixture(t, ctx, store, 0)
		ids := []string{
			"ffffffff-0000-4000-8000-000000000000",
			"00000000-0000-4000-8000-" + uuid.NewString()[24:],
		}
		for _, id := range ids {
			require.NoError(t, store.CreateProfile(ctx, &models.Profile{
				ID: id, OrgID: f.org.ID, Email: uuid.NewString() + "@acme.test", Role: "it", Active: true,
			}))
		}

		got, err := store.FindActiveProfileByRole(ctx, f.org.ID, "it")
		require.NoError(t, err)
		assert.Equal(t, ids[1], got.ID)
	})

	t.Run("reorder applies in one statement", func(t *testing.T) {
		f := seedFixture(t, ctx, store, 4)
		// move ordinal 1 to 3
		moves := map[string]int{
			f.steps[1].ID: 1,
			f.steps[2].ID: 2,
			f.steps[0].ID: 3,
		}

		var updated int
		err := store.InTx(ctx, func(q Queries) error {
			if _, err := q.ListStepDefinitions(ctx, f.workflow.ID, true); err != nil {
				return err
			}
			var err error
			updated, err = q.UpdateStepOrdinals(ctx, f.workflow.ID, moves)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 3, updated)

		steps, err := store.ListStepDefinitions(ctx, f.workflow.ID, false)
		require.NoError(t, err)
		require.Len(t, steps, 4)
		assert.Equal(t, []string{f.steps[1].ID, f.steps[2].ID, f.steps[0].ID, f.steps[3].ID},
			[]string{steps[0].ID, steps[1].ID, steps[2].ID, steps[3].ID})
	})

	t.Run("duplicate ordinals are rejected at commit", func(t *testing.T) {
		f := seedFixture(t, ctx, store, 2)
		err := store.InTx(ctx, func(q Queries) error {
			_, err := q.UpdateStepOrdinals(ctx, f.workflow.ID, map[string]int{f.steps[0].ID: 2})
			return err
		})
		require.Error(t, err)

		steps, err := store.ListStepDefinitions(ctx, f.workflow.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 1, steps[0].Ordinal)
		assert.Equal(t, f.steps[0].ID, steps[0].ID)
	})

	t.Run("failed transaction leaves no run behind", func(t *testing.T) {
		f := seedFixture(t, ctx, store, 1)
		run := &models.Run{
			ID: uuid.NewString(), WorkflowID: f.workflow.ID, EmployeeID: f.employee.ID, OrgID: f.org.ID,
			StartedAt: time.Now(), StartedBy: f.hr.ID, Status: models.RunStatusRunning,
		}
		boom := errors.New("boom")

		err := store.InTx(ctx, func(q Queries) error {
			if err := q.CreateRun(ctx, run); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = store.GetRun(ctx, f.org.ID, run.ID, false)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("step and run compare-and-set", func(t *testing.T) {
		f := seedFixture(t, ctx, store, 2)
		run := &models.Run{
			ID: uuid.NewString(), WorkflowID: f.workflow.ID, EmployeeID: f.employee.ID, OrgID: f.org.ID,
			StartedAt: time.Now(), StartedBy: f.hr.ID, Status: models.RunStatusRunning,
		}
		require.NoError(t, store.CreateRun(ctx, run))

		instances := []*models.StepInstance{
			{ID: uuid.NewString(), RunID: run.ID, WorkflowStepID: f.steps[0].ID, Ordinal: 1, Title: "a", Type: models.StepTypeTask, Status: models.StepStatusPending, AssignedTo: &f.hr.ID},
			{ID: uuid.NewString(), RunID: run.ID, WorkflowStepID: f.steps[1].ID, Ordinal: 2, Title: "b", Type: models.StepTypeTask, Status: models.StepStatusPending},
		}
		require.NoError(t, store.CreateStepInstances(ctx, instances))

		got, err := store.GetStepInstance(ctx, f.org.ID, instances[0].ID)
		require.NoError(t, err)
		require.NotNil(t, got.AssignedTo)
		assert.Equal(t, f.hr.ID, *got.AssignedTo)

		ok, err := store.TransitionStep(ctx, instances[0].ID, models.StepStatusPending, models.StepStatusDone, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.TransitionStep(ctx, instances[0].ID, models.StepStatusPending, models.StepStatusDone, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		pending, err := store.HasPendingStepAfter(ctx, run.ID, 1)
		require.NoError(t, err)
		assert.True(t, pending)

		pending, err = store.HasPendingStepAfter(ctx, run.ID, 2)
		require.NoError(t, err)
		assert.False(t, pending)

		now := time.Now()
		ok, err = store.SetRunStatus(ctx, run.ID, []models.RunStatus{models.RunStatusRunning}, models.RunStatusCompleted, &now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.SetRunStatus(ctx, run.ID, []models.RunStatus{models.RunStatusRunning, models.RunStatusPaused}, models.RunStatusCancelled, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		stored, err := store.GetRun(ctx, f.org.ID, run.ID, false)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, stored.Status)
		assert.NotNil(t, stored.CompletedAt)

		list, err := store.ListStepInstances(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, models.StepStatusDone, list[0].Status)
		assert.Equal(t, 2, list[1].Ordinal)
	})
}
