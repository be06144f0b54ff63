package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"onboarding/backend/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the tables the store needs. It is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	*queries
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{queries: &queries{db: pool}, pool: pool}
}

// InTx runs fn in a transaction, committing only if fn succeeds.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type queries struct {
	db dbtx
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (q *queries) GetOrganizationByDomain(ctx context.Context, domain string) (*models.Organization, error) {
	var org models.Organization
	err := q.db.QueryRow(ctx,
		"SELECT id, name, domain, created_at FROM organizations WHERE domain = $1", domain,
	).Scan(&org.ID, &org.Name, &org.Domain, &org.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}

func (q *queries) CreateOrganization(ctx context.Context, org *models.Organization) error {
	return q.db.QueryRow(ctx,
		"INSERT INTO organizations (id, name, domain) VALUES ($1, $2, $3) RETURNING created_at",
		org.ID, org.Name, org.Domain,
	).Scan(&org.CreatedAt)
}

const profileColumns = "id, org_id, email, full_name, role, active"

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	if err := row.Scan(&p.ID, &p.OrgID, &p.Email, &p.FullName, &p.Role, &p.Active); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (q *queries) CreateProfile(ctx context.Context, p *models.Profile) error {
	_, err := q.db.Exec(ctx,
		"INSERT INTO profiles ("+profileColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		p.ID, p.OrgID, p.Email, p.FullName, p.Role, p.Active)
	return err
}

func (q *queries) GetProfile(ctx context.Context, orgID, id string) (*models.Profile, error) {
	return scanProfile(q.db.QueryRow(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE id = $1 AND org_id = $2", id, orgID))
}

func (q *queries) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return scanProfile(q.db.QueryRow(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE lower(email) = lower($1)", email))
}

func (q *queries) FindActiveProfileByRole(ctx context.Context, orgID, role string) (*models.Profile, error) {
	return scanProfile(q.db.QueryRow(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE org_id = $1 AND role = $2 AND active ORDER BY id LIMIT 1",
		orgID, role))
}

func (q *queries) CreateEmployee(ctx context.Context, e *models.Employee) error {
	_, err := q.db.Exec(ctx,
		"INSERT INTO employees (id, org_id, full_name, email, manager_id, start_date) VALUES ($1, $2, $3, $4, $5, $6)",
		e.ID, e.OrgID, e.FullName, e.Email, e.ManagerID, e.StartDate)
	return err
}

func (q *queries) GetEmployee(ctx context.Context, orgID, id string) (*models.Employee, error) {
	var e models.Employee
	err := q.db.QueryRow(ctx,
		"SELECT id, org_id, full_name, email, manager_id, start_date FROM employees WHERE id = $1 AND org_id = $2",
		id, orgID,
	).Scan(&e.ID, &e.OrgID, &e.FullName, &e.Email, &e.ManagerID, &e.StartDate)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

const workflowColumns = "id, org_id, name, active, created_at, updated_at"

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	if err := row.Scan(&w.ID, &w.OrgID, &w.Name, &w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (q *queries) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	return q.db.QueryRow(ctx,
		"INSERT INTO workflows (id, org_id, name, active) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at",
		w.ID, w.OrgID, w.Name, w.Active,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (q *queries) GetWorkflow(ctx context.Context, orgID, id string, forUpdate bool) (*models.Workflow, error) {
	return scanWorkflow(q.db.QueryRow(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE id = $1 AND org_id = $2"+lockClause(forUpdate),
		id, orgID))
}

func (q *queries) ListWorkflows(ctx context.Context, orgID string) ([]*models.Workflow, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE org_id = $1 ORDER BY created_at, id", orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

const stepColumns = "id, workflow_id, ordinal, title, type, owner_role, due_days_from_start, auto_advance, config, created_at"

func scanStep(row pgx.Row) (*models.StepDefinition, error) {
	var s models.StepDefinition
	var stepType string
	err := row.Scan(&s.ID, &s.WorkflowID, &s.Ordinal, &s.Title, &stepType, &s.OwnerRole,
		&s.DueDaysFromStart, &s.AutoAdvance, &s.Config, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	s.Type = models.StepType(stepType)
	return &s, nil
}

func (q *queries) ListStepDefinitions(ctx context.Context, workflowID string, forUpdate bool) ([]*models.StepDefinition, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+stepColumns+" FROM workflow_steps WHERE workflow_id = $1 ORDER BY ordinal"+lockClause(forUpdate),
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.StepDefinition
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func jsonOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func (q *queries) CreateStepDefinitions(ctx context.Context, steps []*models.StepDefinition) error {
	if len(steps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range steps {
		batch.Queue(
			"INSERT INTO workflow_steps (id, workflow_id, ordinal, title, type, owner_role, due_days_from_start, auto_advance, config) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
			s.ID, s.WorkflowID, s.Ordinal, s.Title, string(s.Type), s.OwnerRole,
			s.DueDaysFromStart, s.AutoAdvance, jsonOrEmpty(s.Config))
	}
	return execBatch(ctx, q.db, batch)
}

func (q *queries) UpdateStepOrdinals(ctx context.Context, workflowID string, ordinals map[string]int) (int, error) {
	if len(ordinals) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(ordinals))
	values := make([]int32, 0, len(ordinals))
	for id, ordinal := range ordinals {
		ids = append(ids, id)
		values = append(values, int32(ordinal))
	}

	tag, err := q.db.Exec(ctx, `
		UPDATE workflow_steps AS s
		SET ordinal = v.ordinal
		FROM unnest($2::text[], $3::int[]) AS v(id, ordinal)
		WHERE s.workflow_id = $1 AND s.id = v.id::uuid AND s.ordinal <> v.ordinal`,
		workflowID, ids, values)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const runColumns = "id, workflow_id, employee_id, org_id, started_at, started_by, status, completed_at"

func (q *queries) CreateRun(ctx context.Context, r *models.Run) error {
	_, err := q.db.Exec(ctx,
		"INSERT INTO runs ("+runColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		r.ID, r.WorkflowID, r.EmployeeID, r.OrgID, r.StartedAt, r.StartedBy, string(r.Status), r.CompletedAt)
	return err
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var r models.Run
	var status string
	err := row.Scan(&r.ID, &r.WorkflowID, &r.EmployeeID, &r.OrgID, &r.StartedAt, &r.StartedBy, &status, &r.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	r.Status = models.RunStatus(status)
	return &r, nil
}

func (q *queries) GetRun(ctx context.Context, orgID, id string, forUpdate bool) (*models.Run, error) {
	return scanRun(q.db.QueryRow(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = $1 AND org_id = $2"+lockClause(forUpdate),
		id, orgID))
}

func (q *queries) ListRuns(ctx context.Context, orgID, workflowID string) ([]*models.Run, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+runColumns+" FROM runs WHERE org_id = $1 AND ($2::text = '' OR workflow_id::text = $2::text) ORDER BY started_at DESC, id",
		orgID, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (q *queries) SetRunStatus(ctx context.Context, id string, from []models.RunStatus, to models.RunStatus, completedAt *time.Time) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	tag, err := q.db.Exec(ctx,
		"UPDATE runs SET status = $2, completed_at = COALESCE($3, completed_at) WHERE id = $1 AND status = ANY($4::text[])",
		id, string(to), completedAt, allowed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const instanceColumns = "si.id, si.run_id, si.workflow_step_id, si.ordinal, si.title, si.type, si.assigned_to, si.status, si.due_at, si.completed_at, si.payload"

func scanInstance(row pgx.Row) (*models.StepInstance, error) {
	var si models.StepInstance
	var stepType, status string
	err := row.Scan(&si.ID, &si.RunID, &si.WorkflowStepID, &si.Ordinal, &si.Title, &stepType,
		&si.AssignedTo, &status, &si.DueAt, &si.CompletedAt, &si.Payload)
	if err != nil {
		return nil, notFound(err)
	}
	si.Type = models.StepType(stepType)
	si.Status = models.StepStatus(status)
	return &si, nil
}

func (q *queries) CreateStepInstances(ctx context.Context, instances []*models.StepInstance) error {
	if len(instances) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, si := range instances {
		batch.Queue(
			"INSERT INTO step_instances (id, run_id, workflow_step_id, ordinal, title, type, assigned_to, status, due_at, completed_at, payload) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
			si.ID, si.RunID, si.WorkflowStepID, si.Ordinal, si.Title, string(si.Type), si.AssignedTo,
			string(si.Status), si.DueAt, si.CompletedAt, jsonOrEmpty(si.Payload))
	}
	return execBatch(ctx, q.db, batch)
}

func (q *queries) GetStepInstance(ctx context.Context, orgID, id string) (*models.StepInstance, error) {
	return scanInstance(q.db.QueryRow(ctx,
		"SELECT "+instanceColumns+" FROM step_instances si JOIN runs r ON r.id = si.run_id WHERE si.id = $1 AND r.org_id = $2",
		id, orgID))
}

func (q *queries) ListStepInstances(ctx context.Context, runID string) ([]*models.StepInstance, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+instanceColumns+" FROM step_instances si WHERE si.run_id = $1 ORDER BY si.ordinal, si.id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*models.StepInstance
	for rows.Next() {
		si, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, si)
	}
	return instances, rows.Err()
}

func (q *queries) TransitionStep(ctx context.Context, id string, from, to models.StepStatus, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		"UPDATE step_instances SET status = $3, completed_at = $4 WHERE id = $1 AND status = $2",
		id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) HasPendingStepAfter(ctx context.Context, runID string, ordinal int) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM step_instances WHERE run_id = $1 AND status = 'pending' AND ordinal > $2)",
		runID, ordinal,
	).Scan(&exists)
	return exists, err
}

func (q *queries) SetStepAssignee(ctx context.Context, id, profileID string) error {
	tag, err := q.db.Exec(ctx, "UPDATE step_instances SET assigned_to = $2 WHERE id = $1", id, profileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func execBatch(ctx context.Context, db dbtx, batch *pgx.Batch) error {
	results := db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return results.Close()
}
