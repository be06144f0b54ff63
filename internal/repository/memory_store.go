package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"onboarding/backend/pkg/models"
)

// MemoryStore is an in-memory implementation of the Repository interface.
// Transactions work on a copy of the whole state that replaces the original
// only when the callback succeeds, so a failed InTx leaves nothing behind.
// All transactions are serialised by a single mutex.
type MemoryStore struct {
	*memQueries
	mu    sync.Mutex
	state *memState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{state: newMemState()}
	s.memQueries = &memQueries{
		state: s.state,
		lock: func() func() {
			s.mu.Lock()
			return s.mu.Unlock
		},
	}
	return s
}

// InTx runs fn against a private copy of the state.
func (s *MemoryStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&memQueries{state: working, lock: noLock}); err != nil {
		return err
	}
	*s.state = *working
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func noLock() func() { return func() {} }

type memState struct {
	orgs      map[string]*models.Organization
	profiles  map[string]*models.Profile
	employees map[string]*models.Employee
	workflows map[string]*models.Workflow
	steps     map[string]*models.StepDefinition
	runs      map[string]*models.Run
	instances map[string]*models.StepInstance
}

func newMemState() *memState {
	return &memState{
		orgs:      map[string]*models.Organization{},
		profiles:  map[string]*models.Profile{},
		employees: map[string]*models.Employee{},
		workflows: map[string]*models.Workflow{},
		steps:     map[string]*models.StepDefinition{},
		runs:      map[string]*models.Run{},
		instances: map[string]*models.StepInstance{},
	}
}

func (st *memState) clone() *memState {
	return &memState{
		orgs:      cloneRecords(st.orgs),
		profiles:  cloneRecords(st.profiles),
		employees: cloneRecords(st.employees),
		workflows: cloneRecords(st.workflows),
		steps:     cloneRecords(st.steps),
		runs:      cloneRecords(st.runs),
		instances: cloneRecords(st.instances),
	}
}

func cloneRecords[T any](in map[string]*T) map[string]*T {
	out := make(map[string]*T, len(in))
	for k, v := range in {
		out[k] = copyOf(v)
	}
	return out
}

func copyOf[T any](v *T) *T {
	c := *v
	return &c
}

type memQueries struct {
	state *memState
	lock  func() func()
}

func insert[T any](records map[string]*T, id string, v *T) error {
	if _, exists := records[id]; exists {
		return fmt.Errorf("duplicate key %q", id)
	}
	records[id] = copyOf(v)
	return nil
}

func (q *memQueries) GetOrganizationByDomain(_ context.Context, domain string) (*models.Organization, error) {
	defer q.lock()()
	for _, org := range q.state.orgs {
		if org.Domain == domain {
			return copyOf(org), nil
		}
	}
	return nil, ErrNotFound
}

func (q *memQueries) CreateOrganization(_ context.Context, org *models.Organization) error {
	defer q.lock()()
	for _, existing := range q.state.orgs {
		if existing.Domain == org.Domain {
			return fmt.Errorf("duplicate domain %q", org.Domain)
		}
	}
	org.CreatedAt = time.Now().UTC()
	return insert(q.state.orgs, org.ID, org)
}

func (q *memQueries) CreateProfile(_ context.Context, p *models.Profile) error {
	defer q.lock()()
	for _, existing := range q.state.profiles {
		if strings.EqualFold(existing.Email, p.Email) {
			return fmt.Errorf("duplicate email %q", p.Email)
		}
	}
	return insert(q.state.profiles, p.ID, p)
}

func (q *memQueries) GetProfile(_ context.Context, orgID, id string) (*models.Profile, error) {
	defer q.lock()()
	p, ok := q.state.profiles[id]
	if !ok || p.OrgID != orgID {
		return nil, ErrNotFound
	}
	return copyOf(p), nil
}

func (q *memQueries) GetProfileByEmail(_ context.Context, email string) (*models.Profile, error) {
	defer q.lock()()
	for _, p := range q.state.profiles {
		if strings.EqualFold(p.Email, email) {
			return copyOf(p), nil
		}
	}
	return nil, ErrNotFound
}

func (q *memQueries) FindActiveProfileByRole(_ context.Context, orgID, role string) (*models.Profile, error) {
	defer q.lock()()
	var best *models.Profile
	for _, p := range q.state.profiles {
		if p.OrgID != orgID || p.Role != role || !p.Active {
			continue
		}
		if best == nil || p.ID < best.ID {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyOf(best), nil
}

func (q *memQueries) CreateEmployee(_ context.Context, e *models.Employee) error {
	defer q.lock()()
	return insert(q.state.employees, e.ID, e)
}

func (q *memQueries) GetEmployee(_ context.Context, orgID, id string) (*models.Employee, error) {
	defer q.lock()()
	e, ok := q.state.employees[id]
	if !ok || e.OrgID != orgID {
		return nil, ErrNotFound
	}
	return copyOf(e), nil
}

func (q *memQueries) CreateWorkflow(_ context.Context, w *models.Workflow) error {
	defer q.lock()()
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	stored := copyOf(w)
	stored.Steps = nil
	return insert(q.state.workflows, w.ID, stored)
}

func (q *memQueries) GetWorkflow(_ context.Context, orgID, id string, _ bool) (*models.Workflow, error) {
	defer q.lock()()
	w, ok := q.state.workflows[id]
	if !ok || w.OrgID != orgID {
		return nil, ErrNotFound
	}
	return copyOf(w), nil
}

func (q *memQueries) ListWorkflows(_ context.Context, orgID string) ([]*models.Workflow, error) {
	defer q.lock()()
	var out []*models.Workflow
	for _, w := range q.state.workflows {
		if w.OrgID == orgID {
			out = append(out, copyOf(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *memQueries) ListStepDefinitions(_ context.Context, workflowID string, _ bool) ([]*models.StepDefinition, error) {
	defer q.lock()()
	return q.stepsOf(workflowID), nil
}

func (q *memQueries) stepsOf(workflowID string) []*models.StepDefinition {
	var out []*models.StepDefinition
	for _, s := range q.state.steps {
		if s.WorkflowID == workflowID {
			out = append(out, copyOf(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// CreateStepDefinitions and UpdateStepOrdinals enforce the (workflow_id,
// ordinal) uniqueness the Postgres schema declares.
func (q *memQueries) CreateStepDefinitions(_ context.Context, steps []*models.StepDefinition) error {
	defer q.lock()()
	taken := map[string]map[int]bool{}
	for _, s := range q.state.steps {
		if taken[s.WorkflowID] == nil {
			taken[s.WorkflowID] = map[int]bool{}
		}
		taken[s.WorkflowID][s.Ordinal] = true
	}
	for _, s := range steps {
		if _, exists := q.state.steps[s.ID]; exists {
			return fmt.Errorf("duplicate key %q", s.ID)
		}
		if taken[s.WorkflowID] == nil {
			taken[s.WorkflowID] = map[int]bool{}
		}
		if taken[s.WorkflowID][s.Ordinal] {
			return fmt.Errorf("duplicate ordinal %d in workflow %s", s.Ordinal, s.WorkflowID)
		}
		taken[s.WorkflowID][s.Ordinal] = true
	}

	now := time.Now().UTC()
	for _, s := range steps {
		s.CreatedAt = now
		q.state.steps[s.ID] = copyOf(s)
	}
	return nil
}

func (q *memQueries) UpdateStepOrdinals(_ context.Context, workflowID string, ordinals map[string]int) (int, error) {
	defer q.lock()()
	next := map[string]int{}
	for _, s := range q.state.steps {
		if s.WorkflowID == workflowID {
			next[s.ID] = s.Ordinal
		}
	}

	updated := 0
	for id, ordinal := range ordinals {
		current, ok := next[id]
		if !ok {
			continue
		}
		if current != ordinal {
			updated++
		}
		next[id] = ordinal
	}

	seen := map[int]bool{}
	for _, ordinal := range next {
		if seen[ordinal] {
			return 0, fmt.Errorf("duplicate ordinal %d in workflow %s", ordinal, workflowID)
		}
		seen[ordinal] = true
	}

	for id, ordinal := range next {
		q.state.steps[id].Ordinal = ordinal
	}
	return updated, nil
}

func (q *memQueries) CreateRun(_ context.Context, r *models.Run) error {
	defer q.lock()()
	stored := copyOf(r)
	stored.Steps = nil
	return insert(q.state.runs, r.ID, stored)
}

func (q *memQueries) GetRun(_ context.Context, orgID, id string, _ bool) (*models.Run, error) {
	defer q.lock()()
	r, ok := q.state.runs[id]
	if !ok || r.OrgID != orgID {
		return nil, ErrNotFound
	}
	return copyOf(r), nil
}

func (q *memQueries) ListRuns(_ context.Context, orgID, workflowID string) ([]*models.Run, error) {
	defer q.lock()()
	var out []*models.Run
	for _, r := range q.state.runs {
		if r.OrgID == orgID && (workflowID == "" || r.WorkflowID == workflowID) {
			out = append(out, copyOf(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *memQueries) SetRunStatus(_ context.Context, id string, from []models.RunStatus, to models.RunStatus, completedAt *time.Time) (bool, error) {
	defer q.lock()()
	r, ok := q.state.runs[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if r.Status == s {
			r.Status = to
			if completedAt != nil {
				at := *completedAt
				r.CompletedAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) CreateStepInstances(_ context.Context, instances []*models.StepInstance) error {
	defer q.lock()()
	for _, si := range instances {
		if _, exists := q.state.instances[si.ID]; exists {
			return fmt.Errorf("duplicate key %q", si.ID)
		}
		if _, ok := q.state.runs[si.RunID]; !ok {
			return fmt.Errorf("run %s does not exist", si.RunID)
		}
	}
	for _, si := range instances {
		q.state.instances[si.ID] = copyOf(si)
	}
	return nil
}

func (q *memQueries) GetStepInstance(_ context.Context, orgID, id string) (*models.StepInstance, error) {
	defer q.lock()()
	si, ok := q.state.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r, ok := q.state.runs[si.RunID]; !ok || r.OrgID != orgID {
		return nil, ErrNotFound
	}
	return copyOf(si), nil
}

func (q *memQueries) ListStepInstances(_ context.Context, runID string) ([]*models.StepInstance, error) {
	defer q.lock()()
	var out []*models.StepInstance
	for _, si := range q.state.instances {
		if si.RunID == runID {
			out = append(out, copyOf(si))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *memQueries) TransitionStep(_ context.Context, id string, from, to models.StepStatus, at time.Time) (bool, error) {
	defer q.lock()()
	si, ok := q.state.instances[id]
	if !ok || si.Status != from {
		return false, nil
	}
	si.Status = to
	si.CompletedAt = &at
	return true, nil
}

func (q *memQueries) HasPendingStepAfter(_ context.Context, runID string, ordinal int) (bool, error) {
	defer q.lock()()
	for _, si := range q.state.instances {
		if si.RunID == runID && si.Status == models.StepStatusPending && si.Ordinal > ordinal {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) SetStepAssignee(_ context.Context, id, profileID string) error {
	defer q.lock()()
	si, ok := q.state.instances[id]
	if !ok {
		return ErrNotFound
	}
	assignee := profileID
	si.AssignedTo = &assignee
	return nil
}
