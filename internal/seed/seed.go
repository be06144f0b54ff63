// Package seed loads a demo organization used for local development.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"onboarding/backend/internal/logging"
	"onboarding/backend/internal/repository"
	"onboarding/backend/pkg/models"
)

const (
	DemoDomain   = "acme.test"
	WorkflowName = "Engineering onboarding"
)

// Result names the seeded rows a developer needs to try the API.
type Result struct {
	OrgID      string
	AdminID    string
	EmployeeID string
	WorkflowID string
	Created    bool
}

type profileSeed struct {
	email, name, role string
}

type stepSeed struct {
	title     string
	typ       models.StepType
	ownerRole string
	dueDays   int
	config    string
}

var demoSteps = []stepSeed{
	{"Personal details", models.StepTypeForm, "", 0, `{"form_id":"personal-details"}`},
	{"Order laptop", models.StepTypeTask, "it", 1, `{"instructions":"Standard engineering laptop","assignment":{"mode":"role","role":"it"}}`},
	{"Welcome email", models.StepTypeEmail, "hr", 0, `{"subject":"Welcome aboard!","assignment":{"mode":"role","role":"hr"}}`},
	{"Sign contract", models.StepTypeSignature, "", 2, `{"document_url":"https://docs.acme.test/contract.pdf"}`},
	{"First week", models.StepTypeWait, "", 7, `{"duration_days":5}`},
	{"30 day check-in", models.StepTypeTask, "manager", 30, `{"instructions":"Schedule a 1:1","assignment":{"mode":"dynamic","strategy":"employee_manager"}}`},
}

// Run seeds the demo organization. adminEmail becomes the admin profile so
// the dev auth bypass resolves to it. An org that already exists is left
// untouched.
func Run(ctx context.Context, repo repository.Repository, adminEmail string, logger *logging.Logger) (*Result, error) {
	if org, err := repo.GetOrganizationByDomain(ctx, DemoDomain); err == nil {
		logger.Info("demo organization already exists", "org_id", org.ID)
		return existing(ctx, repo, org, adminEmail)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup organization: %w", err)
	}

	res := &Result{Created: true}
	now := time.Now().UTC()
	err := repo.InTx(ctx, func(q repository.Queries) error {
		org := &models.Organization{ID: uuid.NewString(), Name: "Acme Corp", Domain: DemoDomain, CreatedAt: now}
		if err := q.CreateOrganization(ctx, org); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}
		res.OrgID = org.ID

		profiles := []profileSeed{
			{adminEmail, "Dev Admin", "admin"},
			{"hr@" + DemoDomain, "Harper Reyes", "hr"},
			{"it@" + DemoDomain, "Ira Tan", "it"},
			{"manager@" + DemoDomain, "Morgan Lee", "manager"},
		}
		ids := make(map[string]string, len(profiles))
		for _, p := range profiles {
			profile := &models.Profile{ID: uuid.NewString(), OrgID: org.ID, Email: p.email, FullName: p.name, Role: p.role, Active: true}
			if err := q.CreateProfile(ctx, profile); err != nil {
				return fmt.Errorf("create profile %s: %w", p.email, err)
			}
			ids[p.role] = profile.ID
		}
		res.AdminID = ids["admin"]

		manager := ids["manager"]
		start := now.AddDate(0, 0, 7).Truncate(24 * time.Hour)
		employee := &models.Employee{
			ID:        uuid.NewString(),
			OrgID:     org.ID,
			FullName:  "Sam Carter",
			Email:     "sam.carter@" + DemoDomain,
			ManagerID: &manager,
			StartDate: &start,
		}
		if err := q.CreateEmployee(ctx, employee); err != nil {
			return fmt.Errorf("create employee: %w", err)
		}
		res.EmployeeID = employee.ID

		workflow := &models.Workflow{ID: uuid.NewString(), OrgID: org.ID, Name: WorkflowName, Active: true, CreatedAt: now, UpdatedAt: now}
		if err := q.CreateWorkflow(ctx, workflow); err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
		res.WorkflowID = workflow.ID

		steps := make([]*models.StepDefinition, 0, len(demoSteps))
		for i, s := range demoSteps {
			steps = append(steps, &models.StepDefinition{
				ID:               uuid.NewString(),
				WorkflowID:       workflow.ID,
				Ordinal:          i + 1,
				Title:            s.title,
				Type:             s.typ,
				OwnerRole:        s.ownerRole,
				DueDaysFromStart: s.dueDays,
				Config:           json.RawMessage(s.config),
				CreatedAt:        now,
			})
		}
		if err := q.CreateStepDefinitions(ctx, steps); err != nil {
			return fmt.Errorf("create steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("seeded demo organization",
		"org_id", res.OrgID,
		"admin_email", adminEmail,
		"employee_id", res.EmployeeID,
		"workflow_id", res.WorkflowID)
	return res, nil
}

func existing(ctx context.Context, repo repository.Repository, org *models.Organization, adminEmail string) (*Result, error) {
	res := &Result{OrgID: org.ID}
	if admin, err := repo.GetProfileByEmail(ctx, adminEmail); err == nil && admin.OrgID == org.ID {
		res.AdminID = admin.ID
	}
	workflows, err := repo.ListWorkflows(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	for _, w := range workflows {
		if w.Name == WorkflowName {
			res.WorkflowID = w.ID
			break
		}
	}
	return res, nil
}
