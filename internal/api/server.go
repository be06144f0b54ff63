// Package api contains the HTTP handlers for the onboarding run engine
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"onboarding/backend/internal/auth"
	"onboarding/backend/internal/services"
	"onboarding/backend/pkg/models"
)

// Engine is the set of engine operations exposed over HTTP.
type Engine interface {
	CreateRun(ctx context.Context, caller models.Caller, in services.CreateRunInput) (*models.Run, error)
	GetRun(ctx context.Context, caller models.Caller, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, caller models.Caller, workflowID string) ([]*models.Run, error)
	TogglePause(ctx context.Context, caller models.Caller, runID string) (models.RunStatus, error)
	CancelRun(ctx context.Context, caller models.Caller, runID string) error

	CompleteStep(ctx context.Context, caller models.Caller, stepID string) error
	SkipStep(ctx context.Context, caller models.Caller, stepID string) error
	ReassignStep(ctx context.Context, caller models.Caller, stepID, userID string) error

	ReorderSteps(ctx context.Context, caller models.Caller, workflowID string, from, to int) (int, error)
	DuplicateWorkflow(ctx context.Context, caller models.Caller, workflowID string) (*models.Workflow, error)
	CreateWorkflow(ctx context.Context, caller models.Caller, name string, active bool) (*models.Workflow, error)
	AddStep(ctx context.Context, caller models.Caller, workflowID string, in services.NewStep) (*models.StepDefinition, error)
	ListWorkflows(ctx context.Context, caller models.Caller) ([]*models.Workflow, error)
	GetWorkflow(ctx context.Context, caller models.Caller, workflowID string) (*models.Workflow, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	Engine Engine
}

// NewServer creates a new Server.
func NewServer(engine Engine) *Server {
	return &Server{Engine: engine}
}

// RegisterHandlers mounts every route on g. g is expected to sit behind
// auth.RequireAuth.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.POST("/runs", s.CreateRun)
	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)
	g.POST("/runs/:id/toggle-pause", s.TogglePause)
	g.POST("/runs/:id/cancel", s.CancelRun)

	g.POST("/steps/:id/complete", s.CompleteStep)
	g.POST("/steps/:id/skip", s.SkipStep)
	g.POST("/steps/:id/reassign", s.ReassignStep)

	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows/:id/steps", s.AddStep)
	g.POST("/workflows/:id/reorder", s.ReorderSteps)
	g.POST("/workflows/:id/duplicate", s.DuplicateWorkflow)
}

func callerOf(c echo.Context) (models.Caller, error) {
	caller, ok := auth.CallerFromContext(c.Request().Context())
	if !ok {
		return models.Caller{}, services.Unauthorized("missing caller identity")
	}
	return caller, nil
}

func bindBody(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return services.Validation("invalid request body")
	}
	return nil
}

// CreateRun instantiates a workflow for an employee
// (POST /api/v1/runs)
func (s *Server) CreateRun(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}

	var req CreateRunRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	in := services.CreateRunInput{WorkflowID: req.WorkflowID, EmployeeID: req.EmployeeID}
	if req.StartDate != nil {
		start := time.Date(req.StartDate.Year(), req.StartDate.Month(), req.StartDate.Day(), 0, 0, 0, 0, time.UTC)
		in.StartDate = &start
	}

	run, err := s.Engine.CreateRun(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, CreateRunResponse{RunID: run.ID})
}

// ListRuns returns the org's runs, optionally filtered by ?workflow_id=
// (GET /api/v1/runs)
func (s *Server) ListRuns(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	runs, err := s.Engine.ListRuns(c.Request().Context(), caller, c.QueryParam("workflow_id"))
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns a run with its step instances
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	run, err := s.Engine.GetRun(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// TogglePause flips a run between running and paused
// (POST /api/v1/runs/:id/toggle-pause)
func (s *Server) TogglePause(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	status, err := s.Engine.TogglePause(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TogglePauseResponse{Success: true, Status: status})
}

// CancelRun cancels a running or paused run
// (POST /api/v1/runs/:id/cancel)
func (s *Server) CancelRun(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	runID := c.Param("id")
	if err := s.Engine.CancelRun(c.Request().Context(), caller, runID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CancelRunResponse{Success: true, RunID: runID, NewStatus: models.RunStatusCancelled})
}

// CompleteStep marks a step instance done
// (POST /api/v1/steps/:id/complete)
func (s *Server) CompleteStep(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	if err := s.Engine.CompleteStep(c.Request().Context(), caller, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// SkipStep marks a step instance skipped
// (POST /api/v1/steps/:id/skip)
func (s *Server) SkipStep(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	if err := s.Engine.SkipStep(c.Request().Context(), caller, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// ReassignStep changes the owner of a step instance
// (POST /api/v1/steps/:id/reassign)
func (s *Server) ReassignStep(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req ReassignStepRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := s.Engine.ReassignStep(c.Request().Context(), caller, c.Param("id"), req.UserID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// ListWorkflows returns the org's workflows
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	workflows, err := s.Engine.ListWorkflows(c.Request().Context(), caller)
	if err != nil {
		return err
	}
	if workflows == nil {
		workflows = []*models.Workflow{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow creates an empty workflow
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req CreateWorkflowRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	workflow, err := s.Engine.CreateWorkflow(c.Request().Context(), caller, req.Name, active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, workflow)
}

// GetWorkflow returns a workflow with its steps
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	workflow, err := s.Engine.GetWorkflow(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, workflow)
}

// AddStep appends a step to a workflow
// (POST /api/v1/workflows/:id/steps)
func (s *Server) AddStep(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req AddStepRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	step, err := s.Engine.AddStep(c.Request().Context(), caller, c.Param("id"), services.NewStep{
		Title:            req.Title,
		Type:             req.Type,
		OwnerRole:        req.OwnerRole,
		DueDaysFromStart: req.DueDaysFromStart,
		AutoAdvance:      req.AutoAdvance,
		Config:           req.Config,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, step)
}

// ReorderSteps moves one step of a workflow
// (POST /api/v1/workflows/:id/reorder)
func (s *Server) ReorderSteps(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req ReorderStepsRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	updated, err := s.Engine.ReorderSteps(c.Request().Context(), caller, c.Param("id"), req.FromOrdinal, req.ToOrdinal)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReorderStepsResponse{Success: true, Updated: updated})
}

// DuplicateWorkflow copies a workflow and its steps
// (POST /api/v1/workflows/:id/duplicate)
func (s *Server) DuplicateWorkflow(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	copied, err := s.Engine.DuplicateWorkflow(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DuplicateWorkflowResponse{
		Success:    true,
		WorkflowID: copied.ID,
		StepsCount: len(copied.Steps),
	})
}
