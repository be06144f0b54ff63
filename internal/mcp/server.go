package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"onboarding/backend/internal/auth"
	"onboarding/backend/internal/services"
	"onboarding/backend/pkg/models"
)

// RunEngine is the part of the engine exposed as assistant tools.
type RunEngine interface {
	CreateRun(ctx context.Context, caller models.Caller, in services.CreateRunInput) (*models.Run, error)
	TogglePause(ctx context.Context, caller models.Caller, runID string) (models.RunStatus, error)
	CancelRun(ctx context.Context, caller models.Caller, runID string) error
	CompleteStep(ctx context.Context, caller models.Caller, stepID string) error
	SkipStep(ctx context.Context, caller models.Caller, stepID string) error
	ReassignStep(ctx context.Context, caller models.Caller, stepID, userID string) error
}

type Server struct {
	mcpServer *server.MCPServer
	engine    RunEngine
}

func NewServer(engine RunEngine, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Onboarding Runs",
			version,
			server.WithToolCapabilities(true),
		),
		engine: engine,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_run",
			mcp.WithDescription("Start an onboarding run of a workflow for an employee"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow to instantiate")),
			mcp.WithString("employee_id", mcp.Required(), mcp.Description("The employee being onboarded")),
		),
		s.handleCreateRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_step",
			mcp.WithDescription("Mark a step of a run as done"),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The step instance id")),
		),
		s.stepTool(s.engine.CompleteStep, "Step completed"),
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"skip_step",
			mcp.WithDescription("Mark a step of a run as skipped"),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The step instance id")),
		),
		s.stepTool(s.engine.SkipStep, "Step skipped"),
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"reassign_step",
			mcp.WithDescription("Assign a step to another user of the organization"),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The step instance id")),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The profile id of the new owner")),
		),
		s.handleReassignStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"toggle_run_pause",
			mcp.WithDescription("Pause a running run or resume a paused one"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run id")),
		),
		s.handleTogglePause,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_run",
			mcp.WithDescription("Cancel a running or paused run"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run id")),
		),
		s.handleCancelRun,
	)
}

func callerFrom(ctx context.Context) (models.Caller, *mcp.CallToolResult) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return models.Caller{}, mcp.NewToolResultError("Not authenticated")
	}
	return caller, nil
}

func (s *Server) handleCreateRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caller, denied := callerFrom(ctx)
	if denied != nil {
		return denied, nil
	}

	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	employeeID, err := request.RequireString("employee_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: employee_id"), nil
	}

	run, err := s.engine.CreateRun(ctx, caller, services.CreateRunInput{WorkflowID: workflowID, EmployeeID: employeeID})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create run: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) stepTool(op func(context.Context, models.Caller, string) error, done string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, denied := callerFrom(ctx)
		if denied != nil {
			return denied, nil
		}
		stepID, err := request.RequireString("step_id")
		if err != nil {
			return mcp.NewToolResultError("Missing required parameter: step_id"), nil
		}
		if err := op(ctx, caller, stepID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to update step: %v", err)), nil
		}
		return mcp.NewToolResultText(done), nil
	}
}

func (s *Server) handleReassignStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caller, denied := callerFrom(ctx)
	if denied != nil {
		return denied, nil
	}

	stepID, err := request.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: step_id"), nil
	}
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: user_id"), nil
	}

	if err := s.engine.ReassignStep(ctx, caller, stepID, userID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reassign step: %v", err)), nil
	}
	return mcp.NewToolResultText("Step reassigned"), nil
}

func (s *Server) handleTogglePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caller, denied := callerFrom(ctx)
	if denied != nil {
		return denied, nil
	}

	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	status, err := s.engine.TogglePause(ctx, caller, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to toggle run: %v", err)), nil
	}
	return mcp.NewToolResultText("Run is now " + string(status)), nil
}

func (s *Server) handleCancelRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caller, denied := callerFrom(ctx)
	if denied != nil {
		return denied, nil
	}

	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	if err := s.engine.CancelRun(ctx, caller, runID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel run: %v", err)), nil
	}
	return mcp.NewToolResultText("Run cancelled"), nil
}

// Handler returns the SSE transport for the tool server. It is expected to be
// wrapped by auth.RequireAuth; the authenticated caller is carried from the
// HTTP request into every tool call.
func Handler(mcpServer *server.MCPServer) http.Handler {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if caller, ok := auth.CallerFromContext(r.Context()); ok {
				return auth.WithCaller(ctx, caller)
			}
			return ctx
		}),
	)

	mux := http.NewServeMux()
	// Direct POST for tool calls
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	mux.Handle("/mcp/sse", sseServer)
	mux.Handle("/mcp/message", sseServer)
	return mux
}
