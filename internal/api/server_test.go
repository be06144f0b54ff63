package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"onboarding/backend/internal/auth"
	"onboarding/backend/internal/logging"
	"onboarding/backend/internal/repository"
	"onboarding/backend/internal/services"
	"onboarding/backend/pkg/models"
)

type testServer struct {
	t        *testing.T
	e        *echo.Echo
	store    *repository.MemoryStore
	caller   models.Caller
	employee *models.Employee
	workflow *models.Workflow
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	org := &models.Organization{ID: uuid.NewString(), Name: "Acme", Domain: "acme.test"}
	require.NoError(t, store.CreateOrganization(ctx, org))
	admin := &models.Profile{ID: uuid.NewString(), OrgID: org.ID, Email: "admin@acme.test", Role: "admin", Active: true}
	require.NoError(t, store.CreateProfile(ctx, admin))
	employee := &models.Employee{ID: uuid.NewString(), OrgID: org.ID, FullName: "New Hire", Email: "hire@acme.test"}
	require.NoError(t, store.CreateEmployee(ctx, employee))

	workflow := &models.Workflow{ID: uuid.NewString(), OrgID: org.ID, Name: "Engineering", Active: true}
	require.NoError(t, store.CreateWorkflow(ctx, workflow))
	steps := []*models.StepDefinition{
		{ID: uuid.NewString(), WorkflowID: workflow.ID, Ordinal: 1, Title: "Paperwork", Type: models.StepTypeForm, Config: json.RawMessage(`{"form_id":"w4"}`)},
		{ID: uuid.NewString(), WorkflowID: workflow.ID, Ordinal: 2, Title: "Laptop", Type: models.StepTypeTask, DueDaysFromStart: 2},
	}
	require.NoError(t, store.CreateStepDefinitions(ctx, steps))

	logger := logging.New(zaptest.NewLogger(t))
	engine := services.NewEngine(store, services.WithLogger(logger))

	ts := &testServer{
		t:        t,
		e:        echo.New(),
		store:    store,
		caller:   models.Caller{CallerID: admin.ID, OrgID: org.ID, Role: admin.Role},
		employee: employee,
		workflow: workflow,
	}
	ts.e.HTTPErrorHandler = ErrorHandler(logger)

	g := ts.e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("X-Anonymous") == "" {
				req := c.Request()
				c.SetRequest(req.WithContext(auth.WithCaller(req.Context(), ts.caller)))
			}
			return next(c)
		}
	})
	RegisterHandlers(g, NewServer(engine))
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/api/v1"+path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/api/v1"+path, nil)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertProblem(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) models.ProblemDetails {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, problemContentType, rec.Header().Get(echo.HeaderContentType))
	problem := decode[models.ProblemDetails](t, rec)
	assert.Equal(t, status, problem.Status)
	assert.Equal(t, "urn:onboarding:error:"+kind, problem.Type)
	return problem
}

func (ts *testServer) createRun() string {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/runs",
		`{"workflow_id":"`+ts.workflow.ID+`","employee_id":"`+ts.employee.ID+`","start_date":"2026-03-02"}`)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[CreateRunResponse](ts.t, rec)
	require.NotEmpty(ts.t, resp.RunID)
	return resp.RunID
}

func TestRunLifecycle(t *testing.T) {
	ts := newTestServer(t)
	runID := ts.createRun()

	rec := ts.do(http.MethodGet, "/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[models.Run](t, rec)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	require.Len(t, run.Steps, 2)
	require.NotNil(t, run.Steps[1].DueAt)
	assert.Equal(t, "2026-03-04", run.Steps[1].DueAt.Format("2006-01-02"))

	rec = ts.do(http.MethodPost, "/steps/"+run.Steps[0].ID+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SuccessResponse](t, rec).Success)

	rec = ts.do(http.MethodPost, "/runs/"+runID+"/toggle-pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RunStatusPaused, decode[TogglePauseResponse](t, rec).Status)

	rec = ts.do(http.MethodPost, "/runs/"+runID+"/toggle-pause", "")
	assert.Equal(t, models.RunStatusRunning, decode[TogglePauseResponse](t, rec).Status)

	rec = ts.do(http.MethodPost, "/steps/"+run.Steps[1].ID+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/runs/"+runID, "")
	assert.Equal(t, models.RunStatusCompleted, decode[models.Run](t, rec).Status)

	rec = ts.do(http.MethodPost, "/runs/"+runID+"/toggle-pause", "")
	assertProblem(t, rec, http.StatusBadRequest, "conflict")

	rec = ts.do(http.MethodGet, "/runs?workflow_id="+ts.workflow.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Run](t, rec), 1)
}

func TestCancelRun(t *testing.T) {
	ts := newTestServer(t)
	runID := ts.createRun()

	rec := ts.do(http.MethodPost, "/runs/"+runID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CancelRunResponse](t, rec)
	assert.Equal(t, CancelRunResponse{Success: true, RunID: runID, NewStatus: models.RunStatusCancelled}, resp)

	rec = ts.do(http.MethodPost, "/runs/"+runID+"/cancel", "")
	problem := assertProblem(t, rec, http.StatusBadRequest, "conflict")
	assert.Equal(t, "/api/v1/runs/"+runID+"/cancel", problem.Instance)
}

func TestSkipAndReassign(t *testing.T) {
	ts := newTestServer(t)
	runID := ts.createRun()
	run := decode[models.Run](t, ts.do(http.MethodGet, "/runs/"+runID, ""))

	rec := ts.do(http.MethodPost, "/steps/"+run.Steps[1].ID+"/reassign", `{"user_id":"`+ts.caller.CallerID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/steps/"+run.Steps[1].ID+"/reassign", `{"user_id":"`+uuid.NewString()+`"}`)
	assertProblem(t, rec, http.StatusNotFound, "not_found")

	rec = ts.do(http.MethodPost, "/steps/"+run.Steps[0].ID+"/skip", "")
	require.Equal(t, http.StatusOK, rec.Code)

	run = decode[models.Run](t, ts.do(http.MethodGet, "/runs/"+runID, ""))
	assert.Equal(t, models.StepStatusSkipped, run.Steps[0].Status)
	require.NotNil(t, run.Steps[1].AssignedTo)
	assert.Equal(t, ts.caller.CallerID, *run.Steps[1].AssignedTo)
}

func TestWorkflowAuthoring(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/workflows", `{"name":"Sales"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Workflow](t, rec)
	assert.True(t, created.Active)

	for _, title := range []string{"one", "two", "three"} {
		rec = ts.do(http.MethodPost, "/workflows/"+created.ID+"/steps",
			`{"title":"`+title+`","type":"form","config":{"form_id":"`+title+`"}}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodPost, "/workflows/"+created.ID+"/steps", `{"title":"bad","type":"wait","config":{"duration_days":-1}}`)
	assertProblem(t, rec, http.StatusBadRequest, "validation")

	rec = ts.do(http.MethodPost, "/workflows/"+created.ID+"/reorder", `{"from_ordinal":3,"to_ordinal":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ReorderStepsResponse{Success: true, Updated: 3}, decode[ReorderStepsResponse](t, rec))

	rec = ts.do(http.MethodPost, "/workflows/"+created.ID+"/reorder", `{"from_ordinal":1,"to_ordinal":9}`)
	assertProblem(t, rec, http.StatusBadRequest, "validation")

	rec = ts.do(http.MethodGet, "/workflows/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.Workflow](t, rec)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, "three", got.Steps[0].Title)

	rec = ts.do(http.MethodPost, "/workflows/"+created.ID+"/duplicate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dup := decode[DuplicateWorkflowResponse](t, rec)
	assert.True(t, dup.Success)
	assert.Equal(t, 3, dup.StepsCount)
	assert.NotEqual(t, created.ID, dup.WorkflowID)

	rec = ts.do(http.MethodGet, "/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Workflow](t, rec), 3)
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/runs/"+uuid.NewString(), "")
	problem := assertProblem(t, rec, http.StatusNotFound, "not_found")
	assert.Equal(t, "run not found", problem.Detail)

	rec = ts.do(http.MethodPost, "/steps/not-a-uuid/complete", "")
	assertProblem(t, rec, http.StatusBadRequest, "validation")

	rec = ts.do(http.MethodPost, "/runs", `{"workflow_id":`)
	assertProblem(t, rec, http.StatusBadRequest, "validation")

	rec = ts.do(http.MethodPost, "/runs", `{"workflow_id":"`+uuid.NewString()+`","employee_id":"`+ts.employee.ID+`"}`)
	assertProblem(t, rec, http.StatusNotFound, "not_found")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	req.Header.Set("X-Anonymous", "1")
	rec = httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	assertProblem(t, rec, http.StatusUnauthorized, "unauthorized")
}

func TestErrorHandler_HidesInternalDetail(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logging.NewNop())
	e.GET("/boom", func(c echo.Context) error {
		return services.Internal("storage failure", errors.New("dial tcp 10.0.0.1:5432: refused"))
	})
	e.GET("/plain", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	problem := assertProblem(t, rec, http.StatusInternalServerError, "internal")
	assert.Equal(t, "storage failure", problem.Detail)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	problem = decode[models.ProblemDetails](t, rec)
	assert.Equal(t, "about:blank", problem.Type)
	assert.Equal(t, "short and stout", problem.Detail)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	e := echo.New()
	tests := []struct {
		name   string
		ping   error
		code   int
		status string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)
			h := HealthHandler("onboarding-backend", "test", pingFunc(func(context.Context) error { return tt.ping }))
			require.NoError(t, h(c))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.status, decode[models.HealthStatus](t, rec).Status)
		})
	}
}

func TestSpecHandler_FillsIssuer(t *testing.T) {
	rec := httptest.NewRecorder()
	SpecHandler("https://acme.okta.com/oauth2/default")(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "https://acme.okta.com/oauth2/default/v1/authorize")
	assert.NotContains(t, body, "{oktaIssuer}")
	assert.Contains(t, body, "/workflows/{id}/duplicate")
}

func TestSwaggerHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Host = "localhost:8080"
	SwaggerHandler("https://acme.okta.com", "swagger-client")(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `clientId: "swagger-client"`)
	assert.Contains(t, body, "http://localhost:8080/docs/oauth2-redirect.html")
	assert.NotContains(t, body, "${")
}
