package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/dukex/flowline/pkg/auth"
	"github.com/dukex/flowline/pkg/expression"
	"github.com/dukex/flowline/pkg/metrics"
	"github.com/dukex/flowline/pkg/mocks"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence/memory"
	"github.com/dukex/flowline/pkg/secrets"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/dukex/flowline/pkg/trigger"
	"github.com/dukex/flowline/pkg/web"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	app     *fiber.App
	store   *memory.Persistence
	engine  *workflow.Engine
	project *models.Project
}

func setupTestApp(t *testing.T) *apiFixture {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := memory.NewPersistence()

	wf := testutil.MustWorkflow(testutil.LinearNodes("build"))
	require.NoError(t, store.Workflows().Save(ctx, wf))

	project := testutil.CreateTestProject(wf, func(p *models.Project) {
		p.Name = "api"
		p.AssociationID = "team-1"
		p.AssociationType = "team"
	})
	require.NoError(t, store.Projects().Save(ctx, project))

	require.NoError(t, store.Triggers().Save(ctx, &models.Trigger{
		ID:        "trigger-1",
		ProjectID: project.ID,
		Type:      models.TriggerTypeWebhook,
		Webhook: &models.Webhook{
			Params:  []models.WebhookParameter{{Name: "ref", Type: models.ParameterString, Exp: "$.body.json.ref"}},
			Matcher: "(trigger.ref == 'main')",
		},
	}))

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil)

	m := metrics.New()
	expressions := expression.NewEngine(secrets.NewMemoryStore())

	evaluator := trigger.NewEvaluator(logger, store, expressions, bus, trigger.WithEvaluatorMetrics(m))
	engine := workflow.NewEngine(logger, store, expressions, dispatcher, bus,
		workflow.WithRetryDelay(0),
		workflow.WithMetrics(m),
		workflow.WithOwnershipChecker(auth.NewProjectOwnership(store)),
	)

	handlers := web.NewHandlers(logger, store, evaluator, engine)

	return &apiFixture{
		app:     web.NewApp(handlers, m),
		store:   store,
		engine:  engine,
		project: project,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body []byte, headers map[string]string) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

// running starts an instance through the engine and returns its ID.
func (f *apiFixture) running(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	event := testutil.CreateTestTriggerEvent(f.project)
	require.NoError(t, f.store.TriggerEvents().Save(ctx, event))

	instance, err := f.engine.Start(ctx, event.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Initialize(ctx, instance.ID))

	return instance.ID
}

func (f *apiFixture) taskID(t *testing.T, instanceID, ref string) string {
	t.Helper()

	tasks, err := f.store.Instances().Tasks(context.Background(), instanceID)
	require.NoError(t, err)

	for _, task := range tasks {
		if task.NodeRef == ref {
			return task.ID
		}
	}

	require.Failf(t, "task not found", "node %s", ref)

	return ""
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	problemType, _ := problem["type"].(string)

	return problemType
}

func TestAPIHandlers_ReceiveWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		project string
		body    string
		status  models.WebRequestStatus
	}{
		{name: "accepted", project: "api", body: `{"ref":"main"}`, status: models.WebRequestOK},
		{name: "matcher rejects", project: "api", body: `{"ref":"dev"}`, status: models.WebRequestNotAcceptable},
		{name: "unknown project", project: "nope", body: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := setupTestApp(t)

			code, body := f.do(t, http.MethodPost, "/webhook/"+tt.project, []byte(tt.body), map[string]string{
				fiber.HeaderContentType: fiber.MIMEApplicationJSON,
			})
			assert.Equal(t, http.StatusOK, code, "webhook callers never learn the outcome")
			assert.JSONEq(t, `{"status":"accepted"}`, string(body))

			if tt.status == "" {
				return
			}

			code, body = f.do(t, http.MethodGet, "/web_requests?project=api", nil, nil)
			require.Equal(t, http.StatusOK, code)

			var listed web.WebRequestsResponse
			require.NoError(t, json.Unmarshal(body, &listed))
			require.Len(t, listed.WebRequests, 1)
			assert.Equal(t, tt.status, listed.WebRequests[0].StatusCode)
		})
	}
}

func TestAPIHandlers_WebhookQueryParameters(t *testing.T) {
	f := setupTestApp(t)

	code, _ := f.do(t, http.MethodPost, "/webhook/api?tag=a&tag=b", []byte(`{"ref":"main"}`), map[string]string{
		fiber.HeaderContentType: fiber.MIMEApplicationJSON,
	})
	require.Equal(t, http.StatusOK, code)

	requests, err := f.store.WebRequests().ListByProject(context.Background(), f.project.ID, 1)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, []any{"a", "b"}, requests[0].Payload.Query["tag"])
}

func TestAPIHandlers_OperatorCommands(t *testing.T) {
	f := setupTestApp(t)
	id := f.running(t)

	code, body := f.do(t, http.MethodPut, "/workflow_instances/retry/"+id+"/build", nil, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", problemType(t, body))

	code, _ = f.do(t, http.MethodPut, "/workflow_instances/ignore/"+id+"/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPut, "/workflow_instances/suspend/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = f.do(t, http.MethodPut, "/workflow_instances/resume/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, body = f.do(t, http.MethodPut, "/workflow_instances/stop/"+id, nil, map[string]string{
		web.HeaderAssociationID:   "team-2",
		web.HeaderAssociationType: "team",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "no_permission", problemType(t, body))

	code, _ = f.do(t, http.MethodPut, "/workflow_instances/stop/"+id, nil, map[string]string{
		web.HeaderAssociationID:   "team-1",
		web.HeaderAssociationType: "team",
	})
	assert.Equal(t, http.StatusNoContent, code)

	code, body = f.do(t, http.MethodGet, "/workflow_instances/"+id, nil, nil)
	require.Equal(t, http.StatusOK, code)

	var got web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, models.InstanceTerminated, got.Instance.Status)
	assert.Len(t, got.Tasks, 2)

	code, body = f.do(t, http.MethodPut, "/workflow_instances/stop/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "instance_not_found", problemType(t, body))
}

func TestAPIHandlers_PartialAssociationSkipsOwnership(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "id only", headers: map[string]string{web.HeaderAssociationID: "team-2"}},
		{name: "type only", headers: map[string]string{web.HeaderAssociationType: "team"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestApp(t)
			id := f.running(t)

			code, _ := f.do(t, http.MethodPut, "/workflow_instances/suspend/"+id, nil, tt.headers)
			assert.Equal(t, http.StatusNoContent, code)

			instance, err := f.store.Instances().Get(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, models.InstanceSuspended, instance.Status)
		})
	}
}

func TestAPIHandlers_TaskCallbacks(t *testing.T) {
	f := setupTestApp(t)
	id := f.running(t)
	taskID := f.taskID(t, id, "build")

	code, _ := f.do(t, http.MethodPost, "/tasks/"+taskID+"/running", nil, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = f.do(t, http.MethodPost, "/tasks/"+taskID+"/paused", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/tasks/unknown/succeeded", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/tasks/"+taskID+"/failed", []byte(`{"error_message":"exit 1"}`), map[string]string{
		fiber.HeaderContentType: fiber.MIMEApplicationJSON,
	})
	assert.Equal(t, http.StatusNoContent, code)

	instance, err := f.store.Instances().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceTerminated, instance.Status)

	task, err := f.store.Instances().Task(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, "exit 1", task.ErrorMsg)
}

func TestAPIHandlers_Lookups(t *testing.T) {
	f := setupTestApp(t)

	code, _ := f.do(t, http.MethodGet, "/web_requests", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/web_requests?project=api&limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/web_requests?project=nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	event := testutil.CreateTestTriggerEvent(f.project)
	require.NoError(t, f.store.TriggerEvents().Save(context.Background(), event))

	code, body := f.do(t, http.MethodGet, "/trigger_events/"+event.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)

	var got models.TriggerEvent
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, event.ID, got.ID)

	code, _ = f.do(t, http.MethodGet, "/trigger_events/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPIHandlers_ListInstances(t *testing.T) {
	f := setupTestApp(t)
	first := f.running(t)
	second := f.running(t)

	code, _ := f.do(t, http.MethodGet, "/workflow_instances", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/workflow_instances?workflow_ref="+f.project.WorkflowRef+"&limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodGet, "/workflow_instances?workflow_ref="+f.project.WorkflowRef, nil, nil)
	require.Equal(t, http.StatusOK, code)

	var listed web.InstancesResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, 50, listed.Limit)
	require.Len(t, listed.Instances, 2)
	assert.Equal(t, second, listed.Instances[0].ID)
	assert.Equal(t, first, listed.Instances[1].ID)

	code, body = f.do(t, http.MethodGet, "/workflow_instances?workflow_ref="+f.project.WorkflowRef+"&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Instances, 1)
	assert.Equal(t, second, listed.Instances[0].ID)

	code, body = f.do(t, http.MethodGet, "/workflow_instances?workflow_ref=unknown", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Empty(t, listed.Instances)
}

func TestAPIHandlers_TriggerEventParameters(t *testing.T) {
	f := setupTestApp(t)
	ctx := context.Background()

	require.NoError(t, f.store.Parameters().SaveAll(ctx, []models.Parameter{
		{ID: "param-ref", Type: models.ParameterString, Value: "main"},
		{ID: "param-token", Type: models.ParameterSecret, Value: "s3cr3t"},
	}))

	event := testutil.CreateTestTriggerEvent(f.project,
		models.TriggerEventParameter{Name: "ref", Type: models.ParameterString, Value: "main", ParameterID: "param-ref"},
		models.TriggerEventParameter{Name: "token", Type: models.ParameterSecret, ParameterID: "param-token"},
	)
	require.NoError(t, f.store.TriggerEvents().Save(ctx, event))

	code, body := f.do(t, http.MethodGet, "/trigger_events/"+event.ID+"/parameters", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(body), "s3cr3t")

	var got web.ParametersResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, event.ID, got.TriggerEventID)
	assert.Equal(t, []models.Parameter{
		{ID: "param-ref", Name: "ref", Type: models.ParameterString, Value: "main"},
	}, got.Parameters)

	code, _ = f.do(t, http.MethodGet, "/trigger_events/unknown/parameters", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPIHandlers_HealthAndMetrics(t *testing.T) {
	f := setupTestApp(t)

	code, body := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"healthy"`)

	f.do(t, http.MethodPost, "/webhook/api", []byte(`{"ref":"main"}`), map[string]string{
		fiber.HeaderContentType: fiber.MIMEApplicationJSON,
	})

	code, body = f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(body), "flowline_web_requests_total"))
}
