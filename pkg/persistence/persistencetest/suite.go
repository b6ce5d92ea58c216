// Package persistencetest holds the behaviour every persistence.Persistence
// implementation must share. Driver packages run it from their own tests.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) persistence.Persistence

// Run executes the shared suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Workflows", func(t *testing.T) { testWorkflows(t, newStore(t)) })
	t.Run("ProjectsAndTriggers", func(t *testing.T) { testProjectsAndTriggers(t, newStore(t)) })
	t.Run("TriggerEventsDropSecrets", func(t *testing.T) { testTriggerEvents(t, newStore(t)) })
	t.Run("WebRequests", func(t *testing.T) { testWebRequests(t, newStore(t)) })
	t.Run("Parameters", func(t *testing.T) { testParameters(t, newStore(t)) })
	t.Run("InstanceLifecycle", func(t *testing.T) { testInstanceLifecycle(t, newStore(t)) })
	t.Run("InstanceVersionConflict", func(t *testing.T) { testVersionConflict(t, newStore(t)) })
	t.Run("InstanceTriggerUnique", func(t *testing.T) { testTriggerUnique(t, newStore(t)) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, newStore(t)) })
}

func testWorkflows(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := testutil.MustWorkflow(testutil.DiamondNodes())

	require.NoError(t, store.Workflows().Save(ctx, workflow))

	err := store.Workflows().Save(ctx, workflow)
	require.ErrorIs(t, err, persistence.ErrWorkflowAlreadyExists)

	loaded, err := store.Workflows().Get(ctx, workflow.Ref, workflow.Version)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Len(t, loaded.Nodes, 5)
	assert.ElementsMatch(t, []string{"left", "right"}, loaded.Predecessors("join"))
	assert.Equal(t, "start", loaded.Start())

	_, err = store.Workflows().Get(ctx, workflow.Ref, "9.9")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	assert.True(t, persistence.IsNotFound(err))
}

func testProjectsAndTriggers(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := testutil.MustWorkflow(testutil.LinearNodes("build"))
	project := testutil.CreateTestProject(workflow, func(p *models.Project) {
		p.AssociationID = "team-1"
		p.AssociationType = "team"
	})

	require.NoError(t, store.Projects().Save(ctx, project))

	byName, err := store.Projects().GetByName(ctx, project.Name)
	require.NoError(t, err)
	assert.Equal(t, project, byName)

	_, err = store.Projects().GetByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrProjectNotFound)

	webhook := &models.Trigger{
		ProjectID: project.ID,
		Type:      models.TriggerTypeWebhook,
		Webhook: &models.Webhook{
			Params:  []models.WebhookParameter{{Name: "branch", Type: models.ParameterString, Exp: "$.body.json.ref"}},
			Matcher: `(trigger.branch == "main")`,
		},
	}
	require.NoError(t, store.Triggers().Save(ctx, webhook))
	assert.NotEmpty(t, webhook.ID)

	loaded, err := store.Triggers().GetByProjectID(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.ID, loaded.ID)
	require.NotNil(t, loaded.Webhook)
	assert.Equal(t, webhook.Webhook.Params, loaded.Webhook.Params)

	// a project owns a single trigger; saving another replaces it
	cron := &models.Trigger{ID: uuid.NewString(), ProjectID: project.ID, Type: models.TriggerTypeCron, Schedule: "*/5 * * * *"}
	require.NoError(t, store.Triggers().Save(ctx, cron))

	loaded, err = store.Triggers().GetByProjectID(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, cron.ID, loaded.ID)
	assert.Nil(t, loaded.Webhook)

	crons, err := store.Triggers().ListByType(ctx, models.TriggerTypeCron)
	require.NoError(t, err)
	assert.Len(t, crons, 1)

	webhooks, err := store.Triggers().ListByType(ctx, models.TriggerTypeWebhook)
	require.NoError(t, err)
	assert.Empty(t, webhooks)

	require.NoError(t, store.Triggers().DeleteByProjectID(ctx, project.ID))
	require.ErrorIs(t, store.Triggers().DeleteByProjectID(ctx, project.ID), persistence.ErrTriggerNotFound)
}

func testTriggerEvents(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	event := &models.TriggerEvent{
		ID:          uuid.NewString(),
		TriggerID:   uuid.NewString(),
		ProjectID:   uuid.NewString(),
		TriggerType: models.TriggerTypeWebhook,
		Payload:     &models.Payload{Header: map[string]any{"x-token": "abc"}, Query: map[string]any{}},
		Parameters: []models.TriggerEventParameter{
			{Name: "branch", Type: models.ParameterString, Value: "main", ParameterID: uuid.NewString()},
			{Name: "token", Type: models.ParameterSecret, Value: "s3cr3t", ParameterID: uuid.NewString()},
		},
		OccurredAt: time.Now().UTC(),
	}

	require.NoError(t, store.TriggerEvents().Save(ctx, event))

	loaded, err := store.TriggerEvents().GetByID(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Parameters, 1)
	assert.Equal(t, "branch", loaded.Parameters[0].Name)
	assert.Equal(t, "main", loaded.Parameters[0].Value)
	require.NotNil(t, loaded.Payload)
	assert.Equal(t, "abc", loaded.Payload.Header["x-token"])

	_, err = store.TriggerEvents().GetByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrTriggerEventNotFound)
}

func testWebRequests(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, status := range []models.WebRequestStatus{models.WebRequestOK, models.WebRequestNotFound, models.WebRequestUnauthorized} {
		require.NoError(t, store.WebRequests().Save(ctx, &models.WebRequest{
			ID:          uuid.NewString(),
			ProjectID:   "p1",
			StatusCode:  status,
			RequestTime: base.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, store.WebRequests().Save(ctx, &models.WebRequest{
		ID: uuid.NewString(), ProjectID: "p2", StatusCode: models.WebRequestOK, RequestTime: base,
	}))

	requests, err := store.WebRequests().ListByProject(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, models.WebRequestUnauthorized, requests[0].StatusCode)
	assert.Equal(t, models.WebRequestNotFound, requests[1].StatusCode)

	all, err := store.WebRequests().ListByProject(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	loaded, err := store.WebRequests().GetByID(ctx, requests[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", loaded.ProjectID)
}

func testParameters(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	plain := models.Parameter{ID: uuid.NewString(), Type: models.ParameterString, Value: "main"}
	secret := models.NewSecretParameter("((ci.token))", "s3cr3t")

	require.NoError(t, store.Parameters().SaveAll(ctx, []models.Parameter{plain, secret}))

	loaded, err := store.Parameters().GetByID(ctx, plain.ID)
	require.NoError(t, err)
	assert.Equal(t, "main", loaded.Value)

	_, err = store.Parameters().GetByID(ctx, secret.ID)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func newInstance(t *testing.T, store persistence.Persistence) (*models.WorkflowInstance, *models.Workflow) {
	t.Helper()

	workflow := testutil.MustWorkflow(testutil.LinearNodes("build"))
	project := testutil.CreateTestProject(workflow)

	serial, err := store.Instances().NextSerial(context.Background(), workflow.Ref)
	require.NoError(t, err)

	instance := models.NewWorkflowInstance(uuid.NewString(), serial, workflow, testutil.CreateTestTriggerEvent(project))
	instance.CreatedAt = instance.CreatedAt.Truncate(time.Millisecond)

	return instance, workflow
}

func testInstanceLifecycle(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	instance, workflow := newInstance(t, store)

	require.NoError(t, store.Instances().Save(ctx, instance, nil))
	assert.Equal(t, int64(1), instance.Version)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, instance.Initialize(now))

	startNode, _ := workflow.Node("start")
	start := models.NewTaskInstance(uuid.NewString(), instance, startNode, now)
	require.NoError(t, start.Succeed(now))

	buildNode, _ := workflow.Node("build")
	build := models.NewTaskInstance(uuid.NewString(), instance, buildNode, now)
	build.Parameters = []models.Parameter{{ID: uuid.NewString(), Type: models.ParameterNumber, Value: 3.0}}
	require.NoError(t, build.Dispatch(now))

	require.NoError(t, store.Instances().Save(ctx, instance, []*models.TaskInstance{start, build}))
	assert.Equal(t, int64(2), instance.Version)

	loaded, err := store.Instances().Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceRunning, loaded.Status)
	assert.Equal(t, int64(2), loaded.Version)
	require.NotNil(t, loaded.StartTime)
	assert.WithinDuration(t, now, *loaded.StartTime, time.Millisecond)
	assert.Nil(t, loaded.EndTime)

	byTrigger, err := store.Instances().GetByTriggerID(ctx, instance.TriggerID)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, byTrigger.ID)

	tasks, err := store.Instances().Tasks(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	task, err := store.Instances().Task(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskDispatched, task.Status)
	assert.Equal(t, 1, task.Attempt)
	require.Len(t, task.Parameters, 1)
	assert.InDelta(t, 3.0, task.Parameters[0].Value, 0)

	listed, err := store.Instances().ListByWorkflow(ctx, workflow.Ref, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	next, err := store.Instances().NextSerial(ctx, workflow.Ref)
	require.NoError(t, err)
	assert.Equal(t, instance.Serial+1, next)

	_, err = store.Instances().Get(ctx, "missing")
	assert.True(t, persistence.IsInstanceNotFound(err))

	_, err = store.Instances().Task(ctx, "missing")
	assert.True(t, persistence.IsTaskNotFound(err))
}

func testVersionConflict(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	instance, _ := newInstance(t, store)

	require.NoError(t, store.Instances().Save(ctx, instance, nil))

	first, err := store.Instances().Get(ctx, instance.ID)
	require.NoError(t, err)

	second, err := store.Instances().Get(ctx, instance.ID)
	require.NoError(t, err)

	require.NoError(t, first.Initialize(time.Now().UTC()))
	require.NoError(t, store.Instances().Save(ctx, first, nil))

	require.NoError(t, second.Initialize(time.Now().UTC()))

	err = store.Instances().Save(ctx, second, nil)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))
	assert.Equal(t, int64(1), second.Version, "a failed save leaves the version untouched")
}

func testTriggerUnique(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	instance, workflow := newInstance(t, store)

	require.NoError(t, store.Instances().Save(ctx, instance, nil))

	duplicate := models.NewWorkflowInstance(uuid.NewString(), instance.Serial+1, workflow, &models.TriggerEvent{
		ID:          instance.TriggerID,
		ProjectID:   instance.ProjectID,
		TriggerType: instance.TriggerType,
	})

	err := store.Instances().Save(ctx, duplicate, nil)
	assert.True(t, persistence.IsVersionConflict(err))
}

func testConcurrentSaves(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	instance, _ := newInstance(t, store)

	require.NoError(t, store.Instances().Save(ctx, instance, nil))

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for range writers {
		loaded, err := store.Instances().Get(ctx, instance.ID)
		require.NoError(t, err)

		wg.Add(1)

		go func(inst *models.WorkflowInstance) {
			defer wg.Done()

			_ = inst.Initialize(time.Now().UTC())
			err := store.Instances().Save(ctx, inst, nil)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				succeeded++
			} else if persistence.IsVersionConflict(err) {
				conflicts++
			}
		}(loaded)
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)

	loaded, err := store.Instances().Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
}
