package workflow_test

import (
	"context"
	"testing"

	"github.com/dukex/flowline/pkg/auth"
	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/events"
	"github.com/dukex/flowline/pkg/expression"
	"github.com/dukex/flowline/pkg/metrics"
	"github.com/dukex/flowline/pkg/mocks"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/memory"
	"github.com/dukex/flowline/pkg/secrets"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	store      *memory.Persistence
	dispatcher *mocks.MockDispatcher
	bus        *mocks.MockEventBus
	engine     *workflow.Engine
	project    *models.Project
	event      *models.TriggerEvent
}

func newEngineFixture(t *testing.T, nodes []*models.Node, options ...workflow.Option) *engineFixture {
	t.Helper()

	ctx := context.Background()
	store := memory.NewPersistence()

	wf := testutil.MustWorkflow(nodes)
	require.NoError(t, store.Workflows().Save(ctx, wf))

	project := testutil.CreateTestProject(wf, func(p *models.Project) {
		p.AssociationID = "team-1"
		p.AssociationType = "team"
	})
	require.NoError(t, store.Projects().Save(ctx, project))

	event := testutil.CreateTestTriggerEvent(project,
		models.TriggerEventParameter{Name: "deploy", Type: models.ParameterBool, Value: true},
		models.TriggerEventParameter{Name: "ref", Type: models.ParameterString, Value: "main"},
	)
	require.NoError(t, store.TriggerEvents().Save(ctx, event))

	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	options = append([]workflow.Option{
		workflow.WithRetryDelay(0),
		workflow.WithMetrics(metrics.New()),
	}, options...)

	return &engineFixture{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		engine:     workflow.NewEngine(testLogger(), store, expression.NewEngine(secrets.NewMemoryStore()), dispatcher, bus, options...),
		project:    project,
		event:      event,
	}
}

// run creates and initializes the instance for the fixture's trigger event.
func (f *engineFixture) run(t *testing.T) string {
	t.Helper()

	instance, err := f.engine.Start(context.Background(), f.event.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Initialize(context.Background(), instance.ID))

	return instance.ID
}

func (f *engineFixture) instance(t *testing.T, id string) *models.WorkflowInstance {
	t.Helper()

	instance, err := f.store.Instances().Get(context.Background(), id)
	require.NoError(t, err)

	return instance
}

func (f *engineFixture) task(t *testing.T, instanceID, ref string) *models.TaskInstance {
	t.Helper()

	tasks, err := f.store.Instances().Tasks(context.Background(), instanceID)
	require.NoError(t, err)

	for _, task := range tasks {
		if task.NodeRef == ref {
			return task
		}
	}

	require.Failf(t, "task not found", "node %s", ref)

	return nil
}

func (f *engineFixture) published(eventType events.EventType) []eventbus.Event {
	var matched []eventbus.Event

	for _, event := range f.bus.Published() {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

func TestEngine_RunsLinearWorkflowToFinish(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build", "deploy"))

	id := f.run(t)
	assert.Equal(t, models.InstanceRunning, f.instance(t, id).Status)
	assert.Equal(t, []string{"build"}, f.dispatcher.Dispatched())

	build := f.task(t, id, "build")
	require.NoError(t, f.engine.OnRunning(ctx, build.ID))
	assert.Equal(t, models.TaskRunning, f.task(t, id, "build").Status)

	require.NoError(t, f.engine.OnSucceeded(ctx, build.ID))
	assert.Equal(t, []string{"build", "deploy"}, f.dispatcher.Dispatched())

	require.NoError(t, f.engine.OnSucceeded(ctx, f.task(t, id, "deploy").ID))

	instance := f.instance(t, id)
	assert.Equal(t, models.InstanceFinished, instance.Status)
	require.NotNil(t, instance.EndTime)
	assert.Len(t, f.published(events.InstanceFinishedEvent), 1)
	assert.Len(t, f.published(events.InstanceStartedEvent), 1)
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build"))

	first, err := f.engine.Start(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceInit, first.Status)
	assert.Equal(t, int64(1), first.Serial)
	assert.Equal(t, f.project.ID, first.ProjectID)

	second, err := f.engine.Start(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.published(events.InstanceCreatedEvent), 1)

	_, err = f.engine.Start(ctx, "unknown-event")
	require.ErrorIs(t, err, persistence.ErrTriggerEventNotFound)
}

func TestEngine_InitializeOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build"))

	id := f.run(t)
	require.NoError(t, f.engine.Initialize(ctx, id))

	assert.Equal(t, []string{"build"}, f.dispatcher.Dispatched())
	assert.Len(t, f.published(events.InstanceStartedEvent), 1)
}

func TestEngine_FailureTerminatesInstance(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build", "deploy"))

	id := f.run(t)
	require.NoError(t, f.engine.OnFailed(ctx, f.task(t, id, "build").ID, "exit status 2"))

	instance := f.instance(t, id)
	assert.Equal(t, models.InstanceTerminated, instance.Status)
	assert.Equal(t, []string{"build"}, f.dispatcher.Dispatched(), "deploy never runs")
	assert.Equal(t, "exit status 2", f.task(t, id, "build").ErrorMsg)

	terminated := f.published(events.InstanceTerminatedEvent)
	require.Len(t, terminated, 1)
	assert.Contains(t, terminated[0].(events.InstanceTerminated).Reason, "exit status 2")
}

func TestEngine_IgnoreModeContinues(t *testing.T) {
	ctx := context.Background()

	nodes := testutil.LinearNodes("lint", "build")
	nodes[1].Task.OnFailure = models.FailureIgnore

	f := newEngineFixture(t, nodes)

	id := f.run(t)
	require.NoError(t, f.engine.OnFailed(ctx, f.task(t, id, "lint").ID, "warnings"))

	assert.Equal(t, models.TaskIgnored, f.task(t, id, "lint").Status)
	assert.Equal(t, []string{"lint", "build"}, f.dispatcher.Dispatched())
	assert.Equal(t, models.InstanceRunning, f.instance(t, id).Status)
}

func TestEngine_SuspendModeWaitsForOperator(t *testing.T) {
	ctx := context.Background()

	nodes := testutil.LinearNodes("build", "deploy")
	nodes[1].Task.OnFailure = models.FailureSuspend

	f := newEngineFixture(t, nodes)

	id := f.run(t)
	build := f.task(t, id, "build")
	require.NoError(t, f.engine.OnFailed(ctx, build.ID, "flaky"))
	assert.Equal(t, models.InstanceSuspended, f.instance(t, id).Status)

	err := f.engine.Resume(ctx, id, nil)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	require.NoError(t, f.engine.Retry(ctx, id, "build", nil))

	retried := f.task(t, id, "build")
	assert.Equal(t, models.InstanceRunning, f.instance(t, id).Status)
	assert.Equal(t, models.TaskDispatched, retried.Status)
	assert.Equal(t, build.Attempt+1, retried.Attempt)
	assert.Empty(t, retried.ErrorMsg)
	assert.Equal(t, []string{"build", "build"}, f.dispatcher.Dispatched())

	require.NoError(t, f.engine.OnSucceeded(ctx, retried.ID))
	assert.Equal(t, []string{"build", "build", "deploy"}, f.dispatcher.Dispatched())
}

func TestEngine_IgnoreCommandResumes(t *testing.T) {
	ctx := context.Background()

	nodes := testutil.LinearNodes("build", "deploy")
	nodes[1].Task.OnFailure = models.FailureSuspend

	f := newEngineFixture(t, nodes)

	id := f.run(t)
	require.NoError(t, f.engine.OnFailed(ctx, f.task(t, id, "build").ID, "flaky"))
	require.NoError(t, f.engine.Ignore(ctx, id, "build", nil))

	assert.Equal(t, models.InstanceRunning, f.instance(t, id).Status)
	assert.Equal(t, models.TaskIgnored, f.task(t, id, "build").Status)
	assert.Equal(t, []string{"build", "deploy"}, f.dispatcher.Dispatched())
}

func TestEngine_CommandsRejectWrongState(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build"))

	id := f.run(t)

	err := f.engine.Retry(ctx, id, "build", nil)
	require.ErrorIs(t, err, models.ErrInvalidTransition, "build has not failed")

	err = f.engine.Ignore(ctx, id, "missing", nil)
	require.ErrorIs(t, err, persistence.ErrTaskNotFound)

	err = f.engine.Retry(ctx, id, "start", nil)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	err = f.engine.Resume(ctx, id, nil)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestEngine_SuspendAndResume(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build", "deploy"))

	id := f.run(t)
	require.NoError(t, f.engine.Suspend(ctx, id, nil))
	require.NoError(t, f.engine.OnSucceeded(ctx, f.task(t, id, "build").ID))

	assert.Equal(t, []string{"build"}, f.dispatcher.Dispatched(), "nothing is dispatched while suspended")

	require.NoError(t, f.engine.Resume(ctx, id, nil))
	assert.Equal(t, models.InstanceRunning, f.instance(t, id).Status)
	assert.Equal(t, []string{"build", "deploy"}, f.dispatcher.Dispatched())
}

func TestEngine_TerminateRequestsStop(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.DiamondNodes())

	id := f.run(t)
	require.NoError(t, f.engine.OnSucceeded(ctx, f.task(t, id, "left").ID))
	require.NoError(t, f.engine.Terminate(ctx, id, nil))

	assert.Equal(t, models.InstanceTerminated, f.instance(t, id).Status)
	assert.Equal(t, models.TaskSucceeded, f.task(t, id, "left").Status)
	assert.Equal(t, models.TaskTerminated, f.task(t, id, "right").Status)

	stops := f.published(events.TaskTerminateRequestEvent)
	require.Len(t, stops, 1)
	assert.Equal(t, "right", stops[0].(events.TaskTerminateRequested).NodeRef)

	err := f.engine.Terminate(ctx, id, nil)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestEngine_ExecutorTerminationEndsInstance(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.DiamondNodes())

	id := f.run(t)
	require.NoError(t, f.engine.OnTerminated(ctx, f.task(t, id, "left").ID))

	assert.Equal(t, models.InstanceTerminated, f.instance(t, id).Status)
	assert.Equal(t, models.TaskTerminated, f.task(t, id, "right").Status)
}

func TestEngine_RedeliveredCallbacksAreIgnored(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build", "deploy"))

	id := f.run(t)
	build := f.task(t, id, "build")

	require.NoError(t, f.engine.OnSucceeded(ctx, build.ID))
	require.NoError(t, f.engine.OnSucceeded(ctx, build.ID))

	assert.Equal(t, []string{"build", "deploy"}, f.dispatcher.Dispatched())

	err := f.engine.OnRunning(ctx, build.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	err = f.engine.OnSucceeded(ctx, "unknown-task")
	require.ErrorIs(t, err, persistence.ErrTaskNotFound)
}

func TestEngine_ConditionAndParameterBinding(t *testing.T) {
	nodes := conditionNodes()
	nodes[2].Task.Params = map[string]string{"branch": "(trigger.ref)", "image": "golang:1.24"}

	f := newEngineFixture(t, nodes)

	id := f.run(t)
	assert.Equal(t, []string{"deploy"}, f.dispatcher.Dispatched())
	assert.Equal(t, models.TaskSkipped, f.task(t, id, "notify").Status)

	deploy := f.task(t, id, "deploy")
	require.Len(t, deploy.Parameters, 2)
	assert.Equal(t, "branch", deploy.Parameters[0].Name)
	assert.Equal(t, "main", deploy.Parameters[0].Value)
	assert.Equal(t, "image", deploy.Parameters[1].Name)
}

func TestEngine_UnboundParameterTerminates(t *testing.T) {
	nodes := testutil.LinearNodes("build")
	nodes[1].Task.Params = map[string]string{"token": "((ci.missing))"}

	f := newEngineFixture(t, nodes)

	id := f.run(t)
	assert.Empty(t, f.dispatcher.Dispatched())
	assert.Equal(t, models.TaskFailed, f.task(t, id, "build").Status)
	assert.Equal(t, models.InstanceTerminated, f.instance(t, id).Status)
}

func TestEngine_VersionConflictsDropUpdate(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build"))

	wf, err := f.store.Workflows().Get(ctx, f.project.WorkflowRef, f.project.WorkflowVersion)
	require.NoError(t, err)

	instance := models.NewWorkflowInstance("instance-1", 1, wf, f.event)
	require.NoError(t, instance.Initialize(planTime))
	instance.DrainEvents()
	instance.Version = 3

	repo := &mocks.MockInstanceRepository{}
	repo.On("Get", mock.Anything, instance.ID).Return(instance, nil)
	repo.On("Tasks", mock.Anything, instance.ID).Return([]*models.TaskInstance{}, nil)
	repo.On("Save", mock.Anything, mock.Anything, mock.Anything).
		Return(persistence.NewVersionConflict("Save", instance.ID, instance.Version))

	store := &mocks.PersistenceWithInstances{Persistence: f.store, Repository: repo}
	engine := workflow.NewEngine(testLogger(), store, expression.NewEngine(nil), f.dispatcher, f.bus, workflow.WithRetryDelay(0))

	err = engine.Advance(ctx, instance.ID)
	require.ErrorIs(t, err, workflow.ErrUpdateDropped)

	repo.AssertNumberOfCalls(t, "Save", workflow.MaxSaveAttempts)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	assert.Empty(t, f.bus.Published())
}

func TestEngine_OwnershipCheck(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build"))

	id := f.run(t)

	checker := &mocks.MockOwnershipChecker{}
	checker.On("CheckOwnership", mock.Anything, "team-2", "team", id).Return(false, nil)

	guarded := workflow.NewEngine(testLogger(), f.store, expression.NewEngine(nil), f.dispatcher, f.bus,
		workflow.WithOwnershipChecker(checker))

	err := guarded.Terminate(ctx, id, &auth.Association{ID: "team-2", Type: "team"})
	require.ErrorIs(t, err, auth.ErrNoPermission)
	assert.Equal(t, models.InstanceRunning, f.instance(t, id).Status)

	owned := workflow.NewEngine(testLogger(), f.store, expression.NewEngine(nil), f.dispatcher, f.bus,
		workflow.WithOwnershipChecker(auth.NewProjectOwnership(f.store)))

	require.NoError(t, owned.Suspend(ctx, id, &auth.Association{ID: "team-1", Type: "team"}))
	assert.Equal(t, models.InstanceSuspended, f.instance(t, id).Status)
}

func TestEngine_Handlers(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, testutil.LinearNodes("build"))
	f.bus.On("Handle", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.engine.Register(f.bus))

	handlers := map[events.EventType]eventbus.EventHandler{}

	for _, call := range f.bus.Calls {
		if call.Method == "Handle" {
			handlers[call.Arguments.Get(0).(events.EventType)] = call.Arguments.Get(1).(eventbus.EventHandler)
		}
	}

	require.Len(t, handlers, 7)

	require.NoError(t, handlers[events.TriggerAcceptedEvent](ctx, &events.TriggerAccepted{TriggerEventID: f.event.ID}))

	instance, err := f.store.Instances().GetByTriggerID(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceInit, instance.Status)

	require.NoError(t, handlers[events.InstanceCreatedEvent](ctx, &events.InstanceCreated{
		BaseEvent: events.NewBaseEvent(events.InstanceCreatedEvent, instance.ID),
	}))
	assert.Equal(t, models.InstanceRunning, f.instance(t, instance.ID).Status)

	build := f.task(t, instance.ID, "build")
	require.NoError(t, handlers[events.TaskSucceededEvent](ctx, &events.TaskSucceeded{
		TaskReport: events.TaskReport{TaskInstanceID: build.ID},
	}))
	assert.Equal(t, models.InstanceFinished, f.instance(t, instance.ID).Status)

	require.NoError(t, handlers[events.WorkspaceReadyEvent](ctx, &events.WorkspaceChanged{
		BaseEvent: events.NewBaseEvent(events.WorkspaceReadyEvent, instance.ID),
		Ready:     true,
	}))

	err = handlers[events.TaskFailedEvent](ctx, &events.InstanceCreated{})
	require.Error(t, err)
}
