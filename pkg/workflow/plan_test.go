package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBinder struct {
	conditions map[string]bool
	err        error
}

func (b *stubBinder) Condition(_ context.Context, node *models.Node) (bool, error) {
	if b.err != nil {
		return false, b.err
	}

	return b.conditions[node.Ref], nil
}

func (b *stubBinder) Params(_ context.Context, node *models.Node) ([]models.Parameter, error) {
	if b.err != nil {
		return nil, b.err
	}

	return nil, nil
}

var planTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func runningInstance(t *testing.T, wf *models.Workflow) *models.WorkflowInstance {
	t.Helper()

	project := testutil.CreateTestProject(wf)
	instance := models.NewWorkflowInstance("instance-1", 1, wf, testutil.CreateTestTriggerEvent(project))
	require.NoError(t, instance.Initialize(planTime))
	instance.DrainEvents()

	return instance
}

func plan(t *testing.T, wf *models.Workflow, instance *models.WorkflowInstance, tasks map[string]*models.TaskInstance, binder workflow.Binder) *workflow.Advancement {
	t.Helper()

	result, err := workflow.Plan(context.Background(), wf, instance, tasks, binder, planTime)
	require.NoError(t, err)

	return result
}

func refs(tasks []*models.TaskInstance) []string {
	result := make([]string, 0, len(tasks))
	for _, task := range tasks {
		result = append(result, task.NodeRef)
	}

	return result
}

func succeed(t *testing.T, tasks map[string]*models.TaskInstance, ref string) {
	t.Helper()

	require.NoError(t, tasks[ref].Succeed(planTime))
}

func fail(t *testing.T, tasks map[string]*models.TaskInstance, ref string) {
	t.Helper()

	require.NoError(t, tasks[ref].Fail(planTime, "exit status 1"))
}

func TestPlan_LinearWorkflow(t *testing.T) {
	wf := testutil.MustWorkflow(testutil.LinearNodes("build", "deploy"))
	instance := runningInstance(t, wf)
	tasks := map[string]*models.TaskInstance{}
	binder := &stubBinder{}

	result := plan(t, wf, instance, tasks, binder)
	assert.Equal(t, []string{"build"}, refs(result.Dispatch))
	assert.Equal(t, models.TaskSucceeded, tasks["start"].Status)
	assert.Equal(t, models.TaskDispatched, tasks["build"].Status)
	assert.Equal(t, workflow.OutcomeNone, result.Outcome)

	again := plan(t, wf, instance, tasks, binder)
	assert.True(t, again.Empty(), "a second pass dispatches nothing new")

	succeed(t, tasks, "build")

	result = plan(t, wf, instance, tasks, binder)
	assert.Equal(t, []string{"deploy"}, refs(result.Dispatch))

	succeed(t, tasks, "deploy")

	result = plan(t, wf, instance, tasks, binder)
	assert.Empty(t, result.Dispatch)
	assert.Equal(t, models.TaskSucceeded, tasks["end"].Status)
	assert.Equal(t, workflow.OutcomeFinish, result.Outcome)
}

func TestPlan_JoinWaitsForEveryPredecessor(t *testing.T) {
	wf := testutil.MustWorkflow(testutil.DiamondNodes())
	binder := &stubBinder{}

	for _, order := range [][]string{{"left", "right"}, {"right", "left"}} {
		instance := runningInstance(t, wf)
		tasks := map[string]*models.TaskInstance{}

		result := plan(t, wf, instance, tasks, binder)
		assert.ElementsMatch(t, []string{"left", "right"}, refs(result.Dispatch))

		succeed(t, tasks, order[0])

		result = plan(t, wf, instance, tasks, binder)
		assert.Empty(t, result.Dispatch, "join waits for %s", order[1])

		succeed(t, tasks, order[1])

		result = plan(t, wf, instance, tasks, binder)
		assert.Equal(t, []string{"join"}, refs(result.Dispatch))
	}
}

func TestPlan_FailureModes(t *testing.T) {
	tests := []struct {
		name     string
		mode     models.FailureMode
		outcome  workflow.Outcome
		dispatch []string
		stop     []string
		status   models.TaskStatus
	}{
		{
			name:    "terminate stops running siblings",
			mode:    models.FailureTerminate,
			outcome: workflow.OutcomeTerminate,
			stop:    []string{"right"},
			status:  models.TaskFailed,
		},
		{
			name:    "suspend holds the instance",
			mode:    models.FailureSuspend,
			outcome: workflow.OutcomeSuspend,
			status:  models.TaskFailed,
		},
		{
			name:    "ignore lets successors run",
			mode:    models.FailureIgnore,
			outcome: workflow.OutcomeNone,
			status:  models.TaskIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := testutil.DiamondNodes()
			nodes[1].Task.OnFailure = tt.mode

			wf := testutil.MustWorkflow(nodes)
			instance := runningInstance(t, wf)
			tasks := map[string]*models.TaskInstance{}
			binder := &stubBinder{}

			plan(t, wf, instance, tasks, binder)
			fail(t, tasks, "left")

			result := plan(t, wf, instance, tasks, binder)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.status, tasks["left"].Status)
			assert.ElementsMatch(t, tt.stop, refs(result.Stop))
			assert.Empty(t, result.Dispatch)

			switch tt.mode {
			case models.FailureTerminate:
				assert.Equal(t, models.TaskTerminated, tasks["right"].Status)
				assert.Contains(t, result.Reason, "left")
			case models.FailureSuspend:
				assert.Equal(t, "left", result.NodeRef)
				assert.Equal(t, models.TaskDispatched, tasks["right"].Status)
			case models.FailureIgnore:
				succeed(t, tasks, "right")

				result = plan(t, wf, instance, tasks, binder)
				assert.Equal(t, []string{"join"}, refs(result.Dispatch))
			}
		})
	}
}

func TestPlan_TerminatedTaskEndsInstance(t *testing.T) {
	wf := testutil.MustWorkflow(testutil.DiamondNodes())
	instance := runningInstance(t, wf)
	tasks := map[string]*models.TaskInstance{}
	binder := &stubBinder{}

	plan(t, wf, instance, tasks, binder)
	require.NoError(t, tasks["left"].Terminate(planTime))

	result := plan(t, wf, instance, tasks, binder)
	assert.Equal(t, workflow.OutcomeTerminate, result.Outcome)
	assert.Equal(t, []string{"right"}, refs(result.Stop))
}

func conditionNodes() []*models.Node {
	return []*models.Node{
		testutil.StartNode("start", "check"),
		testutil.ConditionNode("check", []string{"start"}, "(trigger.deploy)", "deploy", "notify"),
		testutil.TaskNode("deploy", []string{"check"}, []string{"end"}),
		testutil.TaskNode("notify", []string{"check"}, []string{"end"}),
		testutil.EndNode("end", "deploy", "notify"),
	}
}

func TestPlan_ConditionSkipsUntakenBranch(t *testing.T) {
	for _, matched := range []bool{true, false} {
		taken, untaken := "deploy", "notify"
		if !matched {
			taken, untaken = untaken, taken
		}

		wf := testutil.MustWorkflow(conditionNodes())
		instance := runningInstance(t, wf)
		tasks := map[string]*models.TaskInstance{}
		binder := &stubBinder{conditions: map[string]bool{"check": matched}}

		result := plan(t, wf, instance, tasks, binder)
		assert.Equal(t, []string{taken}, refs(result.Dispatch))
		assert.Equal(t, models.TaskSucceeded, tasks["check"].Status)
		assert.Equal(t, models.TaskSkipped, tasks[untaken].Status)

		succeed(t, tasks, taken)

		result = plan(t, wf, instance, tasks, binder)
		assert.Equal(t, workflow.OutcomeFinish, result.Outcome)
	}
}

func TestPlan_SkipPropagates(t *testing.T) {
	nodes := []*models.Node{
		testutil.StartNode("start", "check"),
		testutil.ConditionNode("check", []string{"start"}, "(trigger.deploy)", "deploy", "end"),
		testutil.TaskNode("deploy", []string{"check"}, []string{"smoke"}),
		testutil.TaskNode("smoke", []string{"deploy"}, []string{"end"}),
		testutil.EndNode("end", "check", "smoke"),
	}

	wf := testutil.MustWorkflow(nodes)
	instance := runningInstance(t, wf)
	tasks := map[string]*models.TaskInstance{}

	result := plan(t, wf, instance, tasks, &stubBinder{conditions: map[string]bool{"check": false}})
	assert.Empty(t, result.Dispatch)
	assert.Equal(t, models.TaskSkipped, tasks["deploy"].Status)
	assert.Equal(t, models.TaskSkipped, tasks["smoke"].Status)
	assert.Equal(t, models.TaskSucceeded, tasks["end"].Status)
	assert.Equal(t, workflow.OutcomeFinish, result.Outcome)
}

func TestPlan_BindingErrorFailsTask(t *testing.T) {
	wf := testutil.MustWorkflow(conditionNodes())
	instance := runningInstance(t, wf)
	tasks := map[string]*models.TaskInstance{}

	result := plan(t, wf, instance, tasks, &stubBinder{err: errors.New("trigger.deploy is undefined")})
	assert.Equal(t, models.TaskFailed, tasks["check"].Status)
	assert.Equal(t, "trigger.deploy is undefined", tasks["check"].ErrorMsg)
	assert.Equal(t, workflow.OutcomeTerminate, result.Outcome)
	assert.Empty(t, result.Dispatch)
}

func TestPlan_OnlyRunningInstances(t *testing.T) {
	wf := testutil.MustWorkflow(testutil.LinearNodes("build"))
	instance := runningInstance(t, wf)
	require.NoError(t, instance.Suspend(planTime, ""))

	tasks := map[string]*models.TaskInstance{}

	result := plan(t, wf, instance, tasks, &stubBinder{})
	assert.True(t, result.Empty())
	assert.Empty(t, tasks)
}

func TestUnresolvedFailure(t *testing.T) {
	nodes := testutil.DiamondNodes()
	nodes[1].Task.OnFailure = models.FailureIgnore
	nodes[2].Task.OnFailure = models.FailureSuspend

	wf := testutil.MustWorkflow(nodes)
	instance := runningInstance(t, wf)
	tasks := map[string]*models.TaskInstance{}

	plan(t, wf, instance, tasks, &stubBinder{})

	_, blocked := workflow.UnresolvedFailure(wf, tasks)
	assert.False(t, blocked)

	fail(t, tasks, "left")

	_, blocked = workflow.UnresolvedFailure(wf, tasks)
	assert.False(t, blocked, "ignore-mode failures never hold the instance")

	fail(t, tasks, "right")

	task, blocked := workflow.UnresolvedFailure(wf, tasks)
	require.True(t, blocked)
	assert.Equal(t, "right", task.NodeRef)
}
