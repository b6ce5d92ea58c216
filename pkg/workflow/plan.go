// Package workflow advances workflow instances through their DAG.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/google/uuid"
)

// conditionRef tags the parameter recording a condition node's decision.
const conditionRef = "condition"

// Binder evaluates the expressions a plan needs. Implementations must be free of
// side effects so that a plan can be recomputed after a lost save.
type Binder interface {
	Condition(ctx context.Context, node *models.Node) (bool, error)
	Params(ctx context.Context, node *models.Node) ([]models.Parameter, error)
}

// Outcome is the instance-level transition a plan asks for.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeFinish
	OutcomeTerminate
	OutcomeSuspend
)

// Advancement is the result of one planning pass.
type Advancement struct {
	// Tasks holds every task instance created or changed by the pass.
	Tasks []*models.TaskInstance

	Dispatch []*models.TaskInstance
	Stop     []*models.TaskInstance
	Outcome  Outcome
	Reason   string
	NodeRef  string
}

func (a *Advancement) touch(task *models.TaskInstance) {
	for _, t := range a.Tasks {
		if t == task {
			return
		}
	}

	a.Tasks = append(a.Tasks, task)
}

// Empty reports whether the pass changed nothing.
func (a *Advancement) Empty() bool {
	return len(a.Tasks) == 0 && a.Outcome == OutcomeNone
}

// Plan computes the next step of a RUNNING instance from the current task
// statuses alone, so it can run in any order and any number of times: a second
// pass over its own result dispatches nothing new.
//
// Failed and terminated tasks are handled first according to the node's
// failure mode. The frontier is then walked in topological order: a node
// whose predecessors are all settled is created, unless every incoming edge is
// dead (a skipped predecessor or an untaken condition branch), in which case it
// is skipped. Start, end and condition nodes settle immediately; async tasks are
// dispatched. The instance finishes once every end node is settled and no task
// is active.
//
// tasks is keyed by node ref and is updated in place.
func Plan(
	ctx context.Context,
	workflow *models.Workflow,
	instance *models.WorkflowInstance,
	tasks map[string]*models.TaskInstance,
	binder Binder,
	now time.Time,
) (*Advancement, error) {
	result := &Advancement{}

	if instance.Status != models.InstanceRunning {
		return result, nil
	}

	order := workflow.TopologicalOrder()

	if handleFailures(workflow, order, tasks, result, now) {
		return result, nil
	}

	for _, ref := range order {
		if _, exists := tasks[ref]; exists {
			continue
		}

		node, _ := workflow.Node(ref)

		ready, live := incoming(workflow, ref, tasks)
		if !ready {
			continue
		}

		task := models.NewTaskInstance(uuid.New().String(), instance, node, now)
		tasks[ref] = task
		result.touch(task)

		if !live && node.Type != models.NodeTypeStart {
			err := task.Skip(now)
			if err != nil {
				return nil, err
			}

			continue
		}

		err := run(ctx, node, task, binder, result, now)
		if err != nil {
			return nil, err
		}
	}

	if handleFailures(workflow, order, tasks, result, now) {
		return result, nil
	}

	if finished(workflow, tasks) {
		result.Outcome = OutcomeFinish
	}

	return result, nil
}

func run(ctx context.Context, node *models.Node, task *models.TaskInstance, binder Binder, result *Advancement, now time.Time) error {
	switch node.Type {
	case models.NodeTypeStart, models.NodeTypeEnd:
		return task.Succeed(now)
	case models.NodeTypeCondition:
		matched, err := binder.Condition(ctx, node)
		if err != nil {
			return task.Fail(now, err.Error())
		}

		task.Parameters = []models.Parameter{{
			ID:    uuid.New().String(),
			Name:  conditionRef,
			Type:  models.ParameterBool,
			Value: matched,
			Ref:   conditionRef,
		}}

		return task.Succeed(now)
	case models.NodeTypeAsyncTask:
		params, err := binder.Params(ctx, node)
		if err != nil {
			return task.Fail(now, err.Error())
		}

		task.Parameters = params

		err = task.Dispatch(now)
		if err != nil {
			return err
		}

		result.Dispatch = append(result.Dispatch, task)

		return nil
	default:
		return fmt.Errorf("%w: unknown node type %q", models.ErrInvalidGraph, node.Type)
	}
}

// incoming reports whether every predecessor of ref is settled and, if so,
// whether at least one incoming edge is live.
func incoming(workflow *models.Workflow, ref string, tasks map[string]*models.TaskInstance) (ready, live bool) {
	for _, pred := range workflow.Predecessors(ref) {
		task, exists := tasks[pred]
		if !exists || !task.Status.Settled() {
			return false, false
		}

		if edgeLive(workflow, pred, ref, task) {
			live = true
		}
	}

	return true, live
}

func edgeLive(workflow *models.Workflow, from, to string, task *models.TaskInstance) bool {
	if task.Status == models.TaskSkipped {
		return false
	}

	node, _ := workflow.Node(from)
	if node.Type != models.NodeTypeCondition {
		return true
	}

	return chosenBranch(node, task) == to
}

func chosenBranch(node *models.Node, task *models.TaskInstance) string {
	for _, p := range task.Parameters {
		if p.Ref != conditionRef {
			continue
		}

		if matched, _ := p.Value.(bool); matched {
			return node.Condition.OnTrue
		}

		return node.Condition.OnFalse
	}

	return ""
}

// handleFailures applies failure modes. It returns true when the instance
// leaves RUNNING and nothing more may be dispatched.
func handleFailures(
	workflow *models.Workflow,
	order []string,
	tasks map[string]*models.TaskInstance,
	result *Advancement,
	now time.Time,
) bool {
	var suspendAt string

	for _, ref := range order {
		task, exists := tasks[ref]
		if !exists {
			continue
		}

		node, _ := workflow.Node(ref)

		switch task.Status {
		case models.TaskTerminated:
			terminate(tasks, result, fmt.Sprintf("task %s was terminated", ref), now)

			return true
		case models.TaskFailed:
			switch node.FailureMode() {
			case models.FailureIgnore:
				if task.Ignore(now) == nil {
					result.touch(task)
				}
			case models.FailureSuspend:
				if suspendAt == "" {
					suspendAt = ref
				}
			default:
				terminate(tasks, result, fmt.Sprintf("task %s failed: %s", ref, task.ErrorMsg), now)

				return true
			}
		}
	}

	if suspendAt != "" {
		result.Outcome = OutcomeSuspend
		result.NodeRef = suspendAt

		return true
	}

	return false
}

// terminate stops every active task. Tasks already handed to an executor are
// also listed in Stop so their executor can be told.
func terminate(tasks map[string]*models.TaskInstance, result *Advancement, reason string, now time.Time) {
	pending := make(map[*models.TaskInstance]bool, len(result.Dispatch))
	for _, task := range result.Dispatch {
		pending[task] = true
	}

	for _, task := range tasks {
		handedOut := (task.Status == models.TaskDispatched || task.Status == models.TaskRunning) && !pending[task]
		if !task.Status.Active() || task.Terminate(now) != nil {
			continue
		}

		result.touch(task)

		if handedOut {
			result.Stop = append(result.Stop, task)
		}
	}

	result.Dispatch = nil
	result.Outcome = OutcomeTerminate
	result.Reason = reason
}

func finished(workflow *models.Workflow, tasks map[string]*models.TaskInstance) bool {
	for _, task := range tasks {
		if task.Status.Active() {
			return false
		}
	}

	for _, ref := range workflow.Ends() {
		task, exists := tasks[ref]
		if !exists || !task.Status.Settled() {
			return false
		}
	}

	return true
}

// UnresolvedFailure returns the first failed task whose failure mode holds the
// instance, if any.
func UnresolvedFailure(workflow *models.Workflow, tasks map[string]*models.TaskInstance) (*models.TaskInstance, bool) {
	for _, ref := range workflow.TopologicalOrder() {
		task, exists := tasks[ref]
		if !exists || task.Status != models.TaskFailed {
			continue
		}

		node, _ := workflow.Node(ref)
		if !node.Ignorable() {
			return task, true
		}
	}

	return nil, false
}
