// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/flowline/pkg/models"
	"github.com/google/uuid"
)

// StartNode creates a start node targeting the given refs.
func StartNode(ref string, targets ...string) *models.Node {
	return &models.Node{Ref: ref, Type: models.NodeTypeStart, Name: ref, Targets: targets}
}

// EndNode creates an end node fed by the given refs.
func EndNode(ref string, sources ...string) *models.Node {
	return &models.Node{Ref: ref, Type: models.NodeTypeEnd, Name: ref, Sources: sources}
}

// TaskNode creates an async task node with default values that can be overridden.
func TaskNode(ref string, sources, targets []string, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		Ref:     ref,
		Type:    models.NodeTypeAsyncTask,
		Name:    ref,
		Sources: sources,
		Targets: targets,
		Task: &models.TaskSpec{
			Type:      "shell:1.0.0",
			OnFailure: models.FailureTerminate,
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// ConditionNode creates a condition node branching to onTrue and onFalse.
func ConditionNode(ref string, sources []string, expression, onTrue, onFalse string) *models.Node {
	return &models.Node{
		Ref:       ref,
		Type:      models.NodeTypeCondition,
		Name:      ref,
		Sources:   sources,
		Targets:   []string{onTrue, onFalse},
		Condition: &models.ConditionSpec{Expression: expression, OnTrue: onTrue, OnFalse: onFalse},
	}
}

// WithFailureMode sets the failure mode of a task node.
func WithFailureMode(mode models.FailureMode) func(*models.Node) {
	return func(n *models.Node) {
		n.Task.OnFailure = mode
	}
}

// WithParams sets the parameter expressions of a task node.
func WithParams(params map[string]string) func(*models.Node) {
	return func(n *models.Node) {
		n.Task.Params = params
	}
}

// LinearNodes builds Start -> refs... -> End.
func LinearNodes(refs ...string) []*models.Node {
	chain := append([]string{"start"}, refs...)
	chain = append(chain, "end")

	nodes := make([]*models.Node, 0, len(chain))
	for i, ref := range chain {
		switch i {
		case 0:
			nodes = append(nodes, StartNode(ref, chain[1]))
		case len(chain) - 1:
			nodes = append(nodes, EndNode(ref, chain[i-1]))
		default:
			nodes = append(nodes, TaskNode(ref, []string{chain[i-1]}, []string{chain[i+1]}))
		}
	}

	return nodes
}

// DiamondNodes builds Start -> {left, right} -> join -> End.
func DiamondNodes() []*models.Node {
	return []*models.Node{
		StartNode("start", "left", "right"),
		TaskNode("left", []string{"start"}, []string{"join"}),
		TaskNode("right", []string{"start"}, []string{"join"}),
		TaskNode("join", []string{"left", "right"}, []string{"end"}),
		EndNode("end", "join"),
	}
}

// MustWorkflow builds a workflow or panics.
func MustWorkflow(nodes []*models.Node) *models.Workflow {
	workflow, err := models.BuildWorkflow("wf-"+uuid.NewString()[:8], "1.0", "Test Workflow", nodes)
	if err != nil {
		panic(err)
	}

	return workflow
}

// CreateTestProject creates a project with default values that can be overridden.
func CreateTestProject(workflow *models.Workflow, overrides ...func(*models.Project)) *models.Project {
	project := &models.Project{
		ID:              uuid.New().String(),
		Name:            "test-project",
		WorkflowRef:     workflow.Ref,
		WorkflowVersion: workflow.Version,
	}

	for _, override := range overrides {
		override(project)
	}

	return project
}

// CreateTestTriggerEvent creates a trigger event for project.
func CreateTestTriggerEvent(project *models.Project, params ...models.TriggerEventParameter) *models.TriggerEvent {
	return &models.TriggerEvent{
		ID:          uuid.New().String(),
		TriggerID:   uuid.New().String(),
		ProjectID:   project.ID,
		TriggerType: models.TriggerTypeWebhook,
		Parameters:  params,
	}
}
