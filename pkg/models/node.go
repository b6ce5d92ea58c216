// Package models defines the workflow, trigger and instance models executed by the engine.
package models

// NodeType tags the variant carried by a Node.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeAsyncTask NodeType = "async_task"
	NodeTypeEnd       NodeType = "end"
	NodeTypeCondition NodeType = "condition"
)

// FailureMode decides what a failed async task does to its instance.
type FailureMode string

const (
	FailureTerminate FailureMode = "terminate"
	FailureSuspend   FailureMode = "suspend"
	FailureIgnore    FailureMode = "ignore"
)

// Node is a vertex of a workflow graph. Exactly one of Task or Condition is set,
// matching Type; start and end nodes carry no payload.
type Node struct {
	Ref         string         `json:"ref"                  validate:"required"`
	Type        NodeType       `json:"type"                 validate:"required,oneof=start async_task end condition"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Sources     []string       `json:"sources,omitempty"`
	Targets     []string       `json:"targets,omitempty"`
	Task        *TaskSpec      `json:"task,omitempty"`
	Condition   *ConditionSpec `json:"condition,omitempty"`
}

// TaskSpec describes the work an executor performs for an async_task node.
type TaskSpec struct {
	Type      string            `json:"type"                 validate:"required"`
	Params    map[string]string `json:"params,omitempty"`
	OnFailure FailureMode       `json:"on_failure,omitempty" validate:"omitempty,oneof=terminate suspend ignore"`
}

// ConditionSpec routes the instance to OnTrue or OnFalse depending on Expression.
type ConditionSpec struct {
	Expression string `json:"expression" validate:"required"`
	OnTrue     string `json:"on_true"    validate:"required"`
	OnFalse    string `json:"on_false"   validate:"required"`
}

func (n *Node) FailureMode() FailureMode {
	if n.Task == nil || n.Task.OnFailure == "" {
		return FailureTerminate
	}

	return n.Task.OnFailure
}

// Ignorable reports whether a failure of this node lets the instance continue.
func (n *Node) Ignorable() bool {
	return n.FailureMode() == FailureIgnore
}

// Executable reports whether the node is handed to an external executor.
func (n *Node) Executable() bool {
	return n.Type == NodeTypeAsyncTask
}
