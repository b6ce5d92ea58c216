package models

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidGraph is wrapped by every GraphError.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// GraphError codes.
const (
	GraphErrEmpty          = "empty"
	GraphErrInvalidNode    = "invalid_node"
	GraphErrDuplicateRef   = "duplicate_ref"
	GraphErrUnknownRef     = "unknown_ref"
	GraphErrAsymmetricEdge = "asymmetric_edge"
	GraphErrStartCount     = "start_count"
	GraphErrMissingSource  = "missing_source"
	GraphErrMissingTarget  = "missing_target"
	GraphErrEndHasTarget   = "end_has_target"
	GraphErrCycle          = "cycle"
	GraphErrUnreachable    = "unreachable"
)

// GraphError describes why a node set does not form a runnable workflow.
type GraphError struct {
	Code    string
	Ref     string
	Message string
}

func (e *GraphError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("invalid workflow graph: %s: node %q: %s", e.Code, e.Ref, e.Message)
	}

	return fmt.Sprintf("invalid workflow graph: %s: %s", e.Code, e.Message)
}

func (e *GraphError) Unwrap() error {
	return ErrInvalidGraph
}

// IsGraphError checks if an error is a workflow definition error.
func IsGraphError(err error) bool {
	return errors.Is(err, ErrInvalidGraph)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Workflow is an immutable, validated workflow definition identified by (Ref, Version).
type Workflow struct {
	Ref         string    `json:"ref"         validate:"required"`
	Version     string    `json:"version"     validate:"required"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []*Node   `json:"nodes"`
	CreatedAt   time.Time `json:"created_at"`

	index map[string]*Node
	succ  map[string][]string
	pred  map[string][]string
	order []string
	start string
	ends  []string
}

type WorkflowOption func(*Workflow)

func WithDescription(description string) WorkflowOption {
	return func(w *Workflow) {
		w.Description = description
	}
}

// BuildWorkflow validates nodes and returns a workflow with precomputed adjacency.
// No workflow is returned when validation fails.
func BuildWorkflow(ref, version, name string, nodes []*Node, options ...WorkflowOption) (*Workflow, error) {
	workflow := &Workflow{
		Ref:       ref,
		Version:   version,
		Name:      name,
		Nodes:     nodes,
		CreatedAt: time.Now().UTC(),
	}

	for _, option := range options {
		option(workflow)
	}

	err := workflow.build()
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// Rebuild recomputes adjacency for a workflow decoded from storage.
func (w *Workflow) Rebuild() error {
	return w.build()
}

func (w *Workflow) build() error {
	err := validate.Struct(w)
	if err != nil {
		return &GraphError{Code: GraphErrInvalidNode, Message: err.Error()}
	}

	if len(w.Nodes) == 0 {
		return &GraphError{Code: GraphErrEmpty, Message: "workflow has no nodes"}
	}

	index := make(map[string]*Node, len(w.Nodes))
	for _, node := range w.Nodes {
		if node == nil {
			return &GraphError{Code: GraphErrInvalidNode, Message: "nil node"}
		}

		if _, exists := index[node.Ref]; exists {
			return &GraphError{Code: GraphErrDuplicateRef, Ref: node.Ref, Message: "ref declared more than once"}
		}

		err := checkNode(node)
		if err != nil {
			return err
		}

		index[node.Ref] = node
	}

	succ := make(map[string][]string, len(index))
	pred := make(map[string][]string, len(index))

	var starts, ends []string

	for _, node := range w.Nodes {
		for _, target := range node.Targets {
			other, ok := index[target]
			if !ok {
				return &GraphError{Code: GraphErrUnknownRef, Ref: node.Ref, Message: fmt.Sprintf("target %q does not exist", target)}
			}

			if !slices.Contains(other.Sources, node.Ref) {
				return &GraphError{Code: GraphErrAsymmetricEdge, Ref: node.Ref, Message: fmt.Sprintf("target %q does not list it as a source", target)}
			}

			if !slices.Contains(succ[node.Ref], target) {
				succ[node.Ref] = append(succ[node.Ref], target)
			}
		}

		for _, source := range node.Sources {
			other, ok := index[source]
			if !ok {
				return &GraphError{Code: GraphErrUnknownRef, Ref: node.Ref, Message: fmt.Sprintf("source %q does not exist", source)}
			}

			if !slices.Contains(other.Targets, node.Ref) {
				return &GraphError{Code: GraphErrAsymmetricEdge, Ref: node.Ref, Message: fmt.Sprintf("source %q does not list it as a target", source)}
			}

			if !slices.Contains(pred[node.Ref], source) {
				pred[node.Ref] = append(pred[node.Ref], source)
			}
		}

		switch node.Type {
		case NodeTypeStart:
			starts = append(starts, node.Ref)

			if len(node.Sources) > 0 {
				return &GraphError{Code: GraphErrStartCount, Ref: node.Ref, Message: "start node cannot have sources"}
			}
		case NodeTypeEnd:
			ends = append(ends, node.Ref)

			if len(node.Targets) > 0 {
				return &GraphError{Code: GraphErrEndHasTarget, Ref: node.Ref, Message: "end node cannot have targets"}
			}
		}

		if node.Type != NodeTypeStart && len(node.Sources) == 0 {
			return &GraphError{Code: GraphErrMissingSource, Ref: node.Ref, Message: "node has no sources"}
		}

		if node.Type != NodeTypeEnd && len(node.Targets) == 0 {
			return &GraphError{Code: GraphErrMissingTarget, Ref: node.Ref, Message: "only end nodes may have no targets"}
		}
	}

	if len(starts) != 1 {
		return &GraphError{Code: GraphErrStartCount, Message: fmt.Sprintf("expected exactly one start node, found %d", len(starts))}
	}

	order, err := topologicalOrder(w.Nodes, succ, pred)
	if err != nil {
		return err
	}

	reached := reachable(starts[0], succ)
	for _, node := range w.Nodes {
		if !reached[node.Ref] {
			return &GraphError{Code: GraphErrUnreachable, Ref: node.Ref, Message: "node is not reachable from start"}
		}
	}

	w.index = index
	w.succ = succ
	w.pred = pred
	w.order = order
	w.start = starts[0]
	w.ends = ends

	return nil
}

func checkNode(node *Node) error {
	err := validate.Struct(node)
	if err != nil {
		return &GraphError{Code: GraphErrInvalidNode, Ref: node.Ref, Message: err.Error()}
	}

	switch node.Type {
	case NodeTypeAsyncTask:
		if node.Task == nil || node.Condition != nil {
			return &GraphError{Code: GraphErrInvalidNode, Ref: node.Ref, Message: "async_task node requires a task payload only"}
		}
	case NodeTypeCondition:
		if node.Condition == nil || node.Task != nil {
			return &GraphError{Code: GraphErrInvalidNode, Ref: node.Ref, Message: "condition node requires a condition payload only"}
		}

		for _, target := range node.Targets {
			if target != node.Condition.OnTrue && target != node.Condition.OnFalse {
				return &GraphError{Code: GraphErrInvalidNode, Ref: node.Ref, Message: fmt.Sprintf("target %q is not a condition branch", target)}
			}
		}

		if !slices.Contains(node.Targets, node.Condition.OnTrue) || !slices.Contains(node.Targets, node.Condition.OnFalse) {
			return &GraphError{Code: GraphErrInvalidNode, Ref: node.Ref, Message: "condition branches must be listed as targets"}
		}
	default:
		if node.Task != nil || node.Condition != nil {
			return &GraphError{Code: GraphErrInvalidNode, Ref: node.Ref, Message: fmt.Sprintf("%s node cannot carry a payload", node.Type)}
		}
	}

	return nil
}

// topologicalOrder runs Kahn's algorithm; nodes left over sit on a cycle.
func topologicalOrder(nodes []*Node, succ, pred map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	queue := make([]string, 0, len(nodes))

	for _, node := range nodes {
		inDegree[node.Ref] = len(pred[node.Ref])
		if inDegree[node.Ref] == 0 {
			queue = append(queue, node.Ref)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		order = append(order, ref)

		for _, next := range succ[ref] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(nodes) {
		for _, node := range nodes {
			if inDegree[node.Ref] > 0 {
				return nil, &GraphError{Code: GraphErrCycle, Ref: node.Ref, Message: "node is part of a cycle"}
			}
		}
	}

	return order, nil
}

func reachable(start string, succ map[string][]string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}

	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, next := range succ[ref] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}

	return seen
}

// Node returns the node with the given ref.
func (w *Workflow) Node(ref string) (*Node, bool) {
	node, ok := w.index[ref]

	return node, ok
}

// Successors returns the refs targeted by ref. The slice must not be modified.
func (w *Workflow) Successors(ref string) []string {
	return w.succ[ref]
}

// Predecessors returns the refs that target ref. The slice must not be modified.
func (w *Workflow) Predecessors(ref string) []string {
	return w.pred[ref]
}

func (w *Workflow) Start() string {
	return w.start
}

func (w *Workflow) Ends() []string {
	return w.ends
}

// TopologicalOrder lists every ref so that each node follows all of its predecessors.
func (w *Workflow) TopologicalOrder() []string {
	return w.order
}
