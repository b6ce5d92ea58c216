package models

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskInit       TaskStatus = "INIT"
	TaskDispatched TaskStatus = "DISPATCHED"
	TaskRunning    TaskStatus = "RUNNING"
	TaskSucceeded  TaskStatus = "SUCCEEDED"
	TaskFailed     TaskStatus = "FAILED"
	TaskIgnored    TaskStatus = "IGNORED"
	TaskTerminated TaskStatus = "TERMINATED"
	// TaskSkipped marks nodes on a condition branch that was not taken.
	TaskSkipped TaskStatus = "SKIPPED"
)

// Settled reports whether successors may treat this task as done.
func (s TaskStatus) Settled() bool {
	return s == TaskSucceeded || s == TaskIgnored || s == TaskSkipped
}

// Active reports whether an executor may still be working on the task.
func (s TaskStatus) Active() bool {
	return s == TaskInit || s == TaskDispatched || s == TaskRunning
}

// TaskInstance is one execution of a node within a workflow instance.
type TaskInstance struct {
	ID         string      `json:"id"`
	InstanceID string      `json:"instance_id"`
	TriggerID  string      `json:"trigger_id"`
	NodeRef    string      `json:"node_ref"`
	NodeType   NodeType    `json:"node_type"`
	TaskType   string      `json:"task_type,omitempty"`
	Status     TaskStatus  `json:"status"`
	Attempt    int         `json:"attempt"`
	Parameters []Parameter `json:"parameters,omitempty"`
	ErrorMsg   string      `json:"error_msg,omitempty"`
	StartTime  *time.Time  `json:"start_time,omitempty"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func NewTaskInstance(id string, instance *WorkflowInstance, node *Node, now time.Time) *TaskInstance {
	task := &TaskInstance{
		ID:         id,
		InstanceID: instance.ID,
		TriggerID:  instance.TriggerID,
		NodeRef:    node.Ref,
		NodeType:   node.Type,
		Status:     TaskInit,
		UpdatedAt:  now,
	}

	if node.Task != nil {
		task.TaskType = node.Task.Type
	}

	return task
}

func (t *TaskInstance) transition(op string, to TaskStatus, now time.Time, from ...TaskStatus) error {
	for _, status := range from {
		if t.Status == status {
			t.Status = to
			t.UpdatedAt = now

			return nil
		}
	}

	return fmt.Errorf("%w: cannot %s task %s (%s) in status %s", ErrInvalidTransition, op, t.ID, t.NodeRef, t.Status)
}

func (t *TaskInstance) Dispatch(now time.Time) error {
	err := t.transition("dispatch", TaskDispatched, now, TaskInit)
	if err != nil {
		return err
	}

	t.Attempt = 1

	return nil
}

func (t *TaskInstance) Run(now time.Time) error {
	err := t.transition("run", TaskRunning, now, TaskDispatched)
	if err != nil {
		return err
	}

	t.StartTime = &now

	return nil
}

func (t *TaskInstance) Succeed(now time.Time) error {
	err := t.transition("succeed", TaskSucceeded, now, TaskInit, TaskDispatched, TaskRunning)
	if err != nil {
		return err
	}

	t.EndTime = &now

	return nil
}

func (t *TaskInstance) Fail(now time.Time, msg string) error {
	err := t.transition("fail", TaskFailed, now, TaskInit, TaskDispatched, TaskRunning)
	if err != nil {
		return err
	}

	t.ErrorMsg = msg
	t.EndTime = &now

	return nil
}

// Ignore accepts a failed task as done.
func (t *TaskInstance) Ignore(now time.Time) error {
	return t.transition("ignore", TaskIgnored, now, TaskFailed)
}

// Retry puts a failed task back in DISPATCHED for another attempt.
func (t *TaskInstance) Retry(now time.Time) error {
	err := t.transition("retry", TaskDispatched, now, TaskFailed)
	if err != nil {
		return err
	}

	t.Attempt++
	t.ErrorMsg = ""
	t.StartTime = nil
	t.EndTime = nil

	return nil
}

func (t *TaskInstance) Terminate(now time.Time) error {
	err := t.transition("terminate", TaskTerminated, now, TaskInit, TaskDispatched, TaskRunning)
	if err != nil {
		return err
	}

	t.EndTime = &now

	return nil
}

func (t *TaskInstance) Skip(now time.Time) error {
	return t.transition("skip", TaskSkipped, now, TaskInit)
}

func (t *TaskInstance) Clone() *TaskInstance {
	clone := *t
	clone.Parameters = append([]Parameter(nil), t.Parameters...)

	return &clone
}
