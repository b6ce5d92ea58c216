package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowline/pkg/events"
)

// ErrInvalidTransition is returned when a state change is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid state transition")

type InstanceStatus string

const (
	InstanceInit       InstanceStatus = "INIT"
	InstanceRunning    InstanceStatus = "RUNNING"
	InstanceSuspended  InstanceStatus = "SUSPENDED"
	InstanceFinished   InstanceStatus = "FINISHED"
	InstanceTerminated InstanceStatus = "TERMINATED"
)

func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceFinished || s == InstanceTerminated
}

// WorkflowInstance is one run of a workflow. Version is the optimistic concurrency
// counter: it is the value read from storage and is bumped by a successful save.
type WorkflowInstance struct {
	ID              string         `json:"id"`
	Serial          int64          `json:"serial"`
	ProjectID       string         `json:"project_id"`
	WorkflowRef     string         `json:"workflow_ref"`
	WorkflowVersion string         `json:"workflow_version"`
	TriggerID       string         `json:"trigger_id"`
	TriggerType     TriggerType    `json:"trigger_type"`
	Status          InstanceStatus `json:"status"`
	StartTime       *time.Time     `json:"start_time,omitempty"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	SuspendedTime   *time.Time     `json:"suspended_time,omitempty"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`

	uncommitted []events.Event
}

// NewWorkflowInstance creates an instance in INIT for the given trigger event.
func NewWorkflowInstance(id string, serial int64, workflow *Workflow, triggerEvent *TriggerEvent) *WorkflowInstance {
	instance := &WorkflowInstance{
		ID:              id,
		Serial:          serial,
		ProjectID:       triggerEvent.ProjectID,
		WorkflowRef:     workflow.Ref,
		WorkflowVersion: workflow.Version,
		TriggerID:       triggerEvent.ID,
		TriggerType:     triggerEvent.TriggerType,
		Status:          InstanceInit,
		CreatedAt:       time.Now().UTC(),
	}

	instance.raise(events.InstanceCreated{
		BaseEvent:       events.NewBaseEvent(events.InstanceCreatedEvent, id),
		WorkflowRef:     workflow.Ref,
		WorkflowVersion: workflow.Version,
		TriggerID:       triggerEvent.ID,
	})

	return instance
}

func (i *WorkflowInstance) transitionError(op string) error {
	return fmt.Errorf("%w: cannot %s instance %s in status %s", ErrInvalidTransition, op, i.ID, i.Status)
}

// Initialize moves INIT to RUNNING.
func (i *WorkflowInstance) Initialize(now time.Time) error {
	if i.Status != InstanceInit {
		return i.transitionError("initialize")
	}

	i.Status = InstanceRunning
	i.StartTime = &now
	i.raise(events.InstanceStarted{
		BaseEvent:   events.NewBaseEvent(events.InstanceStartedEvent, i.ID),
		WorkflowRef: i.WorkflowRef,
		TriggerID:   i.TriggerID,
	})

	return nil
}

// Suspend moves RUNNING to SUSPENDED. nodeRef names the task that caused it, if any.
func (i *WorkflowInstance) Suspend(now time.Time, nodeRef string) error {
	if i.Status != InstanceRunning {
		return i.transitionError("suspend")
	}

	i.Status = InstanceSuspended
	i.SuspendedTime = &now
	i.raise(events.InstanceSuspended{
		BaseEvent: events.NewBaseEvent(events.InstanceSuspendedEvent, i.ID),
		TriggerID: i.TriggerID,
		NodeRef:   nodeRef,
	})

	return nil
}

// Resume moves SUSPENDED back to RUNNING.
func (i *WorkflowInstance) Resume() error {
	if i.Status != InstanceSuspended {
		return i.transitionError("resume")
	}

	i.Status = InstanceRunning
	i.SuspendedTime = nil
	i.raise(events.InstanceResumed{
		BaseEvent: events.NewBaseEvent(events.InstanceResumedEvent, i.ID),
		TriggerID: i.TriggerID,
	})

	return nil
}

// Finish moves RUNNING to FINISHED.
func (i *WorkflowInstance) Finish(now time.Time) error {
	if i.Status != InstanceRunning {
		return i.transitionError("finish")
	}

	i.Status = InstanceFinished
	i.EndTime = &now

	var duration time.Duration
	if i.StartTime != nil {
		duration = now.Sub(*i.StartTime)
	}

	i.raise(events.InstanceFinished{
		BaseEvent: events.NewBaseEvent(events.InstanceFinishedEvent, i.ID),
		TriggerID: i.TriggerID,
		Duration:  duration,
	})

	return nil
}

// Terminate moves RUNNING or SUSPENDED to TERMINATED.
func (i *WorkflowInstance) Terminate(now time.Time, reason string) error {
	if i.Status != InstanceRunning && i.Status != InstanceSuspended {
		return i.transitionError("terminate")
	}

	i.Status = InstanceTerminated
	i.EndTime = &now
	i.raise(events.InstanceTerminated{
		BaseEvent: events.NewBaseEvent(events.InstanceTerminatedEvent, i.ID),
		TriggerID: i.TriggerID,
		Reason:    reason,
	})

	return nil
}

// Raise appends an event produced while mutating the instance.
func (i *WorkflowInstance) Raise(event events.Event) {
	i.raise(event)
}

func (i *WorkflowInstance) raise(event events.Event) {
	i.uncommitted = append(i.uncommitted, event)
}

// PendingEvents returns the number of uncommitted events.
func (i *WorkflowInstance) PendingEvents() int {
	return len(i.uncommitted)
}

// DrainEvents returns the uncommitted events and clears the queue. Call it only
// after the instance has been saved.
func (i *WorkflowInstance) DrainEvents() []events.Event {
	drained := i.uncommitted
	i.uncommitted = nil

	return drained
}

// Clone returns a copy of the persistent fields without the uncommitted events.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	clone := *i
	clone.uncommitted = nil

	return &clone
}

// Duration is the time between start and end, or zero while the instance runs.
func (i *WorkflowInstance) Duration() time.Duration {
	if i.StartTime == nil || i.EndTime == nil {
		return 0
	}

	return i.EndTime.Sub(*i.StartTime)
}
