// Package events defines the domain events exchanged between triggers, the workflow engine and task executors.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every domain event; handlers are selected by the event_type metadata.
const Topic = "flowline.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger events.
	TriggerAcceptedEvent EventType = "trigger.accepted"

	// Workflow instance lifecycle events.
	InstanceCreatedEvent    EventType = "instance.created"
	InstanceStartedEvent    EventType = "instance.started"
	InstanceSuspendedEvent  EventType = "instance.suspended"
	InstanceResumedEvent    EventType = "instance.resumed"
	InstanceFinishedEvent   EventType = "instance.finished"
	InstanceTerminatedEvent EventType = "instance.terminated"

	// Outbound task events, consumed by executors.
	TaskDispatchedEvent       EventType = "task.dispatched"
	TaskTerminateRequestEvent EventType = "task.terminate_requested"

	// Inbound task events, reported by executors.
	TaskRunningEvent    EventType = "task.running"
	TaskSucceededEvent  EventType = "task.succeeded"
	TaskFailedEvent     EventType = "task.failed"
	TaskTerminatedEvent EventType = "task.terminated"

	// Workspace volume lifecycle, reported by executors.
	WorkspaceReadyEvent   EventType = "workspace.ready"
	WorkspaceRemovedEvent EventType = "workspace.removed"
)

// Event is implemented by every payload carried on the bus.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		Metadata:   make(map[string]any),
	}
}

// TriggerAccepted is published once per accepted webhook call or cron firing.
type TriggerAccepted struct {
	BaseEvent

	TriggerEventID string `json:"trigger_event_id"`
	TriggerID      string `json:"trigger_id"`
	ProjectID      string `json:"project_id"`
	TriggerType    string `json:"trigger_type"`
}

func (e TriggerAccepted) GetType() EventType {
	return TriggerAcceptedEvent
}

type InstanceCreated struct {
	BaseEvent

	WorkflowRef     string `json:"workflow_ref"`
	WorkflowVersion string `json:"workflow_version"`
	TriggerID       string `json:"trigger_id"`
}

func (e InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

type InstanceStarted struct {
	BaseEvent

	WorkflowRef string `json:"workflow_ref"`
	TriggerID   string `json:"trigger_id"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceSuspended struct {
	BaseEvent

	TriggerID string `json:"trigger_id"`
	NodeRef   string `json:"node_ref,omitempty"`
}

func (e InstanceSuspended) GetType() EventType {
	return InstanceSuspendedEvent
}

type InstanceResumed struct {
	BaseEvent

	TriggerID string `json:"trigger_id"`
}

func (e InstanceResumed) GetType() EventType {
	return InstanceResumedEvent
}

type InstanceFinished struct {
	BaseEvent

	TriggerID string        `json:"trigger_id"`
	Duration  time.Duration `json:"duration"`
}

func (e InstanceFinished) GetType() EventType {
	return InstanceFinishedEvent
}

type InstanceTerminated struct {
	BaseEvent

	TriggerID string `json:"trigger_id"`
	Reason    string `json:"reason"`
}

func (e InstanceTerminated) GetType() EventType {
	return InstanceTerminatedEvent
}

// TaskParameter is a bound task input. Secret values travel as their reference only.
type TaskParameter struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
	Ref   string `json:"ref,omitempty"`
}

type TaskDispatched struct {
	BaseEvent

	TaskInstanceID string          `json:"task_instance_id"`
	TriggerID      string          `json:"trigger_id"`
	NodeRef        string          `json:"node_ref"`
	TaskType       string          `json:"task_type"`
	Attempt        int             `json:"attempt"`
	Parameters     []TaskParameter `json:"parameters"`
}

func (e TaskDispatched) GetType() EventType {
	return TaskDispatchedEvent
}

// TaskTerminateRequested asks the executor owning a task to stop it.
type TaskTerminateRequested struct {
	BaseEvent

	TaskInstanceID string `json:"task_instance_id"`
	NodeRef        string `json:"node_ref"`
}

func (e TaskTerminateRequested) GetType() EventType {
	return TaskTerminateRequestEvent
}

// TaskReport is the common shape of executor callbacks.
type TaskReport struct {
	BaseEvent

	TaskInstanceID string `json:"task_instance_id"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

type TaskRunning struct{ TaskReport }

func (e TaskRunning) GetType() EventType { return TaskRunningEvent }

type TaskSucceeded struct{ TaskReport }

func (e TaskSucceeded) GetType() EventType { return TaskSucceededEvent }

type TaskFailed struct{ TaskReport }

func (e TaskFailed) GetType() EventType { return TaskFailedEvent }

type TaskTerminated struct{ TaskReport }

func (e TaskTerminated) GetType() EventType { return TaskTerminatedEvent }

// WorkspaceChanged reports a workspace volume lifecycle step for an instance.
type WorkspaceChanged struct {
	BaseEvent

	Ready bool `json:"ready"`
}

func (e WorkspaceChanged) GetType() EventType {
	if e.Ready {
		return WorkspaceReadyEvent
	}

	return WorkspaceRemovedEvent
}

// New returns an empty value for the given event type, used when decoding bus messages.
func New(eventType EventType) (Event, bool) {
	switch eventType {
	case TriggerAcceptedEvent:
		return &TriggerAccepted{}, true
	case InstanceCreatedEvent:
		return &InstanceCreated{}, true
	case InstanceStartedEvent:
		return &InstanceStarted{}, true
	case InstanceSuspendedEvent:
		return &InstanceSuspended{}, true
	case InstanceResumedEvent:
		return &InstanceResumed{}, true
	case InstanceFinishedEvent:
		return &InstanceFinished{}, true
	case InstanceTerminatedEvent:
		return &InstanceTerminated{}, true
	case TaskDispatchedEvent:
		return &TaskDispatched{}, true
	case TaskTerminateRequestEvent:
		return &TaskTerminateRequested{}, true
	case TaskRunningEvent:
		return &TaskRunning{}, true
	case TaskSucceededEvent:
		return &TaskSucceeded{}, true
	case TaskFailedEvent:
		return &TaskFailed{}, true
	case TaskTerminatedEvent:
		return &TaskTerminated{}, true
	case WorkspaceReadyEvent:
		return &WorkspaceChanged{Ready: true}, true
	case WorkspaceRemovedEvent:
		return &WorkspaceChanged{}, true
	default:
		return nil, false
	}
}
