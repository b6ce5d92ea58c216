package models

import (
	"time"
)

type TriggerType string

const (
	TriggerTypeWebhook TriggerType = "WEBHOOK"
	TriggerTypeCron    TriggerType = "CRON"
)

// Trigger starts instances of a project's workflow. A project owns at most one trigger.
type Trigger struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"         validate:"required"`
	Type      TriggerType `json:"type"               validate:"required,oneof=WEBHOOK CRON"`
	Schedule  string      `json:"schedule,omitempty" validate:"required_if=Type CRON"`
	Webhook   *Webhook    `json:"webhook,omitempty"  validate:"required_if=Type WEBHOOK"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Webhook describes how an inbound request is turned into trigger parameters.
type Webhook struct {
	Params  []WebhookParameter `json:"params,omitempty"  validate:"dive"`
	Auth    *WebhookAuth       `json:"auth,omitempty"`
	Matcher string             `json:"matcher,omitempty"`

	// Schema is an optional JSON schema the JSON body must satisfy.
	Schema map[string]any `json:"schema,omitempty"`
}

// WebhookParameter extracts one named, typed value from the request payload.
type WebhookParameter struct {
	Name string        `json:"name" validate:"required"`
	Type ParameterType `json:"type" validate:"required,oneof=STRING BOOL NUMBER SECRET OBJECT"`
	Exp  string        `json:"exp"  validate:"required"`

	// Required rejects requests where Exp finds nothing.
	Required bool `json:"required,omitempty"`
}

// WebhookAuth compares the evaluated Token expression with the secret referenced by Value.
type WebhookAuth struct {
	Token string `json:"token" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// TriggerEvent is the immutable record of an accepted trigger firing.
type TriggerEvent struct {
	ID           string                  `json:"id"`
	TriggerID    string                  `json:"trigger_id"`
	ProjectID    string                  `json:"project_id"`
	TriggerType  TriggerType             `json:"trigger_type"`
	WebRequestID string                  `json:"web_request_id,omitempty"`
	Payload      *Payload                `json:"payload,omitempty"`
	Parameters   []TriggerEventParameter `json:"parameters"`
	OccurredAt   time.Time               `json:"occurred_at"`
}

// TriggerEventParameter is one extracted value of a trigger event.
type TriggerEventParameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Value       any           `json:"value"`
	ParameterID string        `json:"parameter_id"`
}

// Parameter rebuilds the typed parameter of an event entry.
func (p TriggerEventParameter) Parameter() Parameter {
	return Parameter{ID: p.ParameterID, Type: p.Type, Value: p.Value}
}

// WithoutSecrets drops every SECRET entry. Applied wherever event parameters leave evaluation.
func WithoutSecrets(params []TriggerEventParameter) []TriggerEventParameter {
	out := make([]TriggerEventParameter, 0, len(params))
	for _, p := range params {
		if p.Type == ParameterSecret {
			continue
		}

		out = append(out, p)
	}

	return out
}

// ParametersWithoutSecrets is WithoutSecrets for plain parameters.
func ParametersWithoutSecrets(params []Parameter) []Parameter {
	out := make([]Parameter, 0, len(params))
	for _, p := range params {
		if p.IsSecret() {
			continue
		}

		out = append(out, p)
	}

	return out
}

// Project is the read model of the project owning a workflow and its trigger.
type Project struct {
	ID              string `json:"id"               validate:"required"`
	Name            string `json:"name"             validate:"required"`
	WorkflowRef     string `json:"workflow_ref"     validate:"required"`
	WorkflowVersion string `json:"workflow_version" validate:"required"`
	AssociationID   string `json:"association_id,omitempty"`
	AssociationType string `json:"association_type,omitempty"`
}
