// Package dsl reads YAML files that declare a workflow version, the project
// running it and the project's trigger.
//
//	workflow:
//	  ref: ci
//	  version: "1.0"
//	  name: CI
//	  nodes:
//	    - ref: start
//	      type: start
//	    - ref: build
//	      type: async_task
//	      needs: [start]
//	      task:
//	        type: shell:1.0.0
//	        on_failure: suspend
//	        params:
//	          branch: (trigger.ref)
//	    - ref: end
//	      type: end
//	      needs: [build]
//	project:
//	  name: api
//	trigger:
//	  webhook:
//	    params:
//	      - name: ref
//	        type: STRING
//	        exp: $.body.json.ref
//	    matcher: (trigger.ref == 'main')
//
// Edges are declared once, on the downstream node, with needs. Condition
// branches add their own edges.
package dsl

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinition = errors.New("invalid definition")

type Definition struct {
	Workflow WorkflowSpec `yaml:"workflow"`
	Project  *ProjectSpec `yaml:"project,omitempty"`
	Trigger  *TriggerSpec `yaml:"trigger,omitempty"`
}

type WorkflowSpec struct {
	Ref         string     `yaml:"ref"`
	Version     string     `yaml:"version"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Nodes       []NodeSpec `yaml:"nodes"`
}

type NodeSpec struct {
	Ref         string         `yaml:"ref"`
	Type        string         `yaml:"type"`
	Name        string         `yaml:"name,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Needs       []string       `yaml:"needs,omitempty"`
	Task        *TaskSpec      `yaml:"task,omitempty"`
	Condition   *ConditionSpec `yaml:"condition,omitempty"`
}

type TaskSpec struct {
	Type      string            `yaml:"type"`
	Params    map[string]string `yaml:"params,omitempty"`
	OnFailure string            `yaml:"on_failure,omitempty"`
}

type ConditionSpec struct {
	Expression string `yaml:"expression"`
	OnTrue     string `yaml:"on_true"`
	OnFalse    string `yaml:"on_false"`
}

type ProjectSpec struct {
	Name            string `yaml:"name"`
	AssociationID   string `yaml:"association_id,omitempty"`
	AssociationType string `yaml:"association_type,omitempty"`
}

// TriggerSpec holds at most one of Cron and Webhook.
type TriggerSpec struct {
	Cron    string       `yaml:"cron,omitempty"`
	Webhook *WebhookSpec `yaml:"webhook,omitempty"`
}

type WebhookSpec struct {
	Params  []ParamSpec    `yaml:"params,omitempty"`
	Auth    *AuthSpec      `yaml:"auth,omitempty"`
	Matcher string         `yaml:"matcher,omitempty"`
	Schema  map[string]any `yaml:"schema,omitempty"`
}

type ParamSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Exp      string `yaml:"exp"`
	Required bool   `yaml:"required,omitempty"`
}

type AuthSpec struct {
	Token string `yaml:"token"`
	Value string `yaml:"value"`
}

// Parse decodes a definition. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var definition Definition

	err := decoder.Decode(&definition)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidDefinition, err)
	}

	return &definition, nil
}

func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	return Parse(data)
}

// Nodes converts the node specs, deriving sources and targets from needs and
// condition branches.
func (d *Definition) Nodes() []*models.Node {
	nodes := make([]*models.Node, 0, len(d.Workflow.Nodes))
	index := make(map[string]*models.Node, len(d.Workflow.Nodes))

	for _, spec := range d.Workflow.Nodes {
		node := &models.Node{
			Ref:         spec.Ref,
			Type:        models.NodeType(spec.Type),
			Name:        spec.Name,
			Description: spec.Description,
		}

		if node.Name == "" {
			node.Name = spec.Ref
		}

		if spec.Task != nil {
			node.Task = &models.TaskSpec{
				Type:      spec.Task.Type,
				Params:    spec.Task.Params,
				OnFailure: models.FailureMode(spec.Task.OnFailure),
			}
		}

		if spec.Condition != nil {
			node.Condition = &models.ConditionSpec{
				Expression: spec.Condition.Expression,
				OnTrue:     spec.Condition.OnTrue,
				OnFalse:    spec.Condition.OnFalse,
			}
		}

		nodes = append(nodes, node)
		index[node.Ref] = node
	}

	link := func(from, to string) {
		source, ok := index[from]
		if !ok || slices.Contains(source.Targets, to) {
			return
		}

		source.Targets = append(source.Targets, to)

		if target, ok := index[to]; ok {
			target.Sources = append(target.Sources, from)
		}
	}

	for _, spec := range d.Workflow.Nodes {
		for _, need := range spec.Needs {
			if _, ok := index[need]; !ok {
				// BuildWorkflow reports the dangling source
				index[spec.Ref].Sources = append(index[spec.Ref].Sources, need)

				continue
			}

			link(need, spec.Ref)
		}

		if spec.Condition != nil {
			link(spec.Ref, spec.Condition.OnTrue)
			link(spec.Ref, spec.Condition.OnFalse)
		}
	}

	return nodes
}

// Build validates the workflow graph.
func (d *Definition) Build() (*models.Workflow, error) {
	return models.BuildWorkflow(d.Workflow.Ref, d.Workflow.Version, d.Workflow.Name, d.Nodes(),
		models.WithDescription(d.Workflow.Description))
}

// WebhookModel converts the webhook spec, upper-casing parameter types.
func (t *TriggerSpec) WebhookModel() *models.Webhook {
	if t == nil || t.Webhook == nil {
		return nil
	}

	webhook := &models.Webhook{
		Matcher: t.Webhook.Matcher,
		Schema:  t.Webhook.Schema,
	}

	for _, param := range t.Webhook.Params {
		webhook.Params = append(webhook.Params, models.WebhookParameter{
			Name:     param.Name,
			Type:     models.ParameterType(strings.ToUpper(param.Type)),
			Exp:      param.Exp,
			Required: param.Required,
		})
	}

	if t.Webhook.Auth != nil {
		webhook.Auth = &models.WebhookAuth{Token: t.Webhook.Auth.Token, Value: t.Webhook.Auth.Value}
	}

	return webhook
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the whole definition without touching storage.
func (d *Definition) Validate() error {
	_, err := d.Build()
	if err != nil {
		return err
	}

	if d.Trigger == nil {
		return nil
	}

	if d.Project == nil {
		return fmt.Errorf("%w: a trigger needs a project", ErrInvalidDefinition)
	}

	switch {
	case d.Trigger.Cron != "" && d.Trigger.Webhook != nil:
		return fmt.Errorf("%w: trigger must be either cron or webhook", ErrInvalidDefinition)
	case d.Trigger.Cron != "":
		err = scheduler.Validate(d.Trigger.Cron)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
	case d.Trigger.Webhook != nil:
		err = validate.Struct(d.Trigger.WebhookModel())
		if err != nil {
			return fmt.Errorf("%w: webhook: %w", ErrInvalidDefinition, err)
		}
	default:
		return fmt.Errorf("%w: trigger declares neither cron nor webhook", ErrInvalidDefinition)
	}

	return nil
}
