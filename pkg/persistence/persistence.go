// Package persistence provides the storage contract for workflows, triggers and instances.
package persistence

import (
	"context"

	"github.com/dukex/flowline/pkg/models"
)

type Persistence interface {
	Workflows() WorkflowRepository
	Projects() ProjectRepository
	Triggers() TriggerRepository
	TriggerEvents() TriggerEventRepository
	WebRequests() WebRequestRepository
	Parameters() ParameterRepository
	Instances() InstanceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores published workflow versions. Versions are immutable.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	Get(ctx context.Context, ref, version string) (*models.Workflow, error)
}

type ProjectRepository interface {
	Save(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	GetByName(ctx context.Context, name string) (*models.Project, error)
}

// TriggerRepository keeps at most one trigger per project.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.Trigger) error
	GetByID(ctx context.Context, id string) (*models.Trigger, error)
	GetByProjectID(ctx context.Context, projectID string) (*models.Trigger, error)
	ListByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error)
	DeleteByProjectID(ctx context.Context, projectID string) error
}

type TriggerEventRepository interface {
	Save(ctx context.Context, event *models.TriggerEvent) error
	GetByID(ctx context.Context, id string) (*models.TriggerEvent, error)
}

type WebRequestRepository interface {
	Save(ctx context.Context, request *models.WebRequest) error
	GetByID(ctx context.Context, id string) (*models.WebRequest, error)
	ListByProject(ctx context.Context, projectID string, limit int) ([]*models.WebRequest, error)
}

// ParameterRepository stores extracted trigger parameters. SECRET parameters are
// never written; implementations drop them.
type ParameterRepository interface {
	SaveAll(ctx context.Context, params []models.Parameter) error
	GetByID(ctx context.Context, id string) (models.Parameter, error)
}

// InstanceRepository stores workflow instances and their task instances.
//
// Save is a compare-and-swap on WorkflowInstance.Version: a zero version
// inserts, any other version updates only if the stored version still equals
// it. On success the instance's Version is incremented and the given tasks are
// written in the same transaction. On a lost race it returns an error wrapping
// ErrVersionConflict and writes nothing.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance, tasks []*models.TaskInstance) error
	Get(ctx context.Context, id string) (*models.WorkflowInstance, error)
	GetByTriggerID(ctx context.Context, triggerID string) (*models.WorkflowInstance, error)
	ListByWorkflow(ctx context.Context, workflowRef string, limit int) ([]*models.WorkflowInstance, error)
	NextSerial(ctx context.Context, workflowRef string) (int64, error)
	Tasks(ctx context.Context, instanceID string) ([]*models.TaskInstance, error)
	Task(ctx context.Context, taskID string) (*models.TaskInstance, error)
}
