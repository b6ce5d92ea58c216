// Package memory provides an in-process persistence implementation for tests and local runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
)

// Persistence keeps every entity in maps guarded by one mutex. Values are copied
// on the way in and out so callers never share state with the store.
type Persistence struct {
	mu sync.RWMutex

	workflows     map[string]*models.Workflow
	projects      map[string]*models.Project
	triggers      map[string]*models.Trigger
	triggerEvents map[string]*models.TriggerEvent
	webRequests   []*models.WebRequest
	parameters    map[string]models.Parameter
	instances     map[string]*models.WorkflowInstance
	tasks         map[string]*models.TaskInstance
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:     make(map[string]*models.Workflow),
		projects:      make(map[string]*models.Project),
		triggers:      make(map[string]*models.Trigger),
		triggerEvents: make(map[string]*models.TriggerEvent),
		parameters:    make(map[string]models.Parameter),
		instances:     make(map[string]*models.WorkflowInstance),
		tasks:         make(map[string]*models.TaskInstance),
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository         { return workflowRepo{p} }
func (p *Persistence) Projects() persistence.ProjectRepository           { return projectRepo{p} }
func (p *Persistence) Triggers() persistence.TriggerRepository           { return triggerRepo{p} }
func (p *Persistence) TriggerEvents() persistence.TriggerEventRepository { return triggerEventRepo{p} }
func (p *Persistence) WebRequests() persistence.WebRequestRepository     { return webRequestRepo{p} }
func (p *Persistence) Parameters() persistence.ParameterRepository       { return parameterRepo{p} }
func (p *Persistence) Instances() persistence.InstanceRepository         { return instanceRepo{p} }

func (p *Persistence) HealthCheck(context.Context) error { return nil }

func (p *Persistence) Close(context.Context) error { return nil }

type workflowRepo struct{ p *Persistence }

func workflowKey(ref, version string) string {
	return ref + "@" + version
}

func (r workflowRepo) Save(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := workflowKey(workflow.Ref, workflow.Version)
	if _, exists := r.p.workflows[key]; exists {
		return persistence.ErrWorkflowAlreadyExists
	}

	r.p.workflows[key] = workflow

	return nil
}

func (r workflowRepo) Get(_ context.Context, ref, version string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	// workflows are immutable once built, so sharing the pointer is safe
	workflow, ok := r.p.workflows[workflowKey(ref, version)]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflow, nil
}

type projectRepo struct{ p *Persistence }

func (r projectRepo) Save(_ context.Context, project *models.Project) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	copied := *project
	r.p.projects[project.ID] = &copied

	return nil
}

func (r projectRepo) GetByID(_ context.Context, id string) (*models.Project, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	project, ok := r.p.projects[id]
	if !ok {
		return nil, persistence.ErrProjectNotFound
	}

	copied := *project

	return &copied, nil
}

func (r projectRepo) GetByName(_ context.Context, name string) (*models.Project, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, project := range r.p.projects {
		if project.Name == name {
			copied := *project

			return &copied, nil
		}
	}

	return nil, persistence.ErrProjectNotFound
}

type triggerRepo struct{ p *Persistence }

func (r triggerRepo) Save(_ context.Context, trigger *models.Trigger) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}

	for id, existing := range r.p.triggers {
		if existing.ProjectID == trigger.ProjectID && id != trigger.ID {
			delete(r.p.triggers, id)
		}
	}

	copied := *trigger
	r.p.triggers[trigger.ID] = &copied

	return nil
}

func (r triggerRepo) GetByID(_ context.Context, id string) (*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	trigger, ok := r.p.triggers[id]
	if !ok {
		return nil, persistence.ErrTriggerNotFound
	}

	copied := *trigger

	return &copied, nil
}

func (r triggerRepo) GetByProjectID(_ context.Context, projectID string) (*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, trigger := range r.p.triggers {
		if trigger.ProjectID == projectID {
			copied := *trigger

			return &copied, nil
		}
	}

	return nil, persistence.ErrTriggerNotFound
}

func (r triggerRepo) ListByType(_ context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	triggers := make([]*models.Trigger, 0)
	for _, trigger := range r.p.triggers {
		if trigger.Type == triggerType {
			copied := *trigger
			triggers = append(triggers, &copied)
		}
	}

	sort.Slice(triggers, func(i, j int) bool { return triggers[i].ID < triggers[j].ID })

	return triggers, nil
}

func (r triggerRepo) DeleteByProjectID(_ context.Context, projectID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for id, trigger := range r.p.triggers {
		if trigger.ProjectID == projectID {
			delete(r.p.triggers, id)

			return nil
		}
	}

	return persistence.ErrTriggerNotFound
}

type triggerEventRepo struct{ p *Persistence }

func (r triggerEventRepo) Save(_ context.Context, event *models.TriggerEvent) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	copied := *event
	copied.Parameters = models.WithoutSecrets(event.Parameters)
	r.p.triggerEvents[event.ID] = &copied

	return nil
}

func (r triggerEventRepo) GetByID(_ context.Context, id string) (*models.TriggerEvent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	event, ok := r.p.triggerEvents[id]
	if !ok {
		return nil, persistence.ErrTriggerEventNotFound
	}

	copied := *event
	copied.Parameters = slices.Clone(event.Parameters)

	return &copied, nil
}

type webRequestRepo struct{ p *Persistence }

func (r webRequestRepo) Save(_ context.Context, request *models.WebRequest) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	copied := *request
	r.p.webRequests = append(r.p.webRequests, &copied)

	return nil
}

func (r webRequestRepo) GetByID(_ context.Context, id string) (*models.WebRequest, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, request := range r.p.webRequests {
		if request.ID == id {
			copied := *request

			return &copied, nil
		}
	}

	return nil, persistence.ErrWebRequestNotFound
}

// ListByProject returns the newest requests first. An empty projectID lists all.
func (r webRequestRepo) ListByProject(_ context.Context, projectID string, limit int) ([]*models.WebRequest, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	requests := make([]*models.WebRequest, 0)

	for i := len(r.p.webRequests) - 1; i >= 0; i-- {
		request := r.p.webRequests[i]
		if projectID != "" && request.ProjectID != projectID {
			continue
		}

		copied := *request
		requests = append(requests, &copied)

		if limit > 0 && len(requests) == limit {
			break
		}
	}

	return requests, nil
}

type parameterRepo struct{ p *Persistence }

func (r parameterRepo) SaveAll(_ context.Context, params []models.Parameter) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, param := range models.ParametersWithoutSecrets(params) {
		r.p.parameters[param.ID] = param
	}

	return nil
}

func (r parameterRepo) GetByID(_ context.Context, id string) (models.Parameter, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	param, ok := r.p.parameters[id]
	if !ok {
		return models.Parameter{}, persistence.ErrNotFound
	}

	return param, nil
}

type instanceRepo struct{ p *Persistence }

func (r instanceRepo) Save(_ context.Context, instance *models.WorkflowInstance, tasks []*models.TaskInstance) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, exists := r.p.instances[instance.ID]

	switch {
	case instance.Version == 0 && exists:
		return persistence.NewVersionConflict("Save", instance.ID, instance.Version)
	case instance.Version != 0 && !exists:
		return persistence.NewInstanceError("Save", instance.ID, persistence.ErrInstanceNotFound)
	case exists && stored.Version != instance.Version:
		return persistence.NewVersionConflict("Save", instance.ID, instance.Version)
	}

	if !exists {
		for _, other := range r.p.instances {
			if other.TriggerID == instance.TriggerID {
				return persistence.NewVersionConflict("Save", instance.ID, instance.Version)
			}
		}
	}

	instance.Version++
	r.p.instances[instance.ID] = instance.Clone()

	for _, task := range tasks {
		r.p.tasks[task.ID] = task.Clone()
	}

	return nil
}

func (r instanceRepo) Get(_ context.Context, id string) (*models.WorkflowInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	instance, ok := r.p.instances[id]
	if !ok {
		return nil, persistence.NewInstanceError("Get", id, persistence.ErrInstanceNotFound)
	}

	return instance.Clone(), nil
}

func (r instanceRepo) GetByTriggerID(_ context.Context, triggerID string) (*models.WorkflowInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, instance := range r.p.instances {
		if instance.TriggerID == triggerID {
			return instance.Clone(), nil
		}
	}

	return nil, persistence.ErrInstanceNotFound
}

func (r instanceRepo) ListByWorkflow(_ context.Context, workflowRef string, limit int) ([]*models.WorkflowInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	instances := make([]*models.WorkflowInstance, 0)
	for _, instance := range r.p.instances {
		if instance.WorkflowRef == workflowRef {
			instances = append(instances, instance.Clone())
		}
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].Serial > instances[j].Serial })

	if limit > 0 && len(instances) > limit {
		instances = instances[:limit]
	}

	return instances, nil
}

func (r instanceRepo) NextSerial(_ context.Context, workflowRef string) (int64, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var serial int64
	for _, instance := range r.p.instances {
		if instance.WorkflowRef == workflowRef && instance.Serial > serial {
			serial = instance.Serial
		}
	}

	return serial + 1, nil
}

func (r instanceRepo) Tasks(_ context.Context, instanceID string) ([]*models.TaskInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	tasks := make([]*models.TaskInstance, 0)
	for _, task := range r.p.tasks {
		if task.InstanceID == instanceID {
			tasks = append(tasks, task.Clone())
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return tasks, nil
}

func (r instanceRepo) Task(_ context.Context, taskID string) (*models.TaskInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	task, ok := r.p.tasks[taskID]
	if !ok {
		return nil, persistence.ErrTaskNotFound
	}

	return task.Clone(), nil
}
