package mocks

import (
	"context"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockInstanceRepository is a mock implementation of persistence.InstanceRepository interface.
type MockInstanceRepository struct {
	mock.Mock
}

func (m *MockInstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance, tasks []*models.TaskInstance) error {
	args := m.Called(ctx, instance, tasks)

	return args.Error(0)
}

func (m *MockInstanceRepository) Get(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowInstance), args.Error(1)
}

func (m *MockInstanceRepository) GetByTriggerID(ctx context.Context, triggerID string) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, triggerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowInstance), args.Error(1)
}

func (m *MockInstanceRepository) ListByWorkflow(ctx context.Context, workflowRef string, limit int) ([]*models.WorkflowInstance, error) {
	args := m.Called(ctx, workflowRef, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowInstance), args.Error(1)
}

func (m *MockInstanceRepository) NextSerial(ctx context.Context, workflowRef string) (int64, error) {
	args := m.Called(ctx, workflowRef)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInstanceRepository) Tasks(ctx context.Context, instanceID string) ([]*models.TaskInstance, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TaskInstance), args.Error(1)
}

func (m *MockInstanceRepository) Task(ctx context.Context, taskID string) (*models.TaskInstance, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.TaskInstance), args.Error(1)
}

// PersistenceWithInstances serves every repository from Persistence except
// instances, which come from Repository.
type PersistenceWithInstances struct {
	persistence.Persistence

	Repository persistence.InstanceRepository
}

func (p *PersistenceWithInstances) Instances() persistence.InstanceRepository {
	return p.Repository
}
