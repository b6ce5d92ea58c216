package mocks

import (
	"context"

	"github.com/dukex/flowline/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockOwnershipChecker is a mock implementation of auth.OwnershipChecker interface.
type MockOwnershipChecker struct {
	mock.Mock
}

func (m *MockOwnershipChecker) CheckOwnership(ctx context.Context, associationID, associationType, instanceID string) (bool, error) {
	args := m.Called(ctx, associationID, associationType, instanceID)

	return args.Bool(0), args.Error(1)
}

// MockDispatcher is a mock implementation of executor.Dispatcher interface.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, task *models.TaskInstance) error {
	args := m.Called(ctx, task)

	return args.Error(0)
}

// Dispatched returns the node refs passed to Dispatch, in call order.
func (m *MockDispatcher) Dispatched() []string {
	refs := make([]string, 0, len(m.Calls))

	for _, call := range m.Calls {
		if task, ok := call.Arguments.Get(1).(*models.TaskInstance); ok {
			refs = append(refs, task.NodeRef)
		}
	}

	return refs
}
