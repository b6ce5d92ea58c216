package mocks

import (
	"context"
	"time"

	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/stretchr/testify/mock"
)

// MockScheduler is a mock implementation of scheduler.Scheduler interface.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Schedule(key, expression string, job scheduler.Job) error {
	args := m.Called(key, expression, job)

	return args.Error(0)
}

func (m *MockScheduler) Unschedule(key string) {
	m.Called(key)
}

func (m *MockScheduler) NextFireTime(key string) (time.Time, bool) {
	args := m.Called(key)

	return args.Get(0).(time.Time), args.Bool(1)
}

func (m *MockScheduler) Start(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockScheduler) Stop(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
