package testing

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTrigger is a testify mock of the boot-time resume trigger.
type MockTrigger struct {
	mock.Mock
}

// Arm records the call.
func (m *MockTrigger) Arm(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Disarm records the call.
func (m *MockTrigger) Disarm(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Armed records the call.
func (m *MockTrigger) Armed() bool {
	args := m.Called()
	return args.Bool(0)
}

// NewPermissiveTrigger returns a MockTrigger that accepts any number of
// Arm and Disarm calls and reports itself disarmed.
func NewPermissiveTrigger() *MockTrigger {
	m := &MockTrigger{}
	m.On("Arm", mock.Anything).Return(nil).Maybe()
	m.On("Disarm", mock.Anything).Return(nil).Maybe()
	m.On("Armed").Return(false).Maybe()
	return m
}

// MockRebooter is a testify mock of the host rebooter.
type MockRebooter struct {
	mock.Mock
}

// Reboot records the call.
func (m *MockRebooter) Reboot(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
