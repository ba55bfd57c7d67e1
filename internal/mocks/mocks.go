// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/lancelot/internal/evolution/models"
	"github.com/xkilldash9x/lancelot/internal/hal"
	"github.com/xkilldash9x/lancelot/internal/model"
	"github.com/xkilldash9x/lancelot/internal/sapi"
	"github.com/xkilldash9x/lancelot/internal/store"
)

// -- Process Source Mock --

// MockProcessSource mocks sapi.ProcessSource.
type MockProcessSource struct {
	mock.Mock
}

func (m *MockProcessSource) Snapshot(ctx context.Context) ([]sapi.ProcessInfo, error) {
	args := m.Called(ctx)
	var r0 []sapi.ProcessInfo
	if args.Get(0) != nil {
		r0 = args.Get(0).([]sapi.ProcessInfo)
	}
	return r0, args.Error(1)
}

// -- Hardware Executor Mock --

// MockHardwareExecutor mocks hal.Executor.
type MockHardwareExecutor struct {
	mock.Mock
}

func (m *MockHardwareExecutor) Execute(ctx context.Context, op hal.Operation) (hal.Outcome, error) {
	args := m.Called(ctx, op)
	return args.Get(0).(hal.Outcome), args.Error(1)
}

// -- Generator Mock --

// MockGenerator mocks model.Generator.
type MockGenerator struct {
	mock.Mock
}

// Generate honours an already-cancelled context before recording the call.
func (m *MockGenerator) Generate(ctx context.Context, style model.Style, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, style, prompt)
	return args.String(0), args.Error(1)
}

// -- Publisher Mock --

// MockPublisher mocks the bus Post surface used by agents and stagers.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Post(ctx context.Context, msgType models.MessageType, payload interface{}) error {
	args := m.Called(ctx, msgType, payload)
	return args.Error(0)
}

// -- Ledger Mock --

// MockLedger mocks store.Ledger.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Record(ctx context.Context, entries ...store.Entry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockLedger) List(ctx context.Context, limit int) ([]store.Entry, error) {
	args := m.Called(ctx, limit)
	var r0 []store.Entry
	if args.Get(0) != nil {
		r0 = args.Get(0).([]store.Entry)
	}
	return r0, args.Error(1)
}
