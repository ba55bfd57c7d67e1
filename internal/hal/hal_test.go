package hal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/lancelot/internal/gate"
	"github.com/xkilldash9x/lancelot/internal/hal"
	"github.com/xkilldash9x/lancelot/internal/mocks"
)

func machineAt(stage gate.Stage) *gate.Machine {
	m := gate.NewMachine()
	for m.Stage() < stage {
		m.Evolve()
	}
	return m
}

func TestGate_DeniedBelowAdvanced(t *testing.T) {
	for _, stage := range []gate.Stage{gate.Initial, gate.SystemAccess, gate.CodeModification} {
		exec := new(mocks.MockHardwareExecutor)
		g := hal.NewGate(zaptest.NewLogger(t), machineAt(stage), exec)

		_, err := g.Execute(context.Background(), hal.QueryCapabilities)
		var denied *gate.PermissionDeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, stage, denied.Current)
		assert.Equal(t, gate.Advanced, denied.Required)
		assert.Equal(t, gate.ClassHardwareOperation, denied.Class)

		exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	}
}

func TestGate_PassesOutcomeThrough(t *testing.T) {
	exec := new(mocks.MockHardwareExecutor)
	want := hal.Outcome{
		Operation:  hal.QueryCapabilities,
		Summary:    "8 logical cores",
		Properties: map[string]string{"logical_cores": "8"},
	}
	exec.On("Execute", mock.Anything, hal.QueryCapabilities).Return(want, nil).Once()

	g := hal.NewGate(zaptest.NewLogger(t), machineAt(gate.Advanced), exec)
	got, err := g.Execute(context.Background(), hal.QueryCapabilities)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	exec.AssertExpectations(t)
}

func TestGate_CollaboratorErrorIsWrapped(t *testing.T) {
	boom := errors.New("device busy")
	exec := new(mocks.MockHardwareExecutor)
	exec.On("Execute", mock.Anything, hal.QueryMemory).Return(hal.Outcome{}, boom).Once()

	g := hal.NewGate(zaptest.NewLogger(t), machineAt(gate.Advanced), exec)
	_, err := g.Execute(context.Background(), hal.QueryMemory)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), string(hal.QueryMemory))
}

func TestGate_NoExecutor(t *testing.T) {
	g := hal.NewGate(zaptest.NewLogger(t), machineAt(gate.Advanced), nil)
	_, err := g.Execute(context.Background(), hal.QueryCapabilities)
	assert.ErrorIs(t, err, hal.ErrNoExecutor)
}
