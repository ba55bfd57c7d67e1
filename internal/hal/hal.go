// internal/hal/hal.go
package hal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/gate"
)

// Operation names a hardware-facing action. It carries no state beyond its
// identity.
type Operation string

const (
	QueryCapabilities Operation = "query_capabilities"
	QueryMemory       Operation = "query_memory"
)

// ErrNoExecutor means the gate was built without a hardware collaborator.
var ErrNoExecutor = errors.New("no hardware executor configured")

// Outcome is whatever the hardware collaborator reports. The gate never
// interprets it.
type Outcome struct {
	Operation  Operation         `json:"operation"`
	Summary    string            `json:"summary"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Executor performs hardware operations on behalf of the gate.
type Executor interface {
	Execute(ctx context.Context, op Operation) (Outcome, error)
}

// Gate is the authorization boundary in front of an Executor.
type Gate struct {
	logger   *zap.Logger
	checker  gate.Checker
	executor Executor
}

func NewGate(logger *zap.Logger, checker gate.Checker, executor Executor) *Gate {
	return &Gate{
		logger:   logger.Named("hal"),
		checker:  checker,
		executor: executor,
	}
}

// Execute authorizes op and passes the collaborator's outcome through.
func (g *Gate) Execute(ctx context.Context, op Operation) (Outcome, error) {
	if err := g.checker.Check(gate.ClassHardwareOperation); err != nil {
		g.logger.Warn("Hardware operation denied.", zap.String("operation", string(op)), zap.Error(err))
		return Outcome{}, err
	}
	if g.executor == nil {
		return Outcome{}, fmt.Errorf("hardware operation %s: %w", op, ErrNoExecutor)
	}

	outcome, err := g.executor.Execute(ctx, op)
	if err != nil {
		return Outcome{}, fmt.Errorf("hardware operation %s failed: %w", op, err)
	}
	return outcome, nil
}
