package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/cms"
	"github.com/xkilldash9x/lancelot/internal/evolution/models"
	"github.com/xkilldash9x/lancelot/internal/gate"
	"github.com/xkilldash9x/lancelot/internal/hal"
	"github.com/xkilldash9x/lancelot/internal/mailbox"
	"github.com/xkilldash9x/lancelot/internal/model"
	"github.com/xkilldash9x/lancelot/internal/sapi"
)

// ErrNoGenerator means the agent was built without an inference backend.
var ErrNoGenerator = errors.New("no model generator configured")

// Dependencies are the collaborators an Agent is wired to. Every field is
// optional; a nil Mailboxes gets a private registry.
type Dependencies struct {
	Mailboxes     *mailbox.Registry
	Processes     sapi.ProcessSource
	Workspace     afero.Fs
	WorkspaceRoot string
	Hardware      hal.Executor
	Generator     model.Generator
	// Publisher receives stage and proposal events, usually the evolution bus.
	Publisher cms.Publisher
}

// Status is a point-in-time view of an agent.
type Status struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Stage    gate.Stage   `json:"stage"`
	Allowed  []gate.Class `json:"allowed"`
	Proposed int          `json:"proposed"`
}

// Agent binds one evolution state machine to its system-call, staging, and
// hardware gates. It is the only type client code needs.
type Agent struct {
	id        string
	name      string
	logger    *zap.Logger
	machine   *gate.Machine
	sapi      *sapi.Service
	stager    *cms.Stager
	hal       *hal.Gate
	generator model.Generator
	publisher cms.Publisher

	// Keeps stage events in transition order.
	evolveMu sync.Mutex
}

// New creates an agent at the Initial stage.
func New(logger *zap.Logger, name string, deps Dependencies) *Agent {
	id := uuid.New().String()
	logger = logger.Named("agent").With(zap.String("agent_id", id[:8]), zap.String("agent_name", name))

	machine := gate.NewMachine()
	a := &Agent{
		id:        id,
		name:      name,
		logger:    logger,
		machine:   machine,
		generator: deps.Generator,
		publisher: deps.Publisher,
	}
	a.sapi = sapi.NewService(logger, machine, sapi.Dependencies{
		Mailboxes:     deps.Mailboxes,
		Processes:     deps.Processes,
		Workspace:     deps.Workspace,
		WorkspaceRoot: deps.WorkspaceRoot,
	})
	a.stager = cms.NewStager(logger, machine, deps.Publisher)
	a.hal = hal.NewGate(logger, machine, deps.Hardware)

	logger.Info("Agent created.", zap.Stringer("stage", machine.Stage()))
	return a
}

func (a *Agent) ID() string   { return a.id }
func (a *Agent) Name() string { return a.name }

// Stage is the current evolution stage.
func (a *Agent) Stage() gate.Stage { return a.machine.Stage() }

// Evolve unlocks the next stage. It reports false, and changes nothing, once
// the agent is Advanced.
func (a *Agent) Evolve(ctx context.Context) bool {
	a.evolveMu.Lock()
	defer a.evolveMu.Unlock()

	from, to, advanced := a.machine.Evolve()
	if !advanced {
		a.logger.Debug("Evolve requested at terminal stage.", zap.Stringer("stage", to))
		return false
	}
	a.logger.Info("Agent evolved.", zap.Stringer("from", from), zap.Stringer("to", to))

	if a.publisher != nil {
		event := models.StageAdvanced{
			AgentID:   a.id,
			AgentName: a.name,
			From:      from.String(),
			To:        to.String(),
			Timestamp: time.Now().UTC(),
		}
		if err := a.publisher.Post(ctx, models.TypeStageAdvanced, event); err != nil {
			a.logger.Warn("Failed to publish stage change.", zap.Error(err))
		}
	}
	return true
}

// SystemCall dispatches a process or IPC request.
func (a *Agent) SystemCall(ctx context.Context, req sapi.SystemCallRequest) (sapi.Response, error) {
	return a.sapi.SystemCall(ctx, req)
}

// PeekNextMessage returns the oldest message for pid without removing it.
func (a *Agent) PeekNextMessage(pid int) (string, bool, error) {
	return a.sapi.PeekNextMessage(pid)
}

func (a *Agent) QueueSize(pid int) (int, error) {
	return a.sapi.QueueSize(pid)
}

func (a *Agent) ClearMessageQueue(pid int) error {
	return a.sapi.ClearMessageQueue(pid)
}

// ProposeModification stages mod for an external applier.
func (a *Agent) ProposeModification(ctx context.Context, mod cms.CodeModification) (cms.Proposal, error) {
	return a.stager.Propose(ctx, mod)
}

// Modifications exposes the staged records, and the Resolve hook, to appliers.
func (a *Agent) Modifications() *cms.Stager {
	return a.stager
}

// HardwareOperation runs op through the hardware gate.
func (a *Agent) HardwareOperation(ctx context.Context, op hal.Operation) (hal.Outcome, error) {
	return a.hal.Execute(ctx, op)
}

// Generate answers an instruction-style prompt.
func (a *Agent) Generate(ctx context.Context, prompt string) (string, error) {
	return a.generate(ctx, model.StyleInstruction, prompt)
}

// GenerateCode answers a prompt framed for code output.
func (a *Agent) GenerateCode(ctx context.Context, prompt string) (string, error) {
	return a.generate(ctx, model.StyleCode, prompt)
}

// Generation shares the CodeModification gate: a model that writes code is
// only useful once the agent may propose it.
func (a *Agent) generate(ctx context.Context, style model.Style, prompt string) (string, error) {
	if err := a.machine.Check(gate.ClassCodeModification); err != nil {
		a.logger.Warn("Generation denied.", zap.Stringer("style", style), zap.Error(err))
		return "", err
	}
	if a.generator == nil {
		return "", ErrNoGenerator
	}
	out, err := a.generator.Generate(ctx, style, prompt)
	if err != nil {
		return "", fmt.Errorf("%s generation failed: %w", style, err)
	}
	return out, nil
}

// Status reports identity, stage, and the capability classes now allowed.
func (a *Agent) Status() Status {
	stage := a.machine.Stage()
	var allowed []gate.Class
	for _, c := range gate.Classes {
		if gate.Check(stage, c) == nil {
			allowed = append(allowed, c)
		}
	}
	return Status{
		ID:       a.id,
		Name:     a.name,
		Stage:    stage,
		Allowed:  allowed,
		Proposed: a.stager.Len(),
	}
}
