// File: cmd/runtime.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/agent"
	"github.com/xkilldash9x/lancelot/internal/config"
	"github.com/xkilldash9x/lancelot/internal/evolution/applier"
	"github.com/xkilldash9x/lancelot/internal/evolution/bus"
	"github.com/xkilldash9x/lancelot/internal/evolution/chronicler"
	"github.com/xkilldash9x/lancelot/internal/gate"
	"github.com/xkilldash9x/lancelot/internal/hal"
	"github.com/xkilldash9x/lancelot/internal/hardware"
	"github.com/xkilldash9x/lancelot/internal/mailbox"
	"github.com/xkilldash9x/lancelot/internal/model"
	"github.com/xkilldash9x/lancelot/internal/observability"
	"github.com/xkilldash9x/lancelot/internal/procinfo"
	"github.com/xkilldash9x/lancelot/internal/sapi"
	"github.com/xkilldash9x/lancelot/internal/store"
)

// Collaborator constructors, replaceable in tests.
var (
	newFs = afero.NewOsFs

	newProcessSource = func(logger *zap.Logger, cfg config.ProcessConfig) (sapi.ProcessSource, error) {
		src, err := procinfo.NewSource(logger, cfg.ProcMount, cfg.Concurrency)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	newHardwareExecutor = func() hal.Executor {
		return hardware.NewExecutor()
	}

	newGenerator = func(ctx context.Context, logger *zap.Logger, cfg config.ModelConfig) (model.Generator, error) {
		if cfg.APIKey == "" {
			return nil, nil
		}
		g, err := model.NewGenAIGenerator(ctx, logger, model.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			CodeModel: cfg.CodeModel,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	newStateLock = func(path string) mailbox.Locker {
		return mailbox.FileLock(path)
	}

	openPostgres = func(ctx context.Context, url string) (store.DBPool, func(), error) {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
)

// drainTimeout bounds how long Close waits for consumers to catch up.
const drainTimeout = 10 * time.Second

type runtimeOptions struct {
	// sharedMailboxes runs the command inside a locked session on
	// mailbox.state_file, once the agent may make system calls.
	sharedMailboxes bool
	// withApplier overrides applier.enabled.
	withApplier bool
}

// agentRuntime is one agent with its bus, chronicler, ledger and, optionally,
// its applier.
type agentRuntime struct {
	logger    *zap.Logger
	cfg       config.Interface
	fs        afero.Fs
	agent     *agent.Agent
	mailboxes *mailbox.Registry
	bus       *bus.EvolutionBus
	ledger    store.Ledger

	opts    runtimeOptions
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func()
	// mailboxesChanged is set by commands whose call mutated a mailbox.
	mailboxesChanged bool

	drainOnce sync.Once
	closeOnce sync.Once
}

func newRuntime(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts runtimeOptions) (*agentRuntime, error) {
	fs := newFs()
	mailboxes := mailbox.NewRegistry()

	processes, err := newProcessSource(logger, cfg.Process())
	if err != nil {
		// Process calls fail with ErrNoProcessSource; everything else still works.
		logger.Warn("Process source unavailable.", zap.Error(err))
		processes = nil
	}

	generator, err := newGenerator(ctx, logger, cfg.Model())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model generator: %w", err)
	}

	rt := &agentRuntime{
		logger:    logger,
		cfg:       cfg,
		fs:        fs,
		mailboxes: mailboxes,
		bus:       bus.NewEvolutionBus(logger, cfg.Bus().BufferSize),
		opts:      opts,
	}

	rt.ledger, err = rt.openLedger(ctx, cfg.Ledger())
	if err != nil {
		rt.bus.Shutdown()
		return nil, err
	}

	rt.agent = agent.New(logger, cfg.Agent().Name, agent.Dependencies{
		Mailboxes:     mailboxes,
		Processes:     processes,
		Workspace:     fs,
		WorkspaceRoot: cfg.Agent().WorkspaceRoot,
		Hardware:      newHardwareExecutor(),
		Generator:     generator,
		Publisher:     rt.bus,
	})

	// Consumers subscribe before any event is posted.
	var consumers []func(context.Context)
	consumers = append(consumers, chronicler.NewChronicler(logger, rt.bus, rt.ledger).Start)

	if opts.withApplier || cfg.Applier().Enabled {
		ac := cfg.Applier()
		a, err := applier.NewApplier(logger, rt.bus, rt.agent.Modifications(), applier.Config{
			RepoRoot:      ac.RepoRoot,
			AuthorName:    ac.AuthorName,
			AuthorEmail:   ac.AuthorEmail,
			InitIfMissing: ac.InitIfMissing,
		})
		if err != nil {
			rt.bus.Shutdown()
			rt.runClosers()
			return nil, err
		}
		consumers = append(consumers, a.Start)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.cancel = cancel
	for _, start := range consumers {
		rt.wg.Add(1)
		go func(start func(context.Context)) {
			defer rt.wg.Done()
			start(runCtx)
		}(start)
	}
	return rt, nil
}

func (rt *agentRuntime) openLedger(ctx context.Context, cfg config.LedgerConfig) (store.Ledger, error) {
	switch cfg.Type {
	case "", "memory":
		return store.NewMemoryLedger(), nil
	case "postgres":
		pool, closePool, err := openPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		rt.closers = append(rt.closers, closePool)

		s, err := store.New(ctx, pool, rt.logger)
		if err != nil {
			rt.runClosers()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			rt.runClosers()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported ledger type %q", cfg.Type)
	}
}

// evolveToTarget advances the agent to the configured target stage.
func (rt *agentRuntime) evolveToTarget(ctx context.Context) error {
	target, err := gate.ParseStage(rt.cfg.Agent().TargetStage)
	if err != nil {
		return err
	}
	for rt.agent.Stage() < target {
		if !rt.agent.Evolve(ctx) {
			break
		}
	}
	return nil
}

// Drain waits for consumers to catch up, then shuts the bus down and stops
// them. The ledger stays readable afterwards.
func (rt *agentRuntime) Drain() {
	rt.drainOnce.Do(func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := rt.bus.Wait(waitCtx); err != nil {
			rt.logger.Warn("Bus did not drain before shutdown.", zap.Error(err))
		}
		cancel()

		rt.bus.Shutdown()
		rt.cancel()
		rt.wg.Wait()
	})
}

// markMailboxesChanged records that the command's call mutated a mailbox,
// so the session writes the state back.
func (rt *agentRuntime) markMailboxesChanged() {
	rt.mailboxesChanged = true
}

// Close drains the runtime and releases the ledger. It is safe to call more
// than once.
func (rt *agentRuntime) Close() error {
	rt.closeOnce.Do(func() {
		rt.Drain()
		rt.runClosers()
	})
	return nil
}

func (rt *agentRuntime) runClosers() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// withRuntime builds a runtime at the target stage, runs fn, and closes it.
func withRuntime(ctx context.Context, opts runtimeOptions, fn func(rt *agentRuntime) error) (err error) {
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, observability.GetLogger(), opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	if err := rt.evolveToTarget(ctx); err != nil {
		return err
	}
	// Below SystemAccess every mailbox call is denied, so the state file is
	// neither read nor written.
	if !rt.opts.sharedMailboxes || gate.Check(rt.agent.Stage(), gate.ClassSystemCall) != nil {
		return fn(rt)
	}
	path := cfg.Mailbox().StateFile
	return mailbox.Session(ctx, rt.fs, path, newStateLock(path), rt.mailboxes, func() (bool, error) {
		err := fn(rt)
		return rt.mailboxesChanged, err
	})
}
