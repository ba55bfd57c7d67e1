// internal/sapi/service.go
package sapi

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/gate"
	"github.com/xkilldash9x/lancelot/internal/mailbox"
)

var (
	// ErrUnknownCommand means neither a payload nor a registered bare command
	// was supplied.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotFound means a Monitor target matched no process.
	ErrNotFound = errors.New("process not found")
	// ErrNoProcessSource means the service was built without a process
	// collaborator.
	ErrNoProcessSource = errors.New("no process source configured")
)

// Dependencies are the collaborators a Service mediates access to.
type Dependencies struct {
	Mailboxes *mailbox.Registry
	Processes ProcessSource
	// Workspace and WorkspaceRoot back the list_files command.
	Workspace     afero.Fs
	WorkspaceRoot string
}

// Service mediates system calls for one agent. Every entry point consults
// the gate before touching any collaborator.
type Service struct {
	logger    *zap.Logger
	gate      gate.Checker
	mailboxes *mailbox.Registry
	processes ProcessSource
	workspace afero.Fs
	root      string
}

// NewService builds a Service. A nil mailbox registry gets a private one.
func NewService(logger *zap.Logger, checker gate.Checker, deps Dependencies) *Service {
	if deps.Mailboxes == nil {
		deps.Mailboxes = mailbox.NewRegistry()
	}
	if deps.Workspace == nil {
		deps.Workspace = afero.NewOsFs()
	}
	if deps.WorkspaceRoot == "" {
		deps.WorkspaceRoot = "."
	}
	return &Service{
		logger:    logger.Named("sapi"),
		gate:      checker,
		mailboxes: deps.Mailboxes,
		processes: deps.Processes,
		workspace: deps.Workspace,
		root:      deps.WorkspaceRoot,
	}
}

// Mailboxes exposes the registry the service routes IPC through.
func (s *Service) Mailboxes() *mailbox.Registry {
	return s.mailboxes
}

// SystemCall authorizes and dispatches req.
func (s *Service) SystemCall(ctx context.Context, req SystemCallRequest) (Response, error) {
	if err := s.gate.Check(gate.ClassSystemCall); err != nil {
		s.logger.Warn("System call denied.", zap.String("command", req.Command), zap.Error(err))
		return Response{}, err
	}

	op, ok := resolve(req)
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}

	s.logger.Debug("Dispatching system call.",
		zap.String("command", req.Command),
		zap.String("operation", op.CommandName()),
		zap.Int("priority", req.Priority),
	)

	switch o := op.(type) {
	case ListProcesses:
		procs, err := s.snapshot(ctx, o)
		if err != nil {
			return Response{}, err
		}
		sortByPID(procs)
		return Response{Command: o.CommandName(), Processes: procs}, nil

	case FilterProcesses:
		procs, err := s.snapshot(ctx, o)
		if err != nil {
			return Response{}, err
		}
		return Response{Command: o.CommandName(), Processes: applyFilter(procs, o.Filter)}, nil

	case SearchProcesses:
		procs, err := s.snapshot(ctx, o)
		if err != nil {
			return Response{}, err
		}
		return Response{Command: o.CommandName(), Processes: applySearch(procs, o.Criteria)}, nil

	case MonitorProcess:
		procs, err := s.snapshot(ctx, o)
		if err != nil {
			return Response{}, err
		}
		matched := resolveMonitor(procs, o.Target)
		if len(matched) == 0 {
			return Response{}, fmt.Errorf("%s: %w: %q", o.CommandName(), ErrNotFound, o.Target)
		}
		return Response{Command: o.CommandName(), Processes: matched}, nil

	case SendMessage:
		s.mailboxes.Send(o.PID, o.Text)
		return Response{Command: o.CommandName(), PID: o.PID}, nil

	case ReceiveMessage:
		msg, err := s.mailboxes.Receive(o.PID)
		if err != nil {
			return Response{}, fmt.Errorf("%s for process %d: %w", o.CommandName(), o.PID, err)
		}
		return Response{Command: o.CommandName(), PID: o.PID, Message: msg}, nil

	case listFiles:
		entries, err := s.listWorkspace()
		if err != nil {
			return Response{}, fmt.Errorf("%s: %w", o.CommandName(), err)
		}
		return Response{Command: o.CommandName(), Entries: entries}, nil

	default:
		return Response{}, fmt.Errorf("%w: unsupported operation %T", ErrUnknownCommand, op)
	}
}

// PeekNextMessage returns the oldest message for pid without removing it.
func (s *Service) PeekNextMessage(pid int) (string, bool, error) {
	if err := s.gate.Check(gate.ClassSystemCall); err != nil {
		return "", false, err
	}
	msg, ok := s.mailboxes.Peek(pid)
	return msg, ok, nil
}

// QueueSize returns the number of pending messages for pid.
func (s *Service) QueueSize(pid int) (int, error) {
	if err := s.gate.Check(gate.ClassSystemCall); err != nil {
		return 0, err
	}
	return s.mailboxes.Size(pid), nil
}

// ClearMessageQueue drops every pending message for pid.
func (s *Service) ClearMessageQueue(pid int) error {
	if err := s.gate.Check(gate.ClassSystemCall); err != nil {
		return err
	}
	s.mailboxes.Clear(pid)
	return nil
}

func (s *Service) snapshot(ctx context.Context, op Operation) ([]ProcessInfo, error) {
	if s.processes == nil {
		return nil, fmt.Errorf("%s: %w", op.CommandName(), ErrNoProcessSource)
	}
	procs, err := s.processes.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: process snapshot failed: %w", op.CommandName(), err)
	}
	// The source owns its slice; sorting must not reorder it.
	out := make([]ProcessInfo, len(procs))
	copy(out, procs)
	return out, nil
}

func (s *Service) listWorkspace() ([]string, error) {
	infos, err := afero.ReadDir(s.workspace, s.root)
	if err != nil {
		return nil, fmt.Errorf("read workspace %s: %w", s.root, err)
	}
	entries := make([]string, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() {
			name += "/"
		}
		entries = append(entries, name)
	}
	sort.Strings(entries)
	return entries, nil
}
