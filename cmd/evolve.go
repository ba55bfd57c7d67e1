// File: cmd/evolve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/cms"
	"github.com/xkilldash9x/lancelot/internal/gate"
	"github.com/xkilldash9x/lancelot/internal/hal"
	"github.com/xkilldash9x/lancelot/internal/observability"
	"github.com/xkilldash9x/lancelot/internal/sapi"
)

// newEvolveCmd walks a fresh agent from Initial to Advanced, attempting
// each capability class before and after it is unlocked.
func newEvolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evolve",
		Short: "Walk a new agent through every evolution stage.",
		Long: `evolve creates an agent at Initial and advances it one stage at a time.
At each stage it attempts a system call, a code-modification proposal, and a
hardware query, showing which are denied and which succeed. The events are
recorded by the chronicler into the configured ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx, cfg, observability.GetLogger(), runtimeOptions{})
			if err != nil {
				return err
			}
			return runEvolve(ctx, rt, cmd.OutOrStdout())
		},
	}
}

// runEvolve owns rt and drains it before reading the ledger back.
func runEvolve(ctx context.Context, rt *agentRuntime, out io.Writer) (err error) {
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	a := rt.agent
	fmt.Fprintf(out, "Agent %s (%s) created at stage %s\n", a.Name(), a.ID(), a.Stage())

	pid := os.Getpid()
	attempts := []struct {
		name string
		run  func() (string, error)
	}{
		{sapi.CmdListProcesses, func() (string, error) {
			resp, err := a.SystemCall(ctx, sapi.NewSystemCallRequest(sapi.CmdListProcesses, 0))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d processes", len(resp.Processes)), nil
		}},
		{sapi.CmdSendMessage, func() (string, error) {
			send := sapi.NewSystemCallRequest(sapi.CmdSendMessage, 0).
				WithOperation(sapi.SendMessage{PID: pid, Text: "hello from " + a.Name()})
			if _, err := a.SystemCall(ctx, send); err != nil {
				return "", err
			}
			resp, err := a.SystemCall(ctx, sapi.NewSystemCallRequest(sapi.CmdReceiveMessage, 0).
				WithOperation(sapi.ReceiveMessage{PID: pid}))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("round trip %q", resp.Message), nil
		}},
		{"propose_modification", func() (string, error) {
			p, err := a.ProposeModification(ctx, cms.NewCodeModification(
				"notes/evolve.md",
				fmt.Sprintf("# %s\n\nReached %s.\n", a.Name(), a.Stage()),
				"Record the stage reached by the evolve walkthrough",
			))
			if err != nil {
				return "", err
			}
			return "staged " + p.ID, nil
		}},
		{string(hal.QueryCapabilities), func() (string, error) {
			o, err := a.HardwareOperation(ctx, hal.QueryCapabilities)
			if err != nil {
				return "", err
			}
			return o.Summary, nil
		}},
	}

	for {
		stage := a.Stage()
		for _, at := range attempts {
			result, err := at.run()
			switch {
			case errors.Is(err, gate.ErrPermissionDenied):
				fmt.Fprintf(out, "  [%s] %-22s denied: %v\n", stage, at.name, err)
			case err != nil:
				fmt.Fprintf(out, "  [%s] %-22s failed: %v\n", stage, at.name, err)
			default:
				fmt.Fprintf(out, "  [%s] %-22s ok: %s\n", stage, at.name, result)
			}
		}

		if !a.Evolve(ctx) {
			fmt.Fprintf(out, "evolve: already at %s, no change\n", a.Stage())
			break
		}
		fmt.Fprintf(out, "evolve: %s -> %s\n", stage, a.Stage())
	}

	rt.Drain()

	entries, err := rt.ledger.List(ctx, 0)
	if err != nil {
		rt.logger.Warn("Failed to read ledger.", zap.Error(err))
		return err
	}
	fmt.Fprintf(out, "Ledger: %d events recorded\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "  %s  %-28s %s\n", e.RecordedAt.Format("15:04:05.000"), e.Type, e.Subject)
	}
	return nil
}
