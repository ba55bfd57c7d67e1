// File: cmd/propose.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/lancelot/internal/cms"
	"github.com/xkilldash9x/lancelot/internal/evolution/models"
	"github.com/xkilldash9x/lancelot/internal/model"
)

func newProposeCmd() *cobra.Command {
	var (
		path, content, file, prompt, description string
		apply                                    bool
		timeout                                  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "propose --path <file> (--content <text> | --file <src> | --prompt <text>)",
		Short: "Stage a code modification (requires CodeModification).",
		Long: `propose stages a code modification. With --apply, or applier.enabled set,
the applier writes the file into applier.repo_root, commits it, and the
resolution is printed. With --prompt the content is generated by the model
and the first fenced code block of the answer is staged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, src := range []string{content, file, prompt} {
				if src != "" {
					sources++
				}
			}
			if sources != 1 {
				return fmt.Errorf("exactly one of --content, --file, or --prompt is required")
			}
			if file != "" {
				data, err := afero.ReadFile(newFs(), file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				content = string(data)
			}

			return withRuntime(cmd.Context(), runtimeOptions{withApplier: apply}, func(rt *agentRuntime) error {
				if prompt != "" {
					answer, err := rt.agent.GenerateCode(cmd.Context(), prompt)
					if err != nil {
						return err
					}
					content = model.ExtractCode(answer)
				}
				mod := cms.NewCodeModification(path, content, description)
				waitForResolution := apply || rt.cfg.Applier().Enabled
				return runPropose(cmd.Context(), rt, mod, waitForResolution, timeout, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "target path, relative to the repository root")
	cmd.Flags().StringVar(&content, "content", "", "new file content")
	cmd.Flags().StringVar(&file, "file", "", "read the new content from this file")
	cmd.Flags().StringVar(&prompt, "prompt", "", "generate the new content with the model")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description used as the commit message")
	cmd.Flags().BoolVar(&apply, "apply", false, "commit the modification with the applier")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the applier")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func runPropose(ctx context.Context, rt *agentRuntime, mod cms.CodeModification, wait bool, timeout time.Duration, out io.Writer) error {
	if !wait {
		p, err := rt.agent.ProposeModification(ctx, mod)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Proposed %s: %s (%s)\n", p.ID, p.Modification.Path, p.Status)
		return nil
	}

	// Subscribed before proposing so the resolution cannot be missed. The bus
	// closes msgs on shutdown; until then every message is acknowledged.
	msgs, _ := rt.bus.Subscribe(models.TypeModificationResolved)
	defer func() {
		go func() {
			for msg := range msgs {
				rt.bus.Acknowledge(msg)
			}
		}()
	}()

	p, err := rt.agent.ProposeModification(ctx, mod)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Proposed %s: %s\n", p.ID, p.Modification.Path)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("bus closed before proposal %s resolved", p.ID)
			}
			r, isResolution := msg.Payload.(models.ModificationResolved)
			rt.bus.Acknowledge(msg)
			if !isResolution || r.ProposalID != p.ID {
				continue
			}
			if r.Status != cms.StatusApplied.String() {
				return fmt.Errorf("proposal %s rejected: %s", p.ID, r.Reason)
			}
			if r.Commit == "" {
				fmt.Fprintf(out, "Applied %s (no changes to commit)\n", r.Path)
			} else {
				fmt.Fprintf(out, "Applied %s at commit %s\n", r.Path, r.Commit)
			}
			return nil
		case <-timer.C:
			return fmt.Errorf("timed out after %s waiting for proposal %s to resolve", timeout, p.ID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
