// File: cmd/ps.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/lancelot/internal/sapi"
)

func newPsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "Inspect OS processes through the agent (requires SystemAccess).",
	}
	cmd.AddCommand(newPsListCmd(), newPsFilterCmd(), newPsSearchCmd(), newPsMonitorCmd())
	return cmd
}

func newPsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every process, ordered by pid.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystemCall(cmd, sapi.NewSystemCallRequest(sapi.CmdListProcesses, 0))
		},
	}
}

func newPsFilterCmd() *cobra.Command {
	var (
		minCPU     float64
		minMemory  uint64
		name       string
		status     string
		minRunTime time.Duration
	)
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Keep processes matching every given predicate.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f sapi.ProcessFilter
			flags := cmd.Flags()
			if flags.Changed("min-cpu") {
				f.MinCPU = &minCPU
			}
			if flags.Changed("min-memory") {
				f.MinMemory = &minMemory
			}
			if flags.Changed("name") {
				f.NamePattern = &name
			}
			if flags.Changed("status") {
				f.Status = &status
			}
			if flags.Changed("min-runtime") {
				f.MinRunTime = &minRunTime
			}
			req := sapi.NewSystemCallRequest(sapi.CmdFilterProcess, 0).
				WithOperation(sapi.FilterProcesses{Filter: f})
			return runSystemCall(cmd, req)
		},
	}
	cmd.Flags().Float64Var(&minCPU, "min-cpu", 0, "minimum CPU percent")
	cmd.Flags().Uint64Var(&minMemory, "min-memory", 0, "minimum resident memory in bytes")
	cmd.Flags().StringVar(&name, "name", "", "case-insensitive name substring")
	cmd.Flags().StringVar(&status, "status", "", "process status, e.g. running or sleeping")
	cmd.Flags().DurationVar(&minRunTime, "min-runtime", 0, "minimum running time")
	return cmd
}

func newPsSearchCmd() *cobra.Command {
	var (
		name, command, user string
		maxResults          int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search processes by name, command line, and user substrings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var c sapi.SearchCriteria
			flags := cmd.Flags()
			if flags.Changed("name") {
				c.NameContains = &name
			}
			if flags.Changed("command") {
				c.CommandContains = &command
			}
			if flags.Changed("user") {
				c.UserName = &user
			}
			if flags.Changed("max") {
				c.MaxResults = &maxResults
			}
			req := sapi.NewSystemCallRequest(sapi.CmdSearchProcess, 0).
				WithOperation(sapi.SearchProcesses{Criteria: c})
			return runSystemCall(cmd, req)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name substring")
	cmd.Flags().StringVar(&command, "command", "", "command line substring")
	cmd.Flags().StringVar(&user, "user", "", "user name substring")
	cmd.Flags().IntVar(&maxResults, "max", 0, "maximum number of results")
	return cmd
}

func newPsMonitorCmd() *cobra.Command {
	var (
		samples  int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "monitor <pid|name>",
		Short: "Sample one process, by pid or exact name.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if samples < 1 {
				return fmt.Errorf("--samples must be at least 1")
			}
			req := sapi.NewSystemCallRequest(sapi.CmdMonitorProcess, 0).
				WithOperation(sapi.MonitorProcess{Target: args[0]})

			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *agentRuntime) error {
				return monitor(cmd.Context(), rt, req, samples, interval, outputFormat(cmd), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVar(&samples, "samples", 1, "number of samples to take")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "delay between samples")
	return cmd
}

func monitor(ctx context.Context, rt *agentRuntime, req sapi.SystemCallRequest, samples int, interval time.Duration, format string, out io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < samples; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		resp, err := rt.agent.SystemCall(ctx, req)
		if err != nil {
			return err
		}
		if err := writeResponse(out, resp, format); err != nil {
			return err
		}
	}
	return nil
}

// runSystemCall dispatches req through an agent at the target stage.
func runSystemCall(cmd *cobra.Command, req sapi.SystemCallRequest) error {
	return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *agentRuntime) error {
		resp, err := rt.agent.SystemCall(cmd.Context(), req)
		if err != nil {
			return err
		}
		return writeResponse(cmd.OutOrStdout(), resp, outputFormat(cmd))
	})
}

func writeResponse(out io.Writer, resp sapi.Response, format string) error {
	if format == outputJSON {
		data, err := resp.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	_, err := fmt.Fprintln(out, resp.String())
	return err
}
