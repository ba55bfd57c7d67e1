// File: cmd/hw.go
package cmd

import (
	"fmt"
	"sort"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/lancelot/internal/hal"
)

func newHwCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "hw <capabilities|memory>",
		Short:     "Query host hardware through the agent (requires Advanced).",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"capabilities", "memory"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var op hal.Operation
			switch args[0] {
			case "capabilities", string(hal.QueryCapabilities):
				op = hal.QueryCapabilities
			case "memory", string(hal.QueryMemory):
				op = hal.QueryMemory
			default:
				return fmt.Errorf("unknown hardware query %q", args[0])
			}

			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *agentRuntime) error {
				outcome, err := rt.agent.HardwareOperation(cmd.Context(), op)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if outputFormat(cmd) == outputJSON {
					data, err := json.MarshalIndent(outcome, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					return nil
				}

				fmt.Fprintln(out, outcome.Summary)
				keys := make([]string, 0, len(outcome.Properties))
				for k := range outcome.Properties {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s: %s\n", k, outcome.Properties[k])
				}
				return nil
			})
		},
	}
}
