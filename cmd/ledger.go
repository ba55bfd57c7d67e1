// File: cmd/ledger.go
package cmd

import (
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/lancelot/internal/observability"
	"github.com/xkilldash9x/lancelot/internal/store"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Read the recorded evolution events.",
	}
	cmd.AddCommand(newLedgerListCmd())
	return cmd
}

func newLedgerListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded events, oldest first. Only the postgres ledger persists.",
		Args:  cobra.NoArgs,
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
			defer rt.Close()

			entries, err := rt.ledger.List(ctx, limit)
			if err != nil {
				return err
			}
			return writeEntries(cmd, entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events (0 for all)")
	return cmd
}

func writeEntries(cmd *cobra.Command, entries []store.Entry) error {
	out := cmd.OutOrStdout()
	if outputFormat(cmd) == outputJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No events recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-28s %-36s %s\n", e.RecordedAt.Format("2006-01-02T15:04:05.000Z07:00"), e.Type, e.Subject, e.Payload)
	}
	return nil
}
