// File: cmd/generate.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newGenerateCmd() *cobra.Command {
	var code bool
	cmd := &cobra.Command{
		Use:   "generate <prompt...>",
		Short: "Answer a prompt with the configured model (requires CodeModification).",
		Long: `generate sends a prompt to the model backend configured under model.
The API key is read from model.api_key, LANCELOT_MODEL_API_KEY, or GEMINI_API_KEY.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *agentRuntime) error {
				generate := rt.agent.Generate
				if code {
					generate = rt.agent.GenerateCode
				}
				text, err := generate(cmd.Context(), prompt)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&code, "code", false, "frame the prompt for code output and use model.code_model")
	return cmd
}
