// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/config"
	"github.com/xkilldash9x/lancelot/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

const (
	outputText = "text"
	outputJSON = "json"
)

// rootFlags are bound per command tree so each NewRootCommand is independent.
type rootFlags struct {
	cfgFile string
	stage   string
	output  string
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "lancelot",
		Short: "Lancelot is a staged-autonomy agent runtime.",
		Long: `Lancelot runs an agent that earns capabilities in stages:
Initial, SystemAccess, CodeModification, and Advanced. Every process, IPC,
code-modification, and hardware request is checked against the agent's
current stage before it is carried out.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, flags.cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "lancelot"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			if flags.stage != "" {
				cfg.SetAgentTargetStage(flags.stage)
			}
			if flags.output != outputText && flags.output != outputJSON {
				return fmt.Errorf("unsupported output format %q", flags.output)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting lancelot", zap.String("version", Version))

			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().StringVar(&flags.stage, "stage", "", "stage to evolve the agent to before acting (overrides agent.target_stage)")
	cmd.PersistentFlags().StringVarP(&flags.output, "output", "o", outputText, "output format: text or json")
	cmd.SetVersionTemplate(`{{printf "lancelot version %s\n" .Version}}`)

	cmd.AddCommand(
		newEvolveCmd(),
		newPsCmd(),
		newIPCCmd(),
		newProposeCmd(),
		newHwCmd(),
		newGenerateCmd(),
		newLedgerCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree with ctx and logs any failure.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		observability.GetLogger().Debug("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and LANCELOT_* environment variables.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("LANCELOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}

func outputFormat(cmd *cobra.Command) string {
	f, err := cmd.Flags().GetString("output")
	if err != nil || f == "" {
		return outputText
	}
	return f
}
