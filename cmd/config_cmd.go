// File: cmd/config_cmd.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/lancelot/internal/config"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			data, err := renderConfig(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// renderConfig marshals cfg with secrets masked.
func renderConfig(cfg config.Interface) ([]byte, error) {
	view := struct {
		Logger  config.LoggerConfig  `yaml:"logger"`
		Agent   config.AgentConfig   `yaml:"agent"`
		Process config.ProcessConfig `yaml:"process"`
		Mailbox config.MailboxConfig `yaml:"mailbox"`
		Applier config.ApplierConfig `yaml:"applier"`
		Ledger  config.LedgerConfig  `yaml:"ledger"`
		Model   config.ModelConfig   `yaml:"model"`
		IPC     config.IPCConfig     `yaml:"ipc"`
		Bus     config.BusConfig     `yaml:"bus"`
	}{
		Logger:  cfg.Logger(),
		Agent:   cfg.Agent(),
		Process: cfg.Process(),
		Mailbox: cfg.Mailbox(),
		Applier: cfg.Applier(),
		Ledger:  cfg.Ledger(),
		Model:   cfg.Model(),
		IPC:     cfg.IPC(),
		Bus:     cfg.Bus(),
	}
	if view.Model.APIKey != "" {
		view.Model.APIKey = "********"
	}
	if view.Ledger.URL != "" {
		view.Ledger.URL = "********"
	}

	data, err := yaml.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}
