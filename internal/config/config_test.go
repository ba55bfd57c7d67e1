// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "lancelot", cfg.Logger().ServiceName)
	assert.Equal(t, "lancelot", cfg.Agent().Name)
	assert.Equal(t, "advanced", cfg.Agent().TargetStage)
	assert.Equal(t, "/proc", cfg.Process().ProcMount)
	assert.Equal(t, 8, cfg.Process().Concurrency)
	assert.False(t, cfg.Applier().Enabled)
	assert.Equal(t, "memory", cfg.Ledger().Type)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model().Model)
	assert.Equal(t, 60*time.Second, cfg.Model().Timeout)
	assert.Equal(t, 50.0, cfg.IPC().FollowRate)
	assert.Equal(t, 64, cfg.Bus().BufferSize)

	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		noName := *cfg
		noName.AgentCfg.Name = "  "
		err := noName.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agent.name is a required configuration field")

		badConcurrency := *cfg
		badConcurrency.ProcessCfg.Concurrency = 0
		err = badConcurrency.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "process.concurrency must be a positive integer")

		badBuffer := *cfg
		badBuffer.BusCfg.BufferSize = -1
		err = badBuffer.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bus.buffer_size must not be negative")

		badRate := *cfg
		badRate.IPCCfg.FollowRate = -2
		assert.Error(t, badRate.Validate())
	})

	t.Run("Ledger Validation", func(t *testing.T) {
		assert.NoError(t, (&LedgerConfig{Type: "memory"}).Validate())
		assert.NoError(t, (&LedgerConfig{Type: "postgres", URL: "postgres://u@h/db"}).Validate())

		err := (&LedgerConfig{Type: "postgres"}).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LANCELOT_LEDGER_URL")

		err = (&LedgerConfig{Type: "sqlite"}).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown ledger type")
	})

	t.Run("Applier Validation", func(t *testing.T) {
		valid := ApplierConfig{Enabled: true, RepoRoot: "/tmp/repo", AuthorName: "bot", AuthorEmail: "bot@example.com"}
		assert.NoError(t, valid.Validate())

		disabled := ApplierConfig{}
		assert.NoError(t, disabled.Validate(), "disabled applier config should always be valid")

		noRoot := valid
		noRoot.RepoRoot = ""
		err := noRoot.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "repo_root is required")

		noAuthor := valid
		noAuthor.AuthorEmail = ""
		err = noAuthor.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "author_name and author_email are required")
	})
}

// -- Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
logger:
  level: debug
agent:
  name: percival
  workspace_root: ~/agents/percival
  target_stage: system_access
process:
  concurrency: 2
ledger:
  type: postgres
  url: postgres://lancelot@localhost/ledger
model:
  timeout: 5s
bus:
  buffer_size: 8
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	home, err := homedir.Dir()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "percival", cfg.Agent().Name)
	assert.Equal(t, home+"/agents/percival", cfg.Agent().WorkspaceRoot)
	assert.Equal(t, "system_access", cfg.Agent().TargetStage)
	assert.Equal(t, 2, cfg.Process().Concurrency)
	assert.Equal(t, "postgres", cfg.Ledger().Type)
	assert.Equal(t, 5*time.Second, cfg.Model().Timeout)
	assert.Equal(t, 8, cfg.Bus().BufferSize)
	assert.Equal(t, home+"/.lancelot/mailboxes.json", cfg.Mailbox().StateFile)
	// Untouched keys keep their defaults.
	assert.Equal(t, "/proc", cfg.Process().ProcMount)
}

func TestNewConfigFromViper_EnvOverrides(t *testing.T) {
	t.Setenv("LANCELOT_MODEL_API_KEY", "test-key")
	t.Setenv("LANCELOT_LEDGER_URL", "postgres://env@localhost/ledger")

	v := viper.New()
	SetDefaults(v)
	v.Set("ledger.type", "postgres")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "test-key", cfg.Model().APIKey)
	assert.Equal(t, "postgres://env@localhost/ledger", cfg.Ledger().URL)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("process.concurrency", -1)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSetters(t *testing.T) {
	var cfg Interface = NewDefaultConfig()
	cfg.SetAgentTargetStage("code_modification")
	cfg.SetApplierEnabled(true)
	cfg.SetLedgerType("postgres")

	assert.Equal(t, "code_modification", cfg.Agent().TargetStage)
	assert.True(t, cfg.Applier().Enabled)
	assert.Equal(t, "postgres", cfg.Ledger().Type)
}
