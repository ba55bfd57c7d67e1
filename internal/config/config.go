// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Process() ProcessConfig
	Mailbox() MailboxConfig
	Applier() ApplierConfig
	Ledger() LedgerConfig
	Model() ModelConfig
	IPC() IPCConfig
	Bus() BusConfig

	SetAgentTargetStage(string)
	SetApplierEnabled(bool)
	SetLedgerType(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	AgentCfg   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	ProcessCfg ProcessConfig `mapstructure:"process" yaml:"process"`
	MailboxCfg MailboxConfig `mapstructure:"mailbox" yaml:"mailbox"`
	ApplierCfg ApplierConfig `mapstructure:"applier" yaml:"applier"`
	LedgerCfg  LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	ModelCfg   ModelConfig   `mapstructure:"model" yaml:"model"`
	IPCCfg     IPCConfig     `mapstructure:"ipc" yaml:"ipc"`
	BusCfg     BusConfig     `mapstructure:"bus" yaml:"bus"`
}

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig     { return c.AgentCfg }
func (c *Config) Process() ProcessConfig { return c.ProcessCfg }
func (c *Config) Mailbox() MailboxConfig { return c.MailboxCfg }
func (c *Config) Applier() ApplierConfig { return c.ApplierCfg }
func (c *Config) Ledger() LedgerConfig   { return c.LedgerCfg }
func (c *Config) Model() ModelConfig     { return c.ModelCfg }
func (c *Config) IPC() IPCConfig         { return c.IPCCfg }
func (c *Config) Bus() BusConfig         { return c.BusCfg }

func (c *Config) SetAgentTargetStage(s string) { c.AgentCfg.TargetStage = s }
func (c *Config) SetApplierEnabled(b bool)     { c.ApplierCfg.Enabled = b }
func (c *Config) SetLedgerType(t string)       { c.LedgerCfg.Type = t }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig names the agent and scopes its workspace listing.
type AgentConfig struct {
	Name          string `mapstructure:"name" yaml:"name"`
	WorkspaceRoot string `mapstructure:"workspace_root" yaml:"workspace_root"`
	// TargetStage is the stage CLI commands evolve the agent to before acting.
	TargetStage string `mapstructure:"target_stage" yaml:"target_stage"`
}

// ProcessConfig configures the procfs-backed process source.
type ProcessConfig struct {
	ProcMount   string `mapstructure:"proc_mount" yaml:"proc_mount"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// MailboxConfig configures local message delivery.
type MailboxConfig struct {
	// StateFile carries mailbox contents between CLI invocations.
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
	// Inbox is the feed file `ipc follow` tails when no path is given.
	Inbox string `mapstructure:"inbox" yaml:"inbox"`
}

// ApplierConfig controls whether staged modifications are committed to a repo.
type ApplierConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	RepoRoot      string `mapstructure:"repo_root" yaml:"repo_root"`
	AuthorName    string `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail   string `mapstructure:"author_email" yaml:"author_email"`
	InitIfMissing bool   `mapstructure:"init_if_missing" yaml:"init_if_missing"`
}

// LedgerConfig selects where bus events are recorded.
type LedgerConfig struct {
	// Type is "memory" or "postgres".
	Type string `mapstructure:"type" yaml:"type"`
	URL  string `mapstructure:"url" yaml:"url"`
}

// ModelConfig configures the inference backend.
type ModelConfig struct {
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	Model     string        `mapstructure:"model" yaml:"model"`
	CodeModel string        `mapstructure:"code_model" yaml:"code_model"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// IPCConfig throttles the file-to-mailbox feed.
type IPCConfig struct {
	FollowRate float64 `mapstructure:"follow_rate" yaml:"follow_rate"`
	Burst      int     `mapstructure:"burst" yaml:"burst"`
	Poll       bool    `mapstructure:"poll" yaml:"poll"`
}

// BusConfig sizes the evolution bus.
type BusConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "lancelot")
	v.SetDefault("logger.log_file", "lancelot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.name", "lancelot")
	v.SetDefault("agent.workspace_root", ".")
	v.SetDefault("agent.target_stage", "advanced")

	// -- Process --
	v.SetDefault("process.proc_mount", "/proc")
	v.SetDefault("process.concurrency", 8)

	// -- Mailbox --
	v.SetDefault("mailbox.state_file", "~/.lancelot/mailboxes.json")
	v.SetDefault("mailbox.inbox", "")

	// -- Applier --
	v.SetDefault("applier.enabled", false)
	v.SetDefault("applier.repo_root", ".")
	v.SetDefault("applier.author_name", "lancelot-applier")
	v.SetDefault("applier.author_email", "applier@lancelot.local")
	v.SetDefault("applier.init_if_missing", false)

	// -- Ledger --
	v.SetDefault("ledger.type", "memory")
	v.SetDefault("ledger.url", "")

	// -- Model --
	v.SetDefault("model.model", "gemini-2.5-flash")
	v.SetDefault("model.code_model", "gemini-2.5-pro")
	v.SetDefault("model.timeout", "60s")

	// -- IPC --
	v.SetDefault("ipc.follow_rate", 50.0)
	v.SetDefault("ipc.burst", 10)
	v.SetDefault("ipc.poll", false)

	// -- Bus --
	v.SetDefault("bus.buffer_size", 64)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("model.api_key", "LANCELOT_MODEL_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("ledger.url", "LANCELOT_LEDGER_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.AgentCfg.WorkspaceRoot,
		&c.ApplierCfg.RepoRoot,
		&c.MailboxCfg.StateFile,
		&c.MailboxCfg.Inbox,
		&c.LoggerCfg.LogFile,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AgentCfg.Name) == "" {
		return fmt.Errorf("agent.name is a required configuration field")
	}
	if c.ProcessCfg.Concurrency <= 0 {
		return fmt.Errorf("process.concurrency must be a positive integer")
	}
	if c.MailboxCfg.StateFile == "" {
		return fmt.Errorf("mailbox.state_file is a required configuration field")
	}
	if c.BusCfg.BufferSize < 0 {
		return fmt.Errorf("bus.buffer_size must not be negative")
	}
	if c.IPCCfg.FollowRate < 0 {
		return fmt.Errorf("ipc.follow_rate must not be negative")
	}
	if err := c.LedgerCfg.Validate(); err != nil {
		return fmt.Errorf("ledger configuration invalid: %w", err)
	}
	if err := c.ApplierCfg.Validate(); err != nil {
		return fmt.Errorf("applier configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the ledger selection.
func (l *LedgerConfig) Validate() error {
	switch l.Type {
	case "memory":
		return nil
	case "postgres":
		if l.URL == "" {
			return fmt.Errorf("url is required for the postgres ledger. Ensure LANCELOT_LEDGER_URL is set")
		}
		return nil
	default:
		return fmt.Errorf("unknown ledger type %q", l.Type)
	}
}

// Validate checks the applier settings.
func (a *ApplierConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.RepoRoot == "" {
		return fmt.Errorf("repo_root is required")
	}
	if a.AuthorName == "" || a.AuthorEmail == "" {
		return fmt.Errorf("author_name and author_email are required")
	}
	return nil
}
