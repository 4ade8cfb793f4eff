// Package config loads the gateway configuration: a YAML file overlaid
// with IRONCLAW_* environment variables. Validation is strict about
// enabled channels: running with a half-configured channel is worse
// than refusing to start.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ferrovax/ironclaw/pkg/channels"
)

// TelegramChannel enables the Telegram adapter.
type TelegramChannel struct {
	Enabled                  bool `yaml:"enabled" env:"IRONCLAW_TELEGRAM_ENABLED"`
	channels.TelegramConfig `yaml:",inline"`
}

// DiscordChannel enables the Discord adapter.
type DiscordChannel struct {
	Enabled                 bool `yaml:"enabled" env:"IRONCLAW_DISCORD_ENABLED"`
	channels.DiscordConfig `yaml:",inline"`
}

// SlackChannel enables the Slack adapter.
type SlackChannel struct {
	Enabled               bool `yaml:"enabled" env:"IRONCLAW_SLACK_ENABLED"`
	channels.SlackConfig `yaml:",inline"`
}

// WhatsAppChannel enables the WhatsApp bridge adapter.
type WhatsAppChannel struct {
	Enabled                  bool `yaml:"enabled" env:"IRONCLAW_WHATSAPP_ENABLED"`
	channels.WhatsAppConfig `yaml:",inline"`
}

// CLIChannel enables the local terminal channel.
type CLIChannel struct {
	Enabled bool `yaml:"enabled" env:"IRONCLAW_CLI_ENABLED"`
}

// Channels groups all platform bindings.
type Channels struct {
	Telegram TelegramChannel `yaml:"telegram"`
	Discord  DiscordChannel  `yaml:"discord"`
	Slack    SlackChannel    `yaml:"slack"`
	WhatsApp WhatsAppChannel `yaml:"whatsapp"`
	CLI      CLIChannel      `yaml:"cli"`
}

// Session tunes the conversation window and history chunking.
type Session struct {
	WindowSize    int   `yaml:"window_size" env:"IRONCLAW_SESSION_WINDOW"`
	ChunkMaxBytes int64 `yaml:"chunk_max_bytes" env:"IRONCLAW_SESSION_CHUNK_BYTES"`
}

// Retry bounds the two retry loops.
type Retry struct {
	AgentMaxAttempts    int `yaml:"agent_max_attempts" env:"IRONCLAW_AGENT_MAX_ATTEMPTS"`
	DeliveryMaxAttempts int `yaml:"delivery_max_attempts" env:"IRONCLAW_DELIVERY_MAX_ATTEMPTS"`
}

// Config is the root gateway configuration.
type Config struct {
	StateDir     string        `yaml:"state_dir" env:"IRONCLAW_STATE_DIR"`
	CronDir      string        `yaml:"cron_dir" env:"IRONCLAW_CRON_DIR"`
	DefaultAgent string        `yaml:"default_agent" env:"IRONCLAW_DEFAULT_AGENT"`
	LogLevel     string        `yaml:"log_level" env:"IRONCLAW_LOG_LEVEL"`
	LogJSON      bool          `yaml:"log_json" env:"IRONCLAW_LOG_JSON"`
	CronTick     time.Duration `yaml:"cron_tick" env:"IRONCLAW_CRON_TICK"`

	Session  Session  `yaml:"session"`
	Retry    Retry    `yaml:"retry"`
	Channels Channels `yaml:"channels"`
}

// Default returns the baseline configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".ironclaw")
	return &Config{
		StateDir:     base,
		CronDir:      filepath.Join(base, "cron"),
		DefaultAgent: "default",
		LogLevel:     "info",
		Channels:     Channels{CLI: CLIChannel{Enabled: true}},
	}
}

// Load reads the YAML file at path (missing file means defaults), then
// applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on configurations that cannot run correctly.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must be set")
	}
	if c.DefaultAgent == "" {
		return fmt.Errorf("default_agent must be set")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram enabled without token")
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		return fmt.Errorf("discord enabled without token")
	}
	if c.Channels.Slack.Enabled {
		if c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "" {
			return fmt.Errorf("slack enabled without bot_token and app_token")
		}
	}
	if c.Channels.WhatsApp.Enabled && c.Channels.WhatsApp.BridgeURL == "" {
		return fmt.Errorf("whatsapp enabled without bridge_url")
	}
	return nil
}

// OutboxDir, HistoryDir, and IdentityPath locate durable state.
func (c *Config) OutboxDir() string { return filepath.Join(c.StateDir, "outbox") }

func (c *Config) HistoryDir() string { return filepath.Join(c.StateDir, "sessions") }

func (c *Config) IdentityPath() string { return filepath.Join(c.StateDir, "identities.db") }
