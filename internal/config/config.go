// Package config provides YAML-based configuration loading for aim-bot.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cooldog631-ai/aim-bot/internal/gateway"
	"github.com/cooldog631-ai/aim-bot/internal/report"
)

// Config is the top-level configuration, loaded from aim.yaml.
type Config struct {
	Platforms PlatformsConfig `yaml:"platforms"`
	AI        AIConfig        `yaml:"ai"`
	Intake    IntakeConfig    `yaml:"intake"`
	Retry     RetryConfig     `yaml:"retry"`
	Database  DatabaseConfig  `yaml:"database"`
	Reminder  ReminderConfig  `yaml:"reminder"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
}

// PlatformsConfig enables chat platforms. A platform is enabled when its
// tokens are set.
type PlatformsConfig struct {
	Discord DiscordConfig `yaml:"discord"`
	Slack   SlackConfig   `yaml:"slack"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// Enabled reports whether Discord is configured.
func (d DiscordConfig) Enabled() bool { return d.BotToken != "" }

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// Enabled reports whether Slack is configured.
func (s SlackConfig) Enabled() bool { return s.AppToken != "" || s.BotToken != "" }

// AIConfig selects the speech-to-text and extraction backends.
type AIConfig struct {
	// Provider is the extraction backend: openai, anthropic or local.
	Provider string `yaml:"provider"`
	// TranscriptionProvider is whisper or google.
	TranscriptionProvider string `yaml:"transcription_provider"`

	OpenAIAPIKey       string `yaml:"openai_api_key"`
	BaseURL            string `yaml:"base_url"`
	ExtractionModel    string `yaml:"extraction_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	JSONMode           bool   `yaml:"json_mode"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	// GoogleCredentials is a service account JSON document or a path to one.
	GoogleCredentials string `yaml:"google_credentials"`

	Language    string  `yaml:"language"`
	Temperature float32 `yaml:"temperature"`
}

// IntakeConfig configures the conversation pipeline.
type IntakeConfig struct {
	RequiredFields    []string `yaml:"required_fields"`
	SessionTimeoutSec int      `yaml:"session_timeout_sec"`
	RetentionSec      int      `yaml:"retention_sec"`
	SweepIntervalSec  int      `yaml:"sweep_interval_sec"`
}

// RetryConfig is the retry policy for AI gateway calls.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms"`
}

// DatabaseConfig selects report storage.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ReminderConfig schedules the daily "send your report" nudge.
type ReminderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	Text    string `yaml:"text"`
}

// APIConfig controls the read-only HTTP API.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig selects the log encoder.
type LogConfig struct {
	Mode string `yaml:"mode"`
}

// Load reads a YAML config file from path and returns a validated Config.
// ${VAR} references are expanded from the environment first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.AI.Provider == "" {
		c.AI.Provider = "openai"
	}
	if c.AI.TranscriptionProvider == "" {
		c.AI.TranscriptionProvider = "whisper"
	}
	if c.AI.ExtractionModel == "" {
		c.AI.ExtractionModel = "gpt-4o-mini"
	}
	if c.AI.TranscriptionModel == "" {
		c.AI.TranscriptionModel = "whisper-1"
	}
	if c.AI.AnthropicModel == "" {
		c.AI.AnthropicModel = "claude-3-5-haiku-latest"
	}
	if c.AI.Provider == "local" && c.AI.BaseURL == "" {
		c.AI.BaseURL = "http://localhost:1234/v1"
	}
	if c.AI.Language == "" {
		c.AI.Language = "ru"
	}
	if len(c.Intake.RequiredFields) == 0 {
		c.Intake.RequiredFields = slices.Clone(report.DefaultFieldNames)
	}
	if c.Intake.SessionTimeoutSec == 0 {
		c.Intake.SessionTimeoutSec = 3600
	}
	if c.Intake.RetentionSec == 0 {
		c.Intake.RetentionSec = 600
	}
	if c.Intake.SweepIntervalSec == 0 {
		c.Intake.SweepIntervalSec = 60
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.TimeoutSec == 0 {
		c.Retry.TimeoutSec = 30
	}
	if c.Retry.BackoffBaseMs == 0 {
		c.Retry.BackoffBaseMs = 500
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2
	}
	if c.Retry.MaxBackoffMs == 0 {
		c.Retry.MaxBackoffMs = 8000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "aim-bot.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "aim_bot"
		}
	}
	if c.Reminder.Cron == "" {
		c.Reminder.Cron = "0 18 * * 1-5"
	}
	if c.Reminder.Text == "" {
		c.Reminder.Text = "Напоминание: отправьте, пожалуйста, голосовой отчёт о работе за сегодня."
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "dev"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !c.Platforms.Discord.Enabled() && !c.Platforms.Slack.Enabled() {
		errs = append(errs, "at least one platform (discord or slack) is required")
	}
	if s := c.Platforms.Slack; s.Enabled() && (s.AppToken == "" || s.BotToken == "") {
		errs = append(errs, "platforms.slack needs both app_token and bot_token")
	}
	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAIAPIKey == "" {
			errs = append(errs, "ai.openai_api_key is required for provider openai")
		}
	case "anthropic":
		if c.AI.AnthropicAPIKey == "" {
			errs = append(errs, "ai.anthropic_api_key is required for provider anthropic")
		}
	case "local":
	default:
		errs = append(errs, fmt.Sprintf("ai.provider %q is not one of openai, anthropic, local", c.AI.Provider))
	}
	switch c.AI.TranscriptionProvider {
	case "whisper":
		if c.AI.OpenAIAPIKey == "" && c.AI.Provider != "local" {
			errs = append(errs, "ai.openai_api_key is required for whisper transcription")
		}
	case "google":
	default:
		errs = append(errs, fmt.Sprintf("ai.transcription_provider %q is not one of whisper, google", c.AI.TranscriptionProvider))
	}
	if _, err := report.NewFieldSet(c.Intake.RequiredFields...); err != nil {
		errs = append(errs, fmt.Sprintf("intake.required_fields: %v", err))
	}
	if c.Intake.SessionTimeoutSec < 0 || c.Intake.RetentionSec < 0 || c.Intake.SweepIntervalSec < 0 {
		errs = append(errs, "intake durations must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql", c.Database.Driver))
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FieldSet returns the required field set. Parse has already validated it.
func (c *Config) FieldSet() report.FieldSet {
	fs, err := report.NewFieldSet(c.Intake.RequiredFields...)
	if err != nil {
		return report.DefaultFieldSet()
	}
	return fs
}

// RetryPolicy converts the retry section into a gateway policy.
func (c *Config) RetryPolicy() gateway.RetryPolicy {
	p := gateway.DefaultRetryPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.Timeout = time.Duration(c.Retry.TimeoutSec) * time.Second
	p.BackoffBase = time.Duration(c.Retry.BackoffBaseMs) * time.Millisecond
	p.Multiplier = c.Retry.BackoffMultiplier
	p.MaxBackoff = time.Duration(c.Retry.MaxBackoffMs) * time.Millisecond
	return p
}

// SessionTimeout is the inactivity limit for an open conversation.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Intake.SessionTimeoutSec) * time.Second
}

// Retention is how long a closed session is kept before it is dropped.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Intake.RetentionSec) * time.Second
}

// SweepInterval is how often expired sessions are collected.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Intake.SweepIntervalSec) * time.Second
}
