// Package config provides configuration loading, validation, and management
// for the RouterBot application. It handles reading from YAML files and
// BOT_* environment variables, setting default values, and validating
// configuration parameters.
package config

import (
	"time"

	"github.com/go-telegram/bot/models"
)

// Config defines the application configuration parameters for all components
// of the RouterBot system.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	AI        AIConfig        `mapstructure:"ai"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Wizard    WizardConfig    `mapstructure:"wizard"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds Telegram connection and authorization settings.
type TelegramConfig struct {
	Token          string  `mapstructure:"token"           validate:"required"`
	AdminUserIDs   []int64 `mapstructure:"admin_user_ids"  validate:"required,min=1,dive,gt=0"`
	AllowedUserIDs []int64 `mapstructure:"allowed_user_ids" validate:"dive,gt=0"`
	AuditChatID    int64   `mapstructure:"audit_chat_id"`

	// BotInfo is populated at startup from GetMe and is not read from config.
	BotInfo *models.User `mapstructure:"-"`
}

// AIConfig holds settings for the OpenRouter-compatible inference backend.
type AIConfig struct {
	Token        string        `mapstructure:"token"         validate:"required"`
	BaseURL      string        `mapstructure:"base_url"      validate:"required,url"`
	DefaultModel string        `mapstructure:"default_model" validate:"required,contains=/"`
	Temperature  float32       `mapstructure:"temperature"   validate:"min=0,max=2"`
	MaxTokens    int           `mapstructure:"max_tokens"    validate:"min=1,max=128000"`
	Timeout      time.Duration `mapstructure:"timeout"       validate:"min=1s,max=10m"`
	MaxRetries   int           `mapstructure:"max_retries"   validate:"min=0,max=5"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"   validate:"min=0,max=1m"`
	Instruction  string        `mapstructure:"instruction"`
	MaxHistory   int           `mapstructure:"max_history"   validate:"min=0,max=200"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// RegistryConfig holds paths for the model registry mirrors.
type RegistryConfig struct {
	MirrorPath   string `mapstructure:"mirror_path"   validate:"required"`
	SettingsPath string `mapstructure:"settings_path" validate:"required"`
}

// WizardConfig controls the add-model wizard behavior.
type WizardConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=1m,max=1h"`
}

// TaskConfig describes one scheduled background task.
type TaskConfig struct {
	Schedule string `mapstructure:"schedule"`
	Enabled  bool   `mapstructure:"enabled"`
}

// SchedulerConfig holds the scheduled task table, keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// MessagesConfig holds user-visible message templates.
type MessagesConfig struct {
	Welcome       string `mapstructure:"welcome"         validate:"required"`
	NotAuthorized string `mapstructure:"not_authorized"  validate:"required"`
	GeneralError  string `mapstructure:"general_error"   validate:"required"`
	Timeout       string `mapstructure:"timeout"         validate:"required"`
	EmptyPrompt   string `mapstructure:"empty_prompt"    validate:"required"`
}

// IsAdmin reports whether the given user is one of the configured administrators.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsUserAllowed reports whether the given user may talk to the bot.
// Admins are always allowed. If an allowed-users list is configured, only
// listed users pass; otherwise everyone does.
func (c *Config) IsUserAllowed(userID int64) bool {
	if c.IsAdmin(userID) {
		return true
	}
	if len(c.Telegram.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range c.Telegram.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
