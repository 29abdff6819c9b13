package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LoadConfig loads and validates configuration from, in increasing priority:
// default values, the YAML file at configPath, and BOT_* environment
// variables (e.g. BOT_TELEGRAM_TOKEN).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine: defaults plus environment variables
	// can form a complete configuration.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.Scheduler.Tasks) == 0 {
		cfg.Scheduler.Tasks = DefaultSchedulerTasks
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("ai.base_url", DefaultAIBaseURL)
	v.SetDefault("ai.default_model", DefaultAIModel)
	v.SetDefault("ai.temperature", DefaultAITemperature)
	v.SetDefault("ai.max_tokens", DefaultAIMaxTokens)
	v.SetDefault("ai.timeout", DefaultAITimeout)
	v.SetDefault("ai.max_retries", DefaultAIMaxRetries)
	v.SetDefault("ai.retry_delay", DefaultAIRetryDelay)
	v.SetDefault("ai.max_history", DefaultAIMaxHistory)
	v.SetDefault("ai.instruction", DefaultAIInstruction)

	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("registry.mirror_path", DefaultMirrorPath)
	v.SetDefault("registry.settings_path", DefaultSettingsPath)
	v.SetDefault("wizard.idle_timeout", DefaultWizardIdleExpiry)

	v.SetDefault("messages.welcome", DefaultMessages.Welcome)
	v.SetDefault("messages.not_authorized", DefaultMessages.NotAuthorized)
	v.SetDefault("messages.general_error", DefaultMessages.GeneralError)
	v.SetDefault("messages.timeout", DefaultMessages.Timeout)
	v.SetDefault("messages.empty_prompt", DefaultMessages.EmptyPrompt)
}
