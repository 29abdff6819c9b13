package config

import "time"

// Default values for optional configuration parameters.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = true

	DefaultAIBaseURL     = "https://openrouter.ai/api/v1"
	DefaultAIModel       = "openai/gpt-4o-mini"
	DefaultAITemperature = 0.7
	DefaultAIMaxTokens   = 1000
	DefaultAITimeout     = 2 * time.Minute
	DefaultAIMaxRetries  = 2
	DefaultAIRetryDelay  = 2 * time.Second
	DefaultAIMaxHistory  = 20
	DefaultAIInstruction = "You are a helpful assistant focused on providing clear and accurate responses."

	DefaultDBPath           = "storage.db"
	DefaultMirrorPath       = "models.json"
	DefaultSettingsPath     = "settings.json"
	DefaultWizardIdleExpiry = 5 * time.Minute
)

// DefaultMessages are the stock user-visible message templates.
var DefaultMessages = MessagesConfig{
	Welcome:       "👋 Welcome! Send me a message in private chat, or mention me in a group, to start a conversation.",
	NotAuthorized: "🚫 Access denied. Please contact the administrator.",
	GeneralError:  "❌ An error occurred. Please try again later.",
	Timeout:       "⏱️ Request timed out. Please try again later.",
	EmptyPrompt:   "ℹ️ Please provide a message.",
}

// DefaultSchedulerTasks enables the stock background tasks.
var DefaultSchedulerTasks = map[string]TaskConfig{
	"sql_maintenance": {Schedule: "0 0 4 * * *", Enabled: true},
	"stats_rollup":    {Schedule: "0 55 23 * * *", Enabled: true},
	"session_sweep":   {Schedule: "0 * * * * *", Enabled: true},
}
