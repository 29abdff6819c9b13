package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
telegram:
  token: "123456:TEST_TOKEN"
  admin_user_ids: [100]
ai:
  token: "sk-or-test"
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultAIBaseURL, cfg.AI.BaseURL)
	assert.Equal(t, DefaultAIModel, cfg.AI.DefaultModel)
	assert.Equal(t, DefaultMirrorPath, cfg.Registry.MirrorPath)
	assert.Equal(t, 5*time.Minute, cfg.Wizard.IdleTimeout)
	assert.Equal(t, DefaultSchedulerTasks, cfg.Scheduler.Tasks)
	assert.Equal(t, DefaultMessages.Welcome, cfg.Messages.Welcome)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
telegram:
  token: "123456:TEST_TOKEN"
  admin_user_ids: [100]
ai:
  token: "sk-or-test"
  default_model: "anthropic/claude-3-haiku"
log:
  level: debug
wizard:
  idle_timeout: 10m
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10*time.Minute, cfg.Wizard.IdleTimeout)
	assert.Equal(t, "anthropic/claude-3-haiku", cfg.AI.DefaultModel)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BOT_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfigValidation(t *testing.T) {
	// Missing telegram token.
	_, err := LoadConfig(writeConfig(t, `
telegram:
  admin_user_ids: [100]
ai:
  token: "sk-or-test"
`))
	assert.Error(t, err)

	// Default model without the provider/name delimiter.
	_, err = LoadConfig(writeConfig(t, `
telegram:
  token: "123456:TEST_TOKEN"
  admin_user_ids: [100]
ai:
  token: "sk-or-test"
  default_model: "gpt4"
`))
	assert.Error(t, err)
}

func TestIsAdminAndAllowList(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{AdminUserIDs: []int64{1}, AllowedUserIDs: []int64{2}}}

	assert.True(t, cfg.IsAdmin(1))
	assert.False(t, cfg.IsAdmin(2))

	assert.True(t, cfg.IsUserAllowed(1))
	assert.True(t, cfg.IsUserAllowed(2))
	assert.False(t, cfg.IsUserAllowed(3))

	// Without an allow-list, everyone may talk to the bot.
	open := &Config{Telegram: TelegramConfig{AdminUserIDs: []int64{1}}}
	assert.True(t, open.IsUserAllowed(42))
}
