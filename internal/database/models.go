package database

import (
	"database/sql"
	"time"
)

// CustomModel is the relational mirror row for one custom registry entry.
// Builtin models are never written to this table.
type CustomModel struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	ModelID     string `db:"model_id"`
	DisplayName string `db:"display_name"`
	APIKey      string `db:"api_key"`
	Description string `db:"description"`
	AddedBy     string `db:"added_by"`
	IsActive    bool   `db:"is_active"`
	UsageCount  int    `db:"usage_count"`
}

// ConversationLog records one request/response exchange with the AI backend.
type ConversationLog struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	UserID          int64  `db:"user_id"`
	ChatID          int64  `db:"chat_id"`
	MessageContent  string `db:"message_content"`
	ResponseContent string `db:"response_content"`
	ModelUsed       string `db:"model_used"`
	TokensUsed      int    `db:"tokens_used"`
}

// ModelUsageLog records one use (successful or not) of a model.
type ModelUsageLog struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	ModelID      string `db:"model_id"`
	UserID       int64  `db:"user_id"`
	TokensUsed   int    `db:"tokens_used"`
	Success      bool   `db:"success"`
	ErrorMessage string `db:"error_message"`
}

// UserStat accumulates per-user usage counters.
type UserStat struct {
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	Username       string       `db:"username"`
	TotalMessages  int          `db:"total_messages"`
	TokensUsed     int          `db:"tokens_used"`
	PreferredModel string       `db:"preferred_model"`
	LastActive     sql.NullTime `db:"last_active"`
}

// SystemStat is one day's aggregated usage, keyed by date (YYYY-MM-DD).
type SystemStat struct {
	StatDate            string `db:"stat_date"`
	TotalMessages       int    `db:"total_messages"`
	ActiveUsers         int    `db:"active_users"`
	SuccessfulResponses int    `db:"successful_responses"`
	TotalErrors         int    `db:"total_errors"`
}
