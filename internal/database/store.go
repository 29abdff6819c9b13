package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// UpsertCustomModel inserts or replaces a custom model row keyed by model_id.
	UpsertCustomModel(ctx context.Context, model *CustomModel) error

	// DeleteCustomModel deletes a custom model row by model_id.
	DeleteCustomModel(ctx context.Context, modelID string) error

	// ListCustomModels retrieves all active custom model rows, oldest first.
	ListCustomModels(ctx context.Context) ([]*CustomModel, error)

	// SetCustomModelUsage updates the persisted usage counter for a custom model.
	SetCustomModelUsage(ctx context.Context, modelID string, usageCount int) error

	// LogConversation records one request/response exchange.
	LogConversation(ctx context.Context, entry *ConversationLog) error

	// LogModelUsage records one model invocation.
	LogModelUsage(ctx context.Context, entry *ModelUsageLog) error

	// GetRecentConversations retrieves up to limit recent exchanges for a
	// chat, oldest first.
	GetRecentConversations(ctx context.Context, chatID int64, limit int) ([]*ConversationLog, error)

	// SetPreferredModel records a user's model choice without touching the
	// message counters.
	SetPreferredModel(ctx context.Context, userID int64, username, modelID string) error

	// BumpUserStats increments a user's message/token counters, creating the
	// row if needed.
	BumpUserStats(ctx context.Context, userID int64, username string, tokens int, preferredModel string) error

	// GetUserStats retrieves a user's counters. Returns nil, nil if not found.
	GetUserStats(ctx context.Context, userID int64) (*UserStat, error)

	// RollupSystemStats aggregates the given day's logs into system_stats.
	RollupSystemStats(ctx context.Context, day time.Time) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertCustomModel inserts or replaces a custom model row keyed by model_id.
// Replacing on conflict is the expected outcome, not an error.
func (s *sqlxStore) UpsertCustomModel(ctx context.Context, model *CustomModel) error {
	if model == nil {
		return fmt.Errorf("cannot save nil custom model")
	}
	if model.ModelID == "" {
		return fmt.Errorf("custom model must have a non-empty model_id")
	}
	if model.DisplayName == "" {
		return fmt.Errorf("custom model must have a non-empty display_name")
	}

	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now

	query := `
        INSERT INTO custom_models (model_id, display_name, api_key, description, added_by, is_active, usage_count, created_at, updated_at)
        VALUES (:model_id, :display_name, :api_key, :description, :added_by, :is_active, :usage_count, :created_at, :updated_at)
        ON CONFLICT(model_id) DO UPDATE SET
            display_name = excluded.display_name,
            api_key      = excluded.api_key,
            description  = excluded.description,
            added_by     = excluded.added_by,
            is_active    = excluded.is_active,
            usage_count  = excluded.usage_count,
            updated_at   = excluded.updated_at;
    `

	if _, err := s.db.NamedExecContext(ctx, query, model); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting custom model", "model_id", model.ModelID, "error", err)
		return fmt.Errorf("failed to upsert custom model %q: %w", model.ModelID, err)
	}

	s.logger.DebugContext(ctx, "Custom model upserted successfully", "model_id", model.ModelID)
	return nil
}

// DeleteCustomModel deletes a custom model row by model_id.
func (s *sqlxStore) DeleteCustomModel(ctx context.Context, modelID string) error {
	if modelID == "" {
		return fmt.Errorf("model_id cannot be empty")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM custom_models WHERE model_id = ?`, modelID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting custom model", "model_id", modelID, "error", err)
		return fmt.Errorf("failed to delete custom model %q: %w", modelID, err)
	}

	affected, _ := result.RowsAffected()
	s.logger.DebugContext(ctx, "Custom model delete executed", "model_id", modelID, "affected", affected)
	return nil
}

// ListCustomModels retrieves all active custom model rows, oldest first.
// Insertion order matters to callers rendering selection menus.
func (s *sqlxStore) ListCustomModels(ctx context.Context) ([]*CustomModel, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var rows []*CustomModel
	query := `
        SELECT id, model_id, display_name, api_key, description, added_by, is_active, usage_count, created_at, updated_at
        FROM custom_models
        WHERE is_active = TRUE
        ORDER BY id ASC;
    `

	err := s.db.SelectContext(ctx, &rows, query)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while listing custom models", "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing custom models", "error", err)
		return nil, fmt.Errorf("failed to list custom models: %w", err)
	}

	s.logger.DebugContext(ctx, "Listed custom models successfully", "count", len(rows))
	return rows, nil
}

// SetCustomModelUsage updates the persisted usage counter for a custom model.
func (s *sqlxStore) SetCustomModelUsage(ctx context.Context, modelID string, usageCount int) error {
	if modelID == "" {
		return fmt.Errorf("model_id cannot be empty")
	}

	query := `UPDATE custom_models SET usage_count = ?, updated_at = ? WHERE model_id = ?`
	if _, err := s.db.ExecContext(ctx, query, usageCount, time.Now().UTC(), modelID); err != nil {
		s.logger.ErrorContext(ctx, "Error updating custom model usage", "model_id", modelID, "error", err)
		return fmt.Errorf("failed to update usage for custom model %q: %w", modelID, err)
	}
	return nil
}

// LogConversation records one request/response exchange.
func (s *sqlxStore) LogConversation(ctx context.Context, entry *ConversationLog) error {
	if entry == nil {
		return fmt.Errorf("cannot log nil conversation entry")
	}
	if entry.UserID == 0 {
		return fmt.Errorf("conversation entry must have a non-zero user_id")
	}

	entry.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO conversation_logs (user_id, chat_id, message_content, response_content, model_used, tokens_used, created_at)
        VALUES (:user_id, :chat_id, :message_content, :response_content, :model_used, :tokens_used, :created_at);
    `

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		s.logger.ErrorContext(ctx, "Error logging conversation", "user_id", entry.UserID, "chat_id", entry.ChatID, "error", err)
		return fmt.Errorf("failed to log conversation (chat %d, user %d): %w", entry.ChatID, entry.UserID, err)
	}
	return nil
}

// LogModelUsage records one model invocation.
func (s *sqlxStore) LogModelUsage(ctx context.Context, entry *ModelUsageLog) error {
	if entry == nil {
		return fmt.Errorf("cannot log nil model usage entry")
	}
	if entry.ModelID == "" {
		return fmt.Errorf("model usage entry must have a non-empty model_id")
	}

	entry.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO model_usage_logs (model_id, user_id, tokens_used, success, error_message, created_at)
        VALUES (:model_id, :user_id, :tokens_used, :success, :error_message, :created_at);
    `

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		s.logger.ErrorContext(ctx, "Error logging model usage", "model_id", entry.ModelID, "user_id", entry.UserID, "error", err)
		return fmt.Errorf("failed to log usage for model %q: %w", entry.ModelID, err)
	}
	return nil
}

// GetRecentConversations retrieves up to limit recent exchanges for a chat,
// oldest first. The newest rows win; ordering is restored after the limit cut.
func (s *sqlxStore) GetRecentConversations(ctx context.Context, chatID int64, limit int) ([]*ConversationLog, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}
	if limit <= 0 {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var rows []*ConversationLog
	query := `
        SELECT id, user_id, chat_id, message_content, response_content, model_used, tokens_used, created_at
        FROM (
            SELECT id, user_id, chat_id, message_content, response_content, model_used, tokens_used, created_at
            FROM conversation_logs
            WHERE chat_id = ?
            ORDER BY id DESC
            LIMIT ?
        )
        ORDER BY id ASC;
    `

	err := s.db.SelectContext(ctx, &rows, query, chatID, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching conversations", "chat_id", chatID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent conversations", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get conversations for chat %d: %w", chatID, err)
	}

	return rows, nil
}

// SetPreferredModel records a user's model choice without touching the
// message counters.
func (s *sqlxStore) SetPreferredModel(ctx context.Context, userID int64, username, modelID string) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}
	if modelID == "" {
		return fmt.Errorf("model_id cannot be empty")
	}

	now := time.Now().UTC()
	query := `
        INSERT INTO user_stats (user_id, username, total_messages, tokens_used, preferred_model, last_active, created_at, updated_at)
        VALUES (?, ?, 0, 0, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            preferred_model = excluded.preferred_model,
            updated_at      = excluded.updated_at;
    `

	if _, err := s.db.ExecContext(ctx, query, userID, username, modelID, now, now, now); err != nil {
		s.logger.ErrorContext(ctx, "Error setting preferred model", "user_id", userID, "model_id", modelID, "error", err)
		return fmt.Errorf("failed to set preferred model for user %d: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "Preferred model updated", "user_id", userID, "model_id", modelID)
	return nil
}

// BumpUserStats increments a user's message/token counters, creating the row
// if needed. preferredModel overwrites the stored value only when non-empty.
func (s *sqlxStore) BumpUserStats(ctx context.Context, userID int64, username string, tokens int, preferredModel string) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for user stats", "user_id", userID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	query := `
        INSERT INTO user_stats (user_id, username, total_messages, tokens_used, preferred_model, last_active, created_at, updated_at)
        VALUES (?, ?, 1, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            username        = excluded.username,
            total_messages  = user_stats.total_messages + 1,
            tokens_used     = user_stats.tokens_used + excluded.tokens_used,
            preferred_model = CASE WHEN excluded.preferred_model != '' THEN excluded.preferred_model ELSE user_stats.preferred_model END,
            last_active     = excluded.last_active,
            updated_at      = excluded.updated_at;
    `

	if _, err := tx.ExecContext(ctx, query, userID, username, tokens, preferredModel, now, now, now); err != nil {
		s.logger.ErrorContext(ctx, "Error bumping user stats", "user_id", userID, "error", err)
		return fmt.Errorf("failed to bump stats for user %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit user stats transaction", "user_id", userID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	return nil
}

// GetUserStats retrieves a user's counters. Returns nil, nil if not found.
func (s *sqlxStore) GetUserStats(ctx context.Context, userID int64) (*UserStat, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var stat UserStat
	query := `
        SELECT user_id, username, total_messages, tokens_used, preferred_model, last_active, created_at, updated_at
        FROM user_stats WHERE user_id = ?;
    `

	err := s.db.GetContext(ctx, &stat, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user stats found", "user_id", userID)
		return nil, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching user stats", "user_id", userID, "error", err)
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user stats", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get stats for user %d: %w", userID, err)
	}

	return &stat, nil
}

// RollupSystemStats aggregates the given day's conversation and usage logs
// into a single system_stats row, replacing any previous rollup for that day.
func (s *sqlxStore) RollupSystemStats(ctx context.Context, day time.Time) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	statDate := day.UTC().Format("2006-01-02")
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
        INSERT OR REPLACE INTO system_stats (stat_date, total_messages, active_users, successful_responses, total_errors)
        SELECT
            ?,
            (SELECT COUNT(*) FROM conversation_logs WHERE created_at >= ? AND created_at < ?),
            (SELECT COUNT(DISTINCT user_id) FROM conversation_logs WHERE created_at >= ? AND created_at < ?),
            (SELECT COUNT(*) FROM model_usage_logs WHERE success = TRUE AND created_at >= ? AND created_at < ?),
            (SELECT COUNT(*) FROM model_usage_logs WHERE success = FALSE AND created_at >= ? AND created_at < ?);
    `

	if _, err := s.db.ExecContext(ctx, query,
		statDate,
		dayStart, dayEnd,
		dayStart, dayEnd,
		dayStart, dayEnd,
		dayStart, dayEnd,
	); err != nil {
		s.logger.ErrorContext(ctx, "Error rolling up system stats", "stat_date", statDate, "error", err)
		return fmt.Errorf("failed to roll up system stats for %s: %w", statDate, err)
	}

	s.logger.InfoContext(ctx, "System stats rolled up", "stat_date", statDate)
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
