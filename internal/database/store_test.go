package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestStore(t *testing.T) Store {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })

	return NewStore(db, testLogger)
}

func TestUpsertCustomModelReplacesOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertCustomModel(ctx, &CustomModel{
		ModelID:     "openai/test-model",
		DisplayName: "First",
		IsActive:    true,
	}))
	require.NoError(t, store.UpsertCustomModel(ctx, &CustomModel{
		ModelID:     "openai/test-model",
		DisplayName: "Second",
		APIKey:      "sk-test",
		IsActive:    true,
	}))

	rows, err := store.ListCustomModels(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Second", rows[0].DisplayName)
	assert.Equal(t, "sk-test", rows[0].APIKey)
}

func TestUpsertCustomModelValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.UpsertCustomModel(ctx, nil))
	assert.Error(t, store.UpsertCustomModel(ctx, &CustomModel{DisplayName: "No ID"}))
	assert.Error(t, store.UpsertCustomModel(ctx, &CustomModel{ModelID: "openai/x"}))
}

func TestListCustomModelsOrderAndActiveFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, m := range []*CustomModel{
		{ModelID: "a/one", DisplayName: "One", IsActive: true},
		{ModelID: "b/two", DisplayName: "Two", IsActive: false},
		{ModelID: "c/three", DisplayName: "Three", IsActive: true},
	} {
		require.NoError(t, store.UpsertCustomModel(ctx, m))
	}

	rows, err := store.ListCustomModels(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a/one", rows[0].ModelID)
	assert.Equal(t, "c/three", rows[1].ModelID)
}

func TestDeleteCustomModel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertCustomModel(ctx, &CustomModel{ModelID: "a/one", DisplayName: "One", IsActive: true}))
	require.NoError(t, store.DeleteCustomModel(ctx, "a/one"))

	rows, err := store.ListCustomModels(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Deleting an absent row is not an error.
	assert.NoError(t, store.DeleteCustomModel(ctx, "a/one"))
}

func TestGetRecentConversations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.LogConversation(ctx, &ConversationLog{
			UserID:          7,
			ChatID:          -100,
			MessageContent:  "question",
			ResponseContent: "answer",
			ModelUsed:       "openai/gpt-4o-mini",
		}))
	}
	require.NoError(t, store.LogConversation(ctx, &ConversationLog{
		UserID: 7, ChatID: -200, MessageContent: "other chat", ResponseContent: "x",
	}))

	rows, err := store.GetRecentConversations(ctx, -100, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Oldest first within the window.
	assert.Less(t, rows[0].ID, rows[2].ID)
	for _, row := range rows {
		assert.Equal(t, int64(-100), row.ChatID)
	}
}

func TestBumpUserStatsCreatesAndIncrements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BumpUserStats(ctx, 7, "alice", 100, "openai/gpt-4o-mini"))
	require.NoError(t, store.BumpUserStats(ctx, 7, "alice", 50, ""))

	stats, err := store.GetUserStats(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 150, stats.TokensUsed)
	// An empty preferred model on a later bump keeps the stored value.
	assert.Equal(t, "openai/gpt-4o-mini", stats.PreferredModel)
}

func TestGetUserStatsNotFound(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.GetUserStats(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestSetPreferredModelDoesNotTouchCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BumpUserStats(ctx, 7, "alice", 10, ""))
	require.NoError(t, store.SetPreferredModel(ctx, 7, "alice", "meta/llama-3-70b"))

	stats, err := store.GetUserStats(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, "meta/llama-3-70b", stats.PreferredModel)

	// Also creates the row for users without prior stats.
	require.NoError(t, store.SetPreferredModel(ctx, 8, "bob", "openai/gpt-4o-mini"))
	created, err := store.GetUserStats(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Zero(t, created.TotalMessages)
}

func TestRollupSystemStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.LogConversation(ctx, &ConversationLog{UserID: 1, ChatID: -1, MessageContent: "a", ResponseContent: "b"}))
	require.NoError(t, store.LogConversation(ctx, &ConversationLog{UserID: 2, ChatID: -1, MessageContent: "c", ResponseContent: "d"}))
	require.NoError(t, store.LogModelUsage(ctx, &ModelUsageLog{ModelID: "openai/x", UserID: 1, Success: true}))
	require.NoError(t, store.LogModelUsage(ctx, &ModelUsageLog{ModelID: "openai/x", UserID: 2, Success: false, ErrorMessage: "boom"}))

	require.NoError(t, store.RollupSystemStats(ctx, time.Now().UTC()))
	// Replacing the same day's rollup must not error.
	require.NoError(t, store.RollupSystemStats(ctx, time.Now().UTC()))
}

func TestSetCustomModelUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertCustomModel(ctx, &CustomModel{ModelID: "a/one", DisplayName: "One", IsActive: true}))
	require.NoError(t, store.SetCustomModelUsage(ctx, "a/one", 7))

	rows, err := store.ListCustomModels(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 7, rows[0].UsageCount)
}

func TestRunSQLMaintenance(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.RunSQLMaintenance(context.Background()))
}
