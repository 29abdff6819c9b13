package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatsHandler returns a handler for the /stats command, which reports the
// requesting user's accumulated usage counters.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")

	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID
	log.InfoContext(ctx, "Handling /stats command", "chat_id", chatID, "user_id", userID)

	stats, err := h.deps.Store.GetUserStats(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load user stats", "error", err, "user_id", userID)
		h.reply(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}
	if stats == nil {
		h.reply(ctx, b, chatID, "📊 No usage recorded yet. Send me a message to get started!")
		return
	}

	model := stats.PreferredModel
	if model == "" {
		model = h.deps.Registry.DefaultModel() + " (default)"
	}

	text := fmt.Sprintf(
		"📊 Your statistics\n\nMessages: %d\nTokens used: %d\nModel: %s",
		stats.TotalMessages, stats.TokensUsed, model,
	)
	if stats.LastActive.Valid {
		text += fmt.Sprintf("\nLast active: %s", stats.LastActive.Time.UTC().Format("2006-01-02 15:04 UTC"))
	}
	h.reply(ctx, b, chatID, text)
}

func (h statsHandler) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send stats reply", "error", err, "chat_id", chatID)
	}
}
