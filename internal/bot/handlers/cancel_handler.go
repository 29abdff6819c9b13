package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewCancelHandler returns a handler for the /cancel command, which aborts
// the sender's in-progress model setup, if any.
func NewCancelHandler(deps HandlerDeps) bot.HandlerFunc {
	return cancelHandler{deps}.Handle
}

type cancelHandler struct {
	deps HandlerDeps
}

func (h cancelHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "cancel")

	if update.Message == nil || update.Message.From == nil {
		return
	}

	userID := update.Message.From.ID
	if h.deps.Wizard.Cancel(ctx, userID) {
		log.InfoContext(ctx, "Cancelled wizard session", "user_id", userID)
		return
	}

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   "Nothing to cancel.",
	}); err != nil {
		log.ErrorContext(ctx, "Failed to send cancel reply", "error", err, "chat_id", update.Message.Chat.ID)
	}
}
