// Package handlers contains Telegram bot command, message, and callback
// handlers, along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AdminOnly creates a middleware that restricts a handler to the configured
// administrators. It understands both message and callback-query updates; a
// rejected callback is answered so the control stops spinning.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			log := deps.Logger.With("middleware", "AdminOnly")

			switch {
			case update.Message != nil && update.Message.From != nil:
				userID := update.Message.From.ID
				if deps.Config.IsAdmin(userID) {
					next(ctx, b, update)
					return
				}

				chatID := update.Message.Chat.ID
				log.WarnContext(ctx, "Unauthorized access attempt", "user_id", userID, "chat_id", chatID)
				if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   deps.Config.Messages.NotAuthorized,
				}); err != nil {
					log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", chatID)
				}

			case update.CallbackQuery != nil:
				userID := update.CallbackQuery.From.ID
				if deps.Config.IsAdmin(userID) {
					next(ctx, b, update)
					return
				}

				log.WarnContext(ctx, "Unauthorized callback attempt", "user_id", userID, "data", update.CallbackQuery.Data)
				if _, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
					CallbackQueryID: update.CallbackQuery.ID,
					Text:            deps.Config.Messages.NotAuthorized,
					ShowAlert:       true,
				}); err != nil {
					log.ErrorContext(ctx, "Failed to answer unauthorized callback", "error", err)
				}

			default:
				next(ctx, b, update)
			}
		}
	}
}
