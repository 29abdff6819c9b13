package handlers

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramSurface adapts the Telegram bot API to the wizard's Surface
// contract. The secret-key step prompt carries an inline button that opens
// the secure entry path for the session owner.
type TelegramSurface struct {
	bot *tgbot.Bot
}

// NewTelegramSurface wraps a bot instance as a wizard surface.
func NewTelegramSurface(b *tgbot.Bot) *TelegramSurface {
	return &TelegramSurface{bot: b}
}

func (s *TelegramSurface) Send(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text})
	return err
}

func (s *TelegramSurface) SendKeyPrompt(ctx context.Context, chatID, ownerID int64) error {
	_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "🔑 Step 3/4: Enter the API key for this model.",
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: "🔐 Enter key privately", CallbackData: fmt.Sprintf("%s%d", callbackSecureKeyPrefix, ownerID)},
			}},
		},
	})
	return err
}

func (s *TelegramSurface) SendPrivate(ctx context.Context, userID int64, text string) error {
	// A user's private chat with the bot has the chat id equal to the user id.
	_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: userID, Text: text})
	return err
}

func (s *TelegramSurface) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := s.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: chatID, MessageID: messageID})
	return err
}
