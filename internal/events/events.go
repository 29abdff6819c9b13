// Package events emits audit notifications for administrative actions, such
// as models being added or removed, to a designated Telegram chat.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
)

// Event types for model catalog changes.
const (
	TypeModelAdded      = "model_added"
	TypeModelRemoved    = "model_removed"
	TypeDefaultChanged  = "default_changed"
	TypeWizardCancelled = "wizard_cancelled"
)

// Logger records administrative audit events. The subject is the affected
// model's display name; identifiers and other specifics go into details.
// Implementations must never fail the calling operation: delivery problems
// are logged and swallowed.
type Logger interface {
	ModelEvent(ctx context.Context, eventType, actor, subject, details string)
}

// telegramLogger posts audit events to a configured chat.
type telegramLogger struct {
	bot    *bot.Bot
	chatID int64
	log    *slog.Logger
}

// NewTelegramLogger returns a Logger posting to chatID. If chatID is zero,
// auditing is disabled and a no-op Logger is returned.
func NewTelegramLogger(b *bot.Bot, chatID int64, log *slog.Logger) Logger {
	if chatID == 0 {
		log.Info("Audit chat not configured, audit events disabled")
		return nopLogger{}
	}
	return &telegramLogger{
		bot:    b,
		chatID: chatID,
		log:    log.With("component", "audit"),
	}
}

func (l *telegramLogger) ModelEvent(ctx context.Context, eventType, actor, subject, details string) {
	text := fmt.Sprintf(
		"📋 %s\nModel: %s\nBy: %s\nAt: %s",
		eventTitle(eventType), subject, actor, time.Now().UTC().Format(time.RFC3339),
	)
	if details != "" {
		text += "\n" + details
	}

	if _, err := l.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: l.chatID, Text: text}); err != nil {
		l.log.WarnContext(ctx, "Failed to deliver audit event",
			"event_type", eventType, "subject", subject, "error", err)
		return
	}

	l.log.DebugContext(ctx, "Audit event delivered", "event_type", eventType, "subject", subject, "actor", actor)
}

func eventTitle(eventType string) string {
	switch eventType {
	case TypeModelAdded:
		return "Model added"
	case TypeModelRemoved:
		return "Model removed"
	case TypeDefaultChanged:
		return "Default model changed"
	case TypeWizardCancelled:
		return "Model wizard cancelled"
	default:
		return eventType
	}
}

// nopLogger discards all events.
type nopLogger struct{}

func (nopLogger) ModelEvent(context.Context, string, string, string, string) {}

// NewNopLogger returns a Logger that discards all events.
func NewNopLogger() Logger { return nopLogger{} }
