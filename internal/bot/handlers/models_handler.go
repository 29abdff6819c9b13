package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mkhalifa/routerbot/internal/events"
	"github.com/mkhalifa/routerbot/internal/registry"
)

// Callback data layout for the model management controls. Telegram limits
// callback data to 64 bytes, so selections carry a 1-based ordinal into the
// registry's current snapshot rather than the model id itself.
const (
	callbackPrefix          = "mm:"
	callbackAdd             = "mm:add"
	callbackClose           = "mm:close"
	callbackMenuRemove      = "mm:menu:rm"
	callbackMenuDefault     = "mm:menu:def"
	callbackMenuSwitch      = "mm:menu:sw"
	callbackRemovePrefix    = "mm:rm:"
	callbackDefaultPrefix   = "mm:def:"
	callbackSwitchPrefix    = "mm:sw:"
	callbackSecureKeyPrefix = "mm:key:"
)

const staleSelectionMsg = "That menu is out of date. Run /models again."

type modelsHandler struct {
	deps HandlerDeps
}

// NewModelsHandler returns the handler for the /models command, which renders
// the model management dashboard.
func NewModelsHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return modelsHandler{deps}.Handle
}

// NewModelsCallbackHandler returns the handler for all model management
// inline-keyboard callbacks (the "mm:" data namespace).
func NewModelsCallbackHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return modelsHandler{deps}.HandleCallback
}

func (h modelsHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "models")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Models handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Handling /models command", "chat_id", chatID, "user_id", update.Message.From.ID)

	text, keyboard := h.renderDashboard()
	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: keyboard,
	}); err != nil {
		log.ErrorContext(ctx, "Failed to send models dashboard", "error", err, "chat_id", chatID)
	}
}

// renderDashboard builds the dashboard text and its control keyboard. The
// ordinal shown next to each model is display-only, derived from list order.
func (h modelsHandler) renderDashboard() (string, *models.InlineKeyboardMarkup) {
	list := h.deps.Registry.List()
	defaultID := h.deps.Registry.DefaultModel()

	var sb strings.Builder
	sb.WriteString("🤖 Model catalog\n\n")
	for i, d := range list {
		marker := " "
		if d.ID == defaultID {
			marker = "⭐"
		}
		kind := ""
		if d.Kind == registry.KindCustom {
			kind = " (custom)"
		}
		sb.WriteString(fmt.Sprintf("%s %d. %s — %s%s, used %d×\n", marker, i+1, d.DisplayName, d.ID, kind, d.UsageCount))
	}
	if len(list) == 0 {
		sb.WriteString("No models registered.\n")
	}
	sb.WriteString("\n⭐ marks the default model.")

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "➕ Add", CallbackData: callbackAdd},
				{Text: "🗑 Remove", CallbackData: callbackMenuRemove},
			},
			{
				{Text: "⭐ Set default", CallbackData: callbackMenuDefault},
				{Text: "🔄 Switch mine", CallbackData: callbackMenuSwitch},
			},
			{
				{Text: "✖ Close", CallbackData: callbackClose},
			},
		},
	}
	return sb.String(), keyboard
}

func (h modelsHandler) HandleCallback(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "models_callback")

	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	data := cq.Data
	log.DebugContext(ctx, "Handling model management callback", "data", data, "user_id", cq.From.ID)

	// Each callback is answered exactly once; ack carries the short
	// user-visible result.
	ack := func(text string, alert bool) {
		if _, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
			CallbackQueryID: cq.ID,
			Text:            text,
			ShowAlert:       alert,
		}); err != nil {
			log.ErrorContext(ctx, "Failed to answer callback query", "error", err)
		}
	}

	chatID := callbackChatID(cq)
	if chatID == 0 {
		ack(staleSelectionMsg, false)
		return
	}

	switch {
	case data == callbackAdd:
		actor := displayName(&cq.From)
		if err := h.deps.Wizard.Begin(ctx, cq.From.ID, chatID, actor); err != nil {
			log.ErrorContext(ctx, "Failed to start add-model wizard", "error", err, "user_id", cq.From.ID)
			ack(h.deps.Config.Messages.GeneralError, true)
			return
		}
		ack("Model setup started", false)

	case data == callbackClose:
		if _, err := b.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: chatID, MessageID: cq.Message.Message.ID}); err != nil {
			log.DebugContext(ctx, "Failed to delete dashboard message", "error", err)
		}
		ack("", false)

	case data == callbackMenuRemove:
		h.showSelection(ctx, b, chatID, "Select a model to remove (custom only):", callbackRemovePrefix, true)
		ack("", false)

	case data == callbackMenuDefault:
		h.showSelection(ctx, b, chatID, "Select the new default model:", callbackDefaultPrefix, false)
		ack("", false)

	case data == callbackMenuSwitch:
		h.showSelection(ctx, b, chatID, "Select your model:", callbackSwitchPrefix, false)
		ack("", false)

	case strings.HasPrefix(data, callbackSecureKeyPrefix):
		ownerID, err := strconv.ParseInt(strings.TrimPrefix(data, callbackSecureKeyPrefix), 10, 64)
		if err != nil {
			ack(staleSelectionMsg, false)
			return
		}
		if err := h.deps.Wizard.RequestSecureKey(ctx, ownerID, cq.From.ID); err != nil {
			ack(err.Error(), true)
			return
		}
		ack("Check your private chat with me", false)

	case strings.HasPrefix(data, callbackRemovePrefix):
		h.handleRemove(ctx, cq, strings.TrimPrefix(data, callbackRemovePrefix), ack)

	case strings.HasPrefix(data, callbackDefaultPrefix):
		h.handleSetDefault(ctx, cq, strings.TrimPrefix(data, callbackDefaultPrefix), ack)

	case strings.HasPrefix(data, callbackSwitchPrefix):
		h.handleSwitch(ctx, cq, strings.TrimPrefix(data, callbackSwitchPrefix), ack)

	default:
		log.WarnContext(ctx, "Unknown model management callback", "data", data)
		ack(staleSelectionMsg, false)
	}
}

// showSelection posts a one-shot single-choice keyboard over the current
// registry snapshot. customOnly filters the options to removable entries.
func (h modelsHandler) showSelection(ctx context.Context, b *tgbot.Bot, chatID int64, title, prefix string, customOnly bool) {
	log := h.deps.Logger.With("handler", "models_callback")
	list := h.deps.Registry.List()

	var rows [][]models.InlineKeyboardButton
	for i, d := range list {
		if customOnly && d.Kind != registry.KindCustom {
			continue
		}
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         fmt.Sprintf("%d. %s", i+1, d.DisplayName),
			CallbackData: fmt.Sprintf("%s%d", prefix, i+1),
		}})
	}

	if len(rows) == 0 {
		if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: "Nothing to select."}); err != nil {
			log.ErrorContext(ctx, "Failed to send empty selection notice", "error", err, "chat_id", chatID)
		}
		return
	}

	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        title,
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: rows},
	}); err != nil {
		log.ErrorContext(ctx, "Failed to send selection menu", "error", err, "chat_id", chatID)
	}
}

// resolveOrdinal maps a selection ordinal back onto the current snapshot.
func (h modelsHandler) resolveOrdinal(raw string) (registry.Descriptor, bool) {
	ordinal, err := strconv.Atoi(raw)
	if err != nil {
		return registry.Descriptor{}, false
	}
	list := h.deps.Registry.List()
	if ordinal < 1 || ordinal > len(list) {
		return registry.Descriptor{}, false
	}
	return list[ordinal-1], true
}

func (h modelsHandler) handleRemove(ctx context.Context, cq *models.CallbackQuery, raw string, ack func(string, bool)) {
	log := h.deps.Logger.With("handler", "models_callback")

	d, ok := h.resolveOrdinal(raw)
	if !ok {
		ack(staleSelectionMsg, false)
		return
	}

	if err := h.deps.Registry.Remove(ctx, d.ID); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotRemovable):
			ack("🚫 Builtin models cannot be removed.", true)
		case errors.Is(err, registry.ErrNotFound):
			ack(staleSelectionMsg, false)
		default:
			log.ErrorContext(ctx, "Failed to remove model", "model_id", d.ID, "error", err)
			ack(h.deps.Config.Messages.GeneralError, true)
		}
		return
	}

	ack(fmt.Sprintf("🗑 Removed %s", d.DisplayName), false)
	h.deps.Audit.ModelEvent(ctx, events.TypeModelRemoved, displayName(&cq.From), d.DisplayName,
		fmt.Sprintf("model id %s", d.ID))
}

func (h modelsHandler) handleSetDefault(ctx context.Context, cq *models.CallbackQuery, raw string, ack func(string, bool)) {
	log := h.deps.Logger.With("handler", "models_callback")

	d, ok := h.resolveOrdinal(raw)
	if !ok {
		ack(staleSelectionMsg, false)
		return
	}

	if err := h.deps.Registry.SetDefault(d.ID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			ack(staleSelectionMsg, false)
			return
		}
		log.ErrorContext(ctx, "Failed to set default model", "model_id", d.ID, "error", err)
		ack(h.deps.Config.Messages.GeneralError, true)
		return
	}

	ack(fmt.Sprintf("⭐ Default model is now %s", d.DisplayName), false)
	h.deps.Audit.ModelEvent(ctx, events.TypeDefaultChanged, displayName(&cq.From), d.DisplayName,
		fmt.Sprintf("model id %s", d.ID))
}

func (h modelsHandler) handleSwitch(ctx context.Context, cq *models.CallbackQuery, raw string, ack func(string, bool)) {
	log := h.deps.Logger.With("handler", "models_callback")

	d, ok := h.resolveOrdinal(raw)
	if !ok {
		ack(staleSelectionMsg, false)
		return
	}

	if err := h.deps.Store.SetPreferredModel(ctx, cq.From.ID, cq.From.Username, d.ID); err != nil {
		log.ErrorContext(ctx, "Failed to set preferred model", "user_id", cq.From.ID, "model_id", d.ID, "error", err)
		ack(h.deps.Config.Messages.GeneralError, true)
		return
	}

	ack(fmt.Sprintf("🔄 You are now using %s", d.DisplayName), false)
}

// callbackChatID resolves the chat the callback's message lives in.
func callbackChatID(cq *models.CallbackQuery) int64 {
	if cq.Message.Message != nil {
		return cq.Message.Message.Chat.ID
	}
	return 0
}

// displayName picks the most presentable identity for audit records.
func displayName(u *models.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return strconv.FormatInt(u.ID, 10)
}
