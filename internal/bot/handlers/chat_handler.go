package handlers

import (
	"context"
	"errors"
	"strings"
	"unicode"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mkhalifa/routerbot/internal/database"
	"github.com/mkhalifa/routerbot/internal/openrouter"
)

type chatHandler struct {
	deps HandlerDeps
}

// NewChatHandler creates the default message handler. It first offers each
// message to the add-model wizard; messages the wizard does not consume are
// treated as conversation with the AI backend (private chats always, groups
// only when the bot is mentioned or replied to).
func NewChatHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return chatHandler{deps}.Handle
}

func (h chatHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "chat")

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	// Active wizard sessions get first claim on the message.
	if deps.Wizard.HandleTurn(ctx, msg.From.ID, msg.Chat.ID, msg.ID, text) {
		log.DebugContext(ctx, "Message consumed by wizard", "user_id", msg.From.ID, "chat_id", msg.Chat.ID)
		return
	}

	if !h.shouldRespond(msg) {
		return
	}

	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !deps.Config.IsUserAllowed(userID) {
		log.WarnContext(ctx, "Message from user outside allow-list", "user_id", userID, "chat_id", chatID)
		h.send(ctx, b, chatID, msg.ID, deps.Config.Messages.NotAuthorized)
		return
	}

	prompt := stripMention(text, deps.Config.Telegram.BotInfo)
	if strings.TrimSpace(prompt) == "" {
		h.send(ctx, b, chatID, msg.ID, deps.Config.Messages.EmptyPrompt)
		return
	}

	modelID, apiKey := h.resolveModel(ctx, userID)
	log.InfoContext(ctx, "Handling chat message", "chat_id", chatID, "user_id", userID, "model", modelID)

	_, _ = b.SendChatAction(ctx, &tgbot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping})

	history := h.loadHistory(ctx, chatID)

	aiCtx, cancel := context.WithTimeout(ctx, deps.Config.AI.Timeout)
	defer cancel()

	result, err := deps.AIClient.Chat(aiCtx, openrouter.ChatRequest{
		Model:   modelID,
		APIKey:  apiKey,
		History: history,
		Prompt:  prompt,
	})
	if err != nil {
		log.ErrorContext(ctx, "Chat completion failed", "error", err, "chat_id", chatID, "model", modelID)

		h.logUsage(ctx, modelID, userID, 0, false, err.Error())

		notice := deps.Config.Messages.GeneralError
		if errors.Is(err, context.DeadlineExceeded) {
			notice = deps.Config.Messages.Timeout
		}
		h.send(ctx, b, chatID, msg.ID, notice)
		return
	}

	h.send(ctx, b, chatID, msg.ID, result.Content)

	if err := deps.Store.LogConversation(ctx, &database.ConversationLog{
		UserID:          userID,
		ChatID:          chatID,
		MessageContent:  prompt,
		ResponseContent: result.Content,
		ModelUsed:       modelID,
		TokensUsed:      result.TokensUsed,
	}); err != nil {
		log.ErrorContext(ctx, "Failed to log conversation", "error", err, "chat_id", chatID)
	}

	h.logUsage(ctx, modelID, userID, result.TokensUsed, true, "")

	if err := deps.Store.BumpUserStats(ctx, userID, msg.From.Username, result.TokensUsed, ""); err != nil {
		log.ErrorContext(ctx, "Failed to bump user stats", "error", err, "user_id", userID)
	}

	deps.Registry.IncrementUsage(ctx, modelID)
}

// shouldRespond reports whether the bot should answer this message: always
// in private chats, in groups only on a mention or a reply to the bot.
func (h chatHandler) shouldRespond(msg *models.Message) bool {
	if msg.Chat.Type == models.ChatTypePrivate {
		return true
	}

	info := h.deps.Config.Telegram.BotInfo
	if info == nil || info.Username == "" {
		return false
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == info.ID {
		return true
	}

	mention := "@" + strings.ToLower(info.Username)
	text := strings.ToLower(msg.Text + " " + msg.Caption)
	for _, w := range strings.Fields(text) {
		if strings.TrimFunc(w, unicode.IsPunct) == strings.ToLower(info.Username) || w == mention {
			return true
		}
	}
	return false
}

// resolveModel picks the user's preferred model when it is still registered,
// otherwise the process-wide default. The returned key is empty for models
// using the default credential.
func (h chatHandler) resolveModel(ctx context.Context, userID int64) (string, string) {
	log := h.deps.Logger.With("handler", "chat")

	modelID := h.deps.Registry.DefaultModel()

	stats, err := h.deps.Store.GetUserStats(ctx, userID)
	if err != nil {
		log.WarnContext(ctx, "Failed to load user stats, using default model", "user_id", userID, "error", err)
	} else if stats != nil && stats.PreferredModel != "" {
		if _, ok := h.deps.Registry.Get(stats.PreferredModel); ok {
			modelID = stats.PreferredModel
		} else {
			log.InfoContext(ctx, "Preferred model no longer registered, using default", "user_id", userID, "preferred", stats.PreferredModel)
		}
	}

	if d, ok := h.deps.Registry.Get(modelID); ok {
		return modelID, d.APIKey
	}
	return modelID, ""
}

func (h chatHandler) loadHistory(ctx context.Context, chatID int64) []openrouter.Turn {
	log := h.deps.Logger.With("handler", "chat")

	maxHistory := h.deps.Config.AI.MaxHistory
	if maxHistory <= 0 {
		return nil
	}

	rows, err := h.deps.Store.GetRecentConversations(ctx, chatID, maxHistory)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load conversation history", "error", err, "chat_id", chatID)
		return nil
	}

	turns := make([]openrouter.Turn, 0, len(rows)*2)
	for _, row := range rows {
		turns = append(turns,
			openrouter.Turn{Role: "user", Content: row.MessageContent},
			openrouter.Turn{Role: "assistant", Content: row.ResponseContent},
		)
	}
	return turns
}

func (h chatHandler) logUsage(ctx context.Context, modelID string, userID int64, tokens int, success bool, errMsg string) {
	if err := h.deps.Store.LogModelUsage(ctx, &database.ModelUsageLog{
		ModelID:      modelID,
		UserID:       userID,
		TokensUsed:   tokens,
		Success:      success,
		ErrorMessage: errMsg,
	}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to log model usage", "error", err, "model_id", modelID)
	}
}

func (h chatHandler) send(ctx context.Context, b *tgbot.Bot, chatID int64, replyTo int, text string) {
	log := h.deps.Logger.With("handler", "chat")

	params := &tgbot.SendMessageParams{ChatID: chatID, Text: text}
	if replyTo > 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: replyTo}
	}
	if _, err := b.SendMessage(ctx, params); err != nil {
		log.ErrorContext(ctx, "Failed to send chat reply", "error", err, "chat_id", chatID)
	}
}

// stripMention removes the bot's @username from the prompt text.
func stripMention(text string, info *models.User) string {
	if info == nil || info.Username == "" {
		return text
	}
	cleaned := strings.ReplaceAll(text, "@"+info.Username, "")
	return strings.TrimSpace(cleaned)
}
