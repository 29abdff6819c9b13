// Package wizard implements the interactive add-model conversation: a four
// step state machine that collects a display name, model identifier, secret
// key, and description from an administrator, then commits the result to the
// model registry.
package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mkhalifa/routerbot/internal/events"
	"github.com/mkhalifa/routerbot/internal/registry"
)

// Surface is the conversational platform capability the wizard needs. The
// Telegram implementation lives in the bot handlers package.
type Surface interface {
	// Send posts a plain message to a chat.
	Send(ctx context.Context, chatID int64, text string) error

	// SendKeyPrompt posts the secret-key step prompt to a chat, including
	// the control that starts secure key entry for ownerID.
	SendKeyPrompt(ctx context.Context, chatID, ownerID int64) error

	// SendPrivate posts a message to the owner's private chat. It fails when
	// the user has never opened a private conversation with the bot.
	SendPrivate(ctx context.Context, userID int64, text string) error

	// DeleteMessage removes a message from a chat.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Catalog is the registry surface the wizard commits to.
type Catalog interface {
	Upsert(ctx context.Context, d registry.Descriptor) error
}

// User-facing prompts and notices.
const (
	promptDisplayName = "📝 Step 1/4: Send the display name for the new model."
	promptModelID     = "🆔 Step 2/4: Send the model identifier in provider/name form (e.g. openai/gpt-4o)."
	promptKeyFallback = "🔑 Step 3/4: Send the API key for this model, or \"skip\" to use the default credential."
	promptDescription = "💬 Step 4/4: Send a short description, or \"skip\" to leave it empty."

	noticeEmptyName    = "⚠️ The display name cannot be empty. Please send a non-empty name."
	noticeBadModelID   = "⚠️ The model id must contain a provider/name delimiter (\"/\"). Please try again."
	noticeCancelled    = "🚪 Model setup cancelled."
	noticeTimeout      = "⏱️ Model setup timed out and was cancelled. Start again with /models."
	noticeCommitFailed = "❌ Failed to save the model: %s"

	securePromptText = "🔐 Send the API key for the new model here. Send \"skip\" for no key. This chat keeps it out of the group transcript."
	secureAckText    = "✅ Key received. Continue in the original chat."

	cancelSentinel = "cancel"
	skipSentinel   = "skip"
)

// Wizard drives add-model sessions. It owns the session store; the registry,
// surface, and audit logger are injected collaborators.
type Wizard struct {
	// mu serializes whole turns: the platform dispatches updates on
	// separate goroutines, and a step transition must never interleave
	// with another mutation of the same session.
	mu       sync.Mutex
	sessions *SessionStore
	catalog  Catalog
	surface  Surface
	audit    events.Logger
	idle     time.Duration
	log      *slog.Logger
}

// New creates a Wizard. maxIdle bounds how long an abandoned session may
// linger before Sweep evicts it.
func New(catalog Catalog, surface Surface, audit events.Logger, maxIdle time.Duration, log *slog.Logger) *Wizard {
	return &Wizard{
		sessions: NewSessionStore(),
		catalog:  catalog,
		surface:  surface,
		audit:    audit,
		idle:     maxIdle,
		log:      log.With("component", "wizard"),
	}
}

// ActiveSessions returns the number of in-flight sessions.
func (w *Wizard) ActiveSessions() int { return w.sessions.Len() }

// Begin starts (or restarts) the add-model wizard for ownerID in chatID.
// An existing session for the same owner is discarded.
func (w *Wizard) Begin(ctx context.Context, ownerID, chatID int64, actorName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.sessions.Get(ownerID); exists {
		w.log.InfoContext(ctx, "Restarting wizard, discarding previous session", "owner_id", ownerID)
	}
	w.sessions.Start(ownerID, chatID, actorName)

	if err := w.surface.Send(ctx, chatID, promptDisplayName); err != nil {
		w.sessions.Delete(ownerID)
		return fmt.Errorf("failed to send wizard prompt: %w", err)
	}

	w.log.InfoContext(ctx, "Wizard session started", "owner_id", ownerID, "chat_id", chatID)
	return nil
}

// HandleTurn routes one inbound message. It returns true when the message
// belonged to an active session and was consumed; false leaves the message
// for other routing.
func (w *Wizard) HandleTurn(ctx context.Context, ownerID, chatID int64, messageID int, text string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	session, ok := w.sessions.Get(ownerID)
	if !ok {
		return false
	}

	// A private-chat message from the owner completes secure key entry.
	if session.AwaitingSecureKey && chatID == ownerID && session.Step == StepSecretKey {
		w.consumeSecureKey(ctx, session, messageID, text)
		return true
	}

	if session.ChatID != 0 && chatID != session.ChatID {
		return false
	}

	// Consume the turn: delete it from the transcript so keys and clutter
	// do not linger. Deletion failures are swallowed.
	if err := w.surface.DeleteMessage(ctx, chatID, messageID); err != nil {
		w.log.DebugContext(ctx, "Failed to delete wizard input message", "chat_id", chatID, "message_id", messageID, "error", err)
	}

	w.sessions.Touch(ownerID)
	trimmed := strings.TrimSpace(text)

	if strings.EqualFold(trimmed, cancelSentinel) {
		w.teardown(ctx, session, noticeCancelled)
		w.audit.ModelEvent(ctx, events.TypeWizardCancelled, session.ActorName, session.Fields.DisplayName, "cancelled by user")
		return true
	}

	switch session.Step {
	case StepDisplayName:
		w.handleDisplayName(ctx, session, trimmed)
	case StepModelID:
		w.handleModelID(ctx, session, trimmed)
	case StepSecretKey:
		w.handlePlainKey(ctx, session, trimmed)
	case StepDescription:
		w.handleDescription(ctx, session, trimmed)
	default:
		w.log.ErrorContext(ctx, "Session in unknown step, tearing down", "owner_id", ownerID, "step", session.Step)
		w.teardown(ctx, session, noticeCancelled)
	}
	return true
}

func (w *Wizard) handleDisplayName(ctx context.Context, session *Session, text string) {
	if text == "" {
		w.notify(ctx, session.ChatID, noticeEmptyName)
		return
	}
	session.Fields.DisplayName = text
	session.Step = StepModelID
	w.notify(ctx, session.ChatID, promptModelID)
}

func (w *Wizard) handleModelID(ctx context.Context, session *Session, text string) {
	if err := registry.ValidateID(text); err != nil {
		w.notify(ctx, session.ChatID, noticeBadModelID)
		return
	}
	session.Fields.ModelID = strings.TrimSpace(text)
	session.Step = StepSecretKey

	// Prefer the secure side channel. If the prompt with the secure-entry
	// control cannot be posted, fall back to plain-text key entry.
	if err := w.surface.SendKeyPrompt(ctx, session.ChatID, session.OwnerID); err != nil {
		w.log.WarnContext(ctx, "Secure key prompt unavailable, falling back to plain-text entry", "owner_id", session.OwnerID, "error", err)
		session.PlainKeyFallback = true
		w.notify(ctx, session.ChatID, promptKeyFallback)
	}
}

func (w *Wizard) handlePlainKey(ctx context.Context, session *Session, text string) {
	if !session.PlainKeyFallback {
		// The secure control is on offer; plain text is not accepted here.
		w.notify(ctx, session.ChatID, "🔐 Use the button above to enter the key securely, or send \"cancel\" to stop.")
		return
	}
	if !strings.EqualFold(text, skipSentinel) {
		session.Fields.SecretKey = text
	}
	session.Step = StepDescription
	w.notify(ctx, session.ChatID, promptDescription)
}

func (w *Wizard) handleDescription(ctx context.Context, session *Session, text string) {
	if !strings.EqualFold(text, skipSentinel) {
		session.Fields.Description = text
	}
	w.commit(ctx, session)
}

// RequestSecureKey reacts to the secure-entry control being pressed. Only the
// session owner may trigger it; any other user is rejected with no state
// change. On success the owner is prompted in their private chat; if that is
// impossible the wizard falls back to plain-text key entry in the origin chat.
func (w *Wizard) RequestSecureKey(ctx context.Context, ownerID, requesterID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	session, ok := w.sessions.Get(ownerID)
	if !ok {
		return fmt.Errorf("%w: no active model setup", registry.ErrNotFound)
	}
	if requesterID != ownerID {
		return fmt.Errorf("only the user who started the setup can enter the key")
	}
	if session.Step != StepSecretKey {
		return fmt.Errorf("the setup is not waiting for a key")
	}

	w.sessions.Touch(ownerID)

	if err := w.surface.SendPrivate(ctx, ownerID, securePromptText); err != nil {
		w.log.WarnContext(ctx, "Cannot reach owner in private chat, falling back to plain-text entry", "owner_id", ownerID, "error", err)
		session.PlainKeyFallback = true
		session.AwaitingSecureKey = false
		w.notify(ctx, session.ChatID, promptKeyFallback)
		return nil
	}

	session.AwaitingSecureKey = true
	w.log.InfoContext(ctx, "Secure key entry armed", "owner_id", ownerID)
	return nil
}

// consumeSecureKey handles the owner's private-chat reply to the secure
// prompt. The message is deleted best-effort, the key recorded, and the
// session advanced to the description step. The step-4 prompt to the origin
// chat is best-effort: the session has already advanced.
func (w *Wizard) consumeSecureKey(ctx context.Context, session *Session, messageID int, text string) {
	if err := w.surface.DeleteMessage(ctx, session.OwnerID, messageID); err != nil {
		w.log.DebugContext(ctx, "Failed to delete secure key message", "owner_id", session.OwnerID, "error", err)
	}

	w.sessions.Touch(session.OwnerID)

	trimmed := strings.TrimSpace(text)
	if trimmed != "" && !strings.EqualFold(trimmed, skipSentinel) {
		session.Fields.SecretKey = trimmed
	}
	session.AwaitingSecureKey = false
	session.Step = StepDescription

	if err := w.surface.SendPrivate(ctx, session.OwnerID, secureAckText); err != nil {
		w.log.DebugContext(ctx, "Failed to acknowledge secure key", "owner_id", session.OwnerID, "error", err)
	}
	w.notify(ctx, session.ChatID, promptDescription)
}

// commit validates the collected fields, writes the new model through the
// registry's dual-persistence path, and tears the session down whether or
// not anything failed.
func (w *Wizard) commit(ctx context.Context, session *Session) {
	defer w.sessions.Delete(session.OwnerID)

	if session.Fields.DisplayName == "" || session.Fields.ModelID == "" {
		w.log.ErrorContext(ctx, "Wizard reached commit with missing fields", "owner_id", session.OwnerID, "fields", session.Fields)
		w.notify(ctx, session.ChatID, fmt.Sprintf(noticeCommitFailed, "required fields are missing, please start over"))
		return
	}

	err := w.catalog.Upsert(ctx, registry.Descriptor{
		ID:          session.Fields.ModelID,
		DisplayName: session.Fields.DisplayName,
		Kind:        registry.KindCustom,
		APIKey:      session.Fields.SecretKey,
		Description: session.Fields.Description,
		AddedBy:     session.ActorName,
		Enabled:     true,
	})
	if err != nil {
		w.log.ErrorContext(ctx, "Wizard commit failed", "owner_id", session.OwnerID, "model_id", session.Fields.ModelID, "error", err)
		w.notify(ctx, session.ChatID, fmt.Sprintf(noticeCommitFailed, err))
		return
	}

	keyNote := "default credential"
	if session.Fields.SecretKey != "" {
		keyNote = "custom key set"
	}
	w.notify(ctx, session.ChatID, fmt.Sprintf(
		"✅ Model added!\nName: %s\nID: %s\nKey: %s",
		session.Fields.DisplayName, session.Fields.ModelID, keyNote,
	))

	w.audit.ModelEvent(ctx, events.TypeModelAdded, session.ActorName, session.Fields.DisplayName,
		fmt.Sprintf("model id %s", session.Fields.ModelID))

	w.log.InfoContext(ctx, "Wizard committed new model", "owner_id", session.OwnerID, "model_id", session.Fields.ModelID)
}

// Sweep evicts sessions idle beyond the configured timeout and notifies
// their origin chats. Intended to be called periodically by the scheduler.
func (w *Wizard) Sweep(ctx context.Context) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	evicted := w.sessions.Sweep(w.idle)
	for _, session := range evicted {
		w.log.InfoContext(ctx, "Evicted idle wizard session", "owner_id", session.OwnerID, "step", session.Step)
		w.notify(ctx, session.ChatID, noticeTimeout)
		w.audit.ModelEvent(ctx, events.TypeWizardCancelled, session.ActorName, session.Fields.DisplayName, "idle timeout")
	}
	return len(evicted)
}

// Cancel tears down the owner's session, if any, with a notice.
func (w *Wizard) Cancel(ctx context.Context, ownerID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	session, ok := w.sessions.Get(ownerID)
	if !ok {
		return false
	}
	w.teardown(ctx, session, noticeCancelled)
	return true
}

func (w *Wizard) teardown(ctx context.Context, session *Session, notice string) {
	w.sessions.Delete(session.OwnerID)
	w.notify(ctx, session.ChatID, notice)
}

// notify sends best-effort: the wizard never fails an operation because a
// notice could not be posted.
func (w *Wizard) notify(ctx context.Context, chatID int64, text string) {
	if err := w.surface.Send(ctx, chatID, text); err != nil {
		w.log.WarnContext(ctx, "Failed to send wizard notice", "chat_id", chatID, "error", err)
	}
}
