package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkhalifa/routerbot/internal/database"
	"github.com/mkhalifa/routerbot/internal/events"
	"github.com/mkhalifa/routerbot/internal/registry"
	"github.com/mkhalifa/routerbot/internal/settings"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	ownerID   = int64(100)
	originID  = int64(-500)
	messageID = 42
)

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeSurface struct {
	sent          []sentMessage
	keyPrompts    []int64
	privates      []sentMessage
	deleted       int
	failKeyPrompt bool
	failPrivate   bool
}

func (f *fakeSurface) Send(_ context.Context, chatID int64, text string) error {
	f.sent = append(f.sent, sentMessage{chatID, text})
	return nil
}

func (f *fakeSurface) SendKeyPrompt(_ context.Context, chatID, _ int64) error {
	if f.failKeyPrompt {
		return errors.New("key prompt unavailable")
	}
	f.keyPrompts = append(f.keyPrompts, chatID)
	return nil
}

func (f *fakeSurface) SendPrivate(_ context.Context, userID int64, text string) error {
	if f.failPrivate {
		return errors.New("user has not opened a private chat")
	}
	f.privates = append(f.privates, sentMessage{userID, text})
	return nil
}

func (f *fakeSurface) DeleteMessage(context.Context, int64, int) error {
	f.deleted++
	return nil
}

func (f *fakeSurface) lastSent(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type fakeCatalog struct {
	upserts []registry.Descriptor
	err     error
}

func (f *fakeCatalog) Upsert(_ context.Context, d registry.Descriptor) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, d)
	return nil
}

type auditEvent struct {
	Type    string
	Actor   string
	Subject string
	Details string
}

type fakeAudit struct {
	events []auditEvent
}

func (f *fakeAudit) ModelEvent(_ context.Context, eventType, actor, subject, details string) {
	f.events = append(f.events, auditEvent{eventType, actor, subject, details})
}

func newTestWizard(t *testing.T) (*Wizard, *fakeSurface, *fakeCatalog) {
	t.Helper()
	surface := &fakeSurface{}
	catalog := &fakeCatalog{}
	w := New(catalog, surface, events.NewNopLogger(), 5*time.Minute, testLogger)
	return w, surface, catalog
}

func begin(t *testing.T, w *Wizard) {
	t.Helper()
	require.NoError(t, w.Begin(context.Background(), ownerID, originID, "admin"))
}

func turn(w *Wizard, chatID int64, text string) bool {
	return w.HandleTurn(context.Background(), ownerID, chatID, messageID, text)
}

func TestBeginSendsFirstPrompt(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)

	assert.Equal(t, 1, w.ActiveSessions())
	assert.Equal(t, sentMessage{originID, promptDisplayName}, surface.lastSent(t))
}

func TestRestartResetsSession(t *testing.T) {
	w, _, _ := newTestWizard(t)
	begin(t, w)
	require.True(t, turn(w, originID, "First Name"))

	// A second start for the same owner replaces the session outright.
	begin(t, w)

	session, ok := w.sessions.Get(ownerID)
	require.True(t, ok)
	assert.Equal(t, 1, w.ActiveSessions())
	assert.Equal(t, StepDisplayName, session.Step)
	assert.Equal(t, Fields{}, session.Fields)
}

func TestWhitespaceDisplayNameRejected(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)

	require.True(t, turn(w, originID, "   \t  "))

	session, ok := w.sessions.Get(ownerID)
	require.True(t, ok)
	assert.Equal(t, StepDisplayName, session.Step)
	assert.Equal(t, Fields{}, session.Fields)
	assert.Equal(t, sentMessage{originID, noticeEmptyName}, surface.lastSent(t))
}

func TestMalformedModelIDRejected(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))

	require.True(t, turn(w, originID, "gpt4-no-delimiter"))

	session, ok := w.sessions.Get(ownerID)
	require.True(t, ok)
	assert.Equal(t, StepModelID, session.Step)
	assert.Empty(t, session.Fields.ModelID)
	assert.Equal(t, sentMessage{originID, noticeBadModelID}, surface.lastSent(t))
}

func TestMessagesFromOtherChatsIgnored(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)

	sentBefore := len(surface.sent)
	assert.False(t, turn(w, originID+1, "Test Model"))
	assert.Len(t, surface.sent, sentBefore)
	assert.Zero(t, surface.deleted)

	session, _ := w.sessions.Get(ownerID)
	assert.Equal(t, StepDisplayName, session.Step)
}

func TestNoSessionMeansNotConsumed(t *testing.T) {
	w, _, _ := newTestWizard(t)
	assert.False(t, turn(w, originID, "hello"))
}

func TestInputMessagesAreDeleted(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)

	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))
	assert.Equal(t, 2, surface.deleted)
}

func TestSecureKeyPath(t *testing.T) {
	w, surface, catalog := newTestWizard(t)
	ctx := context.Background()
	begin(t, w)

	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))
	require.Equal(t, []int64{originID}, surface.keyPrompts)

	require.NoError(t, w.RequestSecureKey(ctx, ownerID, ownerID))
	require.Len(t, surface.privates, 1)
	assert.Equal(t, securePromptText, surface.privates[0].Text)

	// The owner's next private-chat message is the key.
	require.True(t, turn(w, ownerID, "sk-secret-key"))
	assert.Equal(t, secureAckText, surface.privates[1].Text)
	assert.Equal(t, sentMessage{originID, promptDescription}, surface.lastSent(t))

	require.True(t, turn(w, originID, "A test model"))

	require.Len(t, catalog.upserts, 1)
	got := catalog.upserts[0]
	assert.Equal(t, "openai/test-model", got.ID)
	assert.Equal(t, "sk-secret-key", got.APIKey)
	assert.Equal(t, "A test model", got.Description)
	assert.Zero(t, w.ActiveSessions())
}

func TestSecureKeyRejectsNonOwner(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))

	err := w.RequestSecureKey(context.Background(), ownerID, ownerID+1)
	require.Error(t, err)
	assert.Empty(t, surface.privates)

	session, _ := w.sessions.Get(ownerID)
	assert.False(t, session.AwaitingSecureKey)
}

func TestSecureKeyFallsBackWhenPrivateChatUnavailable(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))

	surface.failPrivate = true
	require.NoError(t, w.RequestSecureKey(context.Background(), ownerID, ownerID))

	session, _ := w.sessions.Get(ownerID)
	assert.True(t, session.PlainKeyFallback)
	assert.Equal(t, sentMessage{originID, promptKeyFallback}, surface.lastSent(t))

	// Plain-text skip now advances to the description step.
	require.True(t, turn(w, originID, "skip"))
	assert.Equal(t, StepDescription, session.Step)
	assert.Empty(t, session.Fields.SecretKey)
}

func TestKeyPromptFailureArmsPlainFallback(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))

	surface.failKeyPrompt = true
	require.True(t, turn(w, originID, "openai/test-model"))

	session, _ := w.sessions.Get(ownerID)
	assert.True(t, session.PlainKeyFallback)
	assert.Equal(t, sentMessage{originID, promptKeyFallback}, surface.lastSent(t))
}

func TestPlainTextIgnoredWhileSecureControlOffered(t *testing.T) {
	w, _, _ := newTestWizard(t)
	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))

	// Secure control is up; a stray chat message must not become the key.
	require.True(t, turn(w, originID, "sk-oops-in-public"))

	session, _ := w.sessions.Get(ownerID)
	assert.Equal(t, StepSecretKey, session.Step)
	assert.Empty(t, session.Fields.SecretKey)
}

func TestSkipDescriptionStoresEmptyString(t *testing.T) {
	w, _, catalog := newTestWizard(t)
	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))
	require.NoError(t, w.RequestSecureKey(context.Background(), ownerID, ownerID))
	require.True(t, turn(w, ownerID, "skip"))

	require.True(t, turn(w, originID, "SKIP"))

	require.Len(t, catalog.upserts, 1)
	assert.Equal(t, "", catalog.upserts[0].Description)
	assert.Equal(t, "", catalog.upserts[0].APIKey)
}

func TestCommitAuditsDisplayNameAsSubject(t *testing.T) {
	surface := &fakeSurface{}
	audit := &fakeAudit{}
	w := New(&fakeCatalog{}, surface, audit, 5*time.Minute, testLogger)

	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))
	require.NoError(t, w.RequestSecureKey(context.Background(), ownerID, ownerID))
	require.True(t, turn(w, ownerID, "skip"))
	require.True(t, turn(w, originID, "skip"))

	require.Len(t, audit.events, 1)
	got := audit.events[0]
	assert.Equal(t, events.TypeModelAdded, got.Type)
	assert.Equal(t, "admin", got.Actor)
	assert.Equal(t, "Test Model", got.Subject)
	assert.Contains(t, got.Details, "openai/test-model")
}

func TestCancelTearsDownSession(t *testing.T) {
	w, surface, catalog := newTestWizard(t)
	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))

	require.True(t, turn(w, originID, "cancel"))

	assert.Zero(t, w.ActiveSessions())
	assert.Empty(t, catalog.upserts)
	assert.Equal(t, sentMessage{originID, noticeCancelled}, surface.lastSent(t))
}

func TestCommitFailureStillTearsDownSession(t *testing.T) {
	w, surface, catalog := newTestWizard(t)
	catalog.err = errors.New("disk full")
	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))
	require.NoError(t, w.RequestSecureKey(context.Background(), ownerID, ownerID))
	require.True(t, turn(w, ownerID, "skip"))

	require.True(t, turn(w, originID, "skip"))

	assert.Zero(t, w.ActiveSessions())
	last := surface.lastSent(t)
	assert.Equal(t, originID, last.ChatID)
	assert.Contains(t, last.Text, "disk full")
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	w, surface, _ := newTestWizard(t)
	begin(t, w)

	session, _ := w.sessions.Get(ownerID)
	session.LastActivity = time.Now().Add(-time.Hour)

	assert.Equal(t, 1, w.Sweep(context.Background()))
	assert.Zero(t, w.ActiveSessions())
	assert.Equal(t, sentMessage{originID, noticeTimeout}, surface.lastSent(t))

	// A fresh session survives the sweep.
	begin(t, w)
	assert.Equal(t, 0, w.Sweep(context.Background()))
	assert.Equal(t, 1, w.ActiveSessions())
}

// TestEndToEndAgainstRegistry drives the complete add-model flow against the
// real registry with its SQLite table and JSON mirror.
func TestEndToEndAgainstRegistry(t *testing.T) {
	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	store := database.NewStore(db, testLogger)
	set, err := settings.New(filepath.Join(dir, "settings.json"), "openai/gpt-4o-mini", testLogger)
	require.NoError(t, err)

	reg := registry.New(store, set, filepath.Join(dir, "models.json"), nil, testLogger)
	require.NoError(t, reg.Load(context.Background()))

	surface := &fakeSurface{}
	w := New(reg, surface, events.NewNopLogger(), 5*time.Minute, testLogger)

	begin(t, w)
	require.True(t, turn(w, originID, "Test Model"))
	require.True(t, turn(w, originID, "openai/test-model"))
	require.NoError(t, w.RequestSecureKey(context.Background(), ownerID, ownerID))
	require.True(t, turn(w, ownerID, ""))
	require.True(t, turn(w, originID, "skip"))

	got, ok := reg.Get("openai/test-model")
	require.True(t, ok)
	assert.Equal(t, registry.Descriptor{
		ID:          "openai/test-model",
		DisplayName: "Test Model",
		Kind:        registry.KindCustom,
		APIKey:      "",
		Description: "",
		AddedBy:     "admin",
		Enabled:     true,
		UsageCount:  0,
	}, got)
	assert.Zero(t, w.ActiveSessions())

	// Success notice masks the key: presence indicator only.
	var success string
	for _, m := range surface.sent {
		if strings.Contains(m.Text, "Model added") {
			success = m.Text
		}
	}
	require.NotEmpty(t, success)
	assert.NotContains(t, success, "sk-")
	assert.Contains(t, success, "default credential")
}
