// Package registry maintains the catalog of selectable AI models: a fixed set
// of builtin models plus admin-added custom models. Custom models are
// persisted twice, to the SQLite custom_models table and to an ordered JSON
// mirror file, so the catalog survives restarts even if one store is lost.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mkhalifa/routerbot/internal/database"
	"github.com/mkhalifa/routerbot/internal/settings"
)

// Sentinel errors returned by registry operations.
var (
	// ErrNotFound indicates the named model is not in the registry.
	ErrNotFound = errors.New("model not found")

	// ErrNotRemovable indicates an attempt to remove a builtin model.
	ErrNotRemovable = errors.New("builtin models cannot be removed")

	// ErrInvalidModelID indicates a model identifier that is not in
	// provider/name form.
	ErrInvalidModelID = errors.New("model id must be in provider/name form")
)

// Kind distinguishes builtin models from admin-added ones.
type Kind string

const (
	KindBuiltin Kind = "builtin"
	KindCustom  Kind = "custom"
)

// Descriptor describes one selectable model.
type Descriptor struct {
	ID          string
	DisplayName string
	Kind        Kind
	APIKey      string
	Description string
	AddedBy     string
	Enabled     bool
	UsageCount  int
}

// mirrorEntry is the JSON mirror representation of one custom model. The
// mirror is an ordered array rather than an object so that insertion order
// survives a reload. Usage counters live only in the database; carrying them
// here would leave the mirror stale between rewrites.
type mirrorEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	APIKey      string `json:"api_key,omitempty"`
	Description string `json:"description,omitempty"`
	AddedBy     string `json:"added_by,omitempty"`
}

// Registry is the in-memory model catalog with dual persistence for custom
// entries. All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*Descriptor
	order      []string
	store      database.Store
	settings   *settings.Store
	mirrorPath string
	logger     *slog.Logger
}

// New creates a Registry seeded with the given builtin models, in order.
// Call Load before serving requests to bring in persisted custom models.
func New(store database.Store, set *settings.Store, mirrorPath string, builtins []Descriptor, logger *slog.Logger) *Registry {
	r := &Registry{
		entries:    make(map[string]*Descriptor),
		store:      store,
		settings:   set,
		mirrorPath: mirrorPath,
		logger:     logger.With("component", "registry"),
	}
	for i := range builtins {
		b := builtins[i]
		b.Kind = KindBuiltin
		b.Enabled = true
		if _, exists := r.entries[b.ID]; exists {
			continue
		}
		r.entries[b.ID] = &b
		r.order = append(r.order, b.ID)
	}
	return r
}

// ValidateID checks that a model identifier is in provider/name form.
func ValidateID(modelID string) error {
	trimmed := strings.TrimSpace(modelID)
	if trimmed == "" || !strings.Contains(trimmed, "/") ||
		strings.HasPrefix(trimmed, "/") || strings.HasSuffix(trimmed, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
	}
	return nil
}

// Load populates custom models from the persistent stores. The database is
// authoritative for entry contents; the JSON mirror supplies insertion order.
// The mirror is rewritten afterwards so both stores agree.
func (r *Registry) Load(ctx context.Context) error {
	rows, err := r.store.ListCustomModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load custom models from database: %w", err)
	}

	byID := make(map[string]*database.CustomModel, len(rows))
	for _, row := range rows {
		byID[row.ModelID] = row
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Mirror order first, then any database rows the mirror does not know
	// about (for example after a mirror file loss).
	for _, entry := range r.readMirror() {
		row, ok := byID[entry.ID]
		if !ok {
			continue
		}
		r.addCustomLocked(row)
		delete(byID, entry.ID)
	}
	for _, row := range rows {
		if _, pending := byID[row.ModelID]; pending {
			r.addCustomLocked(row)
		}
	}

	if err := r.writeMirrorLocked(); err != nil {
		r.logger.Warn("Failed to rewrite model mirror after load", "path", r.mirrorPath, "error", err)
	}

	r.logger.InfoContext(ctx, "Model registry loaded", "total", len(r.order), "custom", len(rows))
	return nil
}

func (r *Registry) addCustomLocked(row *database.CustomModel) {
	if _, exists := r.entries[row.ModelID]; exists {
		return
	}
	r.entries[row.ModelID] = &Descriptor{
		ID:          row.ModelID,
		DisplayName: row.DisplayName,
		Kind:        KindCustom,
		APIKey:      row.APIKey,
		Description: row.Description,
		AddedBy:     row.AddedBy,
		Enabled:     row.IsActive,
		UsageCount:  row.UsageCount,
	}
	r.order = append(r.order, row.ModelID)
}

// List returns an ordered snapshot of all registered models: builtins first,
// then custom models in insertion order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// Get returns the descriptor for a model identifier.
func (r *Registry) Get(modelID string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[modelID]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Upsert inserts or replaces a custom model, writing the database first and
// then the in-memory catalog and JSON mirror. Re-adding an existing id
// replaces its data and keeps its position. A mirror write failure is
// returned even though the database row is already durable: the caller must
// not be told the operation succeeded while a persistent store is behind.
func (r *Registry) Upsert(ctx context.Context, d Descriptor) error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if d.DisplayName == "" {
		return fmt.Errorf("model %q must have a display name", d.ID)
	}
	d.ID = strings.TrimSpace(d.ID)
	d.Kind = KindCustom
	d.Enabled = true

	row := &database.CustomModel{
		ModelID:     d.ID,
		DisplayName: d.DisplayName,
		APIKey:      d.APIKey,
		Description: d.Description,
		AddedBy:     d.AddedBy,
		IsActive:    true,
		UsageCount:  d.UsageCount,
	}
	if err := r.store.UpsertCustomModel(ctx, row); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[d.ID]; ok {
		// Keep the position and usage counter; a re-add is an edit, not a
		// fresh model.
		if d.UsageCount == 0 {
			d.UsageCount = existing.UsageCount
		}
		r.entries[d.ID] = &d
	} else {
		r.entries[d.ID] = &d
		r.order = append(r.order, d.ID)
	}

	if err := r.writeMirrorLocked(); err != nil {
		// No rollback: the database already holds the row and Load will
		// repair the mirror. The operation still must not report success.
		r.logger.ErrorContext(ctx, "Model saved to database but mirror write failed", "model_id", d.ID, "error", err)
		return fmt.Errorf("model %q saved but mirror update failed: %w", d.ID, err)
	}

	r.logger.InfoContext(ctx, "Custom model upserted", "model_id", d.ID, "display_name", d.DisplayName)
	return nil
}

// Remove deletes a custom model from both stores. Builtin models cannot be
// removed; unknown models return ErrNotFound. A failure before the database
// delete leaves both stores untouched; a mirror write failure afterwards is
// returned to the caller even though the row is already gone.
func (r *Registry) Remove(ctx context.Context, modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[modelID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, modelID)
	}
	if entry.Kind == KindBuiltin {
		return fmt.Errorf("%w: %q", ErrNotRemovable, modelID)
	}

	if err := r.store.DeleteCustomModel(ctx, modelID); err != nil {
		return err
	}

	delete(r.entries, modelID)
	for i, id := range r.order {
		if id == modelID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if err := r.writeMirrorLocked(); err != nil {
		r.logger.ErrorContext(ctx, "Model removed from database but mirror write failed", "model_id", modelID, "error", err)
		return fmt.Errorf("model %q removed but mirror update failed: %w", modelID, err)
	}

	r.logger.InfoContext(ctx, "Custom model removed", "model_id", modelID)
	return nil
}

// SetDefault makes an existing model the default for new conversations.
func (r *Registry) SetDefault(modelID string) error {
	if _, ok := r.Get(modelID); !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, modelID)
	}
	return r.settings.SetDefaultModel(modelID)
}

// DefaultModel returns the current default model identifier.
func (r *Registry) DefaultModel() string {
	return r.settings.DefaultModel()
}

// IncrementUsage bumps a model's usage counter. For custom models the new
// count is also persisted; persistence failures are logged, not returned,
// since the chat exchange already succeeded.
func (r *Registry) IncrementUsage(ctx context.Context, modelID string) {
	r.mu.Lock()
	entry, ok := r.entries[modelID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.UsageCount++
	count := entry.UsageCount
	custom := entry.Kind == KindCustom
	r.mu.Unlock()

	if !custom {
		return
	}
	if err := r.store.SetCustomModelUsage(ctx, modelID, count); err != nil {
		r.logger.WarnContext(ctx, "Failed to persist model usage count", "model_id", modelID, "error", err)
	}
}

// readMirror loads the mirror file, tolerating a missing or corrupt file
// since the database remains authoritative.
func (r *Registry) readMirror() []mirrorEntry {
	raw, err := os.ReadFile(r.mirrorPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		r.logger.Warn("Failed to read model mirror", "path", r.mirrorPath, "error", err)
		return nil
	}

	var entries []mirrorEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		r.logger.Warn("Model mirror is corrupt, ignoring it", "path", r.mirrorPath, "error", err)
		return nil
	}
	return entries
}

// writeMirrorLocked serializes the custom entries in catalog order. Callers
// must hold the write lock.
func (r *Registry) writeMirrorLocked() error {
	entries := make([]mirrorEntry, 0)
	for _, id := range r.order {
		d := r.entries[id]
		if d.Kind != KindCustom {
			continue
		}
		entries = append(entries, mirrorEntry{
			ID:          d.ID,
			DisplayName: d.DisplayName,
			APIKey:      d.APIKey,
			Description: d.Description,
			AddedBy:     d.AddedBy,
		})
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model mirror: %w", err)
	}

	tmp := r.mirrorPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write model mirror %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.mirrorPath); err != nil {
		return fmt.Errorf("failed to replace model mirror %q: %w", r.mirrorPath, err)
	}
	return nil
}
