// Package settings persists small runtime-changeable settings, currently the
// default model, to a JSON file so they survive restarts.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

type fileContents struct {
	DefaultModel string `json:"default_model"`
}

// Store holds runtime settings backed by a JSON file. The zero value is not
// usable; construct with New.
type Store struct {
	mu   sync.RWMutex
	path string
	data fileContents
	log  *slog.Logger
}

// New loads settings from path, falling back to fallbackModel when the file
// does not exist or carries no default model. The file is created lazily on
// the first write.
func New(path, fallbackModel string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		data: fileContents{DefaultModel: fallbackModel},
		log:  logger.With("component", "settings"),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.log.Info("Settings file not found, using defaults", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %q: %w", path, err)
	}

	var loaded fileContents
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %q: %w", path, err)
	}
	if loaded.DefaultModel != "" {
		s.data.DefaultModel = loaded.DefaultModel
	}

	s.log.Info("Settings loaded", "path", path, "default_model", s.data.DefaultModel)
	return s, nil
}

// DefaultModel returns the currently configured default model identifier.
func (s *Store) DefaultModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DefaultModel
}

// SetDefaultModel updates the default model and persists the change.
func (s *Store) SetDefaultModel(modelID string) error {
	if modelID == "" {
		return fmt.Errorf("default model cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.data.DefaultModel
	s.data.DefaultModel = modelID
	if err := s.persistLocked(); err != nil {
		s.data.DefaultModel = prev
		return err
	}

	s.log.Info("Default model updated", "default_model", modelID)
	return nil
}

// persistLocked writes the settings file. Callers must hold the write lock.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings file %q: %w", s.path, err)
	}
	return nil
}
