package settings

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMissingFileUsesFallback(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "settings.json"), "openai/gpt-4o-mini", testLogger)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", s.DefaultModel())
}

func TestSetDefaultModelPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := New(path, "openai/gpt-4o-mini", testLogger)
	require.NoError(t, err)
	require.NoError(t, s.SetDefaultModel("meta/llama-3-70b"))
	assert.Equal(t, "meta/llama-3-70b", s.DefaultModel())

	reloaded, err := New(path, "openai/gpt-4o-mini", testLogger)
	require.NoError(t, err)
	assert.Equal(t, "meta/llama-3-70b", reloaded.DefaultModel())
}

func TestSetDefaultModelRejectsEmpty(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "settings.json"), "openai/gpt-4o-mini", testLogger)
	require.NoError(t, err)
	assert.Error(t, s.SetDefaultModel(""))
}

func TestCorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(path, "openai/gpt-4o-mini", testLogger)
	assert.Error(t, err)
}
