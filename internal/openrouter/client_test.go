package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkhalifa/routerbot/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(baseURL string) config.AIConfig {
	return config.AIConfig{
		Token:        "sk-default",
		BaseURL:      baseURL,
		DefaultModel: "openai/gpt-4o-mini",
		Temperature:  0.7,
		MaxTokens:    1000,
		Timeout:      30 * time.Second,
		MaxRetries:   2,
		RetryDelay:   10 * time.Millisecond,
		Instruction:  "You are a helpful assistant.",
	}
}

func completionResponse(content string, tokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: content}},
		},
		Usage: openai.Usage{TotalTokens: tokens},
	}
}

func TestChatSendsInstructionAndHistory(t *testing.T) {
	var captured openai.ChatCompletionRequest
	var authHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.NoError(t, json.NewEncoder(w).Encode(completionResponse("Hello there!", 42)))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL+"/v1"), testLogger)
	require.NoError(t, err)

	got, err := client.Chat(context.Background(), ChatRequest{
		Model: "openai/test-model",
		History: []Turn{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hey"},
		},
		Prompt: "How are you?",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", got.Content)
	assert.Equal(t, 42, got.TokensUsed)
	assert.Equal(t, "Bearer sk-default", authHeader)

	assert.Equal(t, "openai/test-model", captured.Model)
	require.Len(t, captured.Messages, 4)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, "assistant", captured.Messages[2].Role)
	assert.Equal(t, "How are you?", captured.Messages[3].Content)
}

func TestChatUsesPerModelAPIKey(t *testing.T) {
	var authHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewEncoder(w).Encode(completionResponse("ok", 1)))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL+"/v1"), testLogger)
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), ChatRequest{APIKey: "sk-custom", Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-custom", authHeader)
}

func TestChatStripsThinkTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(completionResponse("<think>reasoning\nsteps</think>The answer is 4.", 10)))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL+"/v1"), testLogger)
	require.NoError(t, err)

	got, err := client.Chat(context.Background(), ChatRequest{Prompt: "2+2?"})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", got.Content)
}

func TestChatRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"message": "upstream unavailable", "type": "server_error"}}`))
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(completionResponse("recovered", 5)))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL+"/v1"), testLogger)
	require.NoError(t, err)

	got, err := client.Chat(context.Background(), ChatRequest{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", got.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL+"/v1"), testLogger)
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), ChatRequest{Prompt: "ping"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatRejectsEmptyPrompt(t *testing.T) {
	client, err := NewClient(testConfig("http://localhost/v1"), testLogger)
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), ChatRequest{Prompt: "   "})
	assert.Error(t, err)
}
