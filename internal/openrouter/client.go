// Package openrouter implements the bridge to the OpenRouter chat completion
// API (or any OpenAI-compatible endpoint) used for generating replies.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mkhalifa/routerbot/internal/config"
)

// Turn is one prior message of a conversation, in chronological order.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// ChatRequest carries one completion request. APIKey, when non-empty,
// overrides the configured token for this call (custom models may carry
// their own key).
type ChatRequest struct {
	Model   string
	APIKey  string
	History []Turn
	Prompt  string
}

// ChatResult is a successful completion.
type ChatResult struct {
	Content    string
	TokensUsed int
}

// Client defines the interface for chat completion operations.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

// Some reasoning models emit their chain of thought inside think tags; users
// should only see the final answer.
var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

type apiClient struct {
	defaultClient *openai.Client
	cfg           config.AIConfig
	log           *slog.Logger
}

// NewClient creates a new OpenRouter client from the AI configuration.
func NewClient(cfg config.AIConfig, log *slog.Logger) (Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("openrouter API token is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openrouter base URL is required")
	}

	logger := log.With("component", "openrouter_client")
	logger.Info("OpenRouter client initialized successfully", "base_url", cfg.BaseURL, "default_model", cfg.DefaultModel)

	return &apiClient{
		defaultClient: newSDKClient(cfg.Token, cfg.BaseURL),
		cfg:           cfg,
		log:           logger,
	}, nil
}

func newSDKClient(token, baseURL string) *openai.Client {
	sdkCfg := openai.DefaultConfig(token)
	sdkCfg.BaseURL = baseURL
	return openai.NewClientWithConfig(sdkCfg)
}

// Chat sends one completion request, retrying transient upstream failures.
func (c *apiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	client := c.defaultClient
	if req.APIKey != "" && req.APIKey != c.cfg.Token {
		client = newSDKClient(req.APIKey, c.cfg.BaseURL)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if c.cfg.Instruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.cfg.Instruction,
		})
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	c.log.DebugContext(ctx, "Requesting chat completion", "model", model, "history_len", len(req.History))

	resp, err := c.createWithRetries(ctx, client, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		c.log.WarnContext(ctx, "Chat completion returned no choices", "model", model)
		return nil, fmt.Errorf("model %q returned no choices", model)
	}

	content := strings.TrimSpace(thinkTagRe.ReplaceAllString(resp.Choices[0].Message.Content, ""))
	if content == "" {
		c.log.WarnContext(ctx, "Chat completion returned empty content", "model", model, "finish_reason", resp.Choices[0].FinishReason)
		return nil, fmt.Errorf("model %q returned empty content", model)
	}

	return &ChatResult{
		Content:    content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func (c *apiClient) createWithRetries(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	var err error

	for i := 0; i <= c.cfg.MaxRetries; i++ {
		resp, err = client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Chat completion call failed, checking for retry", "attempt", i+1, "max_retries", c.cfg.MaxRetries, "error", err)

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == 500 || apiErr.HTTPStatusCode == 502 || apiErr.HTTPStatusCode == 503) {
			if i < c.cfg.MaxRetries {
				c.log.InfoContext(ctx, "Retrying chat completion after upstream error", "delay", c.cfg.RetryDelay, "status", apiErr.HTTPStatusCode)
				select {
				case <-time.After(c.cfg.RetryDelay):
					continue
				case <-ctx.Done():
					return resp, ctx.Err()
				}
			}
			c.log.ErrorContext(ctx, "Chat completion failed after max retries", "error", err, "status", apiErr.HTTPStatusCode)
			return resp, fmt.Errorf("chat completion failed after %d retries (status %d): %w", c.cfg.MaxRetries, apiErr.HTTPStatusCode, err)
		}

		c.log.ErrorContext(ctx, "Chat completion failed with non-retriable error", "error", err)
		return resp, fmt.Errorf("chat completion failed: %w", err)
	}

	return resp, err
}
