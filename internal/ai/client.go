// Package ai wraps the chat-completion provider used by the analysis services.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"recruiting-ai-queue/internal/apperr"
	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/telemetry"
)

// ChatRequest is one JSON-mode completion: a system instruction plus a user prompt.
type ChatRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Completer returns the raw text of the first completion choice.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// OpenAIClient implements Completer on the OpenAI chat completions API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewOpenAIClient builds a client from config. A zero RequestsPerSecond disables throttling.
func NewOpenAIClient(cfg config.AIConfig, logger zerolog.Logger) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.RequestTimeout,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     logger,
	}
}

// Complete sends req in JSON-object response mode. Every failure is an upstream AI error.
func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperr.UpstreamAI(fmt.Errorf("wait for AI request slot: %w", err))
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	telemetry.AIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.AIRequests.WithLabelValues("error").Inc()
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.log.Warn().Int("status", apiErr.HTTPStatusCode).Str("type", apiErr.Type).Msg("AI provider rejected request")
		}
		return "", apperr.UpstreamAI(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		telemetry.AIRequests.WithLabelValues("empty").Inc()
		return "", apperr.UpstreamAI(errors.New("chat completion returned no content"))
	}
	telemetry.AIRequests.WithLabelValues("ok").Inc()
	c.log.Debug().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("chat completion")
	return resp.Choices[0].Message.Content, nil
}
