// Package llm provides the completion-endpoint client. A single
// synchronous chat-completion call sits behind a circuit breaker so a
// failing upstream sheds load fast instead of stalling every flush for
// a full timeout.
package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/linwei/chartline/config"
	"github.com/linwei/chartline/server/metrics"
	"github.com/linwei/chartline/server/prompt"
)

// Completer is the single outbound operation the coordinator needs.
type Completer interface {
	Complete(ctx context.Context, history []prompt.Message) (string, error)
}

// Client implements Completer against an OpenAI-compatible
// chat-completions endpoint. Model, temperature, and token limits are
// read from the config watcher on every call so they can be hot-
// reloaded; the API key and endpoint are fixed at construction.
type Client struct {
	api     *openai.Client
	watcher config.Watcher
	breaker *gobreaker.CircuitBreaker
	tokens  *prompt.TokenCounter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ Completer = (*Client)(nil)

// New creates a completion client from the current configuration.
func New(watcher config.Watcher, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	cfg := watcher.GetCurrentConfig()

	oc := openai.DefaultConfig(cfg.LLM.APIKey)
	if cfg.LLM.Endpoint != "" {
		oc.BaseURL = cfg.LLM.Endpoint
	}

	tokens, err := prompt.NewTokenCounter(cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("token counter: %w", err)
	}

	threshold := cfg.CircuitBreaker.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "completion",
		MaxRequests: cfg.CircuitBreaker.MaxRequests,
		Interval:    cfg.CircuitBreaker.Interval,
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		api:     openai.NewClientWithConfig(oc),
		watcher: watcher,
		breaker: breaker,
		tokens:  tokens,
		logger:  logger,
		metrics: m,
	}, nil
}

// Complete issues one chat-completion call for the given history and
// returns the model's reply text. When the breaker is open the call is
// short-circuited and fails immediately.
func (c *Client) Complete(ctx context.Context, history []prompt.Message) (string, error) {
	cfg := c.watcher.GetCurrentConfig()

	if est := c.tokens.CountHistory(history); est > cfg.LLM.MaxContextTokens {
		c.logger.Warn("Prompt estimate exceeds model context window",
			zap.Int("estimated_tokens", est),
			zap.Int("max_context_tokens", cfg.LLM.MaxContextTokens),
		)
	}

	req := openai.ChatCompletionRequest{
		Model:       cfg.LLM.Model,
		Messages:    convertMessages(history),
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}

	start := time.Now()
	v, err := c.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("completion returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	c.metrics.CompletionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.CompletionErrorsTotal.Inc()
		c.logger.Debug("Completion call failed",
			zap.Error(err),
			zap.String("breaker_state", c.breaker.State().String()),
		)
		return "", fmt.Errorf("completion call: %w", err)
	}

	return v.(string), nil
}

// convertMessages maps the internal message model to the endpoint's
// request types. Multimodal turns become MultiContent part lists; the
// part order is preserved exactly, since the instruction-then-images
// ordering is meaningful to the model.
func convertMessages(history []prompt.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		if !m.IsMultimodal() {
			out = append(out, openai.ChatCompletionMessage{
				Role:    m.Role,
				Content: m.Content,
			})
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case prompt.PartTypeText:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			case prompt.PartTypeImage:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    p.ImageURL,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:         m.Role,
			MultiContent: parts,
		})
	}
	return out
}
