package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible completer.
type OpenAIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// OpenAICompleter calls an OpenAI-compatible chat completion API.
type OpenAICompleter struct {
	client     *openai.Client
	maxRetries int
	timeout    time.Duration
	baseDelay  time.Duration
}

// NewOpenAICompleter creates a completer. Unset retries and timeout default
// to 3 and 30s.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("completion api_key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAICompleter{
		client:     openai.NewClientWithConfig(clientConfig),
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		baseDelay:  time.Second,
	}, nil
}

// Complete performs one chat completion.
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	oreq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
	}
	for _, t := range req.Tools {
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	var out Completion
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, oreq)
		if err != nil {
			return err //nolint:wrapcheck // wrapped once retries are exhausted
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		msg := resp.Choices[0].Message
		out = Completion{Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return nil
	})
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	return out, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

// doWithRetry runs fn with exponential backoff. Each attempt gets its own
// timeout. Client errors other than 429 are not retried.
func (c *OpenAICompleter) doWithRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := range c.maxRetries {
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.maxRetries-1 {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		slog.Debug("completion request failed, retrying",
			"attempt", attempt+1,
			"wait_time", wait,
			"error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck // caller wraps
		}
	}
	return lastErr
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return true
}
