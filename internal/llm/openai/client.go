// Package openai adapts the OpenAI chat completions API to the
// pipeline.TextModel interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

const defaultTimeout = 60 * time.Second

// Config controls the completion call parameters.
type Config struct {
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client invokes OpenAI chat completions. The model is chosen per call
// by the orchestrator, not fixed here.
type Client struct {
	client openai.Client
	cfg    Config
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
	}, nil
}

// Complete sends a system+user prompt to the given model and returns the
// generated text. A 429 from the provider is surfaced as ErrRateLimited
// so the caller can decide on redundancy.
func (c *Client) Complete(ctx context.Context, model, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.cfg.Temperature),
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if isRateLimitError(err) {
			return "", fmt.Errorf("model %s: %w", model, pipeline.ErrRateLimited)
		}
		return "", fmt.Errorf("model %s completion: %w", model, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("model %s: no completion choices returned", model)
	}
	return completion.Choices[0].Message.Content, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var _ pipeline.TextModel = (*Client)(nil)
