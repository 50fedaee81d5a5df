// Package orchestrator turns a topic plus its research into a validated
// article draft: it prompts a language model and checks the result
// before anything is persisted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

// Config holds the generation knobs.
type Config struct {
	// Models is the pool of model names. Each generation picks one at
	// random to spread load and cost across providers.
	Models []string
	// MinLength is the minimum number of characters a draft must have.
	MinLength int
}

// Orchestrator implements pipeline.Generator.
type Orchestrator struct {
	model  pipeline.TextModel
	cfg    Config
	logger *zap.Logger
	// pick is swapped out in tests for determinism.
	pick func(n int) int
}

// New constructs an Orchestrator. The model pool must not be empty.
func New(model pipeline.TextModel, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if len(cfg.Models) == 0 {
		return nil, errors.New("orchestrator: model pool is empty")
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 100
	}
	return &Orchestrator{
		model:  model,
		cfg:    cfg,
		logger: logger,
		pick:   rand.IntN,
	}, nil
}

// Generate prompts a randomly chosen model with the topic and research,
// then validates the output. Validation failures return
// ErrContentTooShort or ErrMissingMedia; the caller decides whether
// that fails the job.
func (o *Orchestrator) Generate(ctx context.Context, topic string, results pipeline.SearchResults) (pipeline.Draft, error) {
	model := o.cfg.Models[o.pick(len(o.cfg.Models))]
	o.logger.Debug("generating content",
		zap.String("topic", topic),
		zap.String("model", model),
		zap.Int("web_sources", len(results.Web)),
		zap.Int("images", len(results.Images)),
		zap.Int("videos", len(results.Videos)),
	)

	content, err := o.model.Complete(ctx, model, systemPrompt, buildPrompt(topic, results))
	if err != nil {
		return pipeline.Draft{}, fmt.Errorf("generate for %q: %w", topic, err)
	}

	if err := o.validate(content, results); err != nil {
		return pipeline.Draft{}, err
	}

	return pipeline.Draft{
		Content: content,
		Sources: results.AllSources(),
	}, nil
}

// validate enforces the minimum length and requires every image and
// video URL from the research to appear in the content.
func (o *Orchestrator) validate(content string, results pipeline.SearchResults) error {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < o.cfg.MinLength {
		return fmt.Errorf("%w: got %d characters, need %d", pipeline.ErrContentTooShort, len(trimmed), o.cfg.MinLength)
	}
	for _, url := range results.MediaURLs() {
		if !strings.Contains(content, url) {
			return fmt.Errorf("%w: %s not embedded", pipeline.ErrMissingMedia, url)
		}
	}
	return nil
}

var _ pipeline.Generator = (*Orchestrator)(nil)
