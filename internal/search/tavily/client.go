// Package tavily implements the search provider adapter against the
// Tavily REST API, with credential rotation on rate limits.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
	"github.com/scrivenerhq/scrivener/internal/telemetry"
)

const defaultBaseURL = "https://api.tavily.com"

// Config controls the search adapter.
type Config struct {
	APIKeys    []string
	MaxResults int
	Timeout    time.Duration
	BaseURL    string
}

// Client performs topic research via Tavily. Each call picks one API key
// uniformly at random; a rate-limited call is retried once with a
// different key when more than one is configured.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, errors.New("no search API keys configured")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type rawResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchResponse struct {
	Results []rawResult `json:"results"`
}

// Search researches a topic and returns normalized results. On a
// rate-limit signal it rotates to a different random credential exactly
// once; with a single key the error propagates.
func (c *Client) Search(ctx context.Context, topic string) (pipeline.SearchResults, error) {
	keys := c.cfg.APIKeys
	idx := rand.IntN(len(keys))

	raw, err := c.searchOnce(ctx, keys[idx], topic)
	if errors.Is(err, pipeline.ErrRateLimited) && len(keys) > 1 {
		telemetry.ObserveSearchRetry()
		c.logger.Warn("search rate limited, rotating credential", zap.Int("key_index", idx))
		next := otherIndex(idx, len(keys))
		raw, err = c.searchOnce(ctx, keys[next], topic)
	}
	if err != nil {
		return pipeline.SearchResults{}, fmt.Errorf("search %q: %w", topic, errors.Join(pipeline.ErrSearchFailed, err))
	}
	return normalize(raw), nil
}

func (c *Client) searchOnce(ctx context.Context, apiKey, topic string) ([]rawResult, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:      apiKey,
		Query:       topic,
		SearchDepth: "advanced",
		MaxResults:  c.cfg.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode >= 400 && strings.Contains(strings.ToLower(string(respBody)), "rate limit")) {
		return nil, fmt.Errorf("provider status %d: %w", resp.StatusCode, pipeline.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if parsed.Results == nil {
		return nil, errors.New("invalid response format from provider")
	}
	return parsed.Results, nil
}

// otherIndex returns a random index different from current. Caller
// guarantees n > 1.
func otherIndex(current, n int) int {
	next := rand.IntN(n - 1)
	if next >= current {
		next++
	}
	return next
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
