package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

// HTTPClient fetches statuses from a running service's status endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient builds a client against baseURL, e.g. http://localhost:8080.
// apiKey may be empty when the service runs without auth.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type statusResponse struct {
	Processing []struct {
		ArticleID string `json:"article_id"`
		Status    string `json:"status"`
		Error     string `json:"error"`
	} `json:"processing"`
	Completed []struct {
		ArticleID string            `json:"article_id"`
		Title     string            `json:"title"`
		Status    string            `json:"status"`
		Content   *string           `json:"content"`
		Sources   []pipeline.Source `json:"sources"`
	} `json:"completed"`
}

// FetchStatuses posts the ids to the status endpoint and flattens both
// partitions into status rows.
func (c *HTTPClient) FetchStatuses(ctx context.Context, articleIDs []string) ([]pipeline.StatusRow, error) {
	payload, err := json.Marshal(map[string][]string{"article_ids": articleIDs})
	if err != nil {
		return nil, fmt.Errorf("encode status request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/articles/status", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch statuses: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}

	rows := make([]pipeline.StatusRow, 0, len(body.Processing)+len(body.Completed))
	for _, p := range body.Processing {
		rows = append(rows, pipeline.StatusRow{
			ArticleID: p.ArticleID,
			JobStatus: pipeline.JobStatus(p.Status),
			ErrorText: p.Error,
		})
	}
	for _, c := range body.Completed {
		rows = append(rows, pipeline.StatusRow{
			ArticleID: c.ArticleID,
			JobStatus: pipeline.JobStatus(c.Status),
			Title:     c.Title,
			Content:   c.Content,
			Sources:   c.Sources,
		})
	}
	return rows, nil
}

var _ StatusClient = (*HTTPClient)(nil)
