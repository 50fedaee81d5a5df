package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

func resultsPayload(results ...rawResult) []byte {
	payload, _ := json.Marshal(searchResponse{Results: results})
	return payload
}

func newTestClient(t *testing.T, serverURL string, keys ...string) *Client {
	t.Helper()
	client, err := New(Config{
		APIKeys: keys,
		Timeout: 2 * time.Second,
		BaseURL: serverURL,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func decodeKey(t *testing.T, r *http.Request) string {
	t.Helper()
	var req searchRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req.APIKey
}

func TestSearchRotatesCredentialOnRateLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if decodeKey(t, r) == "limited-key" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(resultsPayload(rawResult{ //nolint:errcheck
			Title:   "Caching 101",
			URL:     "https://example.com/caching",
			Content: "an overview of caching",
		}))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "limited-key", "good-key")

	// Whichever key is picked first, the call must succeed without
	// surfacing an error.
	for i := 0; i < 10; i++ {
		results, err := client.Search(context.Background(), "caching")
		require.NoError(t, err)
		require.Len(t, results.Web, 1)
		require.Equal(t, "https://example.com/caching", results.Web[0].URL)
	}
}

func TestSearchSingleKeyRateLimitPropagates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "only-key")

	_, err := client.Search(context.Background(), "caching")
	require.ErrorIs(t, err, pipeline.ErrSearchFailed)
	require.ErrorIs(t, err, pipeline.ErrRateLimited)
}

func TestSearchNonRateLimitErrorNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "key-a", "key-b")

	_, err := client.Search(context.Background(), "caching")
	require.ErrorIs(t, err, pipeline.ErrSearchFailed)
	require.NotErrorIs(t, err, pipeline.ErrRateLimited)
	require.Equal(t, 1, calls)
}

func TestSearchNormalizesMediaCategories(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(resultsPayload( //nolint:errcheck
			rawResult{Title: "Guide", URL: "https://example.com/guide", Content: "see https://www.youtube.com/watch?v=dQw4w9WgXcQ for a demo"},
			rawResult{Title: "Diagram", URL: "https://img.example/cache-diagram.PNG"},
			rawResult{Title: "Talk", URL: "https://vimeo.com/123456"},
			rawResult{Title: "Guide copy", URL: "https://example.com/guide2", Content: "again https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "key")

	results, err := client.Search(context.Background(), "caching")
	require.NoError(t, err)

	require.Len(t, results.Web, 2)
	require.Len(t, results.Images, 1)
	require.Equal(t, pipeline.CategoryImage, results.Images[0].Category)

	// The repeated YouTube link is deduplicated; the Vimeo result URL is
	// recognized as a video, not a web source.
	require.Len(t, results.Videos, 2)
	urls := []string{results.Videos[0].URL, results.Videos[1].URL}
	require.Contains(t, urls, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.Contains(t, urls, "https://vimeo.com/123456")
}

func TestNewRequiresAPIKeys(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestOtherIndexNeverReturnsCurrent(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		got := otherIndex(1, 3)
		require.NotEqual(t, 1, got)
		require.GreaterOrEqual(t, got, 0)
		require.Less(t, got, 3)
	}
}
