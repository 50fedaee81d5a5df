package pipeline

import (
	"context"
	"time"
)

// Store persists jobs and articles. Job status is the authoritative state
// machine; implementations update the article projection in the same
// transaction as terminal job transitions.
type Store interface {
	// Enqueue creates a pending job and its draft article atomically.
	Enqueue(ctx context.Context, title string) (Job, Article, error)
	// ClaimPending atomically selects up to limit pending jobs and flips
	// them to processing, returning the claimed rows in creation order.
	ClaimPending(ctx context.Context, limit int) ([]Job, error)
	// ClaimByArticleID atomically claims the pending job belonging to
	// one article. Returns ErrNotFound for an unknown article and
	// ErrNotPending when the job already left the pending state.
	ClaimByArticleID(ctx context.Context, articleID string) (Job, error)
	// CompleteJob marks the job completed and publishes the article with
	// its content and sources in one transaction.
	CompleteJob(ctx context.Context, jobID, articleID, content string, sources []Source) error
	// FailJob marks the job failed and the article failed, echoing the
	// reason into both, in one transaction.
	FailJob(ctx context.Context, jobID, articleID, reason string) error
	// FindByArticleIDs returns the status projection for the given
	// article ids. Unknown ids are omitted, not an error.
	FindByArticleIDs(ctx context.Context, articleIDs []string) ([]StatusRow, error)
	// GetArticle fetches one article by id.
	GetArticle(ctx context.Context, articleID string) (Article, error)
	// ListArticles returns all articles, newest first.
	ListArticles(ctx context.Context) ([]Article, error)
	// CountPending returns the number of jobs still pending.
	CountPending(ctx context.Context) (int, error)
}

// Searcher performs topic research against an external search provider.
type Searcher interface {
	Search(ctx context.Context, topic string) (SearchResults, error)
}

// TextModel invokes a language model and returns the generated text.
type TextModel interface {
	Complete(ctx context.Context, model, system, prompt string) (string, error)
}

// Generator produces validated article drafts from a topic and research.
type Generator interface {
	Generate(ctx context.Context, topic string, results SearchResults) (Draft, error)
}

// Publisher pushes completion events to a message bus. Publishing is
// best-effort; failures must not affect job state.
type Publisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and article IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
