// Package reconciler polls generation status for outstanding articles.
// It is the client-side counterpart of the pipeline: callers register
// article ids after enqueueing and read the merged view as results
// arrive.
package reconciler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

// StatusClient fetches the current status rows for a set of article
// ids. Implemented over the status endpoint or directly by a Store.
type StatusClient interface {
	FetchStatuses(ctx context.Context, articleIDs []string) ([]pipeline.StatusRow, error)
}

// Config holds the polling cadences.
type Config struct {
	// FastInterval drives polling while recently enqueued articles are
	// outstanding.
	FastInterval time.Duration
	// SlowInterval drives polling for articles older than RecentWindow.
	SlowInterval time.Duration
	// RecentWindow is how long an article counts as recent.
	RecentWindow time.Duration
}

// Reconciler tracks outstanding article ids in two sets by age and
// polls them at different cadences: recent work is polled fast so
// callers see completions promptly, older work is polled slowly so a
// stuck backlog does not hammer the API.
type Reconciler struct {
	client StatusClient
	clock  pipeline.Clock
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	recent map[string]time.Time
	aging  map[string]time.Time
	view   map[string]pipeline.StatusRow
}

// New constructs a Reconciler. Zero cadences fall back to defaults.
func New(client StatusClient, clock pipeline.Clock, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = 5 * time.Second
	}
	if cfg.SlowInterval <= 0 {
		cfg.SlowInterval = 60 * time.Second
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 60 * time.Second
	}
	return &Reconciler{
		client: client,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		recent: make(map[string]time.Time),
		aging:  make(map[string]time.Time),
		view:   make(map[string]pipeline.StatusRow),
	}
}

// Track registers an article id for polling. Ids older than the recent
// window go straight to the aging set.
func (r *Reconciler) Track(articleID string, createdAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clock.Now().Sub(createdAt) < r.cfg.RecentWindow {
		r.recent[articleID] = createdAt
	} else {
		r.aging[articleID] = createdAt
	}
}

// Outstanding returns the number of ids still being polled.
func (r *Reconciler) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recent) + len(r.aging)
}

// View returns a copy of the merged status rows keyed by article id.
func (r *Reconciler) View() map[string]pipeline.StatusRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]pipeline.StatusRow, len(r.view))
	for id, row := range r.view {
		out[id] = row
	}
	return out
}

// Run polls until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	fast := time.NewTicker(r.cfg.FastInterval)
	defer fast.Stop()
	slow := time.NewTicker(r.cfg.SlowInterval)
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fast.C:
			r.pollFast(ctx)
		case <-slow.C:
			r.pollSlow(ctx)
		}
	}
}

// pollFast polls the union of both sets, but only while at least one
// recent id is outstanding. It also migrates recent ids past the window
// into the aging set.
func (r *Reconciler) pollFast(ctx context.Context) {
	r.mu.Lock()
	now := r.clock.Now()
	for id, createdAt := range r.recent {
		if now.Sub(createdAt) >= r.cfg.RecentWindow {
			r.aging[id] = createdAt
			delete(r.recent, id)
		}
	}
	if len(r.recent) == 0 {
		r.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(r.recent)+len(r.aging))
	for id := range r.recent {
		ids = append(ids, id)
	}
	for id := range r.aging {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.poll(ctx, ids)
}

// pollSlow polls only the aging set. It runs regardless of the recent
// set so old work keeps making progress.
func (r *Reconciler) pollSlow(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.aging))
	for id := range r.aging {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	r.poll(ctx, ids)
}

func (r *Reconciler) poll(ctx context.Context, ids []string) {
	rows, err := r.client.FetchStatuses(ctx, ids)
	if err != nil {
		r.logger.Warn("status poll failed", zap.Int("ids", len(ids)), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		r.view[row.ArticleID] = row
		if row.JobStatus.Terminal() {
			delete(r.recent, row.ArticleID)
			delete(r.aging, row.ArticleID)
		}
	}
}
