// Package dispatcher drains the job queue: it claims a batch of pending
// jobs and drives each one through search, generation, and persistence.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
	"github.com/scrivenerhq/scrivener/internal/telemetry"
)

// Config holds batch behavior.
type Config struct {
	// BatchSize is the number of jobs claimed per run.
	BatchSize int
	// JobTimeout bounds each job's search + generation + persistence.
	JobTimeout time.Duration
}

// Summary reports the outcome of one dispatch run.
type Summary struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Dispatcher processes batches of pending jobs.
type Dispatcher struct {
	store     pipeline.Store
	searcher  pipeline.Searcher
	generator pipeline.Generator
	publisher pipeline.Publisher
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Dispatcher.
func New(store pipeline.Store, searcher pipeline.Searcher, generator pipeline.Generator,
	publisher pipeline.Publisher, clock pipeline.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	return &Dispatcher{
		store:     store,
		searcher:  searcher,
		generator: generator,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunOnce claims one batch and processes every job in it sequentially.
// A job failure is recorded on that job and never aborts the rest of
// the batch. The returned error is non-nil only when the claim itself
// fails.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	jobs, err := d.store.ClaimPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("claim batch: %w", err)
	}
	telemetry.ObserveBatch(len(jobs))

	summary := Summary{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return summary, nil
	}

	d.logger.Info("processing batch", zap.Int("claimed", len(jobs)))
	for _, job := range jobs {
		if err := d.process(ctx, job); err != nil {
			summary.Failed++
		} else {
			summary.Completed++
		}
	}
	d.logger.Info("batch finished",
		zap.Int("claimed", summary.Claimed),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// ProcessArticle claims and processes the pending job for one article
// synchronously. Claim errors (unknown article, job already claimed)
// are returned as-is; generation errors are recorded on the job and
// returned.
func (d *Dispatcher) ProcessArticle(ctx context.Context, articleID string) error {
	job, err := d.store.ClaimByArticleID(ctx, articleID)
	if err != nil {
		return err
	}
	return d.process(ctx, job)
}

// process drives one claimed job to a terminal state. It always records
// an outcome: on any error the job is failed with the reason.
func (d *Dispatcher) process(ctx context.Context, job pipeline.Job) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	start := d.clock.Now()
	article, err := d.store.GetArticle(ctx, job.ArticleID)
	if err != nil {
		return d.fail(ctx, job, fmt.Errorf("load article: %w", err))
	}

	results, err := d.searcher.Search(ctx, article.Title)
	if err != nil {
		return d.fail(ctx, job, err)
	}

	draft, err := d.generator.Generate(ctx, article.Title, results)
	if err != nil {
		return d.fail(ctx, job, err)
	}

	if err := d.store.CompleteJob(ctx, job.ID, job.ArticleID, draft.Content, draft.Sources); err != nil {
		d.logger.Error("complete job", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}

	telemetry.ObserveJob(string(pipeline.JobStatusCompleted))
	telemetry.ObserveGeneration(d.clock.Now().Sub(start))
	d.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("article_id", job.ArticleID),
		zap.String("title", article.Title),
	)
	d.publish(job, pipeline.JobStatusCompleted, "")
	return nil
}

// fail records the error on the job and its article. It returns a
// non-nil error so the caller counts the job as failed. The terminal
// write uses a fresh context: the per-job one may already be expired,
// and an expired job must still land in the failed state.
func (d *Dispatcher) fail(_ context.Context, job pipeline.Job, cause error) error {
	d.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("article_id", job.ArticleID),
		zap.Error(cause),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.store.FailJob(ctx, job.ID, job.ArticleID, cause.Error()); err != nil {
		d.logger.Error("record job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
	telemetry.ObserveJob(string(pipeline.JobStatusFailed))
	d.publish(job, pipeline.JobStatusFailed, cause.Error())
	return cause
}

// publish sends the completion event. Best-effort: a publish failure is
// logged and never affects job state. A fresh context is used because
// the per-job one may already be expired.
func (d *Dispatcher) publish(job pipeline.Job, status pipeline.JobStatus, errText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	event := pipeline.CompletionEvent{
		JobID:     job.ID,
		ArticleID: job.ArticleID,
		Status:    status,
		ErrorText: errText,
		Timestamp: d.clock.Now(),
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("publish completion event",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}
