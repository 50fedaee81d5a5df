// Package postgres provides the Postgres-backed job and article store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store persists jobs and articles in Postgres. Job status is the
// authoritative state machine; article updates ride in the same
// transaction as terminal job transitions.
type Store struct {
	pool  pgxPool
	clock pipeline.Clock
	idGen pipeline.IDGenerator
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config, clock pipeline.Clock, idGen pipeline.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, clock: clock, idGen: idGen}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, clock pipeline.Clock, idGen pipeline.IDGenerator) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, clock: clock, idGen: idGen}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(pipeline.ErrStoreUnavailable, err))
}

// Enqueue creates a pending job and its draft article in one transaction.
func (s *Store) Enqueue(ctx context.Context, title string) (pipeline.Job, pipeline.Article, error) {
	articleID, err := s.idGen.NewID()
	if err != nil {
		return pipeline.Job{}, pipeline.Article{}, fmt.Errorf("generate article id: %w", err)
	}
	jobID, err := s.idGen.NewID()
	if err != nil {
		return pipeline.Job{}, pipeline.Article{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()

	metadata := pipeline.ArticleMetadata{Keywords: []string{}}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return pipeline.Job{}, pipeline.Article{}, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return pipeline.Job{}, pipeline.Article{}, storeErr("begin enqueue", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
INSERT INTO articles (id, title, status, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)`,
		articleID, title, pipeline.ArticleStatusDraft, metadataJSON, now)
	if err != nil {
		return pipeline.Job{}, pipeline.Article{}, storeErr("insert article", err)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO jobs (id, article_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)`,
		jobID, articleID, pipeline.JobStatusPending, now)
	if err != nil {
		return pipeline.Job{}, pipeline.Article{}, storeErr("insert job", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return pipeline.Job{}, pipeline.Article{}, storeErr("commit enqueue", err)
	}

	job := pipeline.Job{
		ID:        jobID,
		ArticleID: articleID,
		Status:    pipeline.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	article := pipeline.Article{
		ID:        articleID,
		Title:     title,
		Status:    pipeline.ArticleStatusDraft,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return job, article, nil
}

// ClaimPending atomically selects up to limit pending jobs and flips them
// to processing in a single conditional update. SKIP LOCKED keeps
// concurrent dispatcher instances from double-claiming.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]pipeline.Job, error) {
	now := s.clock.Now()
	rows, err := s.pool.Query(ctx, `
UPDATE jobs SET status = 'processing', updated_at = $2
WHERE id IN (
	SELECT id FROM jobs
	WHERE status = 'pending'
	ORDER BY created_at
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, article_id, status, COALESCE(error, ''), created_at, updated_at, processed_at`,
		limit, now)
	if err != nil {
		return nil, storeErr("claim pending", err)
	}
	defer rows.Close()

	var claimed []pipeline.Job
	for rows.Next() {
		var job pipeline.Job
		if err := rows.Scan(
			&job.ID, &job.ArticleID, &job.Status, &job.ErrorText,
			&job.CreatedAt, &job.UpdatedAt, &job.ProcessedAt,
		); err != nil {
			return nil, storeErr("scan claimed job", err)
		}
		claimed = append(claimed, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate claimed jobs", err)
	}
	return claimed, nil
}

// ClaimByArticleID atomically claims the pending job belonging to one
// article via a conditional update.
func (s *Store) ClaimByArticleID(ctx context.Context, articleID string) (pipeline.Job, error) {
	now := s.clock.Now()
	var job pipeline.Job
	err := s.pool.QueryRow(ctx, `
UPDATE jobs SET status = 'processing', updated_at = $2
WHERE article_id = $1 AND status = 'pending'
RETURNING id, article_id, status, COALESCE(error, ''), created_at, updated_at, processed_at`,
		articleID, now).Scan(
		&job.ID, &job.ArticleID, &job.Status, &job.ErrorText,
		&job.CreatedAt, &job.UpdatedAt, &job.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		var current pipeline.JobStatus
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM jobs WHERE article_id = $1`, articleID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, fmt.Errorf("article %s: %w", articleID, pipeline.ErrNotFound)
		}
		if err != nil {
			return pipeline.Job{}, storeErr("lookup job for article", err)
		}
		return pipeline.Job{}, fmt.Errorf("job for article %s is %s: %w", articleID, current, pipeline.ErrNotPending)
	}
	if err != nil {
		return pipeline.Job{}, storeErr("claim by article id", err)
	}
	return job, nil
}

// CompleteJob marks the job completed and publishes the article with its
// content and sources in one transaction.
func (s *Store) CompleteJob(ctx context.Context, jobID, articleID, content string, sources []pipeline.Source) error {
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin complete", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
UPDATE jobs SET status = 'completed', updated_at = $2, processed_at = $2
WHERE id = $1 AND status = 'processing'`,
		jobID, now)
	if err != nil {
		return storeErr("complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.rejectTransition(ctx, jobID, pipeline.JobStatusCompleted)
	}

	_, err = tx.Exec(ctx, `
UPDATE articles SET
	status = 'published',
	content = $2,
	sources = $3,
	metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{reading_time}', to_jsonb($4::int)),
	updated_at = $5,
	published_at = $5
WHERE id = $1`,
		articleID, content, sourcesJSON, pipeline.EstimateReadingTime(content), now)
	if err != nil {
		return storeErr("publish article", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit complete", err)
	}
	return nil
}

// FailJob marks the job failed and echoes the reason into the article
// metadata in one transaction.
func (s *Store) FailJob(ctx context.Context, jobID, articleID, reason string) error {
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin fail", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
UPDATE jobs SET status = 'failed', error = $2, updated_at = $3, processed_at = $3
WHERE id = $1 AND status = 'processing'`,
		jobID, reason, now)
	if err != nil {
		return storeErr("fail job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.rejectTransition(ctx, jobID, pipeline.JobStatusFailed)
	}

	reasonJSON, err := json.Marshal(reason)
	if err != nil {
		return fmt.Errorf("marshal failure reason: %w", err)
	}
	_, err = tx.Exec(ctx, `
UPDATE articles SET
	status = 'failed',
	metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{error}', $2::jsonb),
	updated_at = $3
WHERE id = $1`,
		articleID, reasonJSON, now)
	if err != nil {
		return storeErr("mark article failed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit fail", err)
	}
	return nil
}

// rejectTransition distinguishes an unknown job from an illegal
// transition when the conditional update matched nothing. An illegal
// transition is a programming error and panics via MustTransition.
func (s *Store) rejectTransition(ctx context.Context, jobID string, target pipeline.JobStatus) error {
	var current pipeline.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	if err != nil {
		return storeErr("lookup job status", err)
	}
	pipeline.MustTransition(current, target)
	return nil
}

// FindByArticleIDs returns the joined status projection for the given
// article ids. Unknown ids are omitted.
func (s *Store) FindByArticleIDs(ctx context.Context, articleIDs []string) ([]pipeline.StatusRow, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT j.article_id, j.status, COALESCE(j.error, ''), a.title, a.content, a.sources, j.created_at
FROM jobs j
JOIN articles a ON a.id = j.article_id
WHERE j.article_id = ANY($1)
ORDER BY j.created_at`,
		articleIDs)
	if err != nil {
		return nil, storeErr("find by article ids", err)
	}
	defer rows.Close()

	var out []pipeline.StatusRow
	for rows.Next() {
		var (
			row         pipeline.StatusRow
			sourcesJSON []byte
		)
		if err := rows.Scan(
			&row.ArticleID, &row.JobStatus, &row.ErrorText,
			&row.Title, &row.Content, &sourcesJSON, &row.CreatedAt,
		); err != nil {
			return nil, storeErr("scan status row", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &row.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate status rows", err)
	}
	return out, nil
}

const articleColumns = `id, title, content, status, sources, metadata, created_at, updated_at, published_at`

// GetArticle fetches one article by id.
func (s *Store) GetArticle(ctx context.Context, articleID string) (pipeline.Article, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`, articleID)
	article, err := scanArticle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Article{}, fmt.Errorf("article %s: %w", articleID, pipeline.ErrNotFound)
	}
	if err != nil {
		return pipeline.Article{}, storeErr("get article", err)
	}
	return article, nil
}

// ListArticles returns all articles, newest first.
func (s *Store) ListArticles(ctx context.Context) ([]pipeline.Article, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+articleColumns+` FROM articles ORDER BY created_at DESC`)
	if err != nil {
		return nil, storeErr("list articles", err)
	}
	defer rows.Close()

	var out []pipeline.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, storeErr("scan article", err)
		}
		out = append(out, article)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate articles", err)
	}
	return out, nil
}

// CountPending returns the number of jobs still pending.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, storeErr("count pending", err)
	}
	return count, nil
}

func scanArticle(row pgx.Row) (pipeline.Article, error) {
	var (
		article      pipeline.Article
		sourcesJSON  []byte
		metadataJSON []byte
	)
	err := row.Scan(
		&article.ID, &article.Title, &article.Content, &article.Status,
		&sourcesJSON, &metadataJSON,
		&article.CreatedAt, &article.UpdatedAt, &article.PublishedAt,
	)
	if err != nil {
		return pipeline.Article{}, err
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &article.Sources); err != nil {
			return pipeline.Article{}, fmt.Errorf("unmarshal sources: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &article.Metadata); err != nil {
			return pipeline.Article{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return article, nil
}
