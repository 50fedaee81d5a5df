// Package memory provides an in-memory Store for development/testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

// Store keeps jobs and articles in mutex-guarded maps. Claiming flips
// status under the lock, so the claim is atomic like the Postgres store.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]pipeline.Job
	articles map[string]pipeline.Article
	clock    pipeline.Clock
	idGen    pipeline.IDGenerator
}

// New constructs a Store.
func New(clock pipeline.Clock, idGen pipeline.IDGenerator) *Store {
	return &Store{
		jobs:     make(map[string]pipeline.Job),
		articles: make(map[string]pipeline.Article),
		clock:    clock,
		idGen:    idGen,
	}
}

// Enqueue creates a pending job and its draft article atomically.
func (s *Store) Enqueue(_ context.Context, title string) (pipeline.Job, pipeline.Article, error) {
	articleID, err := s.idGen.NewID()
	if err != nil {
		return pipeline.Job{}, pipeline.Article{}, fmt.Errorf("generate article id: %w", err)
	}
	jobID, err := s.idGen.NewID()
	if err != nil {
		return pipeline.Job{}, pipeline.Article{}, fmt.Errorf("generate job id: %w", err)
	}

	now := s.clock.Now()
	article := pipeline.Article{
		ID:        articleID,
		Title:     title,
		Status:    pipeline.ArticleStatusDraft,
		Metadata:  pipeline.ArticleMetadata{Keywords: []string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	job := pipeline.Job{
		ID:        jobID,
		ArticleID: articleID,
		Status:    pipeline.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[articleID] = article
	s.jobs[jobID] = job
	return job, article, nil
}

// ClaimPending selects up to limit pending jobs in creation order and
// flips them to processing before returning.
func (s *Store) ClaimPending(_ context.Context, limit int) ([]pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]pipeline.Job, 0, limit)
	for _, job := range s.jobs {
		if job.Status == pipeline.JobStatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := s.clock.Now()
	for i, job := range pending {
		pipeline.MustTransition(job.Status, pipeline.JobStatusProcessing)
		job.Status = pipeline.JobStatusProcessing
		job.UpdatedAt = now
		s.jobs[job.ID] = job
		pending[i] = job
	}
	return pending, nil
}

// ClaimByArticleID claims the pending job belonging to one article.
func (s *Store) ClaimByArticleID(_ context.Context, articleID string) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.ArticleID != articleID {
			continue
		}
		if job.Status != pipeline.JobStatusPending {
			return pipeline.Job{}, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, pipeline.ErrNotPending)
		}
		job.Status = pipeline.JobStatusProcessing
		job.UpdatedAt = s.clock.Now()
		s.jobs[job.ID] = job
		return job, nil
	}
	return pipeline.Job{}, fmt.Errorf("article %s: %w", articleID, pipeline.ErrNotFound)
}

// CompleteJob marks the job completed and publishes the article.
func (s *Store) CompleteJob(_ context.Context, jobID, articleID, content string, sources []pipeline.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	article, ok := s.articles[articleID]
	if !ok {
		return fmt.Errorf("article %s: %w", articleID, pipeline.ErrNotFound)
	}
	pipeline.MustTransition(job.Status, pipeline.JobStatusCompleted)

	now := s.clock.Now()
	job.Status = pipeline.JobStatusCompleted
	job.UpdatedAt = now
	job.ProcessedAt = &now
	s.jobs[jobID] = job

	article.Status = pipeline.ArticleStatusPublished
	article.Content = &content
	article.Sources = append([]pipeline.Source(nil), sources...)
	article.Metadata.ReadingTime = pipeline.EstimateReadingTime(content)
	article.UpdatedAt = now
	article.PublishedAt = &now
	s.articles[articleID] = article
	return nil
}

// FailJob marks the job failed and echoes the reason into the article.
func (s *Store) FailJob(_ context.Context, jobID, articleID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	article, ok := s.articles[articleID]
	if !ok {
		return fmt.Errorf("article %s: %w", articleID, pipeline.ErrNotFound)
	}
	pipeline.MustTransition(job.Status, pipeline.JobStatusFailed)

	now := s.clock.Now()
	job.Status = pipeline.JobStatusFailed
	job.ErrorText = reason
	job.UpdatedAt = now
	job.ProcessedAt = &now
	s.jobs[jobID] = job

	article.Status = pipeline.ArticleStatusFailed
	article.Metadata.Error = reason
	article.UpdatedAt = now
	s.articles[articleID] = article
	return nil
}

// FindByArticleIDs returns the status projection for the given ids.
func (s *Store) FindByArticleIDs(_ context.Context, articleIDs []string) ([]pipeline.StatusRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byArticle := make(map[string]pipeline.Job, len(s.jobs))
	for _, job := range s.jobs {
		byArticle[job.ArticleID] = job
	}

	rows := make([]pipeline.StatusRow, 0, len(articleIDs))
	for _, id := range articleIDs {
		job, ok := byArticle[id]
		if !ok {
			continue
		}
		article := s.articles[id]
		rows = append(rows, pipeline.StatusRow{
			ArticleID: id,
			JobStatus: job.Status,
			ErrorText: job.ErrorText,
			Title:     article.Title,
			Content:   article.Content,
			Sources:   append([]pipeline.Source(nil), article.Sources...),
			CreatedAt: job.CreatedAt,
		})
	}
	return rows, nil
}

// GetArticle fetches one article by id.
func (s *Store) GetArticle(_ context.Context, articleID string) (pipeline.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[articleID]
	if !ok {
		return pipeline.Article{}, fmt.Errorf("article %s: %w", articleID, pipeline.ErrNotFound)
	}
	return article, nil
}

// ListArticles returns all articles, newest first.
func (s *Store) ListArticles(_ context.Context) ([]pipeline.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Article, 0, len(s.articles))
	for _, article := range s.articles {
		out = append(out, article)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CountPending returns the number of jobs still pending.
func (s *Store) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, job := range s.jobs {
		if job.Status == pipeline.JobStatusPending {
			count++
		}
	}
	return count, nil
}
