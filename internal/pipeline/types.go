// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

// Job status values persisted in the job store. Transitions are
// forward-only: pending -> processing -> completed or failed.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether a job status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ArticleStatus mirrors the job outcome on the content entity. It is a
// projection of the job state machine, written in the same store
// transaction as the job's terminal transition.
type ArticleStatus string

// Article status values.
const (
	ArticleStatusDraft     ArticleStatus = "draft"
	ArticleStatusPublished ArticleStatus = "published"
	ArticleStatusFailed    ArticleStatus = "failed"
)

// Job represents one queued generation request.
type Job struct {
	ID          string     `json:"id"`
	ArticleID   string     `json:"article_id"`
	Status      JobStatus  `json:"status"`
	ErrorText   string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// SourceCategory tags a research source by media type.
type SourceCategory string

// Recognized source categories.
const (
	CategoryWeb   SourceCategory = "web"
	CategoryImage SourceCategory = "image"
	CategoryVideo SourceCategory = "video"
)

// Source is one research result attached to a published article.
type Source struct {
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Summary  string         `json:"summary,omitempty"`
	Category SourceCategory `json:"category"`
}

// SearchResults holds normalized search output split by media category.
type SearchResults struct {
	Web    []Source
	Images []Source
	Videos []Source
}

// AllSources returns web, image, and video sources in a single ordered
// slice, each tagged with its category.
func (r SearchResults) AllSources() []Source {
	out := make([]Source, 0, len(r.Web)+len(r.Images)+len(r.Videos))
	out = append(out, r.Web...)
	out = append(out, r.Images...)
	out = append(out, r.Videos...)
	return out
}

// MediaURLs returns the image and video URLs, in that order.
func (r SearchResults) MediaURLs() []string {
	urls := make([]string, 0, len(r.Images)+len(r.Videos))
	for _, s := range r.Images {
		urls = append(urls, s.URL)
	}
	for _, s := range r.Videos {
		urls = append(urls, s.URL)
	}
	return urls
}

// ArticleMetadata carries free-form descriptive fields, plus an error
// echo when generation failed.
type ArticleMetadata struct {
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
	ReadingTime int      `json:"reading_time"`
	Error       string   `json:"error,omitempty"`
}

// Article is the content entity a job produces content for.
type Article struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Content     *string         `json:"content"`
	Status      ArticleStatus   `json:"status"`
	Sources     []Source        `json:"sources,omitempty"`
	Metadata    ArticleMetadata `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// Draft is a validated generation result ready to persist.
type Draft struct {
	Content string
	Sources []Source
}

// StatusRow is the joined job+article projection returned for status
// polling, keyed by article id.
type StatusRow struct {
	ArticleID string    `json:"article_id"`
	JobStatus JobStatus `json:"status"`
	ErrorText string    `json:"error,omitempty"`
	Title     string    `json:"title"`
	Content   *string   `json:"content,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CompletionEvent is published when a job reaches a terminal state.
type CompletionEvent struct {
	JobID     string    `json:"job_id"`
	ArticleID string    `json:"article_id"`
	Status    JobStatus `json:"status"`
	ErrorText string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
