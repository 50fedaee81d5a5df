// Package api exposes the HTTP interface for the content pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrivenerhq/scrivener/internal/dispatcher"
	"github.com/scrivenerhq/scrivener/internal/pipeline"
	"github.com/scrivenerhq/scrivener/internal/telemetry"
)

// Runner triggers job processing, either a batch or one article.
type Runner interface {
	RunOnce(ctx context.Context) (dispatcher.Summary, error)
	ProcessArticle(ctx context.Context, articleID string) error
}

// Config holds the HTTP-facing knobs.
type Config struct {
	// MaxPendingJobs bounds the queue; enqueue returns 429 past it.
	MaxPendingJobs int
	// AuthEnabled turns on the API-key check.
	AuthEnabled bool
	// APIKey is the expected key when auth is enabled.
	APIKey string
	// RequestTimeout bounds each request.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the store and the dispatcher.
type Server struct {
	router chi.Router
	store  pipeline.Store
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store pipeline.Store, runner Runner, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		store:  store,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/articles", func(r chi.Router) {
			r.Post("/", s.createArticle)
			r.Get("/", s.listArticles)
			r.Post("/status", s.articleStatuses)
			r.Route("/{article_id}", func(r chi.Router) {
				r.Get("/", s.getArticle)
				r.Post("/generate", s.generateArticle)
			})
		})
		r.Post("/cron/generate-content", s.runBatch)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A cheap store round-trip proves the backing database is reachable.
	if _, err := s.store.CountPending(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createArticleRequest struct {
	Title string `json:"title"`
}

func (s *Server) createArticle(w http.ResponseWriter, r *http.Request) {
	var req createArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	if s.cfg.MaxPendingJobs > 0 {
		pending, err := s.store.CountPending(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check queue capacity")
			return
		}
		if pending >= s.cfg.MaxPendingJobs {
			writeError(w, http.StatusTooManyRequests, "generation queue is full, try again later")
			return
		}
	}

	job, article, err := s.store.Enqueue(r.Context(), title)
	if err != nil {
		s.logger.Error("enqueue article", zap.String("title", title), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue article")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"article_id": article.ID,
		"job_id":     job.ID,
		"status":     string(job.Status),
	})
}

type statusRequest struct {
	ArticleIDs []string `json:"article_ids"`
}

type processingEntry struct {
	ArticleID string `json:"article_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type completedEntry struct {
	ArticleID string            `json:"article_id"`
	Title     string            `json:"title"`
	Status    string            `json:"status"`
	Content   *string           `json:"content"`
	Sources   []pipeline.Source `json:"sources,omitempty"`
}

// articleStatuses partitions the requested ids: completed jobs carry the
// full content payload, everything else reports status only. Unknown ids
// are omitted from both partitions.
func (s *Server) articleStatuses(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ArticleIDs) == 0 {
		writeError(w, http.StatusBadRequest, "article_ids is required")
		return
	}

	rows, err := s.store.FindByArticleIDs(r.Context(), req.ArticleIDs)
	if err != nil {
		s.logger.Error("fetch article statuses", zap.Int("ids", len(req.ArticleIDs)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch statuses")
		return
	}

	processing := make([]processingEntry, 0, len(rows))
	completed := make([]completedEntry, 0, len(rows))
	for _, row := range rows {
		if row.JobStatus == pipeline.JobStatusCompleted {
			completed = append(completed, completedEntry{
				ArticleID: row.ArticleID,
				Title:     row.Title,
				Status:    string(row.JobStatus),
				Content:   row.Content,
				Sources:   row.Sources,
			})
			continue
		}
		processing = append(processing, processingEntry{
			ArticleID: row.ArticleID,
			Status:    string(row.JobStatus),
			Error:     row.ErrorText,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processing": processing,
		"completed":  completed,
	})
}

type articleSummary struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.store.ListArticles(r.Context())
	if err != nil {
		s.logger.Error("list articles", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	summaries := make([]articleSummary, 0, len(articles))
	for _, a := range articles {
		summaries = append(summaries, articleSummary{
			ID:          a.ID,
			Title:       a.Title,
			Status:      string(a.Status),
			CreatedAt:   a.CreatedAt,
			UpdatedAt:   a.UpdatedAt,
			PublishedAt: a.PublishedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": summaries})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "article_id")
	article, err := s.store.GetArticle(r.Context(), articleID)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		s.logger.Error("get article", zap.String("article_id", articleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch article")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"article": article})
}

// generateArticle runs the full pipeline for one article synchronously
// and returns the finished article.
func (s *Server) generateArticle(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "article_id")
	err := s.runner.ProcessArticle(r.Context(), articleID)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, http.StatusNotFound, "article not found")
		return
	case errors.Is(err, pipeline.ErrNotPending):
		writeError(w, http.StatusConflict, "article generation already started")
		return
	case err != nil:
		// The job is already marked failed with this reason.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	article, err := s.store.GetArticle(r.Context(), articleID)
	if err != nil {
		s.logger.Error("fetch generated article", zap.String("article_id", articleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch generated article")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"article": article})
}

// runBatch is the cron entrypoint: it drains one batch and reports the
// outcome. Partial failure is still a 200; only a failed claim is a 500.
func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.RunOnce(r.Context())
	if err != nil {
		s.logger.Error("batch run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to claim batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"claimed":   summary.Claimed,
		"completed": summary.Completed,
		"failed":    summary.Failed,
	})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
