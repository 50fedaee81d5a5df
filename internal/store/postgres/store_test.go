package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fixedIDGen struct {
	ids []string
	n   int
}

func (g *fixedIDGen) NewID() (string, error) {
	id := g.ids[g.n]
	g.n++
	return id, nil
}

func newMockStore(t *testing.T, ids ...string) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewWithPool(mock, &fakeClock{now: now}, &fixedIDGen{ids: ids})
	require.NoError(t, err)
	return store, mock, now
}

func TestEnqueueInsertsBothRows(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t, "article-1", "job-1")

	metadataJSON, err := json.Marshal(pipeline.ArticleMetadata{Keywords: []string{}})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO articles").
		WithArgs("article-1", "Intro to Caching", pipeline.ArticleStatusDraft, metadataJSON, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job-1", "article-1", pipeline.JobStatusPending, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	job, article, err := store.Enqueue(context.Background(), "Intro to Caching")
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, "article-1", job.ArticleID)
	require.Equal(t, pipeline.JobStatusPending, job.Status)
	require.Equal(t, pipeline.ArticleStatusDraft, article.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingFlipsAndReturnsJobs(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "article_id", "status", "error", "created_at", "updated_at", "processed_at",
	}).
		AddRow("job-1", "article-1", pipeline.JobStatusProcessing, "", now.Add(-time.Minute), now, (*time.Time)(nil)).
		AddRow("job-2", "article-2", pipeline.JobStatusProcessing, "", now, now, (*time.Time)(nil))

	mock.ExpectQuery("UPDATE jobs SET status = 'processing'").
		WithArgs(5, now).
		WillReturnRows(rows)

	claimed, err := store.ClaimPending(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, "job-1", claimed[0].ID)
	require.Equal(t, pipeline.JobStatusProcessing, claimed[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobUpdatesJobAndArticleInOneTx(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	sources := []pipeline.Source{
		{Title: "Caching 101", URL: "https://example.com/caching", Category: pipeline.CategoryWeb},
	}
	sourcesJSON, err := json.Marshal(sources)
	require.NoError(t, err)
	content := "generated article body"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET status = 'completed'").
		WithArgs("job-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE articles SET").
		WithArgs("article-1", content, sourcesJSON, pipeline.EstimateReadingTime(content), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.CompleteJob(context.Background(), "job-1", "article-1", content, sources)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobPanicsOnTerminalJob(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET status = 'completed'").
		WithArgs("job-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(pipeline.JobStatusCompleted))
	mock.ExpectRollback()

	require.Panics(t, func() {
		_ = store.CompleteJob(context.Background(), "job-1", "article-1", "body", nil)
	})
}

func TestCompleteJobUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET status = 'completed'").
		WithArgs("missing", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := store.CompleteJob(context.Background(), "missing", "article-1", "body", nil)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestFailJobEchoesReasonIntoArticleMetadata(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	reason := "generated content is too short or empty"
	reasonJSON, err := json.Marshal(reason)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET status = 'failed'").
		WithArgs("job-1", reason, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE articles SET").
		WithArgs("article-1", reasonJSON, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.FailJob(context.Background(), "job-1", "article-1", reason)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByArticleIDsJoinsJobAndArticle(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	content := "published body"
	sourcesJSON := []byte(`[{"title":"s","url":"https://example.com","category":"web"}]`)
	rows := pgxmock.NewRows([]string{
		"article_id", "status", "error", "title", "content", "sources", "created_at",
	}).
		AddRow("article-1", pipeline.JobStatusProcessing, "", "In Flight", (*string)(nil), []byte(nil), now).
		AddRow("article-2", pipeline.JobStatusCompleted, "", "Done", &content, sourcesJSON, now)

	mock.ExpectQuery("SELECT j.article_id").
		WithArgs([]string{"article-1", "article-2"}).
		WillReturnRows(rows)

	got, err := store.FindByArticleIDs(context.Background(), []string{"article-1", "article-2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, pipeline.JobStatusProcessing, got[0].JobStatus)
	require.Nil(t, got[0].Content)
	require.Equal(t, pipeline.JobStatusCompleted, got[1].JobStatus)
	require.NotNil(t, got[1].Content)
	require.Len(t, got[1].Sources, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByArticleIDsEmptyInput(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	got, err := store.FindByArticleIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArticleNotFound(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT id, title, content").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetArticle(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestCountPending(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimByArticleIDFlipsPendingJob(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "article_id", "status", "error", "created_at", "updated_at", "processed_at",
	}).AddRow("job-1", "article-1", pipeline.JobStatusProcessing, "", now.Add(-time.Minute), now, (*time.Time)(nil))

	mock.ExpectQuery("UPDATE jobs SET status = 'processing'").
		WithArgs("article-1", now).
		WillReturnRows(rows)

	job, err := store.ClaimByArticleID(context.Background(), "article-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, pipeline.JobStatusProcessing, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimByArticleIDUnknownArticle(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectQuery("UPDATE jobs SET status = 'processing'").
		WithArgs("missing", now).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.ClaimByArticleID(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimByArticleIDNotPending(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectQuery("UPDATE jobs SET status = 'processing'").
		WithArgs("article-1", now).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("article-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(pipeline.JobStatusCompleted))

	_, err := store.ClaimByArticleID(context.Background(), "article-1")
	require.ErrorIs(t, err, pipeline.ErrNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}
