package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type seqIDGen struct {
	n int
}

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%03d", g.n), nil
}

func newTestStore() (*Store, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	return New(clk, &seqIDGen{}), clk
}

func TestEnqueueCreatesJobAndArticle(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	job, article, err := store.Enqueue(context.Background(), "Intro to Caching")
	require.NoError(t, err)

	require.Equal(t, pipeline.JobStatusPending, job.Status)
	require.Equal(t, article.ID, job.ArticleID)
	require.Equal(t, pipeline.ArticleStatusDraft, article.Status)
	require.Equal(t, "Intro to Caching", article.Title)
	require.Nil(t, article.Content)
	require.Empty(t, article.Sources)
}

func TestClaimPendingFlipsStatusAtomically(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, _, err := store.Enqueue(ctx, fmt.Sprintf("topic %d", i))
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	claimed, err := store.ClaimPending(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 5)
	for _, job := range claimed {
		require.Equal(t, pipeline.JobStatusProcessing, job.Status)
	}

	// Oldest first.
	require.True(t, claimed[0].CreatedAt.Before(claimed[4].CreatedAt))

	// A second claim must not return the same jobs.
	rest, err := store.ClaimPending(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rest, 2)

	count, err := store.CountPending(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCompleteJobPublishesArticle(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	job, article, err := store.Enqueue(ctx, "Intro to Caching")
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	sources := []pipeline.Source{
		{Title: "Caching 101", URL: "https://example.com/caching", Category: pipeline.CategoryWeb},
		{URL: "https://img.example/cache.png", Category: pipeline.CategoryImage},
	}
	err = store.CompleteJob(ctx, job.ID, article.ID, "long generated body text", sources)
	require.NoError(t, err)

	got, err := store.GetArticle(ctx, article.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.ArticleStatusPublished, got.Status)
	require.NotNil(t, got.Content)
	require.Equal(t, "long generated body text", *got.Content)
	require.Len(t, got.Sources, 2)
	require.NotNil(t, got.PublishedAt)

	rows, err := store.FindByArticleIDs(ctx, []string{article.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, pipeline.JobStatusCompleted, rows[0].JobStatus)
}

func TestFailJobEchoesReason(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	job, article, err := store.Enqueue(ctx, "Broken Topic")
	require.NoError(t, err)
	_, err = store.ClaimPending(ctx, 1)
	require.NoError(t, err)

	err = store.FailJob(ctx, job.ID, article.ID, "generated content is too short or empty")
	require.NoError(t, err)

	got, err := store.GetArticle(ctx, article.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.ArticleStatusFailed, got.Status)
	require.Equal(t, "generated content is too short or empty", got.Metadata.Error)
	require.Nil(t, got.Content)

	rows, err := store.FindByArticleIDs(ctx, []string{article.ID})
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusFailed, rows[0].JobStatus)
	require.Equal(t, "generated content is too short or empty", rows[0].ErrorText)
}

func TestTerminalTransitionsAreFinal(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	job, article, err := store.Enqueue(ctx, "Topic")
	require.NoError(t, err)
	_, err = store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(ctx, job.ID, article.ID, "body", nil))

	// completed -> failed is a programming error.
	require.Panics(t, func() {
		_ = store.FailJob(ctx, job.ID, article.ID, "late failure")
	})
}

func TestFindByArticleIDsOmitsUnknown(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	_, article, err := store.Enqueue(ctx, "Known")
	require.NoError(t, err)

	rows, err := store.FindByArticleIDs(ctx, []string{article.ID, "missing-id"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, article.ID, rows[0].ArticleID)
}

func TestListArticlesNewestFirst(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	ctx := context.Background()
	_, first, err := store.Enqueue(ctx, "first")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, second, err := store.Enqueue(ctx, "second")
	require.NoError(t, err)

	articles, err := store.ListArticles(ctx)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	require.Equal(t, second.ID, articles[0].ID)
	require.Equal(t, first.ID, articles[1].ID)
}

func TestClaimByArticleID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()

	job, article, err := store.Enqueue(ctx, "Intro to Caching")
	require.NoError(t, err)

	claimed, err := store.ClaimByArticleID(ctx, article.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	require.Equal(t, pipeline.JobStatusProcessing, claimed.Status)

	_, err = store.ClaimByArticleID(ctx, article.ID)
	require.ErrorIs(t, err, pipeline.ErrNotPending)

	_, err = store.ClaimByArticleID(ctx, "missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}
