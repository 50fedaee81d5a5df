package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	t.Parallel()

	allowed := [][2]JobStatus{
		{JobStatusPending, JobStatusProcessing},
		{JobStatusProcessing, JobStatusCompleted},
		{JobStatusProcessing, JobStatusFailed},
	}
	for _, pair := range allowed {
		require.True(t, CanTransition(pair[0], pair[1]), "%s -> %s should be legal", pair[0], pair[1])
	}

	forbidden := [][2]JobStatus{
		{JobStatusProcessing, JobStatusPending},
		{JobStatusCompleted, JobStatusProcessing},
		{JobStatusCompleted, JobStatusPending},
		{JobStatusFailed, JobStatusPending},
		{JobStatusFailed, JobStatusCompleted},
		{JobStatusPending, JobStatusCompleted},
		{JobStatusPending, JobStatusFailed},
	}
	for _, pair := range forbidden {
		require.False(t, CanTransition(pair[0], pair[1]), "%s -> %s should be illegal", pair[0], pair[1])
	}
}

func TestMustTransitionPanicsOnInvalid(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		MustTransition(JobStatusCompleted, JobStatusProcessing)
	})
	require.NotPanics(t, func() {
		MustTransition(JobStatusPending, JobStatusProcessing)
	})
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, JobStatusCompleted.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.False(t, JobStatusPending.Terminal())
	require.False(t, JobStatusProcessing.Terminal())
}

func TestSearchResultsAccessors(t *testing.T) {
	t.Parallel()

	results := SearchResults{
		Web:    []Source{{Title: "a", URL: "https://a.example", Category: CategoryWeb}},
		Images: []Source{{URL: "https://img.example/x.png", Category: CategoryImage}},
		Videos: []Source{{URL: "https://youtu.be/abc", Category: CategoryVideo}},
	}

	all := results.AllSources()
	require.Len(t, all, 3)
	require.Equal(t, CategoryWeb, all[0].Category)
	require.Equal(t, CategoryImage, all[1].Category)
	require.Equal(t, CategoryVideo, all[2].Category)

	media := results.MediaURLs()
	require.Equal(t, []string{"https://img.example/x.png", "https://youtu.be/abc"}, media)
}
