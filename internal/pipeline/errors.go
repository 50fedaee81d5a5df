package pipeline

import (
	"errors"
	"fmt"
)

// Error taxonomy for the generation pipeline.
var (
	// ErrStoreUnavailable wraps storage I/O failures. Fatal to the
	// current operation, never retried automatically.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSearchFailed wraps search provider failures after credential
	// rotation has been exhausted.
	ErrSearchFailed = errors.New("search failed")

	// ErrRateLimited signals a provider rate-limit response. The search
	// adapter retries it once with a different credential.
	ErrRateLimited = errors.New("rate limited")

	// ErrContentTooShort means the model output was below the minimum
	// length threshold.
	ErrContentTooShort = errors.New("generated content is too short or empty")

	// ErrMissingMedia means a supplied media URL is absent from the
	// generated output.
	ErrMissingMedia = errors.New("generated content is missing requested media")

	// ErrNotFound is returned for lookups of unknown jobs or articles.
	ErrNotFound = errors.New("not found")

	// ErrNotPending is returned when claiming a specific job that has
	// already left the pending state.
	ErrNotPending = errors.New("job is not pending")
)

// validTransitions is the forward-only job state machine.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether from -> to is a legal job transition.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MustTransition panics when from -> to is not a legal transition.
// An invalid transition is a programming error, not a runtime condition,
// so it fails fast rather than being silently ignored.
func MustTransition(from, to JobStatus) {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("invalid job transition %s -> %s", from, to))
	}
}
