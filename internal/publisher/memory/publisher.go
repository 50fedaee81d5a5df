// Package memory provides an in-process event publisher, used when no
// message broker is configured and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

// Publisher records published events in memory.
type Publisher struct {
	mu     sync.Mutex
	events []pipeline.CompletionEvent
}

// New constructs an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event to the in-memory log.
func (p *Publisher) Publish(_ context.Context, event pipeline.CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []pipeline.CompletionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pipeline.CompletionEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }

var _ pipeline.Publisher = (*Publisher)(nil)
