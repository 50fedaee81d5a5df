// Package uuid generates the time-ordered identifiers used for jobs
// and articles.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces UUID v7 strings, which sort by creation time.
type Generator struct{}

// New returns a ready Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
