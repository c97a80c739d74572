// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings for jobs and runs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// SessionGenerator creates random UUID v4 strings. Retrieval session IDs are
// handed to clients, so they must not be guessable from creation time.
type SessionGenerator struct{}

// NewSession creates a new SessionGenerator.
func NewSession() *SessionGenerator {
	return &SessionGenerator{}
}

// NewID returns a UUID4 string.
func (SessionGenerator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}
