// Package runid generates the per-run identifier stamped onto every
// manifest event, so events from resumed or concurrent runs over the same
// seed can be told apart (spec §3, §8).
package runid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 run identifiers.
type Generator struct{}

// New builds a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered UUIDv7 string unique to one crawl invocation.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
