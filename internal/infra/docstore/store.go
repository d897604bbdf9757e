// Package docstore keeps the active summary of each session. Writes carry a run generation issued
// by the store itself, and a write from an older generation never replaces a newer one.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when the session has no stored document.
var ErrNotFound = errors.New("document not found")

// Store persists one payload per session key.
type Store interface {
	// Reserve issues the next generation for key. Generations grow across every process sharing
	// the store and always exceed the generation already stored.
	Reserve(ctx context.Context, key string) (uint64, error)
	// Save stores payload unless a newer generation is already stored. It reports whether the
	// payload was written.
	Save(ctx context.Context, key string, generation uint64, payload []byte) (bool, error)
	Load(ctx context.Context, key string) ([]byte, error)
	// Delete drops the stored payload. Reserved generations keep growing afterwards.
	Delete(ctx context.Context, key string) error
}
