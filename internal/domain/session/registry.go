// Package session tracks the in-flight run of each caller session so a newer run can supersede it.
package session

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is the cancellation cause of a run replaced by a newer one for the same session.
var ErrSuperseded = errors.New("superseded by a newer request")

// ErrCancelled is the cancellation cause of a run stopped through Cancel.
var ErrCancelled = errors.New("cancelled by caller")

// Token identifies one run of a session. Generations grow monotonically per registry.
type Token struct {
	SessionID  string
	Generation uint64
}

type entry struct {
	generation uint64
	cancel     context.CancelCauseFunc
}

// Registry maps session ids to the cancel function of their active run.
type Registry struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Begin starts a run for id and cancels any run already registered for it.
// The returned context is cancelled on supersession, Cancel, or when parent ends.
func (r *Registry) Begin(parent context.Context, id string) (context.Context, Token) {
	ctx, cancel := context.WithCancelCause(parent)

	r.mu.Lock()
	r.next++
	tok := Token{SessionID: id, Generation: r.next}
	prev, had := r.entries[id]
	r.entries[id] = entry{generation: tok.Generation, cancel: cancel}
	r.mu.Unlock()

	if had {
		prev.cancel(ErrSuperseded)
	}
	return ctx, tok
}

// Cancel stops the active run for id. It reports whether a run was registered.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		e.cancel(ErrCancelled)
	}
	return ok
}

// End releases the run identified by tok. It reports whether tok was still the session's
// active run; a false result means the run was superseded or cancelled and its output is stale.
func (r *Registry) End(tok Token) bool {
	r.mu.Lock()
	e, ok := r.entries[tok.SessionID]
	current := ok && e.generation == tok.Generation
	if current {
		delete(r.entries, tok.SessionID)
	}
	r.mu.Unlock()

	if current {
		e.cancel(nil)
	}
	return current
}

// Active returns the number of registered runs.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
