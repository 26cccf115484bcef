// Package client folds a research event stream into renderable state.
package client

import (
	"sync"

	"github.com/chatlens/chatlens/internal/research"
)

// State is what a research view renders. Status is empty until the first
// status event arrives.
type State struct {
	Status         research.Status   `json:"status,omitempty"`
	RewrittenQuery string            `json:"rewrittenQuery,omitempty"`
	SearchResults  string            `json:"searchResults,omitempty"`
	Sources        []research.Source `json:"sources"`
	IsActive       bool              `json:"isActive"`
}

// Initial returns the empty state.
func Initial() State {
	return State{Sources: []research.Source{}}
}

// Reduce applies one event and returns the next state. It never mutates s and
// ignores events it does not handle.
func Reduce(s State, ev research.Event) State {
	switch e := ev.(type) {
	case research.StatusEvent:
		s.Status = e.Status
		s.IsActive = !e.Status.Terminal()
	case research.QueryRewrittenEvent:
		s.RewrittenQuery = e.Query
	case research.SearchResultsEvent:
		s.SearchResults = e.Text
	case research.SourcesEvent:
		sources := make([]research.Source, len(e.Sources))
		copy(sources, e.Sources)
		s.Sources = sources
	case research.CompleteEvent:
		s.IsActive = false
	}
	return s
}

// Holder owns the state of one research view. It is safe for concurrent use.
type Holder struct {
	mu    sync.RWMutex
	state State
}

// NewHolder returns a holder at the initial state.
func NewHolder() *Holder {
	return &Holder{state: Initial()}
}

// Apply reduces ev into the held state and returns the result.
func (h *Holder) Apply(ev research.Event) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Reduce(h.state, ev)
	return h.snapshotLocked()
}

// Reset returns the holder to the initial state. Call it before starting an
// unrelated research run.
func (h *Holder) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Initial()
}

// Snapshot returns a copy of the current state.
func (h *Holder) Snapshot() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked()
}

func (h *Holder) snapshotLocked() State {
	out := h.state
	out.Sources = append([]research.Source{}, h.state.Sources...)
	return out
}
