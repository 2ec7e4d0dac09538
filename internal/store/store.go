// Package store persists the per-target known state across scheduled runs.
// By using an interface we decouple the pipeline from a specific backend,
// allowing an in-memory fake in tests and Postgres in production.
package store

import (
	"context"
	"sync"

	"github.com/rcwatch/rcwatch/internal/watch"
)

// Store is the narrow load/save contract for known state.
type Store interface {
	// Load returns the known state for a target. found is false on the
	// first-ever run for that target; that is not an error.
	Load(ctx context.Context, targetID string) (state watch.KnownState, found bool, err error)

	// Save replaces the known state for a target in full. The write must be
	// atomic: a crash mid-save never leaves a torn state visible.
	Save(ctx context.Context, target watch.Target, state watch.KnownState) error

	// Close releases backend resources.
	Close()
}

// Memory is a mutex-guarded in-memory Store for tests and local runs.
type Memory struct {
	mu     sync.RWMutex
	states map[string]watch.KnownState
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string]watch.KnownState)}
}

// Load returns a copy of the stored state.
func (m *Memory) Load(_ context.Context, targetID string) (watch.KnownState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[targetID]
	if !ok {
		return watch.KnownState{}, false, nil
	}
	return cloneState(state), true, nil
}

// Save stores a copy of the state under the target id.
func (m *Memory) Save(_ context.Context, target watch.Target, state watch.KnownState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[target.ID()] = cloneState(state)
	return nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() {}

func cloneState(state watch.KnownState) watch.KnownState {
	cp := state
	cp.Keys = append([]string(nil), state.Keys...)
	return cp
}
