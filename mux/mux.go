// SPDX-License-Identifier: GPL-3.0-or-later

// Package mux implements a level-triggered readiness multiplexer.
//
// A [*Mux] tracks which registered tokens have work pending. Sources
// mark a token ready with [*Mux.Signal] and not ready with
// [*Mux.Clear]; consumers take non-consuming snapshots with
// [*Mux.Poll] or block for the next snapshot with [*Mux.Wait].
package mux

import (
	"context"
	"errors"
	"sync"
)

// Token identifies a registered readiness source.
type Token int

// Errors returned by [*Mux] operations.
var (
	// ErrClosed means the mux has been closed.
	ErrClosed = errors.New("mux: already closed")

	// ErrNotRegistered means the token is not registered.
	ErrNotRegistered = errors.New("mux: token not registered")

	// ErrRegistered means the token is already registered.
	ErrRegistered = errors.New("mux: token already registered")
)

// Mux multiplexes readiness over a set of registered tokens.
//
// Readiness is level triggered: a token signaled ready stays ready
// until cleared, and [*Mux.Poll] does not consume it. The zero value
// is invalid; construct using [New].
//
// A Mux is safe for concurrent use.
type Mux struct {
	// eof unblocks waiters when the mux closes.
	eof chan struct{}

	// eofOnce ensures we close eof just once.
	eofOnce sync.Once

	// mu protects ready and tokens.
	mu sync.Mutex

	// ready holds the registered tokens currently marked ready.
	ready map[Token]bool

	// tokens holds the registered tokens.
	tokens map[Token]bool

	// wake pings a blocked [*Mux.Wait] after a signal.
	wake chan struct{}
}

// New creates a new [*Mux] with no registered tokens.
func New() *Mux {
	return &Mux{
		eof:     make(chan struct{}),
		eofOnce: sync.Once{},
		mu:      sync.Mutex{},
		ready:   make(map[Token]bool),
		tokens:  make(map[Token]bool),
		wake:    make(chan struct{}, 1),
	}
}

// Register adds the given token to the registered set. A fresh token
// is not ready. Register returns [ErrRegistered] when the token is
// already registered and [ErrClosed] after [*Mux.Close].
func (m *Mux) Register(tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed() {
		return ErrClosed
	}
	if m.tokens[tok] {
		return ErrRegistered
	}
	m.tokens[tok] = true
	return nil
}

// Deregister removes the given token and discards its pending
// readiness. Deregister returns [ErrNotRegistered] when the token is
// not registered and [ErrClosed] after [*Mux.Close].
func (m *Mux) Deregister(tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed() {
		return ErrClosed
	}
	if !m.tokens[tok] {
		return ErrNotRegistered
	}
	delete(m.tokens, tok)
	delete(m.ready, tok)
	return nil
}

// Signal marks the given token ready and wakes a blocked [*Mux.Wait],
// if any. Signaling an unregistered token is a no-op, which makes
// teardown races with [*Mux.Deregister] benign.
func (m *Mux) Signal(tok Token) {
	m.mu.Lock()
	if !m.tokens[tok] {
		m.mu.Unlock()
		return
	}
	m.ready[tok] = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Clear marks the given token not ready. Clearing an unregistered or
// already clear token is a no-op.
func (m *Mux) Clear(tok Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ready, tok)
}

// Poll returns a snapshot of the tokens currently ready, in no
// particular order, without consuming their readiness. Poll returns
// nil when no token is ready or the mux is closed.
func (m *Mux) Poll() []Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ready) <= 0 {
		return nil
	}
	snap := make([]Token, 0, len(m.ready))
	for tok := range m.ready {
		snap = append(snap, tok)
	}
	return snap
}

// Wait blocks until at least one token is ready, then returns the
// same snapshot [*Mux.Poll] would. Wait returns [ErrClosed] when the
// mux closes and the context error when ctx is done first.
func (m *Mux) Wait(ctx context.Context) ([]Token, error) {
	for {
		if snap := m.Poll(); len(snap) > 0 {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.eof:
			return nil, ErrClosed
		case <-m.wake:
			// New signal arrived: poll again.
		}
	}
}

// Close unblocks pending [*Mux.Wait] calls, deregisters every token,
// and marks the mux closed. Close is idempotent and never fails.
func (m *Mux) Close() error {
	m.eofOnce.Do(func() {
		// Closing eof inside the critical section publishes the
		// closed state together with the teardown, so a concurrent
		// [*Mux.Register] observes either a live mux or [ErrClosed],
		// never the torn-down maps.
		m.mu.Lock()
		defer m.mu.Unlock()
		m.tokens = nil
		m.ready = nil
		close(m.eof)
	})
	return nil
}

// closed returns whether the mux is closed.
//
// The caller MUST hold the mu mutex.
func (m *Mux) closed() bool {
	select {
	case <-m.eof:
		return true
	default:
		return false
	}
}
