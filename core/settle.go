// Package core provides the fundamental building blocks of the golem ORM.
// This file implements the settle window that keeps round-trips from
// outliving their connection.
package core

import (
	"context"
	"sync"
	"time"
)

// Settler runs backend round-trips so that a cancelled caller never leaves a
// half-read cursor behind.
//
// The round-trip runs on a context detached from the caller and bounded by
// the settle timeout. If the caller's context ends first, Run returns its
// error immediately while the round-trip finishes (and releases its rows or
// cursor) in the background. Wait blocks until every such round-trip ended.
type Settler struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewSettler creates a settler. A zero timeout leaves detached round-trips
// unbounded.
func NewSettler(timeout time.Duration) *Settler {
	return &Settler{timeout: timeout}
}

type settled struct {
	result *Result
	err    error
}

// Reservation is a round-trip registered with a Settler before it starts.
//
// Connections reserve while holding the lock that guards their connected
// state, so Close either refuses the round-trip or waits for it.
type Reservation struct {
	settler *Settler
	once    sync.Once
}

// Reserve registers a round-trip that is started later with Run, or given
// back with Release.
func (s *Settler) Reserve() *Reservation {
	s.wg.Add(1)
	return &Reservation{settler: s}
}

// Release ends the reservation. It is safe to call more than once.
func (r *Reservation) Release() {
	r.once.Do(r.settler.wg.Done)
}

// Run executes fn and returns its result, or ctx.Err() if ctx ends first.
func (s *Settler) Run(ctx context.Context, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	return s.Reserve().Run(ctx, fn)
}

// Run executes fn under the reservation and releases it once fn returns.
func (r *Reservation) Run(ctx context.Context, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	if err := ctx.Err(); err != nil {
		r.Release()
		return nil, err
	}
	detached := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if r.settler.timeout > 0 {
		detached, cancel = context.WithTimeout(detached, r.settler.timeout)
	}

	done := make(chan settled, 1)
	go func() {
		defer r.Release()
		defer cancel()
		result, err := fn(detached)
		done <- settled{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until every in-flight round-trip settled or ctx ends.
func (s *Settler) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
