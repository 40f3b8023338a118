// Copyright 2025 The pgkeeper Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

var (
	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolExhausted is returned when the pool is at capacity and no
	// connection was released within the acquire timeout.
	ErrPoolExhausted = errors.New("pool exhausted")
)

// Config holds configuration for a connection pool.
type Config struct {
	// Capacity is the maximum number of connections in the pool,
	// idle and borrowed combined.
	Capacity int

	// IdleTimeout is how long a connection can sit idle before being
	// evicted. Eviction is lazy, checked on acquire. 0 disables eviction.
	IdleTimeout time.Duration

	// AcquireTimeout bounds how long Get blocks when the pool is at
	// capacity before failing with ErrPoolExhausted. 0 means Get blocks
	// until the caller's context expires.
	AcquireTimeout time.Duration

	// ValidateOnAcquire forces a no-op round trip before handing out an
	// idle connection. Freshly created connections are never pinged.
	ValidateOnAcquire bool

	// Logger receives discard and eviction events. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Pool is a bounded pool of connections for a single parameter-set
// fingerprint. Idle connections are reused most-recently-released first.
// When the pool is at capacity, Get parks the caller on a FIFO waitlist
// and a release wakes exactly one waiter.
type Pool[C Connection] struct {
	factory func(context.Context) (C, error)

	idle      connStack[C]
	wait      waitlist[C]
	validator Validator[C]

	capacity       int
	idleTimeout    time.Duration
	acquireTimeout time.Duration

	logger *slog.Logger

	// active counts all live connections (idle + borrowed).
	// borrowed counts connections currently checked out.
	active   atomic.Int64
	borrowed atomic.Int64

	closed    atomic.Bool
	closeChan chan struct{}
}

// NewPool creates a pool that fills itself on demand through factory.
// The factory is called without internal retries; a creation failure
// surfaces directly to the acquiring caller.
func NewPool[C Connection](factory func(context.Context) (C, error), cfg Config) *Pool[C] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool[C]{
		factory:        factory,
		validator:      Validator[C]{PingOnAcquire: cfg.ValidateOnAcquire},
		capacity:       cfg.Capacity,
		idleTimeout:    cfg.IdleTimeout,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger,
		closeChan:      make(chan struct{}),
	}
	p.wait.init()
	return p
}

// Get returns a connection from the pool, creating one if the pool is
// under capacity. At capacity it blocks until a connection is released,
// the acquire timeout elapses (ErrPoolExhausted), or ctx expires.
func (p *Pool[C]) Get(ctx context.Context) (*Pooled[C], error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, p.acquireTimeout, ErrPoolExhausted)
		defer cancel()
	}

	pooled, err := p.tryGet(ctx)
	if err != nil || pooled != nil {
		return pooled, err
	}

	// Pool is at capacity. Join the waitlist, then re-check the idle
	// stack: a connection released between tryGet and register would
	// otherwise never wake us.
	elem := p.wait.register()

	pooled, err = p.tryGet(ctx)
	if err != nil || pooled != nil {
		if handed := p.wait.cancel(elem); handed != nil {
			// A release handed us a second connection while we were
			// cancelling. We are not keeping it, so drop the borrow the
			// handoff attributed to us and requeue it for the next
			// acquirer.
			p.borrowed.Add(-1)
			p.requeue(handed)
		}
		return pooled, err
	}

	pooled, err = p.wait.wait(ctx, elem, p.closeChan)
	if err != nil {
		return nil, err
	}
	pooled.UpdateLastUsed()
	return pooled, nil
}

// tryGet attempts a non-blocking acquire: pop from the idle stack
// (discarding evicted or unusable connections) or create a new connection
// if the pool is under capacity. Returns (nil, nil) when the pool is at
// capacity and the caller must wait.
func (p *Pool[C]) tryGet(ctx context.Context) (*Pooled[C], error) {
	for {
		pooled, ok := p.idle.Pop()
		if !ok {
			break
		}

		if p.idleTimeout > 0 && pooled.IdleTime() > p.idleTimeout {
			p.closeConnection(pooled, "idle timeout")
			continue
		}

		if !p.validator.IsUsable(ctx, pooled.Conn) {
			p.closeConnection(pooled, "failed validation")
			continue
		}

		pooled.UpdateLastUsed()
		p.borrowed.Add(1)
		return pooled, nil
	}

	if !p.reserveSlot() {
		return nil, nil
	}

	conn, err := p.factory(ctx)
	if err != nil {
		p.active.Add(-1)
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	p.borrowed.Add(1)
	return NewPooled(conn), nil
}

// reserveSlot atomically claims capacity for one new connection.
func (p *Pool[C]) reserveSlot() bool {
	for {
		n := p.active.Load()
		if n >= int64(p.capacity) {
			return false
		}
		if p.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Put returns a connection to the pool. If broken is true, or the
// connection fails the cheap usability checks, it is discarded and the
// capacity slot is freed; otherwise it is handed to the oldest waiter or
// pushed onto the idle stack.
func (p *Pool[C]) Put(pooled *Pooled[C], broken bool) {
	if pooled == nil {
		return
	}

	p.borrowed.Add(-1)

	if p.closed.Load() {
		p.closeConnection(pooled, "pool closed")
		return
	}

	if broken {
		p.closeConnection(pooled, "marked broken")
		return
	}
	if !p.validator.IsReturnable(pooled.Conn) {
		p.closeConnection(pooled, "failed validation")
		return
	}
	if p.idleTimeout > 0 && pooled.IdleTime() > p.idleTimeout {
		p.closeConnection(pooled, "idle timeout")
		return
	}

	pooled.UpdateLastUsed()
	p.requeue(pooled)
}

// requeue hands a connection to a waiter or, failing that, pushes it onto
// the idle stack. The borrowed count is adjusted for the handoff.
func (p *Pool[C]) requeue(pooled *Pooled[C]) {
	// The waiter becomes the new borrower.
	p.borrowed.Add(1)
	if p.wait.tryReturnConn(pooled) {
		return
	}
	p.borrowed.Add(-1)
	p.idle.Push(pooled)
}

// closeConnection closes a connection and frees its capacity slot.
func (p *Pool[C]) closeConnection(pooled *Pooled[C], reason string) {
	if !pooled.Conn.IsClosed() {
		if err := pooled.Conn.Close(); err != nil {
			p.logger.Debug("error closing discarded connection", "err", err)
		}
	}
	p.active.Add(-1)
	p.logger.Debug("discarded pooled connection", "reason", reason, "age", pooled.Age())
}

// Close closes the pool and all idle connections. Waiters are woken with
// ErrPoolClosed. Borrowed connections are closed as they are returned.
func (p *Pool[C]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}

	close(p.closeChan)

	for {
		pooled, ok := p.idle.Pop()
		if !ok {
			break
		}
		p.closeConnection(pooled, "pool closed")
	}

	return nil
}

// IsClosed returns true once Close has been called.
func (p *Pool[C]) IsClosed() bool {
	return p.closed.Load()
}

// Capacity returns the configured maximum number of connections.
func (p *Pool[C]) Capacity() int {
	return p.capacity
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[C]) Stats() PoolStats {
	active := p.active.Load()
	borrowed := p.borrowed.Load()
	return PoolStats{
		Active:   active,
		Borrowed: borrowed,
		Idle:     active - borrowed,
		Waiting:  int64(p.wait.waiting()),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Active   int64 // Total live connections (idle + borrowed)
	Borrowed int64 // Connections currently checked out
	Idle     int64 // Connections available for reuse
	Waiting  int64 // Clients blocked on acquire
}
