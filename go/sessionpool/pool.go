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

// Package sessionpool multiplexes logical connection handles over bounded
// pools of physical PostgreSQL connections, one pool per distinct
// parameter set. Session-level settings (time zone, isolation level,
// autocommit mode) survive pooled reuse.
package sessionpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pgkeeper/pgkeeper/go/connparams"
	"github.com/pgkeeper/pgkeeper/go/dbconn"
	"github.com/pgkeeper/pgkeeper/go/pools/connpool"
)

// Options tunes a SessionPool. The zero value gives the documented
// defaults.
type Options struct {
	// MaxSize caps each per-parameter-set pool. Defaults to 5.
	MaxSize int

	// MaxIdleTime evicts idle connections older than this on acquire.
	// 0 disables eviction.
	MaxIdleTime time.Duration

	// AcquireTimeout bounds blocking acquires. 0 uses the 30s default;
	// negative blocks until the caller's context expires.
	AcquireTimeout time.Duration

	// ValidateOnAcquire adds a no-op round trip before handing out a
	// reused connection. Fresh connections are never pinged.
	ValidateOnAcquire bool

	// GuardPolicy selects the session guard behavior after rollbacks.
	GuardPolicy GuardPolicy

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

const defaultAcquireTimeout = 30 * time.Second

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = 5
	}
	switch {
	case o.AcquireTimeout == 0:
		o.AcquireTimeout = defaultAcquireTimeout
	case o.AcquireTimeout < 0:
		o.AcquireTimeout = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// SessionPool hands out logical connection handles. Parameter sets map to
// physical pools by fingerprint, so two callers with identical parameters
// share one pool while differing parameters never share connections.
type SessionPool struct {
	factory dbconn.Factory
	opts    Options
	guard   SessionGuard
	logger  *slog.Logger

	mu     sync.Mutex
	pools  map[uint64]*poolEntry
	closed bool
}

type poolEntry struct {
	params *connparams.Params
	pool   *connpool.Pool[*dbconn.Conn]
}

// New creates a SessionPool drawing physical connections from factory.
// A nil factory uses the lib/pq backed SQLFactory.
func New(factory dbconn.Factory, opts Options) *SessionPool {
	opts = opts.withDefaults()
	if factory == nil {
		factory = dbconn.NewSQLFactory(opts.Logger)
	}
	return &SessionPool{
		factory: factory,
		opts:    opts,
		guard:   NewSessionGuard(opts.GuardPolicy, opts.Logger),
		logger:  opts.Logger,
		pools:   make(map[uint64]*poolEntry),
	}
}

// Acquire borrows a physical connection for the given parameter set and
// wraps it in an exclusive Handle. At capacity it blocks until a handle
// is disposed, the acquire timeout elapses (connpool.ErrPoolExhausted),
// or ctx expires. The caller must Dispose the handle.
func (sp *SessionPool) Acquire(ctx context.Context, params *connparams.Params) (*Handle, error) {
	pool, err := sp.pool(params)
	if err != nil {
		return nil, err
	}

	pooled, err := pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	return &Handle{
		pool:   pool,
		guard:  sp.guard,
		logger: sp.logger,
		pooled: pooled,
		conn:   pooled.Conn,
	}, nil
}

// pool returns the physical pool for the parameter set's fingerprint,
// creating it on first use.
func (sp *SessionPool) pool(params *connparams.Params) (*connpool.Pool[*dbconn.Conn], error) {
	fp := params.Fingerprint()

	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.closed {
		return nil, connpool.ErrPoolClosed
	}

	if entry, ok := sp.pools[fp]; ok {
		return entry.pool, nil
	}

	// The pool keeps its own frozen copy so later caller-side mutation
	// of params cannot desynchronize it from the fingerprint key.
	frozen := params.Clone()
	pool := connpool.NewPool(func(ctx context.Context) (*dbconn.Conn, error) {
		return sp.factory.Create(ctx, frozen)
	}, connpool.Config{
		Capacity:          sp.opts.MaxSize,
		IdleTimeout:       sp.opts.MaxIdleTime,
		AcquireTimeout:    sp.opts.AcquireTimeout,
		ValidateOnAcquire: sp.opts.ValidateOnAcquire,
		Logger:            sp.logger,
	})

	sp.pools[fp] = &poolEntry{params: frozen, pool: pool}
	sp.logger.Debug("created connection pool", "target", frozen.Redacted(), "capacity", sp.opts.MaxSize)
	return pool, nil
}

// Close closes every pool and the factory. Outstanding handles observe
// their connections being closed on dispose.
func (sp *SessionPool) Close() error {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return connpool.ErrPoolClosed
	}
	sp.closed = true
	entries := make([]*poolEntry, 0, len(sp.pools))
	for _, e := range sp.pools {
		entries = append(entries, e)
	}
	sp.mu.Unlock()

	for _, e := range entries {
		_ = e.pool.Close()
	}
	return sp.factory.Close()
}

// Stats returns per-pool statistics keyed by the parameter set's label,
// falling back to its redacted address.
func (sp *SessionPool) Stats() map[string]connpool.PoolStats {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	out := make(map[string]connpool.PoolStats, len(sp.pools))
	for _, e := range sp.pools {
		key := e.params.Label
		if key == "" {
			key = e.params.Redacted()
		}
		out[key] = e.pool.Stats()
	}
	return out
}
