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

package sessionpool

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/pgkeeper/pgkeeper/go/dbconn"
	"github.com/pgkeeper/pgkeeper/go/pools/connpool"
)

// Handle is an exclusive borrow of one physical connection. It is not
// safe for concurrent use; callers serialize access the way they would
// with a plain database connection. Dispose returns the connection to
// the pool and is idempotent.
type Handle struct {
	pool   *connpool.Pool[*dbconn.Conn]
	guard  SessionGuard
	logger *slog.Logger
	pooled *connpool.Pooled[*dbconn.Conn]
	conn   *dbconn.Conn

	disposed atomic.Bool
}

// Conn exposes the borrowed physical connection, for session-level
// operations like SetSessionVar.
func (h *Handle) Conn() (*dbconn.Conn, error) {
	if h.disposed.Load() {
		return nil, ErrNotConnected
	}
	return h.conn, nil
}

// Cursor returns a cursor for statement execution. With autocommit off,
// the first statement through the cursor opens a transaction block.
func (h *Handle) Cursor() (*Cursor, error) {
	if h.disposed.Load() {
		return nil, ErrNotConnected
	}
	return &Cursor{handle: h}, nil
}

// GetAutocommit returns the cached autocommit mode without a round trip.
// It reflects the last explicit SetAutocommit, or the parameter set's
// default; pooled reuse never silently changes it.
func (h *Handle) GetAutocommit() bool {
	return h.conn.Autocommit()
}

// SetAutocommit switches autocommit mode. Enabling it first commits any
// open transaction block, so prior work is not lost to the mode switch.
func (h *Handle) SetAutocommit(ctx context.Context, on bool) error {
	if h.disposed.Load() {
		return ErrNotConnected
	}
	if on && h.conn.IsInTransaction() {
		if err := h.conn.Commit(ctx); err != nil {
			return err
		}
	}
	h.conn.SetAutocommit(on)
	return nil
}

// Commit commits the open transaction block, if any.
func (h *Handle) Commit(ctx context.Context) error {
	if h.disposed.Load() {
		return ErrNotConnected
	}
	return h.conn.Commit(ctx)
}

// Rollback rolls back the open transaction block, then lets the session
// guard restore session settings per its policy. Settings applied outside
// a transaction block are untouched by the rollback itself.
func (h *Handle) Rollback(ctx context.Context) error {
	if h.disposed.Load() {
		return ErrNotConnected
	}
	if err := h.conn.Rollback(ctx); err != nil {
		return err
	}
	return h.guard.AfterRollback(ctx, h.conn)
}

// Verify checks the backend's session state against the recorded
// settings. On drift the connection is marked broken and the handle
// disposed, so the connection never re-enters the pool.
func (h *Handle) Verify(ctx context.Context) error {
	if h.disposed.Load() {
		return ErrNotConnected
	}
	if err := h.guard.Verify(ctx, h.conn); err != nil {
		h.conn.MarkBroken()
		_ = h.Dispose(ctx)
		return err
	}
	return nil
}

// Dispose returns the connection to the pool. An open transaction block
// is rolled back first; a rollback failure marks the connection broken so
// the pool discards it. Dispose is idempotent: second and later calls are
// no-ops.
func (h *Handle) Dispose(ctx context.Context) error {
	if !h.disposed.CompareAndSwap(false, true) {
		return nil
	}

	if h.conn.IsInTransaction() {
		if err := h.conn.Rollback(ctx); err != nil {
			h.logger.Warn("rollback on dispose failed, discarding connection", "err", err)
			h.conn.MarkBroken()
		}
	}

	h.pool.Put(h.pooled, h.conn.IsBroken())
	return nil
}
