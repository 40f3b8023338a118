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

// Package dbconn wraps one physical PostgreSQL session for pooling: it
// tracks transaction status, the autocommit flag, and a ledger of
// session-level settings so pooled reuse never leaks or loses them.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pgkeeper/pgkeeper/go/connparams"
)

var (
	// ErrConnectFailure is returned when a physical connection could not
	// be established. The factory never retries; retry policy belongs to
	// the caller.
	ErrConnectFailure = errors.New("failed to establish connection")

	// ErrConnClosed is returned when operating on a closed connection.
	ErrConnClosed = errors.New("connection is closed")
)

// Transaction status, mirroring the backend's ReadyForQuery indicator.
const (
	TxnStatusIdle    byte = 'I' // not in a transaction
	TxnStatusInBlock byte = 'T' // in a transaction block
	TxnStatusFailed  byte = 'E' // in a failed transaction block
)

// TimeZoneVar is the session variable name used for the time zone ledger
// entry. It matches what SHOW TimeZone reports.
const TimeZoneVar = "TimeZone"

// IsolationVar is the session variable holding the session's default
// transaction isolation level.
const IsolationVar = "default_transaction_isolation"

// backend is the slice of *sql.Conn the physical connection needs.
// Injecting it keeps the session semantics testable without a server.
type backend interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Conn owns one live backend session. It implements connpool.Connection.
type Conn struct {
	backend backend
	params  *connparams.Params
	logger  *slog.Logger

	// mu guards the session bookkeeping below. It is never held across
	// a network round trip.
	mu        sync.Mutex
	vars      map[string]string // session variable ledger
	varOrder  []string          // apply order for reapplication
	txnStatus byte
	autocmt   bool

	broken atomic.Bool
	closed atomic.Bool
}

// NewConn wraps a live backend session. The session starts idle with an
// empty settings ledger; the factory populates it during initialization.
func NewConn(b backend, params *connparams.Params, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		backend:   b,
		params:    params,
		logger:    logger,
		vars:      make(map[string]string),
		txnStatus: TxnStatusIdle,
	}
}

// Params returns the parameter set this connection was created from.
func (c *Conn) Params() *connparams.Params {
	return c.params
}

// --- connpool.Connection ---

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// IsBroken reports whether the session is unusable: either a protocol
// fault was observed, or a failed transaction block was left unresolved.
func (c *Conn) IsBroken() bool {
	if c.broken.Load() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnStatus == TxnStatusFailed
}

// Ping issues a no-op round trip. It does not start or touch a
// transaction. A failure marks the connection broken.
func (c *Conn) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if err := c.backend.PingContext(ctx); err != nil {
		c.broken.Store(true)
		return err
	}
	return nil
}

// Close closes the underlying session. Idempotent.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.backend.Close()
}

// MarkBroken flags the connection so the pool discards it on release.
func (c *Conn) MarkBroken() {
	c.broken.Store(true)
}

// --- Autocommit ---

// Autocommit returns the cached autocommit flag without a round trip.
func (c *Conn) Autocommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autocmt
}

// SetAutocommit updates the autocommit flag. Like the native drivers this
// is a client-side attribute: it controls whether statements run inside an
// explicit transaction block, and issues no SQL itself. The flag is never
// reset by pool-internal reuse logic.
func (c *Conn) SetAutocommit(on bool) {
	c.mu.Lock()
	c.autocmt = on
	c.mu.Unlock()
}

// --- Transaction control ---

// TxnStatus returns 'I' (idle), 'T' (in transaction), or 'E' (failed).
func (c *Conn) TxnStatus() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnStatus
}

// IsInTransaction returns true while a transaction block is open,
// including a failed one.
func (c *Conn) IsInTransaction() bool {
	s := c.TxnStatus()
	return s == TxnStatusInBlock || s == TxnStatusFailed
}

// Begin opens a transaction block. No-op if one is already open.
func (c *Conn) Begin(ctx context.Context) error {
	if c.IsInTransaction() {
		return nil
	}
	if err := c.exec(ctx, "BEGIN"); err != nil {
		return err
	}
	c.setTxnStatus(TxnStatusInBlock)
	return nil
}

// Commit commits the open transaction block. No-op when idle.
// Committing a failed block rolls it back, matching backend behavior.
func (c *Conn) Commit(ctx context.Context) error {
	if !c.IsInTransaction() {
		return nil
	}
	if err := c.exec(ctx, "COMMIT"); err != nil {
		return err
	}
	c.setTxnStatus(TxnStatusIdle)
	return nil
}

// Rollback rolls back the open transaction block. No-op when idle.
func (c *Conn) Rollback(ctx context.Context) error {
	if !c.IsInTransaction() {
		return nil
	}
	if err := c.exec(ctx, "ROLLBACK"); err != nil {
		return err
	}
	c.setTxnStatus(TxnStatusIdle)
	return nil
}

func (c *Conn) setTxnStatus(s byte) {
	c.mu.Lock()
	c.txnStatus = s
	c.mu.Unlock()
}

// --- Statement execution ---

// Exec executes a statement. Statement errors inside a transaction block
// move the session to the failed state, and protocol-level errors mark
// the connection broken. Non-transactional SET statements are recorded in
// the session ledger (see session.go).
func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	_, err := c.backend.ExecContext(ctx, query, args...)
	c.observe(err)
	if err != nil {
		return err
	}

	if name, value, ok := parseSetStatement(query); ok && len(args) == 0 {
		// SET inside a transaction block is transactional on PostgreSQL
		// and would be undone by rollback; only non-transactional SETs
		// enter the ledger.
		if !c.IsInTransaction() {
			c.recordVar(name, value)
		}
	}
	return nil
}

// Query executes a query that returns rows.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	rows, err := c.backend.QueryContext(ctx, query, args...)
	c.observe(err)
	return rows, err
}

// exec runs internal statements (BEGIN, COMMIT, SET ...) without ledger
// sniffing.
func (c *Conn) exec(ctx context.Context, query string) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	_, err := c.backend.ExecContext(ctx, query)
	c.observe(err)
	return err
}

// observe classifies an execution error: protocol faults break the
// connection, ordinary statement errors inside a transaction block fail
// the block. Ordinary errors outside a block leave the session healthy.
func (c *Conn) observe(err error) {
	if err == nil {
		return
	}
	if IsProtocolError(err) {
		c.broken.Store(true)
		c.logger.Warn("protocol error, connection marked broken", "conn", c.String(), "err", err)
		return
	}
	c.mu.Lock()
	if c.txnStatus == TxnStatusInBlock {
		c.txnStatus = TxnStatusFailed
	}
	c.mu.Unlock()
}

// String implements fmt.Stringer for log output.
func (c *Conn) String() string {
	if c.params == nil {
		return "dbconn"
	}
	return fmt.Sprintf("dbconn(%s)", c.params.Redacted())
}
