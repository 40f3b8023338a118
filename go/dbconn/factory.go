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

package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pgkeeper/pgkeeper/go/connparams"
)

// Factory creates physical connections for a parameter set.
type Factory interface {
	// Create dials and initializes one connection. Failures wrap
	// ErrConnectFailure; there is no internal retry.
	Create(ctx context.Context, params *connparams.Params) (*Conn, error)

	// Close releases driver-level resources held by the factory.
	Close() error
}

// SQLFactory creates connections through database/sql with the lib/pq
// driver. One *sql.DB handle is kept per parameter fingerprint; its own
// idle pool is disabled because pooling happens a layer above.
type SQLFactory struct {
	driverName string
	logger     *slog.Logger

	mu  sync.Mutex
	dbs map[uint64]*sql.DB
}

// NewSQLFactory creates a factory using the lib/pq "postgres" driver.
func NewSQLFactory(logger *slog.Logger) *SQLFactory {
	return NewSQLFactoryForDriver("postgres", logger)
}

// NewSQLFactoryForDriver creates a factory on any registered database/sql
// driver that accepts libpq keyword/value connection strings.
func NewSQLFactoryForDriver(driverName string, logger *slog.Logger) *SQLFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLFactory{
		driverName: driverName,
		logger:     logger,
		dbs:        make(map[uint64]*sql.DB),
	}
}

// Create dials a new connection and applies the parameter set's session
// initialization: isolation level first, then time zone. Both enter the
// session ledger so the guard can verify them after reuse. The autocommit
// flag is set last, after initialization statements are done.
func (f *SQLFactory) Create(ctx context.Context, params *connparams.Params) (*Conn, error) {
	db, err := f.db(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}

	if params.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.ConnectTimeout)
		defer cancel()
	}

	sqlConn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w to %s: %v", ErrConnectFailure, params.Redacted(), err)
	}

	conn := NewConn(sqlConn, params, f.logger)
	if err := f.initSession(ctx, conn, params); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w to %s: %v", ErrConnectFailure, params.Redacted(), err)
	}

	conn.SetAutocommit(params.AutocommitDefault)
	f.logger.Debug("created connection", "target", params.Redacted(), "fingerprint", params.Fingerprint())
	return conn, nil
}

func (f *SQLFactory) initSession(ctx context.Context, conn *Conn, params *connparams.Params) error {
	if lvl := params.IsolationLevel.SQL(); lvl != "" {
		if err := conn.SetSessionVar(ctx, IsolationVar, strings.ToLower(lvl)); err != nil {
			return err
		}
	}
	if params.TimeZone != "" {
		if err := conn.SetSessionVar(ctx, TimeZoneVar, params.TimeZone); err != nil {
			return err
		}
	}
	return nil
}

// db returns the cached *sql.DB for the fingerprint, opening it on first
// use.
func (f *SQLFactory) db(params *connparams.Params) (*sql.DB, error) {
	fp := params.Fingerprint()

	f.mu.Lock()
	defer f.mu.Unlock()

	if db, ok := f.dbs[fp]; ok {
		return db, nil
	}

	db, err := sql.Open(f.driverName, params.DSN())
	if err != nil {
		return nil, err
	}
	// database/sql must not retain idle connections of its own, and must
	// not cap or recycle them either. Lifecycle is managed above.
	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(0)
	db.SetConnMaxLifetime(0)

	f.dbs[fp] = db
	return db, nil
}

// Close closes every cached database handle.
func (f *SQLFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for fp, db := range f.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.dbs, fp)
	}
	return firstErr
}
