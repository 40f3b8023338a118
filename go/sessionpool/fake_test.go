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
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/pgkeeper/pgkeeper/go/connparams"
	"github.com/pgkeeper/pgkeeper/go/dbconn"
)

// fakeServer models one backend database: executed statements plus the
// SHOW-visible session settings. All connections to the same DSN share
// one server, like connections to the same database.
type fakeServer struct {
	mu         sync.Mutex
	statements []string
	vars       map[string]string
	opened     int
}

func (s *fakeServer) exec(query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statements = append(s.statements, query)
	applySet(s.vars, query)
	return nil
}

func (s *fakeServer) show(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[strings.ToLower(name)]
	return v, ok
}

func (s *fakeServer) setVar(name, value string) {
	s.mu.Lock()
	s.vars[strings.ToLower(name)] = value
	s.mu.Unlock()
}

func (s *fakeServer) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statements...)
}

func (s *fakeServer) openedConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// applySet mirrors just enough SET handling for SHOW to work: the
// TIME ZONE form and the name = value form.
func applySet(vars map[string]string, query string) {
	q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	upper := strings.ToUpper(q)
	switch {
	case strings.HasPrefix(upper, "SET TIME ZONE "):
		vars["timezone"] = trimQuotes(q[len("SET TIME ZONE "):])
	case strings.HasPrefix(upper, "SET "):
		name, value, found := strings.Cut(q[len("SET "):], "=")
		if found {
			vars[strings.ToLower(strings.TrimSpace(name))] = trimQuotes(strings.TrimSpace(value))
		}
	}
}

func trimQuotes(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	}
	return v
}

type fakeDriver struct {
	mu      sync.Mutex
	servers map[string]*fakeServer
}

var (
	testDriver     = &fakeDriver{servers: make(map[string]*fakeServer)}
	registerDriver sync.Once
)

const testDriverName = "pgkeeper-session-fake"

func (d *fakeDriver) server(dsn string) *fakeServer {
	d.mu.Lock()
	defer d.mu.Unlock()
	srv, ok := d.servers[dsn]
	if !ok {
		srv = &fakeServer{vars: make(map[string]string)}
		d.servers[dsn] = srv
	}
	return srv
}

func (d *fakeDriver) Open(dsn string) (driver.Conn, error) {
	srv := d.server(dsn)
	srv.mu.Lock()
	srv.opened++
	srv.mu.Unlock()
	return &fakeDriverConn{srv: srv}, nil
}

type fakeDriverConn struct {
	srv *fakeServer
}

func (c *fakeDriverConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeDriverConn) Begin() (driver.Tx, error) {
	return nil, errors.New("driver transactions not supported")
}

func (c *fakeDriverConn) Close() error { return nil }

func (c *fakeDriverConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if err := c.srv.exec(query); err != nil {
		return nil, err
	}
	return driver.RowsAffected(0), nil
}

func (c *fakeDriverConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if name, ok := strings.CutPrefix(query, "SHOW "); ok {
		value, found := c.srv.show(name)
		if !found {
			return nil, errors.New("unrecognized configuration parameter " + name)
		}
		return &fakeRows{
			columns: []string{strings.ToLower(name)},
			values:  [][]driver.Value{{value}},
		}, nil
	}
	if err := c.srv.exec(query); err != nil {
		return nil, err
	}
	return &fakeRows{columns: []string{"?"}}, nil
}

func (c *fakeDriverConn) Ping(context.Context) error { return nil }

type fakeRows struct {
	columns []string
	values  [][]driver.Value
	i       int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.i])
	r.i++
	return nil
}

// newTestPool creates a SessionPool on the fake driver. Cleanup closes
// the pool, which closes the factory's database handles.
func newTestPool(t *testing.T, opts Options) *SessionPool {
	t.Helper()
	registerDriver.Do(func() {
		sql.Register(testDriverName, testDriver)
	})

	factory := dbconn.NewSQLFactoryForDriver(testDriverName, opts.Logger)
	sp := New(factory, opts)
	t.Cleanup(func() { sp.Close() })
	return sp
}

// testParams builds a parameter set whose DSN, and therefore fake server,
// is unique to the test.
func testParams(t *testing.T) *connparams.Params {
	return &connparams.Params{
		Host:              "localhost",
		Port:              5432,
		Database:          t.Name(),
		User:              "app",
		AutocommitDefault: true,
	}
}

// serverFor returns the fake server behind a parameter set.
func serverFor(params *connparams.Params) *fakeServer {
	return testDriver.server(params.DSN())
}
