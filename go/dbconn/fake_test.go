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
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pgkeeper/pgkeeper/go/connparams"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer is the shared state behind an in-memory driver. It records
// every executed statement, keeps SHOW-visible session variables, and can
// inject failures.
type fakeServer struct {
	mu         sync.Mutex
	statements []string
	vars       map[string]string
	execErr    error // returned by the next exec, then cleared
	pingErr    error
	connectErr error
	pings      int
	opened     int
}

func newFakeServer() *fakeServer {
	return &fakeServer{vars: make(map[string]string)}
}

func (s *fakeServer) exec(query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statements = append(s.statements, query)
	if err := s.execErr; err != nil {
		s.execErr = nil
		return err
	}
	if name, value, ok := parseSetStatement(query); ok {
		s.vars[strings.ToLower(name)] = value
	}
	return nil
}

func (s *fakeServer) show(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[strings.ToLower(name)]
	return v, ok
}

func (s *fakeServer) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statements...)
}

func (s *fakeServer) failNext(err error) {
	s.mu.Lock()
	s.execErr = err
	s.mu.Unlock()
}

// fakeDriver serves one fakeServer per DSN so tests can reach the server
// a factory-created connection talks to.
type fakeDriver struct {
	mu      sync.Mutex
	servers map[string]*fakeServer
}

var (
	testDriver     = &fakeDriver{servers: make(map[string]*fakeServer)}
	registerDriver sync.Once
)

const testDriverName = "pgkeeper-fake"

func useFakeDriver() {
	registerDriver.Do(func() {
		sql.Register(testDriverName, testDriver)
	})
}

func (d *fakeDriver) server(dsn string) *fakeServer {
	d.mu.Lock()
	defer d.mu.Unlock()
	srv, ok := d.servers[dsn]
	if !ok {
		srv = newFakeServer()
		d.servers[dsn] = srv
	}
	return srv
}

func (d *fakeDriver) Open(dsn string) (driver.Conn, error) {
	srv := d.server(dsn)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.connectErr != nil {
		return nil, srv.connectErr
	}
	srv.opened++
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

func (c *fakeDriverConn) Ping(context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.pings++
	return c.srv.pingErr
}

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

// newFakeConn opens a Conn backed by a fresh fake server. Cleanup closes
// both the connection and its database handle.
func newFakeConn(t *testing.T) (*Conn, *fakeServer) {
	t.Helper()
	useFakeDriver()

	srv := testDriver.server(t.Name())
	db, err := sql.Open(testDriverName, t.Name())
	require.NoError(t, err)

	sqlConn, err := db.Conn(context.Background())
	require.NoError(t, err)

	conn := NewConn(sqlConn, &connparams.Params{Host: "localhost", Database: "fake"}, nil)
	t.Cleanup(func() {
		conn.Close()
		db.Close()
	})
	return conn, srv
}
