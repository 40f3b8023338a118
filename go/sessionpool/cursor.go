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

	"github.com/pgkeeper/pgkeeper/go/dbconn"
)

// Cursor executes statements on its handle's connection. With autocommit
// off, the first statement opens a transaction block that stays open
// until Commit or Rollback on the handle.
type Cursor struct {
	handle *Handle
}

// Execute runs a statement that returns no rows.
func (c *Cursor) Execute(ctx context.Context, query string, args ...any) error {
	conn, err := c.begin(ctx)
	if err != nil {
		return err
	}
	return conn.Exec(ctx, query, args...)
}

// Query runs a statement that returns rows. The caller closes the rows.
func (c *Cursor) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	return conn.Query(ctx, query, args...)
}

// begin enforces the transaction discipline: autocommit off means every
// statement runs inside an explicit block.
func (c *Cursor) begin(ctx context.Context) (*dbconn.Conn, error) {
	if c.handle.disposed.Load() {
		return nil, ErrNotConnected
	}
	conn := c.handle.conn
	if !conn.Autocommit() && !conn.IsInTransaction() {
		if err := conn.Begin(ctx); err != nil {
			return nil, err
		}
	}
	return conn, nil
}
