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
	"fmt"
	"strings"
)

// SetSessionVar issues a non-transactional SET for name and records it in
// the session ledger. Because the statement runs outside any transaction
// block, a later rollback does not undo it; the ledger is what lets the
// session guard verify or reapply expected state across reuse.
func (c *Conn) SetSessionVar(ctx context.Context, name, value string) error {
	if err := c.exec(ctx, setStatement(name, value)); err != nil {
		return fmt.Errorf("failed to set session variable %q: %w", name, err)
	}
	c.recordVar(name, value)
	return nil
}

// SessionVar returns the recorded value for a session variable and whether
// it is present in the ledger.
func (c *Conn) SessionVar(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[name]
	return v, ok
}

// SessionVars returns a snapshot of the ledger in application order.
func (c *Conn) SessionVars() []SessionSetting {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionSetting, 0, len(c.varOrder))
	for _, name := range c.varOrder {
		out = append(out, SessionSetting{Name: name, Value: c.vars[name]})
	}
	return out
}

// SessionSetting is one entry of the session variable ledger.
type SessionSetting struct {
	Name  string
	Value string
}

// ApplySessionVars re-issues every recorded session variable in its
// original order. Used by the reapply guard policy after a rollback.
func (c *Conn) ApplySessionVars(ctx context.Context) error {
	for _, s := range c.SessionVars() {
		if err := c.exec(ctx, setStatement(s.Name, s.Value)); err != nil {
			return fmt.Errorf("failed to reapply session variable %q: %w", s.Name, err)
		}
	}
	return nil
}

// ShowSessionVar asks the backend for the current value of a session
// variable via SHOW.
func (c *Conn) ShowSessionVar(ctx context.Context, name string) (string, error) {
	rows, err := c.Query(ctx, "SHOW "+quoteIdent(name))
	if err != nil {
		return "", err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("SHOW %s returned no rows", name)
	}
	var value string
	if err := rows.Scan(&value); err != nil {
		return "", err
	}
	return value, rows.Err()
}

func (c *Conn) recordVar(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.vars[name]; !ok {
		c.varOrder = append(c.varOrder, name)
	}
	c.vars[name] = value
}

// setStatement builds the SET for a session variable. Time zone gets the
// dedicated syntax so SHOW TimeZone round-trips the exact spelling.
func setStatement(name, value string) string {
	if strings.EqualFold(name, TimeZoneVar) {
		return fmt.Sprintf("SET TIME ZONE %s", quoteLiteral(value))
	}
	return fmt.Sprintf("SET %s = %s", quoteIdent(name), quoteLiteral(value))
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func quoteIdent(name string) string {
	if isSafeIdent(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isSafeIdent(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '.':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// parseSetStatement recognizes single SET statements so user-issued
// session changes enter the ledger. It handles the common forms:
//
//	SET [SESSION] name = value
//	SET [SESSION] name TO value
//	SET [SESSION] TIME ZONE value
//
// SET LOCAL is transaction-scoped and deliberately not recorded.
func parseSetStatement(query string) (name, value string, ok bool) {
	s := strings.TrimSpace(query)
	s = strings.TrimSuffix(s, ";")

	fields := strings.Fields(s)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "SET") {
		return "", "", false
	}
	fields = fields[1:]

	if strings.EqualFold(fields[0], "LOCAL") {
		return "", "", false
	}
	if strings.EqualFold(fields[0], "SESSION") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return "", "", false
	}

	if strings.EqualFold(fields[0], "TIME") && len(fields) >= 3 && strings.EqualFold(fields[1], "ZONE") {
		return TimeZoneVar, unquoteLiteral(strings.Join(fields[2:], " ")), true
	}

	rest := strings.Join(fields, " ")
	if before, after, found := strings.Cut(rest, "="); found {
		name = strings.TrimSpace(before)
		value = strings.TrimSpace(after)
		if name == "" || value == "" || strings.ContainsAny(name, " \t") {
			return "", "", false
		}
		return name, unquoteLiteral(value), true
	}

	if len(fields) >= 3 && strings.EqualFold(fields[1], "TO") {
		return fields[0], unquoteLiteral(strings.Join(fields[2:], " ")), true
	}
	return "", "", false
}

func unquoteLiteral(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	}
	return v
}
