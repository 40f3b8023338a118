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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSetStatement(t *testing.T) {
	tests := []struct {
		query string
		name  string
		value string
		ok    bool
	}{
		{"SET TIME ZONE 'America/Chicago'", "TimeZone", "America/Chicago", true},
		{"SET TIME ZONE UTC", "TimeZone", "UTC", true},
		{"set time zone 'UTC';", "TimeZone", "UTC", true},
		{"SET SESSION TIME ZONE 'UTC'", "TimeZone", "UTC", true},
		{"SET statement_timeout = '5s'", "statement_timeout", "5s", true},
		{"SET statement_timeout TO '5s'", "statement_timeout", "5s", true},
		{"SET statement_timeout='5s'", "statement_timeout", "5s", true},
		{"SET SESSION search_path = public", "search_path", "public", true},
		{"SET application_name = 'it''s me'", "application_name", "it's me", true},
		{"SET LOCAL work_mem = '64MB'", "", "", false},
		{"SELECT 1", "", "", false},
		{"SET", "", "", false},
		{"SET name", "", "", false},
		{"SET name value", "", "", false},
		{"SETTINGS x = y", "", "", false},
	}

	for _, tc := range tests {
		name, value, ok := parseSetStatement(tc.query)
		assert.Equal(t, tc.ok, ok, "query: %s", tc.query)
		assert.Equal(t, tc.name, name, "query: %s", tc.query)
		assert.Equal(t, tc.value, value, "query: %s", tc.query)
	}
}

func TestSetStatement(t *testing.T) {
	assert.Equal(t, "SET TIME ZONE 'America/Chicago'", setStatement("TimeZone", "America/Chicago"))
	assert.Equal(t, "SET statement_timeout = '5s'", setStatement("statement_timeout", "5s"))
	assert.Equal(t, "SET application_name = 'it''s me'", setStatement("application_name", "it's me"))
	// Unsafe identifiers are double-quoted.
	assert.Equal(t, `SET "odd name" = 'v'`, setStatement("odd name", "v"))
}
