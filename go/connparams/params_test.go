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

package connparams

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() *Params {
	return &Params{
		Host:              "localhost",
		Port:              5432,
		Database:          "app",
		User:              "app",
		Password:          "secret",
		TimeZone:          "UTC",
		AutocommitDefault: true,
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	p1 := testParams()
	p2 := testParams()

	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint())
	// Cached value stays stable.
	assert.Equal(t, p1.Fingerprint(), p1.Fingerprint())
}

func TestFingerprintSensitiveToIdentityFields(t *testing.T) {
	base := testParams()

	changed := []*Params{
		func() *Params { p := testParams(); p.Host = "other"; return p }(),
		func() *Params { p := testParams(); p.Database = "other"; return p }(),
		func() *Params { p := testParams(); p.User = "other"; return p }(),
		func() *Params { p := testParams(); p.TimeZone = "Europe/Paris"; return p }(),
		func() *Params { p := testParams(); p.IsolationLevel = IsolationSerializable; return p }(),
		func() *Params { p := testParams(); p.AutocommitDefault = false; return p }(),
		func() *Params { p := testParams(); p.Options = map[string]string{"search_path": "public"}; return p }(),
	}

	for _, p := range changed {
		assert.NotEqual(t, base.Fingerprint(), p.Fingerprint())
	}
}

func TestFingerprintIgnoresTransientFields(t *testing.T) {
	p1 := testParams()
	p2 := testParams()
	p2.ConnectTimeout = 5 * time.Second
	p2.Label = "reporting"

	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint())
}

func TestFingerprintOptionsOrderIndependent(t *testing.T) {
	p1 := testParams()
	p1.Options = map[string]string{"a": "1", "b": "2", "c": "3"}
	p2 := testParams()
	p2.Options = map[string]string{"c": "3", "b": "2", "a": "1"}

	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint())
}

func TestClone(t *testing.T) {
	p := testParams()
	p.Options = map[string]string{"search_path": "public"}
	_ = p.Fingerprint()

	clone := p.Clone()
	clone.Options["search_path"] = "audit"

	assert.Equal(t, "public", p.Options["search_path"])
	assert.NotEqual(t, p.Fingerprint(), clone.Fingerprint())
}

func TestDSN(t *testing.T) {
	p := testParams()
	p.SSLMode = "disable"
	p.ConnectTimeout = 3 * time.Second

	dsn := p.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "dbname=app")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "connect_timeout=3")
}

func TestDSNQuoting(t *testing.T) {
	p := testParams()
	p.Password = "it's complicated"

	assert.Contains(t, p.DSN(), `password='it\'s complicated'`)
}

func TestRedacted(t *testing.T) {
	p := testParams()
	r := p.Redacted()
	assert.Equal(t, "app@localhost:5432/app", r)
	assert.NotContains(t, r, "secret")
}

func TestIsolationLevelSet(t *testing.T) {
	var l IsolationLevel
	require.NoError(t, l.Set("serializable"))
	assert.Equal(t, IsolationSerializable, l)
	assert.Equal(t, "SERIALIZABLE", l.SQL())

	require.NoError(t, l.Set("Read-Committed"))
	assert.Equal(t, IsolationReadCommitted, l)

	assert.Error(t, l.Set("chaos"))
}

func TestIsolationLevelDefaultHasNoSQL(t *testing.T) {
	assert.Equal(t, "", IsolationDefault.SQL())
}

func TestParse(t *testing.T) {
	data := []byte(`
default:
  host: db.example.com
  port: 5432
  database: app
  user: app
  time_zone: UTC
  isolation_level: serializable
  autocommit_default: false
  connect_timeout: 5s
reporting:
  host: replica.example.com
  database: app
  options:
    search_path: reporting
`)

	sets, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, sets, 2)

	def := sets["default"]
	require.NotNil(t, def)
	assert.Equal(t, "db.example.com", def.Host)
	assert.Equal(t, IsolationSerializable, def.IsolationLevel)
	assert.False(t, def.AutocommitDefault)
	assert.Equal(t, 5*time.Second, def.ConnectTimeout)
	assert.Equal(t, "default", def.Label)

	rep := sets["reporting"]
	require.NotNil(t, rep)
	// Autocommit defaults to true when omitted.
	assert.True(t, rep.AutocommitDefault)
	assert.Equal(t, "reporting", rep.Options["search_path"])
	assert.NotEqual(t, def.Fingerprint(), rep.Fingerprint())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("default:\n  isolation_level: nope\n"))
	require.Error(t, err)

	_, err = Parse([]byte("default:\n  connect_timeout: forever\n"))
	require.Error(t, err)

	_, err = Parse([]byte("default:\n"))
	require.Error(t, err)
}
