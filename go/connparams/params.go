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

// Package connparams describes PostgreSQL connection parameter sets and
// derives the fingerprint that segments the pool into independent sub-pools.
package connparams

import (
	"fmt"
	"hash/fnv"
	"maps"
	"sort"
	"strings"
	"time"
)

// Params is an immutable set of connection parameters. Treat a Params as
// frozen once it has been handed to a pool: the fingerprint is cached, and
// mutating fields afterwards would route connections to the wrong sub-pool.
type Params struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	ApplicationName string

	// TimeZone, if set, is applied at connection creation via SET TIME ZONE.
	TimeZone string

	// IsolationLevel, if not IsolationDefault, is applied at creation by
	// setting the session's default_transaction_isolation.
	IsolationLevel IsolationLevel

	// AutocommitDefault is the autocommit mode a fresh logical handle
	// starts in.
	AutocommitDefault bool

	// Options holds additional libpq keyword/value pairs passed through
	// to the DSN verbatim.
	Options map[string]string

	// ConnectTimeout bounds connection establishment. Transient: it does
	// not participate in the fingerprint.
	ConnectTimeout time.Duration

	// Label is a free-form tag for logging. Transient: it does not
	// participate in the fingerprint.
	Label string

	// fingerprint caches the computed identity hash.
	fingerprint uint64
}

// Fingerprint returns a deterministic identity hash over all non-transient
// fields. Two Params with equal fingerprints share a sub-pool.
func (p *Params) Fingerprint() uint64 {
	if p == nil {
		return 0
	}
	if p.fingerprint == 0 {
		p.fingerprint = p.computeFingerprint()
	}
	return p.fingerprint
}

func (p *Params) computeFingerprint() uint64 {
	h := fnv.New64a()

	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0}) // separator
	}

	write(p.Host)
	write(fmt.Sprintf("%d", p.Port))
	write(p.Database)
	write(p.User)
	write(p.Password)
	write(p.SSLMode)
	write(p.ApplicationName)
	write(p.TimeZone)
	write(p.IsolationLevel.String())
	if p.AutocommitDefault {
		write("autocommit")
	} else {
		write("manual")
	}

	if len(p.Options) > 0 {
		keys := make([]string, 0, len(p.Options))
		for k := range p.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			write(k)
			write(p.Options[k])
		}
	}

	return h.Sum64()
}

// Clone returns a deep copy with the fingerprint cache cleared, so the
// copy can be modified before use.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.fingerprint = 0
	if p.Options != nil {
		clone.Options = make(map[string]string, len(p.Options))
		maps.Copy(clone.Options, p.Options)
	}
	return &clone
}

// DSN renders the params as a libpq keyword/value connection string.
func (p *Params) DSN() string {
	var b strings.Builder

	add := func(key, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quoteDSN(value))
	}

	add("host", p.Host)
	if p.Port > 0 {
		add("port", fmt.Sprintf("%d", p.Port))
	}
	add("dbname", p.Database)
	add("user", p.User)
	add("password", p.Password)
	add("sslmode", p.SSLMode)
	add("application_name", p.ApplicationName)
	if p.ConnectTimeout > 0 {
		secs := int(p.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		add("connect_timeout", fmt.Sprintf("%d", secs))
	}

	if len(p.Options) > 0 {
		keys := make([]string, 0, len(p.Options))
		for k := range p.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(k, p.Options[k])
		}
	}

	return b.String()
}

// quoteDSN quotes a libpq value when it contains spaces or quotes.
func quoteDSN(value string) string {
	if !strings.ContainsAny(value, " '\\") {
		return value
	}
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return "'" + value + "'"
}

// Redacted returns a loggable description with the password masked.
func (p *Params) Redacted() string {
	host := p.Host
	if p.Port > 0 {
		host = fmt.Sprintf("%s:%d", p.Host, p.Port)
	}
	return fmt.Sprintf("%s@%s/%s", p.User, host, p.Database)
}
