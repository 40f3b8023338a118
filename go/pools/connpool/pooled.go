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

package connpool

import (
	"sync/atomic"
	"time"
)

// Pooled wraps a connection with the metadata the pool needs: creation and
// last-use timestamps, and the intrusive next pointer for the idle stack.
type Pooled[C Connection] struct {
	// Conn is the underlying connection.
	Conn C

	// next chains pooled connections in the idle stack.
	// Only manipulated by connStack under its lock.
	next *Pooled[C]

	// createdAt is when the connection was created.
	createdAt time.Time

	// lastUsedAt is when the connection was last borrowed or returned,
	// as unix nanoseconds so it can be read without a lock.
	lastUsedAt atomic.Int64
}

// NewPooled wraps a freshly created connection.
func NewPooled[C Connection](conn C) *Pooled[C] {
	now := time.Now()
	p := &Pooled[C]{
		Conn:      conn,
		createdAt: now,
	}
	p.lastUsedAt.Store(now.UnixNano())
	return p
}

// CreatedAt returns the time the connection was created.
func (p *Pooled[C]) CreatedAt() time.Time {
	return p.createdAt
}

// LastUsedAt returns the time the connection was last borrowed or returned.
func (p *Pooled[C]) LastUsedAt() time.Time {
	ns := p.lastUsedAt.Load()
	if ns == 0 {
		return p.createdAt
	}
	return time.Unix(0, ns)
}

// UpdateLastUsed stamps the connection as used now.
func (p *Pooled[C]) UpdateLastUsed() {
	p.lastUsedAt.Store(time.Now().UnixNano())
}

// Age returns the duration since the connection was created.
func (p *Pooled[C]) Age() time.Duration {
	return time.Since(p.createdAt)
}

// IdleTime returns the duration since the connection was last used.
func (p *Pooled[C]) IdleTime() time.Duration {
	return time.Since(p.LastUsedAt())
}
