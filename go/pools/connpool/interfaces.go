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

// Package connpool provides a bounded connection pool with LIFO reuse,
// blocking acquire, and usability validation. One Pool manages the physical
// connections for a single parameter-set fingerprint; the caller-facing
// layer multiplexes fingerprints over multiple Pools.
package connpool

import "context"

// Connection represents a pooled physical connection.
// Implementations must be safe for concurrent use by a single borrower.
type Connection interface {
	// IsClosed returns true if the connection has been closed.
	IsClosed() bool

	// IsBroken returns true if a protocol-level fault was observed on the
	// connection (network loss, corrupted session). Broken connections are
	// discarded instead of reused.
	IsBroken() bool

	// Ping issues a no-op round trip to verify the backend session is
	// alive. It must not mutate transaction state.
	Ping(ctx context.Context) error

	// Close closes the connection and releases associated resources.
	Close() error
}
