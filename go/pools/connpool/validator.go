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

import "context"

// Validator decides whether a connection may be handed out or returned to
// the idle stack. It never fails: any detected fault simply reports the
// connection as unusable and the pool discards it.
type Validator[C Connection] struct {
	// PingOnAcquire forces a no-op round trip before a connection is
	// handed out. Off by default: a freshly created or recently released
	// connection is handed out on the cheap checks alone.
	PingOnAcquire bool
}

// IsUsable reports whether the connection can be handed to a borrower.
// Cheap local checks run first; the round trip is issued only when
// PingOnAcquire is set.
func (v Validator[C]) IsUsable(ctx context.Context, conn C) bool {
	if !v.cheapChecks(conn) {
		return false
	}
	if !v.PingOnAcquire {
		return true
	}
	return conn.Ping(ctx) == nil
}

// IsReturnable reports whether a released connection can go back on the
// idle stack. Only the cheap checks run here; releases must never pay for
// a round trip.
func (v Validator[C]) IsReturnable(conn C) bool {
	return v.cheapChecks(conn)
}

func (v Validator[C]) cheapChecks(conn C) bool {
	if conn.IsClosed() {
		return false
	}
	if conn.IsBroken() {
		return false
	}
	return true
}
