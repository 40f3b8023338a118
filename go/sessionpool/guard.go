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
	"fmt"
	"log/slog"
	"strings"

	"github.com/pgkeeper/pgkeeper/go/dbconn"
)

// GuardPolicy selects how the session guard keeps session-level settings
// intact across rollbacks and pooled reuse.
type GuardPolicy int

const (
	// GuardAssert relies on the backend contract that non-transactional
	// SETs survive rollback. PostgreSQL honors it, so the guard takes no
	// runtime action.
	GuardAssert GuardPolicy = iota

	// GuardReapply re-issues every recorded session setting immediately
	// after a rollback, before control returns to the caller.
	GuardReapply
)

var guardPolicyNames = map[GuardPolicy]string{
	GuardAssert:  "assert",
	GuardReapply: "reapply",
}

var guardPoliciesByName = map[string]GuardPolicy{}

func init() {
	for p, name := range guardPolicyNames {
		guardPoliciesByName[name] = p
	}
}

func (p GuardPolicy) String() string {
	if name, ok := guardPolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("GuardPolicy(%d)", int(p))
}

// Set implements pflag.Value.
func (p *GuardPolicy) Set(s string) error {
	v, ok := guardPoliciesByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return fmt.Errorf("invalid guard policy %q (valid: assert, reapply)", s)
	}
	*p = v
	return nil
}

// Type implements pflag.Value.
func (p *GuardPolicy) Type() string { return "GuardPolicy" }

// UnmarshalText implements encoding.TextUnmarshaler for config decoding.
func (p *GuardPolicy) UnmarshalText(text []byte) error {
	return p.Set(string(text))
}

// MarshalText implements encoding.TextMarshaler.
func (p GuardPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// SessionGuard enforces the session-state contract: settings applied
// outside a transaction block must still be in effect after rollbacks and
// pooled reuse.
type SessionGuard struct {
	policy GuardPolicy
	logger *slog.Logger
}

// NewSessionGuard creates a guard with the given policy.
func NewSessionGuard(policy GuardPolicy, logger *slog.Logger) SessionGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return SessionGuard{policy: policy, logger: logger}
}

// Policy returns the configured policy.
func (g SessionGuard) Policy() GuardPolicy { return g.policy }

// AfterRollback runs the policy's post-rollback action. Under GuardAssert
// this is a no-op; under GuardReapply the recorded settings are re-issued
// before the caller regains control.
func (g SessionGuard) AfterRollback(ctx context.Context, conn *dbconn.Conn) error {
	if g.policy != GuardReapply {
		return nil
	}
	return conn.ApplySessionVars(ctx)
}

// Verify asks the backend for each recorded setting and compares it
// against the ledger. Drift yields ErrSessionStateViolation; the caller
// is expected to discard the connection.
func (g SessionGuard) Verify(ctx context.Context, conn *dbconn.Conn) error {
	for _, s := range conn.SessionVars() {
		got, err := conn.ShowSessionVar(ctx, s.Name)
		if err != nil {
			return fmt.Errorf("failed to verify session variable %q: %w", s.Name, err)
		}
		if !strings.EqualFold(got, s.Value) {
			g.logger.Warn("session state drift detected",
				"var", s.Name, "want", s.Value, "got", got)
			return fmt.Errorf("%w: %s is %q, expected %q", ErrSessionStateViolation, s.Name, got, s.Value)
		}
	}
	return nil
}
