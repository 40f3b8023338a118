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
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/pgkeeper/pgkeeper/go/connparams"
	"github.com/pgkeeper/pgkeeper/go/viperutil"
)

// Config resolves pool tuning and connection defaults through a
// viperutil registry, in the usual precedence order: flag > env >
// config file > default.
type Config struct {
	maxSize           viperutil.Value[int]
	maxIdleTime       viperutil.Value[time.Duration]
	acquireTimeout    viperutil.Value[time.Duration]
	validateOnAcquire viperutil.Value[bool]
	guardPolicy       viperutil.Value[GuardPolicy]
	isolationLevel    viperutil.Value[connparams.IsolationLevel]
	autocommitDefault viperutil.Value[bool]
	timeZone          viperutil.Value[string]
}

// NewConfig registers the pool's configuration keys with the registry.
func NewConfig(reg *viperutil.Registry) *Config {
	return &Config{
		maxSize: viperutil.Configure(reg, "pool.max-size", viperutil.Options[int]{
			Default:  5,
			FlagName: "pool-max-size",
			EnvVars:  []string{"PGKEEPER_POOL_MAX_SIZE"},
		}),
		maxIdleTime: viperutil.Configure(reg, "pool.max-idle-time", viperutil.Options[time.Duration]{
			Default:  0,
			FlagName: "pool-max-idle-time",
			EnvVars:  []string{"PGKEEPER_POOL_MAX_IDLE_TIME"},
		}),
		acquireTimeout: viperutil.Configure(reg, "pool.acquire-timeout", viperutil.Options[time.Duration]{
			Default:  defaultAcquireTimeout,
			FlagName: "pool-acquire-timeout",
			EnvVars:  []string{"PGKEEPER_POOL_ACQUIRE_TIMEOUT"},
		}),
		validateOnAcquire: viperutil.Configure(reg, "pool.validate-on-acquire", viperutil.Options[bool]{
			Default:  false,
			FlagName: "pool-validate-on-acquire",
			EnvVars:  []string{"PGKEEPER_POOL_VALIDATE_ON_ACQUIRE"},
		}),
		guardPolicy: viperutil.Configure(reg, "pool.guard-policy", viperutil.Options[GuardPolicy]{
			Default:  GuardAssert,
			FlagName: "pool-guard-policy",
			EnvVars:  []string{"PGKEEPER_POOL_GUARD_POLICY"},
		}),
		isolationLevel: viperutil.Configure(reg, "pool.isolation-level", viperutil.Options[connparams.IsolationLevel]{
			Default:  connparams.IsolationDefault,
			FlagName: "pool-isolation-level",
			EnvVars:  []string{"PGKEEPER_POOL_ISOLATION_LEVEL"},
		}),
		autocommitDefault: viperutil.Configure(reg, "pool.autocommit-default", viperutil.Options[bool]{
			Default:  true,
			FlagName: "pool-autocommit-default",
			EnvVars:  []string{"PGKEEPER_POOL_AUTOCOMMIT_DEFAULT"},
		}),
		timeZone: viperutil.Configure(reg, "pool.time-zone", viperutil.Options[string]{
			Default:  "",
			FlagName: "pool-time-zone",
			EnvVars:  []string{"PGKEEPER_POOL_TIME_ZONE"},
		}),
	}
}

// RegisterFlags defines the pool's flags on fs and binds them into the
// registry. Call before fs.Parse.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("pool-max-size", c.maxSize.Default(), "Maximum connections per parameter set")
	fs.Duration("pool-max-idle-time", c.maxIdleTime.Default(), "Evict connections idle longer than this (0 disables)")
	fs.Duration("pool-acquire-timeout", c.acquireTimeout.Default(), "How long a blocked acquire waits before failing")
	fs.Bool("pool-validate-on-acquire", c.validateOnAcquire.Default(), "Round-trip validate reused connections on acquire")

	guardPolicy := c.guardPolicy.Default()
	fs.Var(&guardPolicy, "pool-guard-policy", "Session guard policy (assert or reapply)")
	isolation := c.isolationLevel.Default()
	fs.Var(&isolation, "pool-isolation-level", "Default transaction isolation level for new connections")

	fs.Bool("pool-autocommit-default", c.autocommitDefault.Default(), "Autocommit mode for new connections")
	fs.String("pool-time-zone", c.timeZone.Default(), "Session time zone for new connections")

	viperutil.BindFlags(fs,
		c.maxSize,
		c.maxIdleTime,
		c.acquireTimeout,
		c.validateOnAcquire,
		c.guardPolicy,
		c.isolationLevel,
		c.autocommitDefault,
		c.timeZone,
	)
}

// Options materializes the pool tuning values.
func (c *Config) Options(logger *slog.Logger) Options {
	return Options{
		MaxSize:           c.maxSize.Get(),
		MaxIdleTime:       c.maxIdleTime.Get(),
		AcquireTimeout:    c.acquireTimeout.Get(),
		ValidateOnAcquire: c.validateOnAcquire.Get(),
		GuardPolicy:       c.guardPolicy.Get(),
		Logger:            logger,
	}
}

// BaseParams returns a parameter set pre-filled with the configured
// connection defaults. The caller fills in host, database, and
// credentials.
func (c *Config) BaseParams() *connparams.Params {
	return &connparams.Params{
		IsolationLevel:    c.isolationLevel.Get(),
		AutocommitDefault: c.autocommitDefault.Get(),
		TimeZone:          c.timeZone.Get(),
	}
}
