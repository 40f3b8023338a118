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

package viperutil

import (
	"log/slog"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Bindable is the type-erased half of a Value, used by BindFlags to
// bind values of different types in one call.
type Bindable interface {
	// Key returns the config key this value resolves.
	Key() string

	// Flag returns the flag name bound to this value, or "" if none.
	Flag() string

	// Bind binds the value's flag from the given FlagSet into its registry.
	Bind(fs *pflag.FlagSet)
}

// Value provides typed access to a single configuration key.
type Value[T any] interface {
	Bindable

	// Get resolves the current value.
	Get() T

	// Default returns the registered default.
	Default() T
}

// Options configures a Value during registration.
type Options[T any] struct {
	// Default is the value returned when no flag, env var, or config
	// file entry is present.
	Default T

	// FlagName, if set, names the pflag that overrides this value.
	// The flag itself is defined by the consumer; BindFlags wires it up.
	FlagName string

	// EnvVars lists environment variables that override this value.
	EnvVars []string

	// GetFunc overrides the default decode-based resolution.
	GetFunc func(v *viper.Viper, key string) T
}

type value[T any] struct {
	reg  *Registry
	key  string
	def  T
	flag string
	get  func(v *viper.Viper, key string) T
}

// Configure registers a configuration key with the given registry and
// returns a typed Value for it.
func Configure[T any](reg *Registry, key string, opts Options[T]) Value[T] {
	reg.v.SetDefault(key, opts.Default)
	for _, env := range opts.EnvVars {
		_ = reg.v.BindEnv(key, env)
	}

	get := opts.GetFunc
	if get == nil {
		get = decode[T]
	}

	return &value[T]{
		reg:  reg,
		key:  key,
		def:  opts.Default,
		flag: opts.FlagName,
		get:  get,
	}
}

func (val *value[T]) Key() string  { return val.key }
func (val *value[T]) Flag() string { return val.flag }
func (val *value[T]) Default() T   { return val.def }

func (val *value[T]) Get() T {
	return val.get(val.reg.v, val.key)
}

func (val *value[T]) Bind(fs *pflag.FlagSet) {
	if val.flag == "" {
		return
	}
	if f := fs.Lookup(val.flag); f != nil {
		_ = val.reg.v.BindPFlag(val.key, f)
	}
}

// BindFlags binds each value's flag from the given FlagSet into its
// registry. Call after defining the flags and before parsing.
func BindFlags(fs *pflag.FlagSet, values ...Bindable) {
	for _, v := range values {
		v.Bind(fs)
	}
}

// decode resolves a key through mapstructure so that durations, enums
// implementing encoding.TextUnmarshaler, and weakly typed inputs (env
// strings) all round-trip correctly.
func decode[T any](v *viper.Viper, key string) T {
	var out T

	raw := v.Get(key)
	if raw == nil {
		return out
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		slog.Warn("failed to build config decoder", "key", key, "err", err)
		return out
	}

	if err := dec.Decode(raw); err != nil {
		slog.Warn("failed to decode config value, using zero value", "key", key, "err", err)
		var zero T
		return zero
	}
	return out
}
