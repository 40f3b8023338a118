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

// Package viperutil provides typed, registry-scoped access to viper-backed
// configuration values. Each consumer creates its own Registry, so libraries
// embedding pgkeeper never collide on viper's global state.
package viperutil

import (
	"fmt"

	"github.com/spf13/viper"
)

// Registry holds an isolated viper instance for configuration values.
// Values registered through Configure resolve against this instance only,
// in the usual precedence order: flag > env > config file > default.
type Registry struct {
	v *viper.Viper
}

// NewRegistry creates a new isolated configuration registry.
func NewRegistry() *Registry {
	return &Registry{v: viper.New()}
}

// Viper returns the underlying viper instance.
// Intended for debug handlers; prefer typed Values for everything else.
func (reg *Registry) Viper() *viper.Viper {
	return reg.v
}

// LoadFile reads the given config file into the registry.
// The file type is inferred from the extension (yaml, json, toml, ...).
func (reg *Registry) LoadFile(path string) error {
	reg.v.SetConfigFile(path)
	if err := reg.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}
