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
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlParams is the on-disk shape of a parameter set.
type yamlParams struct {
	Host              string            `yaml:"host"`
	Port              int               `yaml:"port"`
	Database          string            `yaml:"database"`
	User              string            `yaml:"user"`
	Password          string            `yaml:"password"`
	SSLMode           string            `yaml:"sslmode"`
	ApplicationName   string            `yaml:"application_name"`
	TimeZone          string            `yaml:"time_zone"`
	IsolationLevel    string            `yaml:"isolation_level"`
	AutocommitDefault *bool             `yaml:"autocommit_default"`
	Options           map[string]string `yaml:"options"`
	ConnectTimeout    string            `yaml:"connect_timeout"`
}

// LoadFile reads a YAML map of named parameter sets, in the spirit of an
// ORM's database settings block:
//
//	default:
//	  host: db.example.com
//	  database: app
//	  user: app
//	  time_zone: UTC
//	  isolation_level: serializable
//	reporting:
//	  host: replica.example.com
//	  database: app
//
// Autocommit defaults to true when omitted, matching what ORM wrappers
// expect from a fresh connection.
func LoadFile(path string) (map[string]*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read params file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML map of named parameter sets.
func Parse(data []byte) (map[string]*Params, error) {
	var raw map[string]*yamlParams
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse params: %w", err)
	}

	out := make(map[string]*Params, len(raw))
	for name, y := range raw {
		if y == nil {
			return nil, fmt.Errorf("params %q: empty definition", name)
		}
		p, err := y.toParams(name)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

func (y *yamlParams) toParams(name string) (*Params, error) {
	p := &Params{
		Host:            y.Host,
		Port:            y.Port,
		Database:        y.Database,
		User:            y.User,
		Password:        y.Password,
		SSLMode:         y.SSLMode,
		ApplicationName: y.ApplicationName,
		TimeZone:        y.TimeZone,
		Options:         y.Options,
		Label:           name,

		AutocommitDefault: true,
	}
	if y.AutocommitDefault != nil {
		p.AutocommitDefault = *y.AutocommitDefault
	}

	if y.IsolationLevel != "" {
		if err := p.IsolationLevel.Set(y.IsolationLevel); err != nil {
			return nil, fmt.Errorf("params %q: %w", name, err)
		}
	}

	if y.ConnectTimeout != "" {
		d, err := time.ParseDuration(y.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("params %q: invalid connect_timeout: %w", name, err)
		}
		p.ConnectTimeout = d
	}

	return p, nil
}
