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
	"sort"
	"strings"
)

// IsolationLevel selects the transaction isolation level applied to a
// connection at creation time. IsolationDefault leaves the backend's
// default untouched.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

var (
	isolationNames         []string
	isolationNamesToValues = map[string]int{
		"default":         int(IsolationDefault),
		"read-committed":  int(IsolationReadCommitted),
		"repeatable-read": int(IsolationRepeatableRead),
		"serializable":    int(IsolationSerializable),
	}
	isolationValuesToNames map[int]string
)

func init() {
	isolationNames = make([]string, 0, len(isolationNamesToValues))
	isolationValuesToNames = make(map[int]string, len(isolationNamesToValues))

	for name, val := range isolationNamesToValues {
		isolationValuesToNames[val] = name
		isolationNames = append(isolationNames, name)
	}
	sort.Strings(isolationNames)
}

// IsolationNames returns the accepted isolation level names, sorted.
func IsolationNames() []string {
	return isolationNames
}

// SQL returns the SQL spelling of the level, or "" for IsolationDefault.
func (l IsolationLevel) SQL() string {
	switch l {
	case IsolationReadCommitted:
		return "READ COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return ""
	}
}

func (l *IsolationLevel) String() string {
	if name, ok := isolationValuesToNames[int(*l)]; ok {
		return name
	}
	return "<UNKNOWN>"
}

// Set implements pflag.Value.
func (l *IsolationLevel) Set(arg string) error {
	larg := strings.ToLower(arg)
	if v, ok := isolationNamesToValues[larg]; ok {
		*l = IsolationLevel(v)
		return nil
	}
	return fmt.Errorf("unknown isolation level %s (options: %s)", arg, strings.Join(isolationNames, ", "))
}

// Type implements pflag.Value.
func (l *IsolationLevel) Type() string { return "IsolationLevel" }

// UnmarshalText lets config decoders parse isolation levels from strings.
func (l *IsolationLevel) UnmarshalText(text []byte) error {
	return l.Set(string(text))
}

// MarshalText is the inverse of UnmarshalText.
func (l IsolationLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}
