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

import "errors"

var (
	// ErrNotConnected is returned when using a handle after Dispose.
	ErrNotConnected = errors.New("handle is not connected")

	// ErrSessionStateViolation is returned by Verify when the backend's
	// session state no longer matches the recorded settings.
	ErrSessionStateViolation = errors.New("session state violation")
)
