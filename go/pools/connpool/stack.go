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

import "sync"

// connStack is a mutex-protected LIFO stack of idle connections. The most
// recently released connection is the most likely to still have a warm
// transport keep-alive, so it is reused first. The lock is held only for
// the pointer swap.
type connStack[C Connection] struct {
	mu    sync.Mutex
	top   *Pooled[C]
	count int
}

// Push adds a connection to the top of the stack.
func (s *connStack[C]) Push(conn *Pooled[C]) {
	s.mu.Lock()
	conn.next = s.top
	s.top = conn
	s.count++
	s.mu.Unlock()
}

// Pop removes and returns the connection from the top of the stack.
// Returns nil and false if the stack is empty.
func (s *connStack[C]) Pop() (*Pooled[C], bool) {
	s.mu.Lock()
	if s.top == nil {
		s.mu.Unlock()
		return nil, false
	}
	conn := s.top
	s.top = conn.next
	s.count--
	s.mu.Unlock()
	conn.next = nil
	return conn, true
}

// Len returns the number of connections in the stack.
func (s *connStack[C]) Len() int {
	s.mu.Lock()
	n := s.count
	s.mu.Unlock()
	return n
}
