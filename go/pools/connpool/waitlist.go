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

import (
	"context"
	"runtime"
	"sync"

	"github.com/pgkeeper/pgkeeper/go/list"
)

// waiter represents a client parked in the waitlist until a connection
// is released.
type waiter[C Connection] struct {
	// conn receives the connection handed over by a releasing client.
	conn chan *Pooled[C]
}

// waitlist queues clients blocked on acquire in FIFO order. Handover is a
// direct channel send from the releasing goroutine to the oldest waiter, so
// a release wakes exactly one acquirer without polling.
type waitlist[C Connection] struct {
	nodes sync.Pool
	mu    sync.Mutex
	list  list.List[waiter[C]]
}

func (wl *waitlist[C]) init() {
	wl.nodes.New = func() any {
		return &list.Element[waiter[C]]{
			Value: waiter[C]{conn: make(chan *Pooled[C])},
		}
	}
	wl.list.Init()
}

// register parks the caller at the back of the waitlist. The caller must
// follow up with either wait or cancel on the returned element.
//
// Registration is split from waiting so the pool can re-check the idle
// stack after joining the list; otherwise a connection released between
// the idle check and registration would strand the waiter.
func (wl *waitlist[C]) register() *list.Element[waiter[C]] {
	elem := wl.nodes.Get().(*list.Element[waiter[C]])

	wl.mu.Lock()
	wl.list.PushBackValue(elem)
	wl.mu.Unlock()

	return elem
}

// wait blocks until a releasing client hands over a connection, the context
// expires, or closeChan is closed. On context expiry the context's cause is
// returned, so pools can install a typed exhaustion error via
// context.WithTimeoutCause.
func (wl *waitlist[C]) wait(ctx context.Context, elem *list.Element[waiter[C]], closeChan <-chan struct{}) (*Pooled[C], error) {
	defer wl.nodes.Put(elem)

	select {
	case <-closeChan:
		if wl.remove(elem) {
			return nil, ErrPoolClosed
		}
		// A releasing goroutine already dequeued us and is mid-handover;
		// the send is guaranteed, so receive it.
		return <-elem.Value.conn, nil

	case <-ctx.Done():
		if wl.remove(elem) {
			return nil, context.Cause(ctx)
		}
		return <-elem.Value.conn, nil

	case conn := <-elem.Value.conn:
		return conn, nil
	}
}

// cancel withdraws a registration made by register. If a handover raced
// with the cancellation, the in-flight connection is returned and the
// caller is responsible for requeueing it.
func (wl *waitlist[C]) cancel(elem *list.Element[waiter[C]]) *Pooled[C] {
	defer wl.nodes.Put(elem)

	if wl.remove(elem) {
		return nil
	}
	return <-elem.Value.conn
}

// remove takes elem off the list. Returns false if elem was already
// dequeued by a releasing goroutine.
func (wl *waitlist[C]) remove(elem *list.Element[waiter[C]]) bool {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	for e := wl.list.Front(); e != nil; e = e.Next() {
		if e == elem {
			wl.list.Remove(elem)
			return true
		}
	}
	return false
}

// tryReturnConn hands a connection to the oldest waiter, if any.
func (wl *waitlist[C]) tryReturnConn(conn *Pooled[C]) bool {
	wl.mu.Lock()
	target := wl.list.Front()
	if target != nil {
		wl.list.Remove(target)
	}
	wl.mu.Unlock()

	if target == nil {
		return false
	}

	// The waiter is guaranteed to receive: it is either blocked in wait
	// or draining the channel in cancel.
	target.Value.conn <- conn
	runtime.Gosched()
	return true
}

// waiting returns the number of parked clients.
func (wl *waitlist[C]) waiting() int {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return wl.list.Len()
}
