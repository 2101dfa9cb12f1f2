// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package flow implements per-destination credit windows and the admission
// gate in front of them.
//
// A Gate answers one question for every streaming call: may this call go to
// the transport now, or must the caller wait for earlier calls to be
// acknowledged first. Credit is measured in bytes of estimated call size;
// waiters are served strictly first-in first-out, even when a later smaller
// request would fit sooner, so admission order always equals issue order.
//
// The package knows nothing about transports, payloads or errors beyond the
// credit math. See go.chromium.org/streamgate/stream for the layer that
// ties gates to envelopes and acknowledgments.
package flow

import (
	"context"
	"sync"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/streamgate"
)

// ErrClosed is returned by Admit and Configure once the gate is closed.
var ErrClosed = streamgate.CancelTag.Apply(
	errors.New("flow: admission gate is closed"))

// waiter is one suspended admission request, a node of the Gate's FIFO
// queue. It is unlinked either by the pump (admitted), by Close (failed) or
// by its own caller (cancelled), always under the Gate lock.
type waiter struct {
	size      uint64
	oversized bool
	err       error

	// ready is closed after the waiter is unlinked, with err and oversized
	// already set. queued is the "still linked" marker the cancelling caller
	// checks to learn whether it lost the race against the pump.
	ready  chan struct{}
	queued bool

	next, prev *waiter
}

// Gate admits streaming calls against a byte credit window, suspending
// callers while the window is full.
//
// All methods are safe for concurrent use, though the intended shape is one
// issuing goroutine calling Admit and any number of transport goroutines
// calling Release.
type Gate struct {
	mu     sync.Mutex
	win    Window
	qhead  *waiter
	qtail  *waiter
	nwait  int
	closed error
}

// NewGate returns an open gate over a window of the given byte capacity.
//
// Capacity 0 is valid: the gate then suspends every credit-consuming call
// until Configure installs a real budget.
func NewGate(capacity uint64) *Gate {
	return &Gate{win: NewWindow(capacity)}
}

// Admit reserves credit for a call of the given byte size, suspending until
// credit frees up if the queue or the window is full.
//
// Returns with oversized set when the call was larger than the whole window
// and was admitted alone. Returns ctx.Err() if the caller gives up while
// suspended; a cancelled ctx does not prevent admission when credit is
// immediately available. Returns the close reason once the gate is closed.
//
// Every successful nonzero-size Admit must be paired with exactly one
// Release of the same size. Size 0 admits immediately, consumes no credit
// and needs no Release.
func (g *Gate) Admit(ctx context.Context, size uint64) (oversized bool, err error) {
	g.mu.Lock()
	if g.closed != nil {
		g.mu.Unlock()
		return false, g.closed
	}
	if size == 0 {
		g.mu.Unlock()
		return false, nil
	}
	if g.qhead == nil {
		if oversized, ok := g.win.Reserve(size); ok {
			g.mu.Unlock()
			return oversized, nil
		}
	}
	w := &waiter{size: size, ready: make(chan struct{})}
	g.pushLocked(w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return w.oversized, w.err
	case <-ctx.Done():
	}

	cerr := ctx.Err()
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case w.queued:
		g.removeLocked(w)
	case w.err == nil:
		// The pump admitted this waiter concurrently with the cancellation.
		// The call is abandoned, so hand the credit straight back.
		g.win.Release(w.size)
		g.pumpLocked()
	}
	return false, cerr
}

// Release returns the credit of one acknowledged call and admits as many
// queued waiters as now fit, in FIFO order.
func (g *Gate) Release(size uint64) {
	if size == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.win.Release(size)
	g.pumpLocked()
}

// Configure replaces the window capacity and admits any waiters the new
// budget covers.
//
// Fails with ErrCapacityLocked once a credit-consuming call has been
// admitted, or with the close reason once the gate is closed.
func (g *Gate) Configure(capacity uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed != nil {
		return g.closed
	}
	if err := g.win.Configure(capacity); err != nil {
		return err
	}
	g.pumpLocked()
	return nil
}

// Close fails every suspended waiter and all future Admit calls with the
// given reason, or with ErrClosed when reason is nil.
//
// Credit already reserved by admitted calls stays reserved; their Releases
// still run and are still accounted, they just have nobody left to wake.
// Closing twice keeps the first reason.
func (g *Gate) Close(reason error) {
	if reason == nil {
		reason = ErrClosed
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed != nil {
		return
	}
	g.closed = reason
	for g.qhead != nil {
		w := g.qhead
		g.removeLocked(w)
		w.err = reason
		close(w.ready)
	}
}

// Stats is a point-in-time snapshot of a gate.
type Stats struct {
	// CapacityBytes is the configured window budget.
	CapacityBytes uint64
	// InFlightBytes is the credit reserved by admitted, unacknowledged
	// calls. May exceed CapacityBytes while an oversized call is alone in
	// flight.
	InFlightBytes uint64
	// Waiters is the number of suspended admission requests.
	Waiters int
}

// Stats snapshots the gate's window and queue.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		CapacityBytes: g.win.Capacity(),
		InFlightBytes: g.win.InFlight(),
		Waiters:       g.nwait,
	}
}

// pumpLocked admits waiters from the head of the queue while they fit.
//
// It stops at the first waiter the window cannot take: skipping ahead to a
// smaller later request would reorder the stream.
func (g *Gate) pumpLocked() {
	for g.qhead != nil {
		oversized, ok := g.win.Reserve(g.qhead.size)
		if !ok {
			return
		}
		w := g.qhead
		g.removeLocked(w)
		w.oversized = oversized
		close(w.ready)
	}
}

func (g *Gate) pushLocked(w *waiter) {
	w.queued = true
	w.prev = g.qtail
	if g.qtail != nil {
		g.qtail.next = w
	} else {
		g.qhead = w
	}
	g.qtail = w
	g.nwait++
}

func (g *Gate) removeLocked(w *waiter) {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		g.qhead = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		g.qtail = w.prev
	}
	w.next, w.prev = nil, nil
	w.queued = false
	g.nwait--
}
