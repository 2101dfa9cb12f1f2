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

package stream

import (
	"context"
	"sync"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/streamgate"
	"go.chromium.org/streamgate/flow"
)

// ErrTerminated is returned when a destination is used after its terminal
// call was issued.
var ErrTerminated = errors.New("stream: destination already saw its terminal call")

// ErrReleased fails suspended admissions when their destination is released
// out from under them.
var ErrReleased = streamgate.CancelTag.Apply(
	errors.New("stream: destination released"))

// destState is everything a Streamer tracks per destination: the credit
// gate, the fault barrier, sequence numbering and the count of sent calls
// that have not resolved yet.
//
// Its mutex covers the plain fields below it. The gate locks itself and the
// barrier is atomic, so acknowledgment paths touch destState only for the
// outstanding count.
type destState struct {
	id      streamgate.Destination
	barrier barrier

	mu          sync.Mutex
	gate        *flow.Gate // nil until the first streaming call
	capacity    uint64     // the lazily created gate's capacity
	seq         uint64
	outstanding int
	drainWait   chan struct{} // non-nil while End waits for outstanding==0
	terminated  bool
	released    bool
}

// Open allocates a fresh destination.
//
// Destination numbers are dense indexes into the Streamer's table and are
// never reused; a released destination leaves a hole.
func (s *Streamer) Open() streamgate.Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &destState{capacity: s.opts.DefaultWindow}
	s.dests = append(s.dests, d)
	d.id = streamgate.Destination(len(s.dests))
	return d.id
}

// Release drops a destination: its suspended admissions fail with
// ErrReleased, new calls stop resolving it by number, and its slot is
// forgotten. Calls already handed to the transport still resolve and their
// credit accounting still runs; there is just nobody left to admit.
//
// Releasing an unknown or already released destination is a no-op.
func (s *Streamer) Release(dest streamgate.Destination) {
	s.mu.Lock()
	var d *destState
	if i := int(dest) - 1; i >= 0 && i < len(s.dests) {
		d = s.dests[i]
		s.dests[i] = nil
	}
	s.mu.Unlock()
	if d == nil {
		return
	}

	d.mu.Lock()
	d.released = true
	g := d.gate
	d.mu.Unlock()
	if g != nil {
		g.Close(ErrReleased)
	}
}

// ConfigureWindow sets the destination's window capacity in bytes.
//
// Must be called before the destination's first credit-consuming streaming
// call; after that the capacity is fixed and this returns a configuration
// error. Capacity 0 suspends every nonzero-size call until the window is
// reconfigured.
func (s *Streamer) ConfigureWindow(dest streamgate.Destination, capacity uint64) error {
	d, err := s.lookup(dest)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return errors.Fmt("stream: destination %d is released", dest)
	}
	if d.gate == nil {
		d.capacity = capacity
		return nil
	}
	return d.gate.Configure(capacity)
}

// Stats is a point-in-time snapshot of one destination.
type Stats struct {
	// Window is the credit gate's view: capacity, in-flight bytes and
	// suspended admissions.
	Window flow.Stats
	// Outstanding is the number of sent calls not yet acknowledged.
	Outstanding int
	// Faulted reports whether the destination recorded a fault.
	Faulted bool
	// Terminated reports whether the terminal call was already issued.
	Terminated bool
}

// Stats snapshots a destination.
func (s *Streamer) Stats(dest streamgate.Destination) (Stats, error) {
	d, err := s.lookup(dest)
	if err != nil {
		return Stats{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{
		Outstanding: d.outstanding,
		Faulted:     d.barrier.err() != nil,
		Terminated:  d.terminated,
	}
	if d.gate != nil {
		st.Window = d.gate.Stats()
	} else {
		st.Window = flow.Stats{CapacityBytes: d.capacity}
	}
	return st, nil
}

// lookup resolves a destination number to its live state.
func (s *Streamer) lookup(dest streamgate.Destination) (*destState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := int(dest) - 1
	if i < 0 || i >= len(s.dests) || s.dests[i] == nil {
		return nil, errors.Fmt("stream: unknown destination %d", dest)
	}
	return s.dests[i], nil
}

// open fails if the destination can no longer accept new calls.
func (d *destState) open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.released:
		return errors.Fmt("stream: destination %d is released", d.id)
	case d.terminated:
		return ErrTerminated
	}
	return nil
}

// admitGate returns the destination's gate, creating it on first use.
func (d *destState) admitGate() *flow.Gate {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate == nil {
		d.gate = flow.NewGate(d.capacity)
	}
	return d.gate
}

// register stamps an admitted envelope with the next sequence number and
// counts it outstanding. Rejects the envelope if the destination terminated
// or was released while it waited for credit.
func (d *destState) register(env *streamgate.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return errors.Fmt("stream: destination %d is released", d.id)
	}
	if d.terminated {
		return ErrTerminated
	}
	d.seq++
	env.Seq = d.seq
	d.outstanding++
	return nil
}

// callResolved drops the outstanding count and wakes a draining End once it
// hits zero.
func (d *destState) callResolved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outstanding--
	if d.outstanding == 0 && d.drainWait != nil {
		close(d.drainWait)
		d.drainWait = nil
	}
}

// waitDrained blocks until every outstanding call has resolved, or until
// ctx gives up.
func (d *destState) waitDrained(ctx context.Context) error {
	d.mu.Lock()
	for d.outstanding > 0 {
		if d.drainWait == nil {
			d.drainWait = make(chan struct{})
		}
		ch := d.drainWait
		d.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		d.mu.Lock()
	}
	d.mu.Unlock()
	return nil
}
