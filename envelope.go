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

package streamgate

import (
	"sync/atomic"
)

// Kind discriminates the two call shapes this layer schedules.
type Kind int

const (
	// Streaming is a one-way call with no result value. Its completion
	// signal carries success/failure only, and exists to return window
	// credit and to feed the error barrier.
	Streaming Kind = iota

	// Terminal is the non-streaming call that ends a run of streaming
	// calls. It is a barrier: it resolves only once every preceding
	// streaming call has resolved.
	Terminal
)

// String returns "streaming" or "terminal".
func (k Kind) String() string {
	switch k {
	case Streaming:
		return "streaming"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Envelope is one unit of work handed to the transport: a method invocation
// carrying a byte-size estimate and a completion signal. The envelope itself
// is the completion token: whoever learns the call's fate resolves it with
// Ack, exactly once.
//
// An Envelope is created by the issuing side (a stream.Streamer on the
// caller side, the receiving transport on the callee side) and must not be
// reused after it resolves.
type Envelope struct {
	// Dest is the destination the call is aimed at.
	Dest Destination

	// Kind marks the call streaming or terminal.
	Kind Kind

	// Seq is the call's sequence number, monotonic per destination in issue
	// order. Assigned by the issuing Streamer at admission; zero for calls
	// that were never admitted.
	Seq uint64

	// Size is the caller's byte-size estimate for the call, the amount of
	// window credit it consumes. Size 0 consumes no credit.
	Size uint64

	// Oversized records that Size exceeded the destination's window
	// capacity and the call was admitted alone under the forward-progress
	// policy. Informational; set by the admitting gate.
	Oversized bool

	// Payload is the opaque call body. This layer never inspects it; it
	// exists so the layers on either side of a Sender can associate the
	// actual message with its envelope.
	Payload any

	// notify observes the final outcome, exactly once, before Done
	// unblocks. It runs on the acknowledging goroutine.
	notify func(error)

	resolved atomic.Bool
	err      error
	done     chan struct{}
}

// NewEnvelope builds an unresolved envelope.
//
// notify may be nil. When it isn't, it receives the envelope's final outcome
// exactly once, on the goroutine that called Ack, before Done unblocks; the
// issuing side uses it to release window credit and trip the error barrier,
// the callee side to push the acknowledgment back onto the wire.
func NewEnvelope(dest Destination, kind Kind, size uint64, notify func(error)) *Envelope {
	return &Envelope{
		Dest:   dest,
		Kind:   kind,
		Size:   size,
		notify: notify,
		done:   make(chan struct{}),
	}
}

// Ack resolves the envelope's outcome: nil for success, non-nil for failure.
//
// The first Ack wins; later calls are no-ops returning false. This is what
// makes credit release idempotent: a transport that acknowledges the same
// call twice cannot double-credit the window.
func (e *Envelope) Ack(err error) bool {
	if !e.resolved.CompareAndSwap(false, true) {
		return false
	}
	e.err = err
	if e.notify != nil {
		e.notify(err)
	}
	close(e.done)
	return true
}

// Done returns a channel closed once the envelope has resolved.
func (e *Envelope) Done() <-chan struct{} {
	return e.done
}

// Err returns the envelope's outcome. Valid only after Done is closed;
// before that it always returns nil.
func (e *Envelope) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Resolved reports whether the envelope's outcome is already known.
func (e *Envelope) Resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
