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

// Package streamtest provides in-memory transports for exercising streaming
// flow control in tests.
//
// Loopback is a Sender that records every envelope and acknowledges nothing
// until told to, so a test can hold acknowledgments back, deliver them out
// of order, or fail chosen calls. DispatchSender pipes a Streamer straight
// into a dispatch.Sequencer in the same process, for end-to-end tests with
// no wire at all.
package streamtest

import (
	"context"
	"sync"

	"go.chromium.org/streamgate"
	"go.chromium.org/streamgate/dispatch"
)

// Loopback is an in-memory Sender under manual acknowledgment control.
//
// Send records the envelope and returns; nothing resolves until the test
// calls AckNext, AckSeq or AckAll. Safe for concurrent use.
type Loopback struct {
	mu      sync.Mutex
	sent    []*streamgate.Envelope
	pending []*streamgate.Envelope
	refuse  error
}

// New returns an empty Loopback.
func New() *Loopback {
	return &Loopback{}
}

// Send implements streamgate.Sender. It accepts the envelope without
// resolving it, unless a refusal was armed with RefuseNext.
func (l *Loopback) Send(ctx context.Context, env *streamgate.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refuse; err != nil {
		l.refuse = nil
		return err
	}
	l.sent = append(l.sent, env)
	l.pending = append(l.pending, env)
	return nil
}

// RefuseNext arms a one-shot synchronous failure: the next Send returns err
// without accepting the envelope.
func (l *Loopback) RefuseNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refuse = err
}

// AckNext resolves the oldest unacknowledged envelope with the given
// outcome. Reports false when nothing is pending.
func (l *Loopback) AckNext(outcome error) bool {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return false
	}
	env := l.pending[0]
	l.pending = l.pending[1:]
	l.mu.Unlock()
	env.Ack(outcome)
	return true
}

// AckSeq resolves the pending envelope with the given destination and
// sequence number. Reports false when no such envelope is pending; an
// envelope stays findable until acknowledged, so acknowledging the same
// sequence twice reports false the second time.
func (l *Loopback) AckSeq(dest streamgate.Destination, seq uint64, outcome error) bool {
	l.mu.Lock()
	var env *streamgate.Envelope
	for i, e := range l.pending {
		if e.Dest == dest && e.Seq == seq {
			env = e
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	if env == nil {
		return false
	}
	env.Ack(outcome)
	return true
}

// AckAll resolves every pending envelope, oldest first, with the given
// outcome. Returns how many it resolved.
func (l *Loopback) AckAll(outcome error) int {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, env := range batch {
		env.Ack(outcome)
	}
	return len(batch)
}

// Pending returns how many accepted envelopes are still unacknowledged.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Sent returns every envelope Send has accepted, in send order.
func (l *Loopback) Sent() []*streamgate.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*streamgate.Envelope(nil), l.sent...)
}

// AckingSender returns a Sender that acknowledges every envelope with the
// given outcome the moment it is sent, as a transport with a zero-latency
// wire would.
func AckingSender(outcome error) streamgate.Sender {
	return streamgate.SenderFunc(func(ctx context.Context, env *streamgate.Envelope) error {
		env.Ack(outcome)
		return nil
	})
}

// DispatchSender returns a Sender that delivers envelopes straight into a
// callee-side Sequencer in the same process.
//
// The envelope itself crosses over: the sequencer's acknowledgment of it is
// the caller's acknowledgment, with no copying and no wire. Refusals pass
// through as synchronous Send errors, which the issuing Streamer records
// like any other transport failure.
func DispatchSender(seq *dispatch.Sequencer) streamgate.Sender {
	return streamgate.SenderFunc(func(ctx context.Context, env *streamgate.Envelope) error {
		return seq.Dispatch(env)
	})
}
