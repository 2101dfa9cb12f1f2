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

// Package stream issues streaming calls through per-destination credit
// windows and closes each run of calls with an error-collecting terminal
// call.
//
// A Streamer sits between a chunk-producing caller and a transport. Call
// suspends the caller while the destination's window is out of credit,
// hands admitted envelopes to the transport and releases their credit as
// acknowledgments come back, in whatever order the transport produces them.
// The first failing call trips the destination's fault barrier: later calls
// are refused without touching the window or the transport, and End, the
// terminal call, reports that first error as the whole stream's outcome.
//
// The intended shape is one goroutine issuing calls to a destination while
// the transport acknowledges from any number of goroutines:
//
//	dest := s.Open()
//	for _, chunk := range chunks {
//		if _, err := s.Call(ctx, dest, uint64(len(chunk)), chunk); err != nil {
//			return err
//		}
//	}
//	return s.End(ctx, dest) // first failure anywhere in the run, or nil
package stream

import (
	"context"
	"sync"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/streamgate"
	"go.chromium.org/streamgate/flow"
)

// Streamer schedules streaming calls for any number of destinations over
// one Sender.
//
// Destinations never contend with each other: each owns its window, its
// barrier and its sequence numbers.
type Streamer struct {
	ctx    context.Context
	sender streamgate.Sender
	opts   Options

	mu    sync.Mutex
	dests []*destState
}

// New returns a Streamer delivering calls to sender.
//
// ctx is used for logging and metrics emitted from acknowledgment
// callbacks, which run on transport goroutines with no caller ctx in reach.
func New(ctx context.Context, sender streamgate.Sender, opts Options) (*Streamer, error) {
	if sender == nil {
		return nil, errors.New("stream: sender is required")
	}
	opts.normalize()
	return &Streamer{ctx: ctx, sender: sender, opts: opts}, nil
}

// Call issues one streaming call of the given estimated byte size.
//
// It suspends while the destination's window has too much in flight,
// preserving issue order: calls are admitted strictly first-come
// first-served. On success the returned envelope is live; it resolves when
// the transport acknowledges the call, and resolving it releases the call's
// window credit. Callers that only care about end-to-end success can ignore
// the envelope entirely and check End.
//
// Once the destination is faulted the call is refused without consuming
// credit: by default the envelope comes back already resolved with the
// recorded fault (and a nil error, so plain loops keep their shape), while
// with Options.FailFast the fault is returned as the error instead.
//
// A non-nil error with a non-nil envelope means the transport refused the
// call synchronously; the envelope is already resolved and the failure is
// recorded in the destination's barrier.
func (s *Streamer) Call(ctx context.Context, dest streamgate.Destination, size uint64, payload any) (*streamgate.Envelope, error) {
	d, err := s.lookup(dest)
	if err != nil {
		return nil, err
	}
	if err := d.open(); err != nil {
		return nil, err
	}
	if ferr := d.barrier.err(); ferr != nil {
		return s.refuse(d, size, ferr)
	}

	g := d.admitGate()
	start := clock.Now(ctx)
	oversized, err := g.Admit(ctx, size)
	if err != nil {
		callsCounter.Add(s.ctx, 1, streamgate.Streaming.String(), resultCancelled)
		return nil, streamgate.CancelTag.Apply(
			errors.Fmt("stream: admitting %d byte call to destination %d: %w", size, dest, err))
	}
	admissionWaitMS.Add(ctx, float64(clock.Since(ctx, start).Milliseconds()))
	if oversized {
		oversizeCounter.Add(ctx, 1)
		logging.Warningf(ctx, "stream: %d byte call exceeds destination %d's whole window, admitted alone", size, dest)
	}

	// A fault may have landed while this call waited for credit.
	if ferr := d.barrier.err(); ferr != nil {
		g.Release(size)
		return s.refuse(d, size, ferr)
	}

	env := streamgate.NewEnvelope(dest, streamgate.Streaming, size, func(err error) {
		s.streamingResolved(d, g, size, err)
	})
	env.Oversized = oversized
	env.Payload = payload
	if err := d.register(env); err != nil {
		g.Release(size)
		return nil, err
	}

	if serr := s.sender.Send(ctx, env); serr != nil {
		serr = streamgate.TransportTag.Apply(
			errors.Fmt("stream: sending call %d to destination %d: %w", env.Seq, dest, serr))
		env.Ack(serr)
		return env, serr
	}
	return env, nil
}

// End issues the terminal call: the barrier closing a run of streaming
// calls.
//
// It blocks until every streaming call issued before it has resolved, then
// reports the destination's first recorded fault if there is one (without
// contacting the transport), or otherwise sends the terminal call and
// returns its own outcome. After End the destination accepts no further
// calls.
func (s *Streamer) End(ctx context.Context, dest streamgate.Destination) error {
	d, err := s.lookup(dest)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return errors.Fmt("stream: destination %d is released", dest)
	}
	if d.terminated {
		d.mu.Unlock()
		return ErrTerminated
	}
	d.terminated = true
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	if err := d.waitDrained(ctx); err != nil {
		callsCounter.Add(s.ctx, 1, streamgate.Terminal.String(), resultCancelled)
		return streamgate.CancelTag.Apply(
			errors.Fmt("stream: abandoned draining destination %d: %w", dest, err))
	}

	// Somebody upstream already failed: their error is the stream's outcome
	// and the transport never sees the terminal call.
	if ferr := d.barrier.err(); ferr != nil {
		callsCounter.Add(s.ctx, 1, streamgate.Terminal.String(), resultFaulted)
		return ferr
	}

	env := streamgate.NewEnvelope(dest, streamgate.Terminal, 0, func(err error) {
		if err != nil && d.barrier.trip(err) {
			logging.Warningf(s.ctx, "stream: destination %d faulted: %s", d.id, err)
		}
	})
	env.Seq = seq

	if serr := s.sender.Send(ctx, env); serr != nil {
		serr = streamgate.TransportTag.Apply(
			errors.Fmt("stream: sending terminal call to destination %d: %w", dest, serr))
		env.Ack(serr)
		callsCounter.Add(s.ctx, 1, streamgate.Terminal.String(), resultError)
		return serr
	}

	select {
	case <-env.Done():
		err := env.Err()
		callsCounter.Add(s.ctx, 1, streamgate.Terminal.String(), result(err))
		return err
	case <-ctx.Done():
		// The terminal call is in flight and abandoned: it did reach the
		// transport, so the abandonment is a recorded fault.
		d.barrier.trip(streamgate.CancelTag.Apply(
			errors.Fmt("stream: terminal call to destination %d abandoned in flight: %w", dest, ctx.Err())))
		callsCounter.Add(s.ctx, 1, streamgate.Terminal.String(), resultCancelled)
		return streamgate.CancelTag.Apply(ctx.Err())
	}
}

// refuse rejects a streaming call aimed at a faulted destination.
//
// Default mode hands back an envelope pre-resolved with the fault; FailFast
// mode surfaces the fault as the call's own error.
func (s *Streamer) refuse(d *destState, size uint64, ferr error) (*streamgate.Envelope, error) {
	callsCounter.Add(s.ctx, 1, streamgate.Streaming.String(), resultFaulted)
	werr := streamgate.FaultedTag.Apply(ferr)
	if s.opts.FailFast {
		return nil, werr
	}
	env := streamgate.NewEnvelope(d.id, streamgate.Streaming, size, nil)
	env.Ack(werr)
	return env, nil
}

// streamingResolved is the acknowledgment path of every sent streaming
// call: trip the barrier on failure, return the credit, wake a draining
// End. Runs exactly once per call, on whatever goroutine resolved it.
//
// The barrier trips before the credit release. Releasing wakes suspended
// admissions, and a call admitted by this very release must already see the
// fault when it re-checks the barrier.
func (s *Streamer) streamingResolved(d *destState, g *flow.Gate, size uint64, err error) {
	if err != nil && d.barrier.trip(err) {
		logging.Warningf(s.ctx, "stream: destination %d faulted: %s", d.id, err)
	}
	g.Release(size)
	d.callResolved()
	callsCounter.Add(s.ctx, 1, streamgate.Streaming.String(), result(err))
}
