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

// Package dispatch delivers incoming streaming calls to handler objects on
// the callee side of a stream.
//
// A Sequencer is the receiving counterpart of a stream.Streamer. The
// transport hands it envelopes as they arrive; streaming calls go to the
// handler's Stream method, possibly many at once, and the terminal call is
// withheld from the handler's Terminal method until every streaming call
// dispatched before it has completed. The handler's return value resolves
// each envelope, which is what sends the acknowledgment back toward the
// caller and refills the caller's credit window.
//
// The sequencer deliberately does not serialize streaming deliveries: a
// handler whose calls overlap in time is expected to manage that overlap
// itself, typically because its work is I/O the environment already
// serializes or interleaves safely. Handlers that do want one-at-a-time
// delivery set Options.MaxConcurrentStreams to 1.
//
// Once any streaming call fails, the destination is faulted: streaming
// calls arriving after that are resolved immediately with the first
// failure, without invoking the handler, and the terminal call resolves
// with that failure instead of reaching the handler's Terminal method.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/streamgate"
)

// Handler is the callee-side object a Sequencer delivers calls to.
//
// Neither method produces a result value: a streaming call's completion is
// purely success or failure, consumed by the caller's flow-control window
// and fault barrier. Stream may be invoked concurrently from multiple
// goroutines; Terminal is invoked at most once per destination, after every
// Stream invocation for that destination has returned.
type Handler interface {
	// Stream handles one streaming call.
	//
	// The ctx descends from the ctx the Sequencer was built with and is
	// cancelled once any streaming call for the same destination fails.
	Stream(ctx context.Context, env *streamgate.Envelope) error

	// Terminal handles the call ending a run of streaming calls. It is not
	// invoked when a streaming call failed; the recorded failure resolves
	// the terminal envelope instead.
	Terminal(ctx context.Context, env *streamgate.Envelope) error
}

// Options tunes a Sequencer.
//
// The zero value is a fully working configuration.
type Options struct {
	// MaxConcurrentStreams caps how many Stream invocations may execute at
	// once per destination. Calls over the cap stay queued, in arrival
	// order, and still count as dispatched: a terminal call waits for them
	// too.
	//
	// 0 means no cap; the handler sees every streaming call as soon as it
	// arrives.
	//
	// [OPTIONAL] Default: 0 (unlimited).
	MaxConcurrentStreams int
}

// normalize validates Options and fills in defaults.
func (o *Options) normalize() error {
	if o.MaxConcurrentStreams < 0 {
		return errors.Fmt("dispatch: MaxConcurrentStreams must be >= 0, got %d", o.MaxConcurrentStreams)
	}
	return nil
}

// Sequencer routes incoming envelopes to a Handler, one independent run per
// destination.
//
// All methods are safe for concurrent use. Deliveries for one destination
// are assumed to arrive in the caller's issue order; the transport provides
// that, and the sequencer preserves it when queueing over
// MaxConcurrentStreams.
type Sequencer struct {
	ctx     context.Context
	handler Handler
	opts    Options

	// wg tracks every goroutine the sequencer has started and not yet
	// retired: queued and running handlers plus terminal waiters.
	wg sync.WaitGroup

	mu    sync.Mutex
	dests map[streamgate.Destination]*destRun
}

// destRun is one destination's streaming run on the callee side.
type destRun struct {
	eg   *errgroup.Group
	gctx context.Context
	sem  *semaphore.Weighted // nil when MaxConcurrentStreams is 0

	mu          sync.Mutex
	firstErr    error
	outstanding int
	terminated  bool
}

// New returns a Sequencer delivering calls to handler.
//
// ctx is the base context of every handler invocation; cancelling it fails
// the streaming calls still running and, through them, their callers'
// terminal outcomes.
func New(ctx context.Context, handler Handler, opts Options) (*Sequencer, error) {
	if handler == nil {
		return nil, errors.New("dispatch: handler is required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &Sequencer{
		ctx:     ctx,
		handler: handler,
		opts:    opts,
		dests:   map[streamgate.Destination]*destRun{},
	}, nil
}

// Dispatch takes one incoming envelope and routes it to the handler.
//
// It never blocks on the handler: streaming calls are handed to their own
// goroutines and the terminal call is parked until its predecessors drain.
// On a nil return the sequencer owns env and will eventually resolve it
// with the handler's outcome (or the destination's recorded fault). On a
// non-nil return the envelope was refused and never left the transport's
// hands: a call after the destination's terminal call, a second terminal
// call, or an envelope this layer cannot route.
func (s *Sequencer) Dispatch(env *streamgate.Envelope) error {
	if env == nil {
		return errors.New("dispatch: nil envelope")
	}
	d := s.run(env.Dest)
	switch env.Kind {
	case streamgate.Streaming:
		return s.dispatchStreaming(d, env)
	case streamgate.Terminal:
		return s.dispatchTerminal(d, env)
	default:
		return errors.Fmt("dispatch: destination %d: unroutable call kind %d", env.Dest, env.Kind)
	}
}

func (s *Sequencer) dispatchStreaming(d *destRun, env *streamgate.Envelope) error {
	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		return errors.Fmt("dispatch: destination %d: streaming call after the terminal call", env.Dest)
	}
	if ferr := d.firstErr; ferr != nil {
		d.mu.Unlock()
		// Known-broken destination: resolve without touching the handler.
		env.Ack(streamgate.FaultedTag.Apply(ferr))
		handledCounter.Add(s.ctx, 1, streamgate.Streaming.String(), resultFaulted)
		return nil
	}
	d.outstanding++
	d.mu.Unlock()

	s.wg.Add(1)
	d.eg.Go(func() error {
		defer s.wg.Done()
		if d.sem != nil {
			if err := d.sem.Acquire(d.gctx, 1); err != nil {
				// The run failed while this call sat in the queue. Its fate is
				// the recorded fault, same as if it had arrived later.
				if ferr := d.failure(); ferr != nil {
					err = streamgate.FaultedTag.Apply(ferr)
				}
				d.resolve(env, err)
				handledCounter.Add(s.ctx, 1, streamgate.Streaming.String(), resultFaulted)
				return err
			}
			defer d.sem.Release(1)
			// The fault may land between the failing handler releasing its
			// slot and the group context cancelling; a queued call must not
			// reach the handler through that gap.
			if ferr := d.failure(); ferr != nil {
				err := streamgate.FaultedTag.Apply(ferr)
				d.resolve(env, err)
				handledCounter.Add(s.ctx, 1, streamgate.Streaming.String(), resultFaulted)
				return err
			}
		}

		start := clock.Now(s.ctx)
		err := s.handler.Stream(d.gctx, env)
		handledDurationMS.Add(s.ctx, float64(clock.Since(s.ctx, start).Milliseconds()), streamgate.Streaming.String())
		if err != nil && d.fail(err) {
			logging.Warningf(s.ctx, "dispatch: destination %d faulted: %s", env.Dest, err)
		}
		d.resolve(env, err)
		handledCounter.Add(s.ctx, 1, streamgate.Streaming.String(), result(err))
		return err
	})
	return nil
}

func (s *Sequencer) dispatchTerminal(d *destRun, env *streamgate.Envelope) error {
	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		return errors.Fmt("dispatch: destination %d: second terminal call", env.Dest)
	}
	d.terminated = true
	d.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The barrier: every streaming call dispatched before this point,
		// running or queued, completes before the handler can observe the
		// end of the stream.
		werr := d.eg.Wait()
		if ferr := d.failure(); ferr != nil {
			// The recorded fault wins over whichever failure the group
			// happened to see first, so the terminal outcome and later
			// refusals always name the same error.
			werr = ferr
		}
		if werr != nil {
			env.Ack(werr)
			handledCounter.Add(s.ctx, 1, streamgate.Terminal.String(), resultFaulted)
			return
		}
		start := clock.Now(s.ctx)
		err := s.handler.Terminal(s.ctx, env)
		handledDurationMS.Add(s.ctx, float64(clock.Since(s.ctx, start).Milliseconds()), streamgate.Terminal.String())
		d.fail(err)
		env.Ack(err)
		handledCounter.Add(s.ctx, 1, streamgate.Terminal.String(), result(err))
	}()
	return nil
}

// Forget drops a destination's run state.
//
// Meant for after the terminal envelope resolved, when the destination
// number may be retired or reissued for a fresh capability; a later call
// with the same number starts a new run. Forgetting a destination with
// handlers still executing does not stop them, it only unlinks the state
// new arrivals would see.
func (s *Sequencer) Forget(dest streamgate.Destination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dests, dest)
}

// Drain blocks until every handler the sequencer has started, on any
// destination, has returned and every parked terminal call has resolved.
//
// It does not stop new calls from being dispatched; the transport is
// expected to have gone quiet first. Returns ctx.Err() if ctx gives up
// before the handlers do.
func (s *Sequencer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a point-in-time snapshot of one destination's run.
type Stats struct {
	// Outstanding is the number of streaming calls dispatched (running or
	// queued) and not yet resolved.
	Outstanding int
	// Faulted reports whether a streaming or terminal call has failed.
	Faulted bool
	// Terminated reports whether the terminal call has been dispatched.
	Terminated bool
}

// Stats snapshots a destination's run. A destination with no history reads
// as all zeroes.
func (s *Sequencer) Stats(dest streamgate.Destination) Stats {
	s.mu.Lock()
	d := s.dests[dest]
	s.mu.Unlock()
	if d == nil {
		return Stats{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Outstanding: d.outstanding,
		Faulted:     d.firstErr != nil,
		Terminated:  d.terminated,
	}
}

// run returns the destination's run state, starting a fresh run on first
// contact.
func (s *Sequencer) run(dest streamgate.Destination) *destRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dests[dest]
	if d == nil {
		d = &destRun{}
		d.eg, d.gctx = errgroup.WithContext(s.ctx)
		if s.opts.MaxConcurrentStreams > 0 {
			d.sem = semaphore.NewWeighted(int64(s.opts.MaxConcurrentStreams))
		}
		s.dests[dest] = d
	}
	return d
}

// fail records err as the run's first fault. Nil errors and faults after
// the first are ignored. Reports whether this call tripped the run.
func (d *destRun) fail(err error) bool {
	if err == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.firstErr != nil {
		return false
	}
	d.firstErr = err
	return true
}

// failure returns the run's recorded fault, or nil.
func (d *destRun) failure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstErr
}

// resolve acks one dispatched streaming envelope and retires its
// outstanding slot.
func (d *destRun) resolve(env *streamgate.Envelope, err error) {
	env.Ack(err)
	d.mu.Lock()
	d.outstanding--
	d.mu.Unlock()
}
