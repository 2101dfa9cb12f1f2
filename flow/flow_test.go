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

package flow

import (
	"context"
	"testing"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/streamgate"
)

// admission is the recorded outcome of one Admit call running in its own
// goroutine.
type admission struct {
	who       string
	oversized bool
	err       error
}

// admitAsync runs g.Admit in a goroutine and reports the result on out once
// it returns.
func admitAsync(ctx context.Context, g *Gate, who string, size uint64, out chan<- admission) {
	go func() {
		oversized, err := g.Admit(ctx, size)
		out <- admission{who: who, oversized: oversized, err: err}
	}()
}

// waitWaiters spins until the gate has exactly n suspended waiters.
func waitWaiters(t *ftt.Test, g *Gate, n int) {
	for i := 0; g.Stats().Waiters != n; i++ {
		if i > 5000 {
			t.Fatalf("gate never reached %d waiters", n)
		}
		time.Sleep(time.Millisecond)
	}
}

// quiet asserts that nothing arrives on out for a little while.
func quiet(t *ftt.Test, out <-chan admission) {
	select {
	case got := <-out:
		t.Fatalf("unexpected admission: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGate(t *testing.T) {
	t.Parallel()

	ftt.Run(`Gate`, t, func(t *ftt.Test) {
		ctx := context.Background()

		t.Run(`admits immediately while credit is available`, func(t *ftt.Test) {
			g := NewGate(100)

			oversized, err := g.Admit(ctx, 40)
			assert.NoErr(t, err)
			assert.Loosely(t, oversized, should.BeFalse)
			assert.Loosely(t, g.Stats(), should.Match(Stats{
				CapacityBytes: 100,
				InFlightBytes: 40,
			}))

			g.Release(40)
			assert.Loosely(t, g.Stats().InFlightBytes, should.BeZero)
		})

		t.Run(`size 0 needs no credit and no release`, func(t *ftt.Test) {
			g := NewGate(10)
			_, err := g.Admit(ctx, 10)
			assert.NoErr(t, err)

			// Full window, still admitted, still accounts nothing.
			oversized, err := g.Admit(ctx, 0)
			assert.NoErr(t, err)
			assert.Loosely(t, oversized, should.BeFalse)
			assert.Loosely(t, g.Stats().InFlightBytes, should.Equal(10))
		})

		t.Run(`a cancelled ctx does not veto an immediate admission`, func(t *ftt.Test) {
			g := NewGate(10)
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := g.Admit(cctx, 5)
			assert.NoErr(t, err)
		})

		t.Run(`suspends when full and wakes on release`, func(t *ftt.Test) {
			g := NewGate(10)
			_, err := g.Admit(ctx, 10)
			assert.NoErr(t, err)

			out := make(chan admission, 1)
			admitAsync(ctx, g, "w", 4, out)
			waitWaiters(t, g, 1)
			quiet(t, out)

			g.Release(10)
			got := <-out
			assert.NoErr(t, got.err)
			assert.Loosely(t, got.oversized, should.BeFalse)
			assert.Loosely(t, g.Stats().InFlightBytes, should.Equal(4))
		})

		t.Run(`waiters are strictly FIFO`, func(t *ftt.Test) {
			g := NewGate(11)
			_, err := g.Admit(ctx, 10)
			assert.NoErr(t, err)
			_, err = g.Admit(ctx, 1)
			assert.NoErr(t, err)

			out := make(chan admission, 2)
			admitAsync(ctx, g, "big", 10, out)
			waitWaiters(t, g, 1)
			admitAsync(ctx, g, "small", 1, out)
			waitWaiters(t, g, 2)

			// One byte frees up. It would fit "small", but "small" queued
			// after "big" and must not jump it.
			g.Release(1)
			quiet(t, out)
			assert.Loosely(t, g.Stats().Waiters, should.Equal(2))

			// Once "big" fits, both drain in order.
			g.Release(10)
			assert.Loosely(t, (<-out).who, should.Equal("big"))
			assert.Loosely(t, (<-out).who, should.Equal("small"))
			assert.Loosely(t, g.Stats().InFlightBytes, should.Equal(11))
		})

		t.Run(`back-to-back calls: admitted, wait, wait`, func(t *ftt.Test) {
			g := NewGate(8192)

			oversized, err := g.Admit(ctx, 8192)
			assert.NoErr(t, err)
			assert.Loosely(t, oversized, should.BeFalse)

			out := make(chan admission, 2)
			admitAsync(ctx, g, "second", 4096, out)
			waitWaiters(t, g, 1)
			admitAsync(ctx, g, "third", 4096, out)
			waitWaiters(t, g, 2)
			quiet(t, out)

			g.Release(8192)
			assert.Loosely(t, (<-out).who, should.Equal("second"))
			assert.Loosely(t, (<-out).who, should.Equal("third"))
		})

		t.Run(`oversized call admitted alone right away`, func(t *ftt.Test) {
			g := NewGate(4)
			oversized, err := g.Admit(ctx, 100)
			assert.NoErr(t, err)
			assert.Loosely(t, oversized, should.BeTrue)
			assert.Loosely(t, g.Stats().InFlightBytes, should.Equal(100))
			g.Release(100)
		})

		t.Run(`oversized call waits for the window to drain`, func(t *ftt.Test) {
			g := NewGate(4)
			_, err := g.Admit(ctx, 3)
			assert.NoErr(t, err)

			out := make(chan admission, 1)
			admitAsync(ctx, g, "huge", 100, out)
			waitWaiters(t, g, 1)
			quiet(t, out)

			g.Release(3)
			got := <-out
			assert.NoErr(t, got.err)
			assert.Loosely(t, got.oversized, should.BeTrue)
		})

		t.Run(`capacity 0 suspends everything until configured`, func(t *ftt.Test) {
			g := NewGate(0)

			out := make(chan admission, 1)
			admitAsync(ctx, g, "w", 4, out)
			waitWaiters(t, g, 1)
			quiet(t, out)

			// Zero-size calls still pass while the waiter is stuck.
			_, err := g.Admit(ctx, 0)
			assert.NoErr(t, err)

			assert.NoErr(t, g.Configure(4))
			got := <-out
			assert.NoErr(t, got.err)
			assert.Loosely(t, got.oversized, should.BeFalse)
		})

		t.Run(`configure is rejected once credit was consumed`, func(t *ftt.Test) {
			g := NewGate(8)
			_, err := g.Admit(ctx, 1)
			assert.NoErr(t, err)

			err = g.Configure(16)
			assert.Loosely(t, err, should.Equal(ErrCapacityLocked))
			assert.Loosely(t, streamgate.ConfigTag.In(err), should.BeTrue)
		})

		t.Run(`cancellation unlinks a waiter from the middle`, func(t *ftt.Test) {
			g := NewGate(5)
			_, err := g.Admit(ctx, 5)
			assert.NoErr(t, err)

			cctx, cancel := context.WithCancel(ctx)
			out1 := make(chan admission, 1)
			out2 := make(chan admission, 1)
			admitAsync(cctx, g, "w1", 3, out1)
			waitWaiters(t, g, 1)
			admitAsync(ctx, g, "w2", 2, out2)
			waitWaiters(t, g, 2)

			cancel()
			got := <-out1
			assert.Loosely(t, got.err, should.Equal(context.Canceled))
			assert.Loosely(t, g.Stats().Waiters, should.Equal(1))

			// The departed waiter consumed nothing; its successor is next.
			g.Release(5)
			assert.NoErr(t, (<-out2).err)
			assert.Loosely(t, g.Stats().InFlightBytes, should.Equal(2))
		})

		t.Run(`close fails waiters and future admissions`, func(t *ftt.Test) {
			g := NewGate(2)
			_, err := g.Admit(ctx, 2)
			assert.NoErr(t, err)

			out := make(chan admission, 1)
			admitAsync(ctx, g, "w", 1, out)
			waitWaiters(t, g, 1)

			g.Close(nil)
			got := <-out
			assert.Loosely(t, got.err, should.Equal(ErrClosed))
			assert.Loosely(t, streamgate.CancelTag.In(got.err), should.BeTrue)

			_, err = g.Admit(ctx, 1)
			assert.Loosely(t, err, should.Equal(ErrClosed))
			assert.Loosely(t, g.Configure(4), should.Equal(ErrClosed))

			// In-flight credit still releases cleanly after close.
			g.Release(2)
			assert.Loosely(t, g.Stats().InFlightBytes, should.BeZero)
		})

		t.Run(`close keeps its first reason`, func(t *ftt.Test) {
			g := NewGate(2)
			boom := errors.New("boom")
			g.Close(boom)
			g.Close(errors.New("later"))

			_, err := g.Admit(ctx, 1)
			assert.Loosely(t, err, should.Equal(boom))
		})
	})
}
