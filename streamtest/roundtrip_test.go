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

package streamtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/streamgate"
	"go.chromium.org/streamgate/dispatch"
	"go.chromium.org/streamgate/stream"
)

// Round-trip tests: a stream.Streamer feeding a dispatch.Sequencer in the
// same process, with the envelope itself crossing over as the wire. The
// window is sized to exactly one chunk, so admissions and handler
// completions alternate and the whole pipeline is deterministic.

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ftt.Run(`RoundTrip`, t, func(t *ftt.Test) {
		ctx := context.Background()

		t.Run(`chunks arrive in issue order and End reports success`, func(t *ftt.Test) {
			var mu sync.Mutex
			var got []string
			seq, err := dispatch.New(ctx, HandlerFuncs{
				StreamFn: func(ctx context.Context, env *streamgate.Envelope) error {
					mu.Lock()
					defer mu.Unlock()
					got = append(got, string(env.Payload.([]byte)))
					return nil
				},
			}, dispatch.Options{})
			assert.NoErr(t, err)
			s, err := stream.New(ctx, DispatchSender(seq), stream.Options{})
			assert.NoErr(t, err)

			dest := s.Open()
			assert.NoErr(t, s.ConfigureWindow(dest, 4))

			var want []string
			for i := 0; i < 8; i++ {
				chunk := fmt.Sprintf("c-%02d", i)
				want = append(want, chunk)
				_, err := s.Call(ctx, dest, uint64(len(chunk)), []byte(chunk))
				assert.NoErr(t, err)
			}
			assert.NoErr(t, s.End(ctx, dest))
			assert.NoErr(t, seq.Drain(ctx))

			mu.Lock()
			defer mu.Unlock()
			assert.That(t, got, should.Match(want))
		})

		t.Run(`one failing chunk fails the whole run with its error`, func(t *ftt.Test) {
			boom := errors.New("boom")
			var mu sync.Mutex
			handled := 0
			terminalRan := false
			seq, err := dispatch.New(ctx, HandlerFuncs{
				StreamFn: func(ctx context.Context, env *streamgate.Envelope) error {
					mu.Lock()
					handled++
					mu.Unlock()
					if string(env.Payload.([]byte)) == "c-03" {
						return boom
					}
					return nil
				},
				TerminalFn: func(ctx context.Context, env *streamgate.Envelope) error {
					mu.Lock()
					terminalRan = true
					mu.Unlock()
					return nil
				},
			}, dispatch.Options{})
			assert.NoErr(t, err)
			s, err := stream.New(ctx, DispatchSender(seq), stream.Options{})
			assert.NoErr(t, err)

			dest := s.Open()
			assert.NoErr(t, s.ConfigureWindow(dest, 4))

			// Calls after the failure are refused caller-side, but the loop
			// keeps its shape: refusals are not Call errors.
			for i := 0; i < 8; i++ {
				chunk := fmt.Sprintf("c-%02d", i)
				_, err := s.Call(ctx, dest, uint64(len(chunk)), []byte(chunk))
				assert.NoErr(t, err)
			}
			assert.Loosely(t, s.End(ctx, dest), should.Equal(boom))
			assert.NoErr(t, seq.Drain(ctx))

			// The handler saw the chunks up to and including the failing one,
			// and never the end of the stream.
			mu.Lock()
			defer mu.Unlock()
			assert.Loosely(t, handled, should.Equal(4))
			assert.Loosely(t, terminalRan, should.BeFalse)
			assert.Loosely(t, seq.Stats(dest).Faulted, should.BeTrue)
		})

		t.Run(`destinations stream independently over one sequencer`, func(t *ftt.Test) {
			var mu sync.Mutex
			got := map[streamgate.Destination][]string{}
			seq, err := dispatch.New(ctx, HandlerFuncs{
				StreamFn: func(ctx context.Context, env *streamgate.Envelope) error {
					mu.Lock()
					defer mu.Unlock()
					got[env.Dest] = append(got[env.Dest], string(env.Payload.([]byte)))
					return nil
				},
			}, dispatch.Options{})
			assert.NoErr(t, err)
			s, err := stream.New(ctx, DispatchSender(seq), stream.Options{})
			assert.NoErr(t, err)

			d1, d2 := s.Open(), s.Open()
			assert.NoErr(t, s.ConfigureWindow(d1, 4))
			assert.NoErr(t, s.ConfigureWindow(d2, 4))

			want := map[streamgate.Destination][]string{}
			for i := 0; i < 4; i++ {
				a := fmt.Sprintf("a-%02d", i)
				b := fmt.Sprintf("b-%02d", i)
				want[d1] = append(want[d1], a)
				want[d2] = append(want[d2], b)
				_, err := s.Call(ctx, d1, 4, []byte(a))
				assert.NoErr(t, err)
				_, err = s.Call(ctx, d2, 4, []byte(b))
				assert.NoErr(t, err)
			}
			assert.NoErr(t, s.End(ctx, d1))
			assert.NoErr(t, s.End(ctx, d2))
			assert.NoErr(t, seq.Drain(ctx))

			mu.Lock()
			defer mu.Unlock()
			assert.That(t, got, should.Match(want))
		})
	})
}
