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
	"testing"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func TestEnvelope(t *testing.T) {
	t.Parallel()

	ftt.Run(`Envelope`, t, func(t *ftt.Test) {
		boom := errors.New("boom")

		t.Run(`starts unresolved`, func(t *ftt.Test) {
			env := NewEnvelope(3, Streaming, 10, nil)
			assert.Loosely(t, env.Resolved(), should.BeFalse)
			assert.NoErr(t, env.Err())
			select {
			case <-env.Done():
				t.Fatalf("Done closed before Ack")
			default:
			}
		})

		t.Run(`the first Ack wins, later ones are no-ops`, func(t *ftt.Test) {
			env := NewEnvelope(3, Streaming, 10, nil)
			assert.Loosely(t, env.Ack(boom), should.BeTrue)
			assert.Loosely(t, env.Ack(nil), should.BeFalse)
			assert.Loosely(t, env.Ack(errors.New("other")), should.BeFalse)
			assert.Loosely(t, env.Err(), should.Equal(boom))
		})

		t.Run(`exactly one of many concurrent Acks wins`, func(t *ftt.Test) {
			env := NewEnvelope(3, Streaming, 10, nil)
			const ackers = 8
			won := make(chan bool, ackers)
			for i := 0; i < ackers; i++ {
				go func() { won <- env.Ack(boom) }()
			}
			wins := 0
			for i := 0; i < ackers; i++ {
				if <-won {
					wins++
				}
			}
			assert.Loosely(t, wins, should.Equal(1))
		})

		t.Run(`notify observes the outcome before Done unblocks`, func(t *ftt.Test) {
			var env *Envelope
			var errInNotify error
			doneInNotify := false
			notifies := 0
			env = NewEnvelope(3, Streaming, 10, func(err error) {
				notifies++
				errInNotify = err
				select {
				case <-env.Done():
					doneInNotify = true
				default:
				}
			})

			assert.Loosely(t, env.Ack(boom), should.BeTrue)
			assert.Loosely(t, notifies, should.Equal(1))
			assert.Loosely(t, errInNotify, should.Equal(boom))
			assert.Loosely(t, doneInNotify, should.BeFalse)
			assert.Loosely(t, env.Resolved(), should.BeTrue)

			env.Ack(nil)
			assert.Loosely(t, notifies, should.Equal(1))
		})

		t.Run(`waiters on Done see the final outcome`, func(t *ftt.Test) {
			env := NewEnvelope(3, Terminal, 0, nil)
			got := make(chan error, 1)
			go func() {
				<-env.Done()
				got <- env.Err()
			}()
			env.Ack(boom)
			assert.Loosely(t, <-got, should.Equal(boom))
		})
	})
}

func TestKindString(t *testing.T) {
	t.Parallel()

	ftt.Run(`Kind strings`, t, func(t *ftt.Test) {
		assert.Loosely(t, Streaming.String(), should.Equal("streaming"))
		assert.Loosely(t, Terminal.String(), should.Equal("terminal"))
		assert.Loosely(t, Kind(42).String(), should.Equal("unknown"))
	})
}
