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
	"context"
)

// Sender is the transport boundary: it carries admitted envelopes toward
// their destination.
//
// Send either takes ownership of the envelope or fails synchronously:
//
//   - On a nil return the transport owns env and must eventually resolve it
//     with env.Ack, from any goroutine, in any order relative to other
//     envelopes. Acknowledgments are not required to arrive in send order.
//   - On a non-nil return the envelope never left and the transport must
//     not touch it again; the caller still owns it and will resolve it.
//
// Send may block (a transport with its own internal backpressure), but
// should honor ctx while doing so. It must not be called concurrently for
// the same destination; the issuing Streamer serializes sends per
// destination by construction.
type Sender interface {
	Send(ctx context.Context, env *Envelope) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, env *Envelope) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

var _ Sender = (SenderFunc)(nil)
