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

// Package streamgate implements flow control for streaming calls in an
// object-capability RPC runtime.
//
// A streaming call is a one-way method invocation with no result value;
// callers issue runs of them (say, successive chunk writes to a remote sink)
// and want neither a round trip per call nor an unbounded pile of
// unacknowledged requests. streamgate sits between the caller-facing API
// layer and the transport, and keeps a per-destination credit window: each
// streaming call reserves its byte-size estimate from the window before it
// may proceed, and the credit returns when the transport acknowledges the
// call. When the window is exhausted the caller is suspended, strictly FIFO,
// until an acknowledgment frees enough credit.
//
// The run of streaming calls ends with a single terminal call, which acts as
// an error barrier: it resolves only after every prior streaming call has
// resolved, and its outcome is the first error any of them produced (or its
// own outcome when all of them succeeded). Callers therefore write
// straight-line code and check exactly one result.
//
// This package holds the vocabulary shared by the subpackages:
//
//   - package flow: the credit window and the admission gate (caller side).
//   - package stream: the per-destination streamer wiring admission, the
//     error barrier and the terminal call together over a Sender.
//   - package dispatch: the callee-side sequencer that delivers streaming
//     calls to a handler and withholds the terminal call until they drain.
//   - package streamtest: an in-memory Sender with manual acknowledgment
//     control, for tests.
//
// streamgate deliberately knows nothing about wire formats, capability
// tables or connection management; it schedules opaque calls, and consumes
// the transport solely through the Sender interface.
package streamgate

// Destination identifies the remote object a run of streaming calls is
// aimed at, at the granularity flow control operates on: one capability
// reference, one credit window.
//
// Destinations are opaque handles allocated by a stream.Streamer, which
// stores per-destination state in a dense table indexed by the handle. The
// zero value is never a valid destination.
type Destination uint32
