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

// DefaultWindowSize is the per-destination byte budget used when
// ConfigureWindow was never called for a destination: 64 KiB of
// unacknowledged calls in flight.
const DefaultWindowSize = 64 * 1024

// Options tunes a Streamer.
//
// The zero value is a fully working configuration.
type Options struct {
	// DefaultWindow is the window capacity, in bytes, given to destinations
	// whose capacity was not set with ConfigureWindow before their first
	// streaming call.
	//
	// 0 means DefaultWindowSize, not "no credit"; a destination with a truly
	// empty window (all calls suspended until further notice) is obtained by
	// calling ConfigureWindow(dest, 0) explicitly.
	//
	// [OPTIONAL] Default: DefaultWindowSize.
	DefaultWindow uint64

	// FailFast makes Call return the destination's recorded fault as a
	// synchronous error once the destination is faulted, instead of the
	// default behavior of returning an envelope already resolved with that
	// fault. The default keeps straight-line sender loops running to the
	// terminal call, which reports the fault once; FailFast suits callers
	// that would rather stop producing chunks immediately.
	//
	// [OPTIONAL] Default: false.
	FailFast bool
}

// normalize fills in defaults.
func (o *Options) normalize() {
	if o.DefaultWindow == 0 {
		o.DefaultWindow = DefaultWindowSize
	}
}
