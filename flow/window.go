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
	"fmt"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/streamgate"
)

// ErrCapacityLocked is returned by Configure once the window has admitted a
// credit-consuming call. Capacity is fixed for the life of the stream after
// that point; renegotiating it mid-flight has no defined meaning.
var ErrCapacityLocked = streamgate.ConfigTag.Apply(
	errors.New("flow: window capacity is locked after the first admission"))

// Window is the credit ledger for one destination: a byte budget (capacity)
// and the sum of byte-size estimates of calls admitted but not yet
// acknowledged (in flight).
//
// A Window is not synchronized. Gate owns one and guards it with its own
// lock; use Window directly only when you already have single-threaded
// access or your own locking.
type Window struct {
	capacity uint64
	inFlight uint64
	locked   bool
}

// NewWindow returns a window with the given byte capacity and no credit
// consumed.
func NewWindow(capacity uint64) Window {
	return Window{capacity: capacity}
}

// Capacity returns the configured byte budget.
func (w *Window) Capacity() uint64 {
	return w.capacity
}

// InFlight returns the bytes currently reserved and not yet released.
//
// May exceed Capacity only while a single oversized call is in flight.
func (w *Window) InFlight() uint64 {
	return w.inFlight
}

// Available returns the credit a new call could consume without waiting, 0
// while the window is full or overcommitted by an oversized call.
func (w *Window) Available() uint64 {
	if w.inFlight >= w.capacity {
		return 0
	}
	return w.capacity - w.inFlight
}

// Configure replaces the byte capacity.
//
// Allowed any number of times until the first credit-consuming call is
// admitted, then answers ErrCapacityLocked forever. Zero-size admissions do
// not lock: they consume no credit, and a window configured to capacity 0
// must remain reconfigurable or its waiters could never be admitted.
func (w *Window) Configure(capacity uint64) error {
	if w.locked {
		return ErrCapacityLocked
	}
	w.capacity = capacity
	return nil
}

// Reserve attempts to admit a call of the given byte size.
//
// A call is admitted when any of these holds:
//   - size is 0: probes ride for free and never consume credit;
//   - it fits: in-flight plus size stays within capacity;
//   - the window has capacity but is idle: a call too large to ever fit is
//     admitted alone rather than deadlocking, and reported oversized so the
//     caller can log it.
//
// A window with capacity 0 admits nothing but zero-size calls; it is the
// "not configured yet" state, and stays reconfigurable by construction.
//
// The fit check is phrased as a subtraction from capacity, so the sum
// in-flight+size is never materialized and cannot wrap.
func (w *Window) Reserve(size uint64) (oversized, ok bool) {
	switch {
	case size == 0:
		return false, true
	case size <= w.capacity && w.inFlight <= w.capacity-size:
		w.inFlight += size
		w.locked = true
		return false, true
	case w.inFlight == 0 && w.capacity > 0:
		w.inFlight = size
		w.locked = true
		return true, true
	default:
		return false, false
	}
}

// Release returns the credit reserved by one admitted call.
//
// Each admitted call must release exactly the size it reserved, exactly
// once. The layer above deduplicates acknowledgments, so a release that
// would drive in-flight negative is a bookkeeping bug and panics.
func (w *Window) Release(size uint64) {
	if size > w.inFlight {
		panic(fmt.Sprintf(
			"flow: releasing %d bytes with only %d in flight", size, w.inFlight))
	}
	w.inFlight -= size
}
