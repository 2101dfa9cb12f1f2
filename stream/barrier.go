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

import (
	"sync/atomic"
)

// barrier is a destination's set-once fault cell.
//
// Acknowledgments arrive from arbitrary transport goroutines, so two calls
// can fail at the same instant; the cell is a CAS slot rather than a plain
// field so exactly one of them becomes the destination's recorded error.
type barrier struct {
	p atomic.Pointer[barrierFault]
}

type barrierFault struct {
	err error
}

// trip records err as the destination's first fault. Nil errors and faults
// after the first are ignored. Reports whether this call was the one that
// tripped the barrier.
func (b *barrier) trip(err error) bool {
	if err == nil {
		return false
	}
	return b.p.CompareAndSwap(nil, &barrierFault{err: err})
}

// err returns the recorded fault, or nil while the barrier is clear.
func (b *barrier) err() error {
	if f := b.p.Load(); f != nil {
		return f.err
	}
	return nil
}
