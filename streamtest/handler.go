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

	"go.chromium.org/streamgate"
)

// HandlerFuncs is a dispatch.Handler assembled from plain functions, for
// tests that only care about one of the two call shapes.
//
// A nil function reports success without doing anything.
type HandlerFuncs struct {
	// StreamFn handles streaming calls.
	StreamFn func(ctx context.Context, env *streamgate.Envelope) error
	// TerminalFn handles the terminal call.
	TerminalFn func(ctx context.Context, env *streamgate.Envelope) error
}

// Stream implements dispatch.Handler.
func (h HandlerFuncs) Stream(ctx context.Context, env *streamgate.Envelope) error {
	if h.StreamFn == nil {
		return nil
	}
	return h.StreamFn(ctx, env)
}

// Terminal implements dispatch.Handler.
func (h HandlerFuncs) Terminal(ctx context.Context, env *streamgate.Envelope) error {
	if h.TerminalFn == nil {
		return nil
	}
	return h.TerminalFn(ctx, env)
}
