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
	"go.chromium.org/luci/common/errors/errtag"
)

// Error tags classifying the failures this layer can surface. Callers test
// for a class with e.g. streamgate.FaultedTag.In(err) instead of matching
// error strings.
var (
	// ConfigTag marks flow-control configuration errors: a window capacity
	// changed after calls were admitted, or an operation on a destination
	// whose stream has already been terminated.
	ConfigTag = errtag.Make("streamgate: invalid flow-control configuration", true)

	// FaultedTag marks calls refused because the destination's error barrier
	// has tripped. The wrapped error chain contains the first recorded
	// failure.
	FaultedTag = errtag.Make("streamgate: destination is faulted", true)

	// CancelTag marks calls abandoned before they completed: a context
	// cancelled while suspended for admission, or a suspended admission
	// failed because its destination was released out from under it.
	CancelTag = errtag.Make("streamgate: call abandoned before completion", true)

	// TransportTag marks failures reported synchronously by the Sender when
	// handing a call to the wire layer. Asynchronous transport failures are
	// not re-tagged: they pass through the error barrier unchanged, so any
	// classification the transport applied (such as transient.Tag) survives
	// to the terminal call's outcome.
	TransportTag = errtag.Make("streamgate: transport failure", true)
)
