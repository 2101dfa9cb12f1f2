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

package dispatch

import (
	"go.chromium.org/luci/common/tsmon/distribution"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
	"go.chromium.org/luci/common/tsmon/types"
)

var (
	handledCounter = metric.NewCounter(
		"streamgate/dispatch/handled",
		"Count of callee-side calls by final outcome",
		nil,
		field.String("kind"),   // streaming | terminal
		field.String("result"), // ok | error | faulted
	)

	handledDurationMS = metric.NewCumulativeDistribution(
		"streamgate/dispatch/duration",
		"Time handler methods spent servicing calls",
		&types.MetricMetadata{Units: types.Milliseconds},
		distribution.DefaultBucketer,
		field.String("kind"), // streaming | terminal
	)
)

const (
	resultOK      = "ok"      // the handler returned nil
	resultError   = "error"   // the handler returned an error
	resultFaulted = "faulted" // resolved from the recorded fault, handler not invoked
)

// result maps a handler outcome to the metric label.
func result(err error) string {
	if err == nil {
		return resultOK
	}
	return resultError
}
