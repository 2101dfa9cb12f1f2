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
	"go.chromium.org/luci/common/tsmon/distribution"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
	"go.chromium.org/luci/common/tsmon/types"

	"go.chromium.org/streamgate"
)

var (
	callsCounter = metric.NewCounter(
		"streamgate/calls",
		"Count of streaming and terminal calls by final outcome",
		nil,
		field.String("kind"),   // streaming | terminal
		field.String("result"), // ok | error | faulted | cancelled
	)

	oversizeCounter = metric.NewCounter(
		"streamgate/oversize",
		"Count of calls larger than their destination's whole window, admitted alone",
		nil,
	)

	admissionWaitMS = metric.NewCumulativeDistribution(
		"streamgate/admission_wait",
		"Time calls spent suspended waiting for window credit",
		&types.MetricMetadata{Units: types.Milliseconds},
		distribution.DefaultBucketer,
	)
)

const (
	resultOK        = "ok"        // resolved successfully by the transport
	resultError     = "error"     // resolved with an error by the transport
	resultFaulted   = "faulted"   // refused at admission, destination already faulted
	resultCancelled = "cancelled" // abandoned by the caller before resolving
)

// result maps a resolved call's outcome to the metric label.
func result(err error) string {
	switch {
	case err == nil:
		return resultOK
	case streamgate.CancelTag.In(err):
		return resultCancelled
	default:
		return resultError
	}
}
