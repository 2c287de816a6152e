// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/clock"
)

// Static reports a configured position, timestamped at the time of
// the request. The requested accuracy is ignored.
type Static struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Clock     clock.Clock
}

func (s *Static) Locate(ctx context.Context, accuracy capability.Accuracy) (capability.Location, error) {
	return capability.Location{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
		Timestamp: s.Clock.Now(),
	}, nil
}
