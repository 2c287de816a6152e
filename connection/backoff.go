// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import "time"

// MaxBackoff caps the delay between reconnect attempts.
const MaxBackoff = 30 * time.Second

// Backoff returns the delay before reconnect attempt number attempt
// (zero-based): 1s, 2s, 4s, 8s, 16s, then 30s from then on.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^5 already exceeds the cap; stop shifting before it overflows.
	if attempt >= 5 {
		return MaxBackoff
	}
	return min(time.Second<<attempt, MaxBackoff)
}
