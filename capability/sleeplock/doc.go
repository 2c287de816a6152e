// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sleeplock holds systemd-logind inhibitor locks.
//
// [Lock] is the sleep.start / sleep.stop capability: an "idle" block
// inhibitor that keeps the device from idling into sleep while held.
//
// [KeepAlive] implements connection.KeepAlive with a "sleep" delay
// inhibitor. The delay gives the agent a moment before suspend; when
// logind announces PrepareForSleep the grant is released at once so
// suspend is not held up, and the connection manager is told the
// grant was revoked.
package sleeplock
