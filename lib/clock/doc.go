// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that schedule work (the connection manager's reconnect
// backoff, the camera approval wait) take a Clock instead of calling
// time.AfterFunc directly. Real() wraps the time package; Fake()
// returns a clock that moves only when a test calls Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	manager, _ := connection.New(connection.Config{Clock: fake, ...})
//	// ... trigger a transport failure ...
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
package clock
