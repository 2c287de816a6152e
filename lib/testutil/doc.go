// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so tests never block forever on a
// channel that a broken implementation fails to feed. They are the
// only place tests use real wall-clock timeouts; everything else runs
// on lib/clock.Fake.
//
// [SocketDir] returns a short temporary directory for unix sockets,
// whose paths are limited to 108 bytes.
package testutil
