// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package connection owns the device's control channel to the operator
// server: the websocket transport, the hello/auth handshake, the
// pairing state machine and reconnection with bounded exponential
// backoff.
//
// A [Manager] moves through four states:
//
//	disconnected -> connecting -> waiting_for_pairing -> paired
//
// Connect starts a session. The session goroutine dials, sends hello
// (and auth when a token is stored for the endpoint) and then runs the
// receive loop. Any failure of a live session moves the Manager to
// disconnected and arms a single reconnect timer of
// min(2^attempt, 30) seconds. The attempt counter resets only when the
// server confirms pairing. Disconnect retires the session and cancels
// the timer; nothing reconnects until the next Connect.
//
// # Receive discipline
//
// Each session has exactly one receive loop, and every frame is
// processed to completion before the next one is read. Commands are
// handed to the [CommandHandler] inline, so a slow capability (speech,
// a camera capture waiting for approval) holds up later frames. The
// capability runs under a context detached from the session: a
// disconnect does not abort it, and a result that arrives after the
// session is retired is logged and dropped instead of being written to
// a newer session.
//
// Sessions are numbered. A session that has been retired by
// Disconnect, Connect or a failure can no longer change the Manager's
// state, so errors surfacing from an intentionally closed transport
// are ignored rather than reported.
//
// Everything the Manager logs at info level or above is also recorded
// in a bounded ring (see lib/logring) which the status and log CLI
// commands read.
package connection
