// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the agent's local command socket. The running
// agent listens on a unix socket; the CLI and the push daemon connect,
// write one CBOR request, read one CBOR response, and hang up.
//
// Every request is a CBOR map with an "action" key naming the
// operation plus action-specific fields. Every response is a [Response]
// envelope: ok, an error message on failure, and CBOR-encoded data on
// success. The socket is owner-only; anyone who can open it can drive
// the agent.
package control
