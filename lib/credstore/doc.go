// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore persists the device identity and the auth tokens
// operator servers issue to it.
//
// The device identity is a random UUID generated on first use and
// never changed afterwards. Tokens are scoped to the endpoint string
// that issued them: a device paired with two servers holds two
// tokens, and switching the configured endpoint never presents one
// server's token to another.
//
// Agents before endpoint scoping kept a single unscoped token. The
// first connect after upgrade calls [Store.MigrateLegacy], which
// moves that token under the endpoint being connected to and records
// that migration has happened. Later calls are no-ops.
//
// [File] keeps everything in one age-encrypted CBOR document. [Memory]
// is an in-process implementation for tests.
package credstore
