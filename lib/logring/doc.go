// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logring keeps the agent's recent activity log.
//
// The connection manager's logger is built on a [Handler], which tees
// every record at info level or above into a [Ring] of the most recent
// 100 entries. "omcli-device log" and "omcli-device status" read that
// ring over the control socket; it and the connection state are the
// only places failures become visible to an operator on the device.
package logring
