// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability declares the device operations the command
// router can invoke, and the error classification that turns their
// failures into response codes.
//
// Each capability is one blocking call that returns a typed result or
// an error. Implementations live in the subpackages (alarm, notify,
// speech, location, camera, sleeplock, devstatus) and are wired
// together in cmd/omcli-device. A capability reports a failure the
// server should see as a specific code by returning an [*Error];
// anything else becomes INTERNAL_ERROR.
package capability
