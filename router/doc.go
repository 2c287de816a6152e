// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package router dispatches server commands to device capabilities.
//
// The router's job is correlation and error normalization. Every
// command it is handed produces one response carrying the command's
// id: status "ok" with optional data, or status "error" with a code
// from package capability. Unrecognized names answer UNKNOWN_COMMAND
// without touching any capability.
//
// Recognized commands and their defaults:
//
//	alarm.start    sound="default", message=""
//	alarm.stop
//	notify.send    title="", body="", priority="normal" (low|normal|critical)
//	tts.speak      text="", voice=""
//	location.get   accuracy="coarse" (coarse|precise)  -> {lat, lon, accuracy, timestamp}
//	camera.snap    facing="back" (front|back)          -> {base64, format}
//	sleep.start
//	sleep.stop
//	device.status                                      -> {battery, charging, silent_mode}
package router
