// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for omcli-device.
//
//	go build -ldflags "-X github.com/omcli/omcli-device/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
