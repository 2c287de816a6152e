// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the agent's CBOR encoding configuration.
//
// The agent uses two serialization formats with a clear boundary:
//
//   - JSON for the operator server wire protocol (package protocol)
//     and for human-facing CLI output.
//   - CBOR for everything local: the sealed credential document and
//     the control socket between "omcli-device run" and the CLI.
//
// For buffers (files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For streams (the control socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only ever travel as CBOR carry `cbor` struct tags.
package codec
