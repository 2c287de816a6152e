// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol is the wire format between a device and its
// operator server: JSON text frames, each one object tagged by a
// "type" member.
//
// Device to server:
//
//	hello        {device_id, name}
//	auth         {device_id, token}
//	response     {id, status: ok|error, data?, error?: {code, message}}
//	event        {event, data?}
//	push_token   {token}
//	voip_token   {token}
//
// Server to device:
//
//	pairing_code  {code}
//	auth_result   {success, token?, error?}
//	auth_required {}
//	command       {id, command, params?}
//
// Optional members are omitted when absent and tolerated as absent on
// decode; unknown members are ignored. A frame whose type is not in
// the expected direction's set fails with a [*ProtocolError] wrapping
// [ErrUnknownType].
//
// Payloads whose shape the protocol does not fix (command params,
// response data, event data) are [Value]s: a closed variant over null,
// bool, int, float, string, array and object. Encoding then decoding
// any envelope yields an equal envelope.
package protocol
