// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts small local documents with age.
//
// The agent generates one X25519 identity per install and keeps it in
// a 0600 file beside the credential document. Seal encrypts to the
// identity's recipient; Open decrypts into a secret.Buffer so the
// plaintext tokens never sit in ordinary heap memory longer than the
// decoder needs them. Ciphertext is the raw age binary format.
package sealed
