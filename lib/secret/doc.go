// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// A Buffer is an anonymous mmap region, locked against swap with
// mlock and excluded from core dumps with MADV_DONTDUMP. Close zeroes
// and unmaps it. The credential store keeps the device's age identity
// in a Buffer, and decrypted credential documents pass through one on
// their way to the CBOR decoder.
package secret
