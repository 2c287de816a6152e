// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package location provides position fixes for location.get.
//
// [GeoClue] asks the GeoClue2 service on the system bus for a fix at
// city accuracy (coarse) or exact accuracy (precise) and waits for the
// first LocationUpdated signal. [Static] reports coordinates fixed in
// the configuration, for devices without a positioning service.
package location
