// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree behind the omcli-device binary.
//
// A [Command] has a name, a lazily built [pflag.FlagSet], and either a
// Run function or nested subcommands. [Command.Execute] parses flags,
// routes to the matching subcommand, and prints help. Unknown command
// and flag names get a "did you mean" suggestion when one is within an
// edit distance of three.
package cli
