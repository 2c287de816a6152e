// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and saves the agent's settings.
//
// Settings live in one YAML file. The path comes from the --config
// flag, then OMCLI_DEVICE_CONFIG, then
// $XDG_CONFIG_HOME/omcli-device/config.yaml. A missing file means a
// first run: [Load] returns [Default] and the CLI writes the file the
// first time a setting changes ("omcli-device config set",
// "omcli-device discover --save", "omcli-device onboard").
//
// Path-valued fields expand ${VAR} and ${VAR:-default} references
// against the environment, with STATE_DIR bound to paths.state_dir.
package config
