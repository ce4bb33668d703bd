// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for skirmish.
//
// Configuration is loaded from a single file specified by either the
// SKIRMISH_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no automatic file
// search.
//
// The file may carry development and production sections whose
// server and paths values override the base values when
// [Config].Environment matches. A handful of process environment
// variables (SKIRMISH_ENVIRONMENT, SKIRMISH_SERVER_URL,
// SKIRMISH_API_URL, SKIRMISH_MAPS_URL, SKIRMISH_LOG_UPLOAD_URL,
// SKIRMISH_ICE_BINARY) are applied last and win over the file.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${SKIRMISH_ROOT}, and ${VAR:-default} patterns are
// expanded.
//
// Key exports:
//
//   - [Config] -- master struct with Server, Paths, Game, ICE, Relay, Logs, IRC
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other skirmish packages.
package config
