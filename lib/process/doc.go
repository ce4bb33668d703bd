// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint and child-process helpers: fatal
// error reporting before the structured logger exists, and exit-code
// extraction for supervised children.
package process
