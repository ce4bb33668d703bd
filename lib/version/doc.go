// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the skirmish client.
//
// Release builds inject [GitCommit], [GitDirty], [BuildTime] and
// [Version] with -ldflags -X. A plain `go build` leaves them empty and
// [Current] falls back to the VCS stamp in the binary's build info.
//
// [Info] formats the build for logs, [Full] adds the Go toolchain and
// platform, and [UserAgent] is sent with every HTTP and WebSocket
// request.
package version
