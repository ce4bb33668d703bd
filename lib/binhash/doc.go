// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides BLAKE3 content digests for files the client
// produces: packaged game logs and local replay copies.
//
// Digests are logged and sent alongside uploads so the receiving side
// can detect truncated transfers. The API surface is small:
//
//   - [HashFile] streams a file through BLAKE3 with constant memory
//   - [Writer] digests bytes as they are written elsewhere, for
//     content that is produced as a stream
//   - [FormatDigest] and [ParseDigest] convert to and from the
//     canonical hex form used in log output and upload headers
//
// This package has no dependencies on other skirmish packages.
package binhash
