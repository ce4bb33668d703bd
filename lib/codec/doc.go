// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec encodes the small state files skirmish writes for
// itself, such as the running-session record in lib/runstate.
//
// Files another program reads (the preferences file, the ICE server
// list handed to the adapter) stay JSON. Encoding here is CBOR with
// Core Deterministic Encoding (RFC 8949 §4.2) and times as Unix
// microseconds. Decoding is strict about structure and lenient about
// unknown fields.
package codec
