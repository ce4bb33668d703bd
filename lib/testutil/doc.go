// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test helpers shared across skirmish packages.
//
// [RequireReceive], [RequireClosed] and [Eventually] wrap the
// select-with-timeout pattern so tests never wait forever on a
// goroutine that failed to report. They are the only place in the
// test suite that uses wall-clock timeouts. All helpers fail the test
// with t.Fatalf rather than returning errors.
package testutil
