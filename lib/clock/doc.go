// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by skirmish
// components.
//
// Components that read the time or wait on it hold a [Clock] field
// rather than calling the time package directly. Production wiring
// passes [Real]; tests pass [Fake], which only moves when the test
// calls [FakeClock.Advance]:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	adapter := ice.New(ice.Options{Clock: c, ...})
//	go adapter.Start(ctx, "alias")
//	c.WaitForTimers(1)
//	c.Advance(100 * time.Millisecond)
//
// [FakeClock.WaitForTimers] closes the race between a goroutine
// registering a timer and the test advancing past it.
package clock
