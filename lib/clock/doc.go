// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that stamp updates or back off between retries hold a
// Clock instead of calling time.Now or time.After directly. Real()
// provides the standard library behavior; Fake() provides a clock that
// moves only when a test calls Advance.
//
// A goroutine that calls After on a FakeClock registers a pending
// waiter. Tests call WaitForTimers before Advance so the advance cannot
// race the registration:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop(c)            // calls c.After(backoff)
//	c.WaitForTimers(1)
//	c.Advance(backoff)
package clock
