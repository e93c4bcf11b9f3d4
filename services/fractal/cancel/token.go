// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cancel implements the cooperative stop signal shared between the
// UI-facing cancel action and the render worker.
//
// # Description
//
// A Token is a monotonically-incrementing atomic counter. A render arms the
// token by capturing the current value as a baseline; any later increment
// means "stop at the next checkpoint". After the render observes the signal
// it drains the token back to its baseline so that stale cancel requests
// never leak into the next render.
//
// Cancel may be called from any goroutine, any number of times, whether or
// not a render is running. Cancelling while idle is a no-op once the next
// render drains the token before starting.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package cancel

import "sync/atomic"

// Token is a cooperative cancellation signal. The zero value is ready to use.
type Token struct {
	counter atomic.Uint64
}

// New returns a fresh, unarmed Token.
func New() *Token {
	return &Token{}
}

// Cancel requests cancellation. Idempotent in effect: one or many calls
// between Arm and Drain read the same as "cancelled".
func (t *Token) Cancel() {
	t.counter.Add(1)
}

// Arm captures the current counter value before a render starts. The render
// passes the returned baseline to IsCancelled at each checkpoint.
func (t *Token) Arm() uint64 {
	return t.counter.Load()
}

// IsCancelled reports whether the counter has moved past the baseline
// captured by Arm.
func (t *Token) IsCancelled(baseline uint64) bool {
	return t.counter.Load() != baseline
}

// Drain resets the counter to the given baseline after a cancelled or
// completed render, discarding any cancel requests that arrived during it.
// Only the render loop that armed the token may call this.
func (t *Token) Drain(baseline uint64) {
	t.counter.Store(baseline)
}
