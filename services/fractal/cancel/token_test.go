// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cancel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArmCapturesBaseline(t *testing.T) {
	token := New()

	baseline := token.Arm()
	assert.False(t, token.IsCancelled(baseline), "fresh token should not read cancelled")

	token.Cancel()
	assert.True(t, token.IsCancelled(baseline), "increment past baseline should read cancelled")
}

func TestCancelBeforeArmHasNoEffect(t *testing.T) {
	token := New()

	// Cancel while idle: the next Arm absorbs the increments.
	token.Cancel()
	token.Cancel()

	baseline := token.Arm()
	assert.False(t, token.IsCancelled(baseline), "idle cancels must not cancel the next render")
}

func TestDrainDiscardsStaleSignals(t *testing.T) {
	token := New()

	baseline := token.Arm()
	token.Cancel()
	token.Cancel()
	assert.True(t, token.IsCancelled(baseline))

	token.Drain(baseline)
	assert.False(t, token.IsCancelled(baseline), "drained token must re-arm cleanly")

	// A new render sees a clean slate.
	next := token.Arm()
	assert.False(t, token.IsCancelled(next))
}

func TestCancelIsIdempotent(t *testing.T) {
	token := New()
	baseline := token.Arm()

	for i := 0; i < 100; i++ {
		token.Cancel()
	}
	assert.True(t, token.IsCancelled(baseline))

	token.Drain(baseline)
	assert.False(t, token.IsCancelled(baseline))
}

func TestConcurrentCancel(t *testing.T) {
	token := New()
	baseline := token.Arm()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				token.Cancel()
			}
		}()
	}
	wg.Wait()

	assert.True(t, token.IsCancelled(baseline))
	token.Drain(baseline)
	assert.False(t, token.IsCancelled(baseline))
}
