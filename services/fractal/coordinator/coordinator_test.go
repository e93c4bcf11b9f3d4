// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordinator

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFractal/pkg/logging"
	"github.com/AleutianAI/AleutianFractal/services/fractal/cancel"
	"github.com/AleutianAI/AleutianFractal/services/fractal/engine"
	"github.com/AleutianAI/AleutianFractal/services/fractal/progress"
	"github.com/AleutianAI/AleutianFractal/services/fractal/settings"
)

// fakeEngine simulates a renderer with controllable duration and
// cancellation behavior, and records every render it executes.
type fakeEngine struct {
	counters progress.Counters

	// duration is how long a render takes unless cancelled.
	duration time.Duration

	mu      sync.Mutex
	renders []engine.Mode
	resets  int

	running       atomic.Int32
	maxConcurrent atomic.Int32
}

func (f *fakeEngine) Reset(settings.Values) error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Render(mode engine.Mode, token *cancel.Token, baseline uint64) engine.Outcome {
	if n := f.running.Add(1); n > f.maxConcurrent.Load() {
		f.maxConcurrent.Store(n)
	}
	defer f.running.Add(-1)

	f.mu.Lock()
	f.renders = append(f.renders, mode)
	f.mu.Unlock()

	start := time.Now()
	deadline := start.Add(f.duration)
	for time.Now().Before(deadline) {
		if token.IsCancelled(baseline) {
			return engine.Outcome{Elapsed: time.Since(start), Cancelled: true}
		}
		time.Sleep(time.Millisecond)
	}
	return engine.Outcome{Elapsed: time.Since(start), MinValidIteration: 42}
}

func (f *fakeEngine) Counters() *progress.Counters { return &f.counters }
func (f *fakeEngine) TotalPixels() uint64          { return 10000 }

func (f *fakeEngine) renderedModes() []engine.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.Mode, len(f.renders))
	copy(out, f.renders)
	return out
}

// recordingSink collects events and signals completions.
type recordingSink struct {
	mu          sync.Mutex
	snapshots   []progress.Snapshot
	completions []Completion
	completedCh chan Completion
}

func newRecordingSink() *recordingSink {
	return &recordingSink{completedCh: make(chan Completion, 64)}
}

func (s *recordingSink) Progress(snap progress.Snapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *recordingSink) RenderCompleted(c Completion) {
	s.mu.Lock()
	s.completions = append(s.completions, c)
	s.mu.Unlock()
	s.completedCh <- c
}

func (s *recordingSink) waitCompletion(t *testing.T) Completion {
	t.Helper()
	select {
	case c := <-s.completedCh:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for render completion")
		return Completion{}
	}
}

func (s *recordingSink) allSnapshots() []progress.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

type fixture struct {
	coord  *Coordinator
	eng    *fakeEngine
	sink   *recordingSink
	token  *cancel.Token
	cancel context.CancelFunc
}

func newFixture(t *testing.T, renderDuration time.Duration) *fixture {
	t.Helper()

	store, err := settings.Open(settings.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng := &fakeEngine{duration: renderDuration}
	sink := newRecordingSink()
	token := cancel.New()

	coord := New(Config{
		Engine:         eng,
		EngineMu:       &sync.Mutex{},
		Settings:       store,
		Sink:           sink,
		Token:          token,
		Logger:         logging.New(logging.Config{Quiet: true}),
		SampleInterval: time.Millisecond,
	})

	ctx, cancelFn := context.WithCancel(context.Background())
	go coord.Run(ctx)
	t.Cleanup(cancelFn)

	return &fixture{coord: coord, eng: eng, sink: sink, token: token, cancel: cancelFn}
}

func TestRenderCompletesWithFinalSnapshot(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)

	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFull, Generation: 1}))
	completion := f.sink.waitCompletion(t)

	assert.False(t, completion.Cancelled)
	assert.Equal(t, engine.ModeFull, completion.Mode)
	assert.Equal(t, uint64(42), completion.Outcome.MinValidIteration)
	assert.Equal(t, StateIdle, f.coord.State())

	snaps := f.sink.allSnapshots()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, progress.StageComplete, last.Stage)
	assert.Equal(t, 1.0, last.Fraction)
	for _, s := range snaps[:len(snaps)-1] {
		assert.NotEqual(t, progress.StageComplete, s.Stage,
			"stage 3 must only appear as the final snapshot")
	}
}

func TestFullRenderResetsEngineFromSettings(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)

	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFull, Generation: 1}))
	f.sink.waitCompletion(t)

	f.eng.mu.Lock()
	resets := f.eng.resets
	f.eng.mu.Unlock()
	assert.Equal(t, 1, resets, "full render must rebuild the engine from settings")
}

func TestFastRenderDoesNotResetEngine(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)

	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFast, Generation: 1}))
	f.sink.waitCompletion(t)

	f.eng.mu.Lock()
	resets := f.eng.resets
	f.eng.mu.Unlock()
	assert.Equal(t, 0, resets)
}

func TestCancelBeforeStartHasNoEffect(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)

	// Cancel while idle, then submit: the render must run to stage 3.
	f.coord.Cancel()
	f.coord.Cancel()
	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFull, Generation: 1}))

	completion := f.sink.waitCompletion(t)
	assert.False(t, completion.Cancelled, "idle cancels must not cancel the next render")

	snaps := f.sink.allSnapshots()
	assert.Equal(t, progress.StageComplete, snaps[len(snaps)-1].Stage)
}

func TestCancelMidRender(t *testing.T) {
	f := newFixture(t, 10*time.Second)

	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFull, Generation: 1}))

	// Wait until the worker is inside the render call, then cancel.
	require.Eventually(t, func() bool {
		return f.coord.State() == StateRunning
	}, time.Second, time.Millisecond)
	f.coord.Cancel()

	completion := f.sink.waitCompletion(t)
	assert.True(t, completion.Cancelled)
	assert.Equal(t, StateIdle, f.coord.State())
}

func TestCancelledRenderUpgradesNextFastToFull(t *testing.T) {
	f := newFixture(t, 10*time.Second)

	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFull, Generation: 1}))
	require.Eventually(t, func() bool {
		return f.coord.State() == StateRunning
	}, time.Second, time.Millisecond)
	f.coord.Cancel()
	f.sink.waitCompletion(t)

	// The reference orbit is in an unknown state; a fast request must
	// be upgraded.
	f.eng.duration = 5 * time.Millisecond
	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFast, Generation: 2}))
	completion := f.sink.waitCompletion(t)

	assert.Equal(t, engine.ModeFull, completion.Mode)
	modes := f.eng.renderedModes()
	assert.Equal(t, engine.ModeFull, modes[len(modes)-1])

	// And a completed render clears the upgrade flag again.
	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFast, Generation: 3}))
	completion = f.sink.waitCompletion(t)
	assert.Equal(t, engine.ModeFast, completion.Mode)
}

func TestSubmitWhileRunningWithoutCancelFlagsLogicFault(t *testing.T) {
	f := newFixture(t, 10*time.Second)

	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFull, Generation: 1}))
	require.Eventually(t, func() bool {
		return f.coord.State() == StateRunning
	}, time.Second, time.Millisecond)

	err := f.coord.Submit(Request{Mode: engine.ModeFast, Generation: 2})
	assert.ErrorIs(t, err, ErrRenderInProgress)

	// After cancelling, a submit is clean.
	f.coord.Cancel()
	f.sink.waitCompletion(t)
	f.eng.duration = 5 * time.Millisecond
	assert.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFull, Generation: 3}))
	f.sink.waitCompletion(t)
	// Generation 2 was queued before generation 3; whichever order they
	// were serviced in, nothing may run concurrently.
	assert.LessOrEqual(t, f.eng.maxConcurrent.Load(), int32(1))
}

// TestSingleFlightUnderConcurrentSubmitters is the property test: for any
// interleaving of submissions and cancels, at most one render is ever
// observed running.
func TestSingleFlightUnderConcurrentSubmitters(t *testing.T) {
	f := newFixture(t, 3*time.Millisecond)

	var generation atomic.Uint64
	var wg sync.WaitGroup
	rng := rand.New(rand.NewSource(7))
	delays := make([]time.Duration, 200)
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(3)) * time.Millisecond
	}

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				f.coord.Cancel()
				_ = f.coord.Submit(Request{
					Mode:       engine.ModeFast,
					Generation: generation.Add(1),
				})
				time.Sleep(delays[worker*25+i])
			}
		}(w)
	}
	wg.Wait()

	// Let the queue drain.
	require.Eventually(t, func() bool {
		return f.coord.State() == StateIdle && len(f.coord.requests) == 0
	}, 10*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, f.eng.maxConcurrent.Load(), int32(1),
		"two renders must never execute concurrently")
}

func TestCoalesceKeepsNewestGeneration(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFull, Generation: 1}))
	require.Eventually(t, func() bool {
		return f.coord.State() == StateRunning
	}, time.Second, time.Millisecond)

	// Queue several requests while the worker is busy; all but the
	// newest should be coalesced away.
	f.coord.Cancel()
	for gen := uint64(2); gen <= 5; gen++ {
		_ = f.coord.Submit(Request{Mode: engine.ModeFast, Generation: gen})
	}

	first := f.sink.waitCompletion(t)
	assert.Equal(t, uint64(1), first.Generation)

	second := f.sink.waitCompletion(t)
	assert.Equal(t, uint64(5), second.Generation, "older queued generations must be coalesced")

	// No further completions: generations 2..4 were dropped.
	select {
	case c := <-f.sink.completedCh:
		t.Fatalf("unexpected extra completion for generation %d", c.Generation)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSnapshotsOrderedByElapsed(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)

	require.NoError(t, f.coord.Submit(Request{Mode: engine.ModeFast, Generation: 1}))
	f.sink.waitCompletion(t)

	snaps := f.sink.allSnapshots()
	require.GreaterOrEqual(t, len(snaps), 2)
	for i := 1; i < len(snaps); i++ {
		assert.GreaterOrEqual(t, snaps[i].Elapsed, snaps[i-1].Elapsed,
			"snapshot %d out of order", i)
	}
	assert.Equal(t, progress.StageComplete, snaps[len(snaps)-1].Stage)
}
