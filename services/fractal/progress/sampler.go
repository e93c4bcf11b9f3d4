// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"time"
)

// Stage is the coarse phase of a render.
type Stage int

const (
	// StageApproximation covers reference orbit computation, series
	// approximation and series validation.
	StageApproximation Stage = iota

	// StageIteration is the main per-pixel iteration pass.
	StageIteration

	// StageCorrection is the glitch-correction re-iteration pass.
	StageCorrection

	// StageComplete means the render has finished. Emitted exactly once,
	// as the last snapshot of a render.
	StageComplete
)

// String returns a short human-readable stage name for logs and the TUI.
func (s Stage) String() string {
	switch s {
	case StageApproximation:
		return "approximation"
	case StageIteration:
		return "iteration"
	case StageCorrection:
		return "correction"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of render progress. Produced by the
// Sampler, consumed by the presentation sink, never persisted.
type Snapshot struct {
	// Stage is the coarse render phase.
	Stage Stage

	// Fraction is the completion estimate in [0, 1].
	Fraction float64

	// Elapsed is the time since the render started.
	Elapsed time.Duration

	// MinValidIteration is the current minimum valid series
	// approximation iteration.
	MinValidIteration uint64
}

// Derive computes the stage and weighted completion fraction from the
// current counter values.
//
// # Description
//
// While series validation has not completed (fewer than 2 passes), the
// render is establishing its reference orbit and series approximation:
// 45% weight to the reference orbit, 45% to the series approximation and
// 10% to validation. Once validation completes, a non-zero glitched pixel
// count means the correction pass is running; otherwise it is the main
// iteration pass.
//
// A zero ReferenceMaximum (read before the engine set it) yields a zero
// fraction rather than a division error, and the result is always clamped
// to [0, 1].
func Derive(c *Counters, totalPixels uint64) (Stage, float64) {
	validation := c.SeriesValidation.Load()

	var stage Stage
	var fraction float64

	if validation < 2 {
		stage = StageApproximation
		if max := c.ReferenceMaximum.Load(); max > 0 {
			fraction += 0.45 * float64(c.Reference.Load()) / float64(max)
			fraction += 0.45 * float64(c.SeriesApproximation.Load()) / float64(max)
		}
		fraction += 0.10 * float64(validation) / 2.0
	} else if glitched := c.GlitchedMaximum.Load(); glitched != 0 {
		stage = StageCorrection
		complete := float64(totalPixels) - float64(glitched)
		fraction = (float64(c.Iteration.Load()) - complete) / float64(glitched)
	} else {
		stage = StageIteration
		if totalPixels > 0 {
			fraction = float64(c.Iteration.Load()) / float64(totalPixels)
		}
	}

	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	return stage, fraction
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	// Counters is the counter set the engine updates. Required.
	Counters *Counters

	// TotalPixels is imageWidth * imageHeight for the render being
	// sampled. Required for the iteration stages.
	TotalPixels uint64

	// Interval is the sampling cadence. Default: 20ms.
	Interval time.Duration

	// Emit receives each snapshot. Required. Must not block for long;
	// the presentation layer is expected to hand off to its own event
	// loop.
	Emit func(Snapshot)
}

// Sampler periodically derives progress snapshots for one in-flight render.
//
// # Description
//
// Start spawns a goroutine that samples the counters every Interval and
// forwards a Snapshot to Emit. Stop signals the goroutine and blocks until
// it has exited; after Stop returns, no further snapshots are emitted, so
// the coordinator can safely publish the final StageComplete snapshot
// itself.
//
// A Sampler is single-use: one render, one Start/Stop pair.
//
// # Thread Safety
//
// Start and Stop must be called from the same goroutine (the coordinator's
// worker loop).
type Sampler struct {
	config SamplerConfig
	start  time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSampler creates a sampler for a single render.
func NewSampler(config SamplerConfig) *Sampler {
	if config.Interval <= 0 {
		config.Interval = 20 * time.Millisecond
	}
	return &Sampler{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins sampling. The first snapshot is emitted after one interval.
func (s *Sampler) Start() {
	s.start = time.Now()
	go s.run()
}

// Stop halts sampling and waits for the sampling goroutine to exit.
func (s *Sampler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Elapsed returns the time since Start. The coordinator uses it for the
// final snapshot so all elapsed times for one render share a clock.
func (s *Sampler) Elapsed() time.Duration {
	return time.Since(s.start)
}

// run is the sampling loop.
func (s *Sampler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stage, fraction := Derive(s.config.Counters, s.config.TotalPixels)
			s.config.Emit(Snapshot{
				Stage:             stage,
				Fraction:          fraction,
				Elapsed:           time.Since(s.start),
				MinValidIteration: s.config.Counters.MinSeriesApproximation.Load(),
			})
		case <-s.stopCh:
			return
		}
	}
}
