// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress tracks the completion of a long-running render.
//
// # Description
//
// The render engine owns a set of independent counters that it increments
// as it works through the phases of a render: reference orbit computation,
// series approximation, series validation, per-pixel iteration, and glitch
// correction. The Sampler reads those counters on a fixed cadence, derives
// a single weighted completion fraction plus a coarse stage, and pushes
// snapshots to the presentation layer.
//
// The counters are write-owned by the engine and read-shared with the
// sampler; the sampler never mutates them.
package progress

import "sync/atomic"

// Counters is the set of render progress counters. All fields are
// monotonically non-decreasing during a render and reset to zero at the
// start of each render.
type Counters struct {
	// Reference counts completed reference orbit iterations.
	Reference atomic.Uint64

	// ReferenceMaximum is the iteration cap for the reference orbit.
	// Zero until the engine sets it; readers must guard the divide.
	ReferenceMaximum atomic.Uint64

	// SeriesApproximation counts completed series approximation steps.
	SeriesApproximation atomic.Uint64

	// SeriesValidation counts validation passes, 0..2. A value below 2
	// means the approximation phase is still running.
	SeriesValidation atomic.Uint64

	// Iteration counts pixels whose iteration has completed.
	Iteration atomic.Uint64

	// GlitchedMaximum is the number of pixels queued for glitch
	// correction, or zero when no correction pass is running.
	GlitchedMaximum atomic.Uint64

	// MinSeriesApproximation is the lowest iteration the series
	// approximation skipped to across the image.
	MinSeriesApproximation atomic.Uint64
}

// Reset zeroes every counter. Called by the engine at render start, before
// the sampler for that render is running.
func (c *Counters) Reset() {
	c.Reference.Store(0)
	c.ReferenceMaximum.Store(0)
	c.SeriesApproximation.Store(0)
	c.SeriesValidation.Store(0)
	c.Iteration.Store(0)
	c.GlitchedMaximum.Store(0)
	c.MinSeriesApproximation.Store(0)
}
