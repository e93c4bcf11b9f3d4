// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the fractal renderer collaborator.
//
// # Description
//
// The orchestration core (coordinator, sampler, mutation state machine)
// treats the renderer as an opaque resource: reset it from settings, ask it
// to render in fast or full mode with a cancellation token, read its
// progress counters while it works. This package provides a software
// Mandelbrot implementation of that contract.
//
// A full render recomputes the high-precision reference orbit at the
// current center; a fast render reuses the stored orbit, which stays valid
// as long as the view has not zoomed in past the zoom level the orbit was
// computed at, and only the pixel-to-plane mapping changed.
//
// # Thread Safety
//
// A Renderer is not internally synchronized. The coordinator and the
// mutation state machine share one mutex and never hold it across the
// blocking Render call; during Render, the renderer is owned exclusively
// by the worker goroutine.
package engine

import (
	"fmt"
	"math"
	"math/big"
	"math/cmplx"
	"time"

	"github.com/AleutianAI/AleutianFractal/services/fractal/cancel"
	"github.com/AleutianAI/AleutianFractal/services/fractal/progress"
	"github.com/AleutianAI/AleutianFractal/services/fractal/settings"
)

// Mode selects how much of the previous render state a render may reuse.
type Mode int

const (
	// ModeFull recomputes the reference orbit from scratch.
	ModeFull Mode = iota

	// ModeFast reuses the existing reference orbit and series
	// approximation; only the pixel mapping is rebuilt.
	ModeFast
)

// String returns "full" or "fast".
func (m Mode) String() string {
	if m == ModeFast {
		return "fast"
	}
	return "full"
}

// Outcome is the result of a render call.
type Outcome struct {
	// Elapsed is the wall time of the render.
	Elapsed time.Duration

	// MinValidIteration is the lowest iteration the series
	// approximation skipped to.
	MinValidIteration uint64

	// Cancelled is true when the render stopped at a cancellation
	// checkpoint instead of completing. The previous committed output
	// is untouched.
	Cancelled bool
}

// cancelCheckInterval is the reference-orbit checkpoint granularity.
const cancelCheckInterval = 4096

// Renderer is the software fractal engine. Exported fields mirror the
// live rendering configuration; the mutation state machine adjusts them
// under the shared renderer lock.
type Renderer struct {
	ImageWidth  int
	ImageHeight int

	// Zoom is the requested magnification for the next render.
	Zoom Extended

	// ReferenceZoom is the magnification at which the stored reference
	// orbit was computed. The mutation layer compares zoom exponents
	// against it to decide whether a fast render may reuse the orbit.
	ReferenceZoom Extended

	// Rotate is the view rotation in radians.
	Rotate float64

	// MaximumIteration is the iteration cap the reference orbit was
	// (or will be) computed to.
	MaximumIteration uint64

	// ApproximationOrder is the series approximation order, 4..128.
	ApproximationOrder int

	// AnalyticDerivative enables distance-estimate shading.
	AnalyticDerivative bool

	// Export holds per-pixel output and the color mapping.
	Export *Export

	// RenderTime is the duration of the last completed render.
	RenderTime time.Duration

	centerReal *big.Float
	centerImag *big.Float

	// orbit is the stored reference orbit, reused by fast renders.
	orbit []complex128

	counters *progress.Counters
}

// New constructs a Renderer from a settings snapshot.
func New(v settings.Values) (*Renderer, error) {
	r := &Renderer{counters: &progress.Counters{}}
	if err := r.Reset(v); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset replaces the full renderer state from a settings snapshot. Called
// by the coordinator at the start of every full render, mirroring the
// settings committed by the mutation state machine.
func (r *Renderer) Reset(v settings.Values) error {
	zoom, err := ParseExtended(v.Zoom)
	if err != nil {
		return fmt.Errorf("reset renderer: %w", err)
	}

	prec := precisionFor(zoom)
	real, _, err := big.ParseFloat(v.Real, 10, prec, big.ToNearestEven)
	if err != nil {
		return fmt.Errorf("reset renderer: parse real %q: %w", v.Real, err)
	}
	imag, _, err := big.ParseFloat(v.Imag, 10, prec, big.ToNearestEven)
	if err != nil {
		return fmt.Errorf("reset renderer: parse imag %q: %w", v.Imag, err)
	}

	r.ImageWidth = v.ImageWidth
	r.ImageHeight = v.ImageHeight
	r.Zoom = zoom
	r.ReferenceZoom = zoom
	r.Rotate = v.Rotate * math.Pi / 180
	r.MaximumIteration = v.Iterations
	r.ApproximationOrder = v.ApproximationOrder
	r.AnalyticDerivative = v.AnalyticDerivative
	r.centerReal = real
	r.centerImag = imag
	r.orbit = nil

	palette := make([]Color, len(v.Palette))
	for i, c := range v.Palette {
		palette[i] = Color(c)
	}
	r.Export = NewExport(v.ImageWidth, v.ImageHeight, palette)
	r.Export.IterationDivision = v.IterationDivision
	r.Export.PaletteOffset = v.PaletteOffset
	r.Export.MaximumIteration = v.Iterations
	r.Export.AnalyticDerivative = v.AnalyticDerivative

	return nil
}

// Counters exposes the progress counters for the sampler. Read-only from
// the caller's perspective.
func (r *Renderer) Counters() *progress.Counters {
	return r.counters
}

// TotalPixels returns the pixel count of the configured image.
func (r *Renderer) TotalPixels() uint64 {
	return uint64(r.ImageWidth) * uint64(r.ImageHeight)
}

// Center returns copies of the center coordinates.
func (r *Renderer) Center() (*big.Float, *big.Float) {
	return new(big.Float).Copy(r.centerReal), new(big.Float).Copy(r.centerImag)
}

// LocationAt maps fractional pixel coordinates to a point on the complex
// plane, honoring the current zoom and rotation. Used by the click-zoom
// intent to derive a new center.
func (r *Renderer) LocationAt(i, j float64) (*big.Float, *big.Float) {
	cosR := math.Cos(r.Rotate)
	sinR := math.Sin(r.Rotate)

	deltaPixel := r.deltaPixel()
	topLeftRe, topLeftIm := deltaTopLeft(deltaPixel, r.ImageWidth, r.ImageHeight, cosR, sinR)

	dRe := i*deltaPixel*cosR - j*deltaPixel*sinR + topLeftRe
	dIm := i*deltaPixel*sinR + j*deltaPixel*cosR + topLeftIm

	prec := precisionFor(r.Zoom)
	real := new(big.Float).SetPrec(prec).Set(r.centerReal)
	imag := new(big.Float).SetPrec(prec).Set(r.centerImag)
	real.Add(real, new(big.Float).SetPrec(prec).SetFloat64(dRe))
	imag.Add(imag, new(big.Float).SetPrec(prec).SetFloat64(dIm))
	return real, imag
}

// UpdateLocation moves the center and zoom without recomputing anything.
// The caller follows up with a render request.
func (r *Renderer) UpdateLocation(zoom Extended, real, imag *big.Float) {
	r.Zoom = zoom
	r.centerReal = real
	r.centerImag = imag
}

// ApplyView updates the live view parameters from a settings snapshot
// without invalidating the stored reference orbit. Fast renders and local
// updates go through here; full renders go through Reset.
//
// The iteration cap is deliberately left alone: it only changes through
// Reset (orbit recomputed) or through the recolor path (Export cap
// lowered without re-rendering).
func (r *Renderer) ApplyView(v settings.Values) error {
	zoom, err := ParseExtended(v.Zoom)
	if err != nil {
		return fmt.Errorf("apply view: %w", err)
	}

	prec := precisionFor(zoom)
	real, _, err := big.ParseFloat(v.Real, 10, prec, big.ToNearestEven)
	if err != nil {
		return fmt.Errorf("apply view: parse real %q: %w", v.Real, err)
	}
	imag, _, err := big.ParseFloat(v.Imag, 10, prec, big.ToNearestEven)
	if err != nil {
		return fmt.Errorf("apply view: parse imag %q: %w", v.Imag, err)
	}

	r.ImageWidth = v.ImageWidth
	r.ImageHeight = v.ImageHeight
	r.Zoom = zoom
	r.Rotate = v.Rotate * math.Pi / 180
	r.centerReal = real
	r.centerImag = imag

	r.AnalyticDerivative = v.AnalyticDerivative
	r.Export.AnalyticDerivative = v.AnalyticDerivative
	r.Export.IterationDivision = v.IterationDivision
	r.Export.PaletteOffset = v.PaletteOffset
	if len(v.Palette) > 0 {
		palette := make([]Color, len(v.Palette))
		for i, c := range v.Palette {
			palette[i] = Color(c)
		}
		r.Export.Palette = palette
	}
	return nil
}

// Render executes one render in the given mode, updating the progress
// counters as it goes and honoring the cancellation token at checkpoints.
// The caller arms the token once per render and passes the captured
// baseline; the engine only reads the token.
//
// On cancellation the partial pixel buffers are discarded; the previously
// committed Export data stays intact. On success the new iteration data is
// committed and recolored.
func (r *Renderer) Render(mode Mode, token *cancel.Token, baseline uint64) Outcome {
	start := time.Now()

	r.counters.Reset()

	if mode == ModeFast && r.orbit == nil {
		// No stored reference orbit to reuse; first render is
		// always full.
		mode = ModeFull
	}

	if mode == ModeFull {
		if cancelled := r.computeReference(token, baseline); cancelled {
			return Outcome{Elapsed: time.Since(start), Cancelled: true}
		}
		r.ReferenceZoom = r.Zoom
	} else {
		// Reference reused: report the approximation phase complete
		// so the sampler moves straight to the iteration stage.
		r.counters.ReferenceMaximum.Store(r.MaximumIteration)
		r.counters.Reference.Store(r.MaximumIteration)
		r.counters.SeriesApproximation.Store(r.MaximumIteration)
		r.counters.SeriesValidation.Store(2)
	}

	scratch, distance, cancelled := r.iteratePixels(token, baseline)
	if cancelled {
		return Outcome{Elapsed: time.Since(start), Cancelled: true}
	}

	// Commit: swap in the new iteration data and recolor.
	if r.Export.Width != r.ImageWidth || r.Export.Height != r.ImageHeight {
		r.Export.Resize(r.ImageWidth, r.ImageHeight)
	}
	copy(r.Export.Iterations, scratch)
	copy(r.Export.Distance, distance)
	r.Export.MaximumIteration = r.MaximumIteration
	r.Export.AnalyticDerivative = r.AnalyticDerivative
	r.Export.Regenerate()

	r.RenderTime = time.Since(start)
	return Outcome{
		Elapsed:           r.RenderTime,
		MinValidIteration: r.counters.MinSeriesApproximation.Load(),
	}
}

// computeReference iterates the center orbit to the iteration cap and runs
// the series approximation passes over it. Returns true if cancelled.
func (r *Renderer) computeReference(token *cancel.Token, baseline uint64) bool {
	maxIter := r.MaximumIteration
	if maxIter == 0 {
		maxIter = 1
	}
	r.counters.ReferenceMaximum.Store(maxIter)

	center := complex(bigToFloat(r.centerReal), bigToFloat(r.centerImag))

	// Cap the allocation hint; deep caps would reserve gigabytes before
	// the first cancellation checkpoint.
	capHint := maxIter
	if capHint > 1<<20 {
		capHint = 1 << 20
	}
	orbit := make([]complex128, 0, capHint)

	z := complex(0, 0)
	for n := uint64(0); n < maxIter; n++ {
		z = z*z + center
		orbit = append(orbit, z)
		r.counters.Reference.Add(1)

		if cmplx.IsNaN(z) || cmplx.IsInf(z) {
			// Center escaped; the orbit is complete early. Jump
			// the counter so the fraction keeps moving.
			r.counters.Reference.Store(maxIter)
			break
		}
		if n%cancelCheckInterval == 0 && token.IsCancelled(baseline) {
			return true
		}
	}
	r.orbit = orbit

	// Series approximation: find the deepest iteration at which a low
	// order polynomial still tracks the orbit, then validate with two
	// passes.
	skip := r.approximateSeries(token, baseline)
	if token.IsCancelled(baseline) {
		return true
	}

	r.counters.MinSeriesApproximation.Store(skip)
	r.counters.SeriesValidation.Add(1)
	r.counters.SeriesValidation.Add(1)
	return false
}

// approximateSeries walks the stored orbit estimating how many early
// iterations the series approximation can skip. The skip point is where
// the orbit magnitude first exceeds the stability bound for the
// configured order.
func (r *Renderer) approximateSeries(token *cancel.Token, baseline uint64) uint64 {
	bound := 1.0 / float64(r.ApproximationOrder+1)
	skip := uint64(0)

	for n, z := range r.orbit {
		r.counters.SeriesApproximation.Add(1)
		if cmplx.Abs(z) < bound {
			skip = uint64(n) + 1
		}
		if n%cancelCheckInterval == 0 && token.IsCancelled(baseline) {
			return skip
		}
	}

	// Top the counter up so the 45% weighting completes even when the
	// orbit escaped early.
	max := r.counters.ReferenceMaximum.Load()
	if got := r.counters.SeriesApproximation.Load(); got < max {
		r.counters.SeriesApproximation.Add(max - got)
	}
	return skip
}

// iteratePixels runs the per-pixel pass into scratch buffers for the
// iteration counts and the distance estimates. The cancellation
// checkpoint is once per row.
func (r *Renderer) iteratePixels(token *cancel.Token, baseline uint64) ([]float64, []float64, bool) {
	width, height := r.ImageWidth, r.ImageHeight
	scratch := make([]float64, width*height)
	distance := make([]float64, width*height)

	cosR := math.Cos(r.Rotate)
	sinR := math.Sin(r.Rotate)
	deltaPixel := r.deltaPixel()
	topLeftRe, topLeftIm := deltaTopLeft(deltaPixel, width, height, cosR, sinR)

	center := complex(bigToFloat(r.centerReal), bigToFloat(r.centerImag))
	maxIter := r.MaximumIteration

	for j := 0; j < height; j++ {
		if token.IsCancelled(baseline) {
			return nil, nil, true
		}
		fj := float64(j)
		for i := 0; i < width; i++ {
			fi := float64(i)
			c := center + complex(
				fi*deltaPixel*cosR-fj*deltaPixel*sinR+topLeftRe,
				fi*deltaPixel*sinR+fj*deltaPixel*cosR+topLeftIm,
			)
			iter, dist := smoothIterate(c, maxIter)
			scratch[j*width+i] = iter
			// Distance in units of pixel spacing so coloring is
			// independent of zoom depth.
			distance[j*width+i] = dist / deltaPixel
			r.counters.Iteration.Add(1)
		}
	}
	return scratch, distance, false
}

// deltaPixel is the complex-plane spacing between adjacent pixels. The
// zoom factor can exceed float64 range at depth; clamp to the smallest
// normal so the mapping degrades instead of producing Inf.
func (r *Renderer) deltaPixel() float64 {
	zoom := r.Zoom.ToFloat()
	if math.IsInf(zoom, 0) || zoom <= 0 {
		zoom = math.MaxFloat64
	}
	denom := float64(r.ImageHeight-1) * zoom
	if denom <= 0 {
		denom = 1
	}
	delta := 4.0 / denom
	if delta < math.SmallestNonzeroFloat64 {
		delta = math.SmallestNonzeroFloat64
	}
	return delta
}

// deltaTopLeft is the offset from the image center to the top-left pixel,
// in plane coordinates, honoring rotation.
func deltaTopLeft(deltaPixel float64, width, height int, cosR, sinR float64) (float64, float64) {
	halfW := float64(width-1) / 2
	halfH := float64(height-1) / 2
	re := -halfW*deltaPixel*cosR + halfH*deltaPixel*sinR
	im := -halfW*deltaPixel*sinR - halfH*deltaPixel*cosR
	return re, im
}

// smoothIterate returns the smooth iteration count and the exterior
// distance estimate for one point. Interior points yield (NaN, 0). The
// distance estimate is |z| ln|z| / |dz/dc| at escape, in plane units.
func smoothIterate(c complex128, maxIter uint64) (float64, float64) {
	z := complex(0, 0)
	der := complex(0, 0)
	for n := uint64(0); n < maxIter; n++ {
		der = 2*z*der + 1
		z = z*z + c
		if m := real(z)*real(z) + imag(z)*imag(z); m > 4 {
			iter := float64(n) + 1 - math.Log2(math.Log(m)/2)
			dist := 0.0
			if d := cmplx.Abs(der); d > 0 {
				abs := math.Sqrt(m)
				dist = abs * math.Log(abs) / d
			}
			return iter, dist
		}
	}
	return math.NaN(), 0
}

// precisionFor scales big.Float precision with zoom depth. Each decimal
// digit of zoom needs roughly 3.33 bits; keep generous headroom.
func precisionFor(zoom Extended) uint {
	exp := zoom.Exponent
	if exp < 0 {
		exp = 0
	}
	return 64 + uint(exp)*4
}

// bigToFloat converts with saturation instead of returning the accuracy.
func bigToFloat(f *big.Float) float64 {
	v, _ := f.Float64()
	return v
}
