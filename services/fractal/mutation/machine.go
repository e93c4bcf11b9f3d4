// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mutation is the parameter mutation state machine.
//
// # Description
//
// Given the current committed settings and the live renderer, each intent
// is translated into the minimal required action: nothing, a recolor of
// the existing per-pixel data, a fast render that reuses the reference
// orbit, or a full render that recomputes it. The decision rules are
// checked in a fixed order and the first match wins.
//
// Every branch that results in a render commits the corresponding fields
// to the settings store before the request is enqueued, so a concurrent
// settings read observes consistent state once a request has been
// accepted. If a render is in flight when a new render-producing intent
// arrives, cancellation is requested first; the coordinator coalesces
// whatever was superseded.
//
// # Thread Safety
//
// Apply may be called from the presentation goroutine only. The renderer
// lock is held for the duration of a single mutation, never across a
// render call.
package mutation

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianFractal/pkg/logging"
	"github.com/AleutianAI/AleutianFractal/services/fractal/coordinator"
	"github.com/AleutianAI/AleutianFractal/services/fractal/engine"
	"github.com/AleutianAI/AleutianFractal/services/fractal/settings"
)

// Action is the minimal work an intent turned out to require.
type Action int

const (
	// ActionNone means the intent changed nothing, or only produced a
	// side effect such as saving a file.
	ActionNone Action = iota

	// ActionRepaint means the existing iteration data was recolored and
	// the sink was asked to repaint. No render was enqueued.
	ActionRepaint

	// ActionFast means a fast render was enqueued; the reference orbit
	// is reused.
	ActionFast

	// ActionFull means a full render was enqueued; the reference orbit
	// will be recomputed.
	ActionFull
)

// String returns a short lowercase name for logging.
func (a Action) String() string {
	switch a {
	case ActionRepaint:
		return "repaint"
	case ActionFast:
		return "fast"
	case ActionFull:
		return "full"
	default:
		return "none"
	}
}

// Repainter is notified when recoloring changed the output without a
// render. Implementations must not block.
type Repainter interface {
	Repaint()
}

// Config wires a Machine.
type Config struct {
	// Renderer is the live engine. Required.
	Renderer *engine.Renderer

	// RendererMu is the shared renderer lock, the same one handed to
	// the coordinator. Required.
	RendererMu *sync.Mutex

	// Settings is the authoritative store. Required.
	Settings *settings.Store

	// Coordinator receives render requests. Required.
	Coordinator *coordinator.Coordinator

	// Repainter receives repaint notifications. Optional.
	Repainter Repainter

	// Logger defaults to logging.Default().
	Logger *logging.Logger
}

// Machine translates intents into settings commits and render requests.
type Machine struct {
	renderer *engine.Renderer
	mu       *sync.Mutex
	store    *settings.Store
	coord    *coordinator.Coordinator
	repaint  Repainter
	logger   *logging.Logger

	generation atomic.Uint64
}

// New creates a Machine.
func New(cfg Config) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Machine{
		renderer: cfg.Renderer,
		mu:       cfg.RendererMu,
		store:    cfg.Settings,
		coord:    cfg.Coordinator,
		repaint:  cfg.Repainter,
		logger:   cfg.Logger,
	}
}

// Apply executes one intent and reports the action taken.
func (m *Machine) Apply(intent Intent) (Action, error) {
	switch it := intent.(type) {
	case SetLocation:
		return m.setLocation(it)
	case ZoomAt:
		return m.zoomAt(it)
	case MultiplyZoom:
		return m.multiplyZoom(it.Factor)
	case SetRotation:
		return m.setRotation(it)
	case SetIterations:
		return m.setIterations(it.Count)
	case SetImageSize:
		return m.setImageSize(it.Width, it.Height)
	case MultiplyImageSize:
		return m.multiplyImageSize(it.Factor)
	case NativeImageSize:
		return m.nativeImageSize()
	case SetApproximationOrder:
		return m.setApproximationOrder(it.Order)
	case SetColorCycle:
		return m.setColorCycle(it)
	case ToggleDerivative:
		return m.toggleDerivative()
	case OpenLocation:
		return m.openLocation(it.Path)
	case SaveLocationTo:
		return m.saveLocation(it.Path)
	case SaveImageTo:
		return m.saveImage(it.Path)
	case CancelRender:
		m.coord.Cancel()
		return ActionNone, nil
	default:
		return ActionNone, fmt.Errorf("unhandled intent type %T", intent)
	}
}

// enqueue cancels any in-flight render and submits a request for the
// given mode. Settings must already be committed.
func (m *Machine) enqueue(mode engine.Mode) error {
	if m.coord.State() == coordinator.StateRunning {
		m.coord.Cancel()
	}
	return m.coord.Submit(coordinator.Request{
		Mode:       mode,
		Generation: m.generation.Add(1),
	})
}

func (m *Machine) notifyRepaint() {
	if m.repaint != nil {
		m.repaint.Repaint()
	}
}

// setLocation applies the ordered decision rules over the full location
// tuple (real, imag, zoom, rotation, iterations).
func (m *Machine) setLocation(it SetLocation) (Action, error) {
	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}

	newZoom, err := engine.ParseExtended(it.Zoom)
	if err != nil {
		return ActionNone, fmt.Errorf("%w: %v", settings.ErrConfig, err)
	}
	currentZoom, err := engine.ParseExtended(current.Zoom)
	if err != nil {
		return ActionNone, fmt.Errorf("%w: %v", settings.ErrConfig, err)
	}

	panChanged := it.Real != current.Real || it.Imag != current.Imag
	zoomChanged := newZoom != currentZoom
	rotateChanged := it.Rotate != current.Rotate
	iterationsChanged := it.Iterations != current.Iterations

	// Identical location: nothing to do.
	if !panChanged && !zoomChanged && !rotateChanged && !iterationsChanged {
		return ActionNone, nil
	}

	// Rotation alone only changes the pixel-to-plane mapping.
	if rotateChanged && !panChanged && !zoomChanged && !iterationsChanged {
		return m.setRotation(SetRotation{Degrees: it.Rotate})
	}

	// Iteration count alone takes the recolor or extend path.
	if iterationsChanged && !panChanged && !zoomChanged && !rotateChanged {
		return m.setIterations(it.Iterations)
	}

	// Anything past this point commits the whole tuple.
	next := current
	next.Real = it.Real
	next.Imag = it.Imag
	next.Zoom = it.Zoom
	next.Rotate = it.Rotate
	next.Iterations = it.Iterations
	if err := next.Validate(); err != nil {
		return ActionNone, err
	}

	if zoomChanged {
		// The exponent comparison against the reference orbit decides
		// whether the orbit can be reused: at or below the reference
		// exponent the view is no deeper than the orbit was computed
		// for. Mantissa differences within the same exponent bucket do
		// not force a full render.
		m.mu.Lock()
		referenceExponent := m.renderer.ReferenceZoom.Exponent
		m.mu.Unlock()

		mode := engine.ModeFull
		if newZoom.Exponent <= referenceExponent {
			mode = engine.ModeFast
		}
		return m.commitAndRender(next, mode)
	}

	// Pan changed (possibly with rotation or iterations): the reference
	// orbit no longer sits at the view center.
	return m.commitAndRender(next, engine.ModeFull)
}

// commitAndRender commits a snapshot, mirrors the view into the live
// renderer, and enqueues a render of the given mode.
func (m *Machine) commitAndRender(next settings.Values, mode engine.Mode) (Action, error) {
	if err := m.store.Commit(next); err != nil {
		return ActionNone, err
	}

	// Fast renders skip the coordinator's reset, so the live view has
	// to be updated here. Full renders are rebuilt from settings anyway
	// but keeping the fields current costs nothing.
	m.mu.Lock()
	err := m.renderer.ApplyView(next)
	m.mu.Unlock()
	if err != nil {
		return ActionNone, err
	}

	if err := m.enqueue(mode); err != nil {
		m.logger.Warn("render request submitted without prior cancel", "error", err)
	}
	if mode == engine.ModeFast {
		return ActionFast, nil
	}
	return ActionFull, nil
}

// zoomAt recenters on a clicked pixel and multiplies the zoom, then
// follows the zoom-changed rule.
func (m *Machine) zoomAt(it ZoomAt) (Action, error) {
	factor := it.Factor
	if factor <= 0 {
		factor = 2
	}

	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}

	m.mu.Lock()
	real, imag := m.renderer.LocationAt(it.X, it.Y)
	newZoom := m.renderer.Zoom.Mul(factor)
	referenceExponent := m.renderer.ReferenceZoom.Exponent
	m.mu.Unlock()

	next := current
	next.Real = real.Text('f', -1)
	next.Imag = imag.Text('f', -1)
	next.Zoom = newZoom.String()

	mode := engine.ModeFull
	if newZoom.Exponent <= referenceExponent {
		mode = engine.ModeFast
	}
	return m.commitAndRender(next, mode)
}

// multiplyZoom scales the zoom around the current center.
func (m *Machine) multiplyZoom(factor float64) (Action, error) {
	if factor <= 0 {
		return ActionNone, fmt.Errorf("%w: zoom factor must be positive, got %g",
			settings.ErrConfig, factor)
	}
	if factor == 1 {
		return ActionNone, nil
	}

	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}

	m.mu.Lock()
	newZoom := m.renderer.Zoom.Mul(factor)
	referenceExponent := m.renderer.ReferenceZoom.Exponent
	m.mu.Unlock()

	next := current
	next.Zoom = newZoom.String()

	mode := engine.ModeFull
	if newZoom.Exponent <= referenceExponent {
		mode = engine.ModeFast
	}
	return m.commitAndRender(next, mode)
}

func (m *Machine) setRotation(it SetRotation) (Action, error) {
	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}
	if it.Degrees == current.Rotate {
		return ActionNone, nil
	}

	next := current
	next.Rotate = it.Degrees
	return m.commitAndRender(next, engine.ModeFast)
}

// setIterations either recolors in place (cap lowered below what was
// already computed) or extends the orbit with a full render.
func (m *Machine) setIterations(count uint64) (Action, error) {
	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}
	if count == current.Iterations {
		return ActionNone, nil
	}
	if count == 0 {
		return ActionNone, fmt.Errorf("%w: iterations must be positive", settings.ErrConfig)
	}

	next := current
	next.Iterations = count

	m.mu.Lock()
	computedMaximum := m.renderer.MaximumIteration
	m.mu.Unlock()

	if count > computedMaximum {
		return m.commitAndRender(next, engine.ModeFull)
	}

	// The per-pixel data already reaches this depth; lower the coloring
	// cap and recolor.
	if err := m.store.Commit(next); err != nil {
		return ActionNone, err
	}
	m.mu.Lock()
	m.renderer.Export.MaximumIteration = count
	m.renderer.Export.Regenerate()
	m.mu.Unlock()

	m.notifyRepaint()
	return ActionRepaint, nil
}

func (m *Machine) setImageSize(width, height int) (Action, error) {
	if width <= 0 || height <= 0 {
		return ActionNone, fmt.Errorf("%w: image dimensions must be positive, got %dx%d",
			settings.ErrConfig, width, height)
	}

	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}
	if width == current.ImageWidth && height == current.ImageHeight {
		return ActionNone, nil
	}

	next := current
	next.ImageWidth = width
	next.ImageHeight = height
	return m.commitAndRender(next, engine.ModeFast)
}

func (m *Machine) multiplyImageSize(factor float64) (Action, error) {
	if factor <= 0 {
		return ActionNone, fmt.Errorf("%w: size factor must be positive, got %g",
			settings.ErrConfig, factor)
	}

	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}

	width := int(float64(current.ImageWidth) * factor)
	height := int(float64(current.ImageHeight) * factor)
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return m.setImageSize(width, height)
}

func (m *Machine) nativeImageSize() (Action, error) {
	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}
	return m.setImageSize(int(current.WindowWidth), int(current.WindowHeight))
}

func (m *Machine) setApproximationOrder(order int) (Action, error) {
	if order < 4 {
		order = 4
	}
	if order > 128 {
		order = 128
	}

	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}
	if order == current.ApproximationOrder {
		return ActionNone, nil
	}

	// The series approximation has to be recomputed against the orbit.
	next := current
	next.ApproximationOrder = order
	return m.commitAndRender(next, engine.ModeFull)
}

// setColorCycle changes the color mapping only; the iteration data stays
// valid and is recolored in place.
func (m *Machine) setColorCycle(it SetColorCycle) (Action, error) {
	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}

	next := current
	if it.Palette != nil {
		next.Palette = it.Palette
	}
	if it.IterationDivision > 0 {
		next.IterationDivision = it.IterationDivision
	}
	if !it.KeepOffset {
		next.PaletteOffset = it.PaletteOffset
	}

	if err := m.store.Commit(next); err != nil {
		return ActionNone, err
	}

	m.mu.Lock()
	if it.Palette != nil {
		palette := make([]engine.Color, len(it.Palette))
		for i, c := range it.Palette {
			palette[i] = engine.Color(c)
		}
		m.renderer.Export.Palette = palette
	}
	m.renderer.Export.IterationDivision = next.IterationDivision
	m.renderer.Export.PaletteOffset = next.PaletteOffset
	m.renderer.Export.Regenerate()
	m.mu.Unlock()

	m.notifyRepaint()
	return ActionRepaint, nil
}

// toggleDerivative flips distance-estimate shading. The per-pixel
// distance data is produced on every render, so the toggle is a pure
// recolor of the existing buffers.
func (m *Machine) toggleDerivative() (Action, error) {
	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}

	next := current
	next.AnalyticDerivative = !current.AnalyticDerivative
	if err := m.store.Commit(next); err != nil {
		return ActionNone, err
	}

	m.mu.Lock()
	m.renderer.AnalyticDerivative = next.AnalyticDerivative
	m.renderer.Export.AnalyticDerivative = next.AnalyticDerivative
	m.renderer.Export.Regenerate()
	m.mu.Unlock()

	m.notifyRepaint()
	return ActionRepaint, nil
}

// openLocation loads a TOML file and applies it. A file carrying
// coordinates triggers a full render; a palette-only file recolors.
func (m *Machine) openLocation(path string) (Action, error) {
	loc, err := settings.LoadLocation(path)
	if err != nil {
		return ActionNone, err
	}

	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}

	next := current
	loc.ApplyTo(&next)
	if err := next.Validate(); err != nil {
		return ActionNone, err
	}

	if loc.HasLocation() {
		m.logger.Info("location file opened", "path", path, "zoom", next.Zoom)
		return m.commitAndRender(next, engine.ModeFull)
	}

	return m.setColorCycle(SetColorCycle{
		Palette:           next.Palette,
		IterationDivision: next.IterationDivision,
		PaletteOffset:     next.PaletteOffset,
	})
}

func (m *Machine) saveLocation(path string) (Action, error) {
	current, err := m.store.Snapshot()
	if err != nil {
		return ActionNone, err
	}
	if err := settings.SaveLocation(path, current); err != nil {
		return ActionNone, err
	}
	m.logger.Info("location saved", "path", path)
	return ActionNone, nil
}

func (m *Machine) saveImage(path string) (Action, error) {
	m.mu.Lock()
	err := m.renderer.Export.SaveImage(path)
	m.mu.Unlock()
	if err != nil {
		return ActionNone, err
	}
	m.logger.Info("image saved", "path", path)
	return ActionNone, nil
}
