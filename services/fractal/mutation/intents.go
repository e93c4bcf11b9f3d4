// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mutation

// Intent is one client-requested parameter change. The set is closed:
// every variant is declared in this file and dispatched by type, so an
// unknown command is a compile error rather than an unmatched string.
type Intent interface {
	intent()
}

// SetLocation replaces the full location: coordinates, zoom, iteration
// count and rotation. Issued by text entry and by the location file
// watcher.
type SetLocation struct {
	Real       string
	Imag       string
	Zoom       string
	Iterations uint64
	Rotate     float64
}

// ZoomAt zooms toward a pixel coordinate. The clicked point becomes the
// new view center and the zoom is multiplied by Factor (2 when zero).
type ZoomAt struct {
	X, Y   float64
	Factor float64
}

// MultiplyZoom scales the zoom around the current center. Factor 2 zooms
// in one step, 0.5 zooms out.
type MultiplyZoom struct {
	Factor float64
}

// SetRotation sets the view rotation in degrees.
type SetRotation struct {
	Degrees float64
}

// SetIterations changes the iteration cap.
type SetIterations struct {
	Count uint64
}

// SetImageSize sets explicit render dimensions.
type SetImageSize struct {
	Width, Height int
}

// MultiplyImageSize scales both dimensions by Factor, rounding down with
// a floor of one pixel.
type MultiplyImageSize struct {
	Factor float64
}

// NativeImageSize matches the render dimensions to the stored window
// size.
type NativeImageSize struct{}

// SetApproximationOrder changes the series approximation order. Values
// are clamped to the supported 4..128 range.
type SetApproximationOrder struct {
	Order int
}

// SetColorCycle adjusts the color mapping without re-rendering. A nil
// Palette keeps the current one; a non-positive IterationDivision keeps
// the current division.
type SetColorCycle struct {
	Palette           [][3]uint8
	IterationDivision float64
	PaletteOffset     float64

	// KeepOffset leaves the current palette offset alone, since zero is
	// a meaningful offset.
	KeepOffset bool
}

// ToggleDerivative flips distance-estimate shading on or off.
type ToggleDerivative struct{}

// OpenLocation loads a TOML location or palette file and applies it.
type OpenLocation struct {
	Path string
}

// SaveLocationTo writes the current coordinates to a TOML file.
type SaveLocationTo struct {
	Path string
}

// SaveImageTo exports the current colored output as PNG or JPEG.
type SaveImageTo struct {
	Path string
}

// CancelRender requests cooperative cancellation of the in-flight
// render.
type CancelRender struct{}

func (SetLocation) intent()           {}
func (ZoomAt) intent()                {}
func (MultiplyZoom) intent()          {}
func (SetRotation) intent()           {}
func (SetIterations) intent()         {}
func (SetImageSize) intent()          {}
func (MultiplyImageSize) intent()     {}
func (NativeImageSize) intent()       {}
func (SetApproximationOrder) intent() {}
func (SetColorCycle) intent()         {}
func (ToggleDerivative) intent()      {}
func (OpenLocation) intent()          {}
func (SaveLocationTo) intent()        {}
func (SaveImageTo) intent()           {}
func (CancelRender) intent()          {}
