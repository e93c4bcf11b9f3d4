// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Color is one palette entry in RGB order.
type Color [3]uint8

// DefaultPalette is the palette used when the settings carry none.
var DefaultPalette = []Color{
	{0, 7, 100},
	{32, 107, 203},
	{237, 255, 255},
	{255, 170, 0},
	{0, 2, 0},
}

// Export holds the per-pixel results of a render and the color mapping
// applied to them. Recoloring (palette, division, offset, or a lowered
// iteration cap) only needs Regenerate, not a re-render.
type Export struct {
	Width  int
	Height int

	// Iterations is the smooth iteration count per pixel. A value of
	// NaN marks a pixel inside the set.
	Iterations []float64

	// Distance is the exterior distance estimate per pixel, in units of
	// pixel spacing. Zero for interior pixels.
	Distance []float64

	// RGB is the colored output, 3 bytes per pixel.
	RGB []uint8

	// Palette is cycled through according to IterationDivision and
	// PaletteOffset.
	Palette []Color

	// IterationDivision stretches the palette over more iterations.
	IterationDivision float64

	// PaletteOffset rotates the palette start point.
	PaletteOffset float64

	// MaximumIteration is the coloring cap. It may be lower than the
	// iteration depth actually computed; pixels at or beyond it are
	// treated as interior.
	MaximumIteration uint64

	// AnalyticDerivative selects distance-estimate shading instead of
	// plain palette cycling.
	AnalyticDerivative bool
}

// NewExport allocates buffers for the given dimensions.
func NewExport(width, height int, palette []Color) *Export {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return &Export{
		Width:             width,
		Height:            height,
		Iterations:        make([]float64, width*height),
		Distance:          make([]float64, width*height),
		RGB:               make([]uint8, width*height*3),
		Palette:           palette,
		IterationDivision: 1.0,
	}
}

// Resize reallocates the buffers for new dimensions, dropping old data.
func (e *Export) Resize(width, height int) {
	e.Width = width
	e.Height = height
	e.Iterations = make([]float64, width*height)
	e.Distance = make([]float64, width*height)
	e.RGB = make([]uint8, width*height*3)
}

// Regenerate recolors every pixel from the stored iteration data.
func (e *Export) Regenerate() {
	for i := range e.Iterations {
		e.colorPixel(i)
	}
}

// colorPixel maps one pixel's iteration value through the palette.
func (e *Export) colorPixel(i int) {
	iter := e.Iterations[i]

	if math.IsNaN(iter) || (e.MaximumIteration > 0 && iter >= float64(e.MaximumIteration)) {
		e.RGB[3*i] = 0
		e.RGB[3*i+1] = 0
		e.RGB[3*i+2] = 0
		return
	}

	if e.AnalyticDerivative {
		// Distance-estimate shading: pixels hugging the set boundary
		// go dark, pixels far from it go bright.
		shade := math.Tanh(e.Distance[i] / 8)
		if shade < 0 {
			shade = 0
		}
		v := uint8(255 * shade)
		e.RGB[3*i] = v
		e.RGB[3*i+1] = v
		e.RGB[3*i+2] = v
		return
	}

	division := e.IterationDivision
	if division <= 0 {
		division = 1.0
	}

	pos := iter/division + e.PaletteOffset
	idx := int(pos) % len(e.Palette)
	if idx < 0 {
		idx += len(e.Palette)
	}
	next := (idx + 1) % len(e.Palette)
	frac := pos - math.Floor(pos)

	// Linear blend between adjacent palette entries.
	for ch := 0; ch < 3; ch++ {
		a := float64(e.Palette[idx][ch])
		b := float64(e.Palette[next][ch])
		e.RGB[3*i+ch] = uint8(a + (b-a)*frac)
	}
}

// Image copies the RGB buffer into a standard image for display or export.
func (e *Export) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, e.Width, e.Height))
	for i := 0; i < e.Width*e.Height; i++ {
		img.SetRGBA(i%e.Width, i/e.Width, color.RGBA{
			R: e.RGB[3*i],
			G: e.RGB[3*i+1],
			B: e.RGB[3*i+2],
			A: 255,
		})
	}
	return img
}

// SaveImage writes the colored output as PNG or JPEG based on the file
// extension.
func (e *Export) SaveImage(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		if err := png.Encode(file, e.Image()); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	case ".jpg", ".jpeg":
		if err := jpeg.Encode(file, e.Image(), &jpeg.Options{Quality: 95}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		return fmt.Errorf("unsupported image extension %q", filepath.Ext(path))
	}
	return nil
}
