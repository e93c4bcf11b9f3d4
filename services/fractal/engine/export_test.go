// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegenerateColorsPixels(t *testing.T) {
	e := NewExport(2, 2, []Color{{255, 0, 0}, {0, 0, 255}})
	e.MaximumIteration = 100
	e.Iterations[0] = 0          // exactly the first palette entry
	e.Iterations[1] = 0.5        // halfway blend toward the second
	e.Iterations[2] = math.NaN() // interior
	e.Iterations[3] = 150        // beyond the cap, treated as interior

	e.Regenerate()

	assert.Equal(t, []uint8{255, 0, 0}, e.RGB[0:3])
	assert.Equal(t, uint8(127), e.RGB[3], "halfway blend of red channel")
	assert.Equal(t, []uint8{0, 0, 0}, e.RGB[6:9], "interior pixel is black")
	assert.Equal(t, []uint8{0, 0, 0}, e.RGB[9:12], "pixel beyond the cap is black")
}

func TestLoweredCapRecolorsWithoutData(t *testing.T) {
	e := NewExport(1, 1, DefaultPalette)
	e.MaximumIteration = 1000
	e.Iterations[0] = 500
	e.Regenerate()
	require.NotEqual(t, []uint8{0, 0, 0}, e.RGB[0:3])

	e.MaximumIteration = 400
	e.Regenerate()
	assert.Equal(t, []uint8{0, 0, 0}, e.RGB[0:3],
		"lowering the cap below the pixel value turns it interior")
}

func TestDistanceShadingGradesByDistance(t *testing.T) {
	e := NewExport(3, 1, DefaultPalette)
	e.MaximumIteration = 100
	e.AnalyticDerivative = true
	e.Iterations[0] = 10
	e.Iterations[1] = 10
	e.Iterations[2] = math.NaN()
	e.Distance[0] = 0.05 // hugging the boundary
	e.Distance[1] = 50   // far from it

	e.Regenerate()

	// Grayscale: all three channels equal per pixel.
	assert.Equal(t, e.RGB[0], e.RGB[1])
	assert.Equal(t, e.RGB[1], e.RGB[2])
	assert.Equal(t, e.RGB[3], e.RGB[4])

	assert.Less(t, e.RGB[0], e.RGB[3],
		"pixels near the boundary must be darker than distant ones")
	assert.Equal(t, []uint8{0, 0, 0}, e.RGB[6:9], "interior stays black")
}

func TestResizeDropsData(t *testing.T) {
	e := NewExport(4, 4, DefaultPalette)
	e.Iterations[0] = 7

	e.Resize(8, 2)
	assert.Equal(t, 8, e.Width)
	assert.Equal(t, 2, e.Height)
	assert.Len(t, e.Iterations, 16)
	assert.Len(t, e.RGB, 48)
	assert.Equal(t, 0.0, e.Iterations[0])
}

func TestSaveImagePNG(t *testing.T) {
	e := NewExport(8, 6, DefaultPalette)
	e.MaximumIteration = 100
	for i := range e.Iterations {
		e.Iterations[i] = float64(i)
	}
	e.Regenerate()

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, e.SaveImage(path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	img, err := png.Decode(file)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
}

func TestSaveImageRejectsUnknownExtension(t *testing.T) {
	e := NewExport(2, 2, DefaultPalette)
	err := e.SaveImage(filepath.Join(t.TempDir(), "out.bmp"))
	assert.Error(t, err)
}
