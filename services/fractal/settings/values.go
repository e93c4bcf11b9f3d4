// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package settings is the authoritative, persisted configuration store.
//
// # Description
//
// Every rendering parameter lives here as a key/value pair, persisted in
// an embedded BadgerDB so the last session's view survives a restart. The
// mutation state machine is the only writer; it commits each change here
// before a render request referencing it is enqueued, so a concurrent
// settings read always observes consistent state once a request has been
// accepted.
//
// Real, imaginary and zoom values are carried as decimal strings to
// preserve arbitrary precision; parsing into numeric form happens at the
// renderer boundary.
package settings

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrConfig wraps any missing or malformed settings key. Surfaced to the
// caller of the mutation that required it; no partial commit occurs.
var ErrConfig = errors.New("settings error")

// Setting keys.
const (
	KeyImageWidth         = "image_width"
	KeyImageHeight        = "image_height"
	KeyReal               = "real"
	KeyImag               = "imag"
	KeyZoom               = "zoom"
	KeyIterations         = "iterations"
	KeyRotate             = "rotate"
	KeyApproximationOrder = "approximation_order"
	KeyPalette            = "palette"
	KeyIterationDivision  = "iteration_division"
	KeyPaletteOffset      = "palette_offset"
	KeyAnalyticDerivative = "analytic_derivative"
	KeyWindowWidth        = "window_width"
	KeyWindowHeight       = "window_height"
)

// Values is a consistent snapshot of every setting. The renderer is
// rebuilt from one of these at each full render.
type Values struct {
	ImageWidth  int `validate:"gt=0"`
	ImageHeight int `validate:"gt=0"`

	// Real, Imag and Zoom are decimal strings; Zoom uses the extended
	// "1.5E120" form.
	Real string `validate:"required"`
	Imag string `validate:"required"`
	Zoom string `validate:"required"`

	Iterations         uint64  `validate:"gt=0"`
	Rotate             float64 // degrees, [0, 360)
	ApproximationOrder int     `validate:"gte=4,lte=128"`

	Palette            [][3]uint8
	IterationDivision  float64 `validate:"gt=0"`
	PaletteOffset      float64
	AnalyticDerivative bool

	WindowWidth  float64
	WindowHeight float64
}

var validate = validator.New()

// Validate checks structural invariants on a snapshot.
func (v Values) Validate() error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// Defaults is the out-of-the-box view: the full Mandelbrot set.
func Defaults() Values {
	return Values{
		ImageWidth:         1280,
		ImageHeight:        720,
		Real:               "-0.75",
		Imag:               "0.0",
		Zoom:               "5E-1",
		Iterations:         1000,
		Rotate:             0,
		ApproximationOrder: 32,
		IterationDivision:  1.0,
		PaletteOffset:      0,
		AnalyticDerivative: false,
		WindowWidth:        1280,
		WindowHeight:       720,
	}
}
