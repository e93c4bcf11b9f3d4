// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath   string
	locationPath string

	renderOut        string
	renderWidth      int
	renderHeight     int
	renderIterations uint64
	renderReal       string
	renderImag       string
	renderZoom       string
	renderRotate     float64

	rootCmd = &cobra.Command{
		Use:   "fractal",
		Short: "A deep-zoom Mandelbrot explorer and renderer",
		Long: `Fractal renders the Mandelbrot set at arbitrary zoom depth using
perturbation-style reference orbits, with an interactive terminal
explorer and a headless rendering mode for batch exports.`,
	}

	exploreCmd = &cobra.Command{
		Use:   "explore",
		Short: "Open the interactive terminal explorer",
		RunE:  runExplore,
	}

	renderCmd = &cobra.Command{
		Use:   "render",
		Short: "Render a single image headlessly and exit",
		RunE:  runRender,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath,
		"path to the application config file")

	exploreCmd.Flags().StringVarP(&locationPath, "location", "l", "",
		"TOML location file to open and watch (overrides config)")

	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "fractal.png",
		"output image path (.png, .jpg)")
	renderCmd.Flags().StringVarP(&locationPath, "location", "l", "",
		"TOML location file to render")
	renderCmd.Flags().IntVar(&renderWidth, "width", 1920, "image width in pixels")
	renderCmd.Flags().IntVar(&renderHeight, "height", 1080, "image height in pixels")
	renderCmd.Flags().Uint64Var(&renderIterations, "iterations", 0,
		"iteration cap (0 keeps the location file's value)")
	renderCmd.Flags().StringVar(&renderReal, "real", "", "center real part")
	renderCmd.Flags().StringVar(&renderImag, "imag", "", "center imaginary part")
	renderCmd.Flags().StringVar(&renderZoom, "zoom", "", `zoom factor, e.g. "1.5E120"`)
	renderCmd.Flags().Float64Var(&renderRotate, "rotate", 0, "view rotation in degrees")

	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(renderCmd)
}
