// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFractal/pkg/logging"
	"github.com/AleutianAI/AleutianFractal/services/fractal/cancel"
	"github.com/AleutianAI/AleutianFractal/services/fractal/coordinator"
	"github.com/AleutianAI/AleutianFractal/services/fractal/engine"
	"github.com/AleutianAI/AleutianFractal/services/fractal/progress"
	"github.com/AleutianAI/AleutianFractal/services/fractal/settings"
)

// consoleSink writes render progress to stderr, one line rewritten in
// place, and hands the completion to the waiting command.
type consoleSink struct {
	done chan coordinator.Completion
}

func (s *consoleSink) Progress(snap progress.Snapshot) {
	if snap.Stage == progress.StageComplete {
		fmt.Fprintf(os.Stderr, "\rdone in %s                    \n",
			snap.Elapsed.Round(10*time.Millisecond))
		return
	}
	fmt.Fprintf(os.Stderr, "\r%-13s %5.1f%%  %s   ",
		snap.Stage, snap.Fraction*100, snap.Elapsed.Round(10*time.Millisecond))
}

func (s *consoleSink) RenderCompleted(c coordinator.Completion) {
	s.done <- c
}

// runRender performs one full render from flags and a location file,
// without touching the persistent settings database.
func runRender(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(config.Logging.Level),
		Service: "fractal",
	})
	defer logger.Close()

	values := settings.Defaults()
	values.ImageWidth = renderWidth
	values.ImageHeight = renderHeight

	if locationPath != "" {
		loc, err := settings.LoadLocation(locationPath)
		if err != nil {
			return err
		}
		loc.ApplyTo(&values)
	}
	if renderReal != "" {
		values.Real = renderReal
	}
	if renderImag != "" {
		values.Imag = renderImag
	}
	if renderZoom != "" {
		values.Zoom = renderZoom
	}
	if renderIterations > 0 {
		values.Iterations = renderIterations
	}
	if cmd.Flags().Changed("rotate") {
		values.Rotate = renderRotate
	}
	if err := values.Validate(); err != nil {
		return err
	}

	store, err := settings.Open(settings.Config{InMemory: true})
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Commit(values); err != nil {
		return err
	}

	renderer, err := engine.New(values)
	if err != nil {
		return err
	}

	sink := &consoleSink{done: make(chan coordinator.Completion, 1)}
	coord := coordinator.New(coordinator.Config{
		Engine:   renderer,
		EngineMu: &sync.Mutex{},
		Settings: store,
		Sink:     sink,
		Token:    cancel.New(),
		Logger:   logger,
	})

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	go coord.Run(ctx)

	logger.Info("rendering",
		"out", renderOut,
		"size", fmt.Sprintf("%dx%d", values.ImageWidth, values.ImageHeight),
		"zoom", values.Zoom,
		"iterations", values.Iterations)

	if err := coord.Submit(coordinator.Request{Mode: engine.ModeFull, Generation: 1}); err != nil {
		return err
	}

	completion := <-sink.done
	if completion.Err != nil {
		return completion.Err
	}
	if completion.Cancelled {
		return fmt.Errorf("render was cancelled")
	}

	if err := renderer.Export.SaveImage(renderOut); err != nil {
		return err
	}
	logger.Info("image written", "path", renderOut,
		"elapsed_ms", completion.Outcome.Elapsed.Milliseconds())
	return nil
}
