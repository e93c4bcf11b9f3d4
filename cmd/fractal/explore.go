// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFractal/pkg/logging"
	"github.com/AleutianAI/AleutianFractal/services/fractal/cancel"
	"github.com/AleutianAI/AleutianFractal/services/fractal/coordinator"
	"github.com/AleutianAI/AleutianFractal/services/fractal/engine"
	"github.com/AleutianAI/AleutianFractal/services/fractal/mutation"
	"github.com/AleutianAI/AleutianFractal/services/fractal/observability"
	"github.com/AleutianAI/AleutianFractal/services/fractal/settings"
	"github.com/AleutianAI/AleutianFractal/services/fractal/tui"
)

// runExplore wires the full interactive stack: settings store, renderer,
// coordinator, mutation machine and the bubbletea frontend.
func runExplore(cmd *cobra.Command, args []string) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("explore needs a terminal; use `fractal render` for scripted output")
	}

	// Stderr stays quiet while the TUI owns the terminal; logs go to the
	// file destination only.
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(config.Logging.Level),
		LogDir:  config.Logging.Dir,
		Service: "fractal",
		Quiet:   true,
	})
	defer logger.Close()

	store, err := settings.Open(settings.Config{
		Path:   filepath.Join(expandPath(config.Data.Dir), "settings"),
		Logger: logger.Slog(),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	location := locationPath
	if location == "" {
		location = config.Location
	}
	if location != "" {
		if err := applyLocationFile(store, location); err != nil {
			return err
		}
	}

	values, err := store.Snapshot()
	if err != nil {
		return err
	}
	renderer, err := engine.New(values)
	if err != nil {
		return err
	}

	metrics := observability.NopMetrics()
	if config.Metrics.Enabled {
		metrics = observability.NewRenderMetrics(prometheus.DefaultRegisterer)
	}

	sink := tui.NewSink()
	token := cancel.New()
	rendererMu := &sync.Mutex{}

	coord := coordinator.New(coordinator.Config{
		Engine:   renderer,
		EngineMu: rendererMu,
		Settings: store,
		Sink:     sink,
		Token:    token,
		Logger:   logger,
		Metrics:  metrics,
	})

	machine := mutation.New(mutation.Config{
		Renderer:    renderer,
		RendererMu:  rendererMu,
		Settings:    store,
		Coordinator: coord,
		Repainter:   sink,
		Logger:      logger,
	})

	model := tui.NewModel(tui.Config{
		Machine:    machine,
		Renderer:   renderer,
		RendererMu: rendererMu,
		Settings:   store,
		Logger:     logger,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())
	sink.Attach(program)

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return coord.Run(ctx)
	})
	if location != "" {
		group.Go(func() error {
			return watchLocation(ctx, location, sink, logger)
		})
	}
	if config.Metrics.Enabled {
		group.Go(func() error {
			return serveMetrics(ctx, config.Metrics.Listen, logger)
		})
	}

	// First paint is always a full render of the committed settings.
	// Generation 0 so any intent issued during it supersedes.
	if err := coord.Submit(coordinator.Request{Mode: engine.ModeFull, Generation: 0}); err != nil {
		logger.Warn("initial render submit", "error", err)
	}

	_, runErr := program.Run()

	coord.Cancel()
	cancelCtx()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("background task failed", "error", err)
	}
	return runErr
}

// applyLocationFile merges a TOML location file into the store before the
// first render.
func applyLocationFile(store *settings.Store, path string) error {
	loc, err := settings.LoadLocation(path)
	if err != nil {
		return err
	}
	values, err := store.Snapshot()
	if err != nil {
		return err
	}
	loc.ApplyTo(&values)
	if err := values.Validate(); err != nil {
		return err
	}
	return store.Commit(values)
}

// serveMetrics exposes the Prometheus endpoint until the context ends.
func serveMetrics(ctx context.Context, listen string, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: listen, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
