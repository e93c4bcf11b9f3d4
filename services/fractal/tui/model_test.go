// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tui

import (
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFractal/pkg/logging"
	"github.com/AleutianAI/AleutianFractal/services/fractal/cancel"
	"github.com/AleutianAI/AleutianFractal/services/fractal/coordinator"
	"github.com/AleutianAI/AleutianFractal/services/fractal/engine"
	"github.com/AleutianAI/AleutianFractal/services/fractal/mutation"
	fractalprogress "github.com/AleutianAI/AleutianFractal/services/fractal/progress"
	"github.com/AleutianAI/AleutianFractal/services/fractal/settings"
)

func newTestModel(t *testing.T) (Model, *settings.Store) {
	t.Helper()

	store, err := settings.Open(settings.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	values := settings.Defaults()
	values.ImageWidth = 32
	values.ImageHeight = 24
	values.Iterations = 100
	require.NoError(t, store.Commit(values))

	renderer, err := engine.New(values)
	require.NoError(t, err)

	mu := &sync.Mutex{}
	quiet := logging.New(logging.Config{Quiet: true})
	coord := coordinator.New(coordinator.Config{
		Engine:   renderer,
		EngineMu: mu,
		Settings: store,
		Sink:     NewSink(),
		Token:    cancel.New(),
		Logger:   quiet,
	})

	machine := mutation.New(mutation.Config{
		Renderer:    renderer,
		RendererMu:  mu,
		Settings:    store,
		Coordinator: coord,
		Logger:      quiet,
	})

	return NewModel(Config{
		Machine:    machine,
		Renderer:   renderer,
		RendererMu: mu,
		Settings:   store,
		Logger:     quiet,
	}), store
}

func pressKey(m Model, key string) Model {
	var msg tea.Msg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "backspace":
		msg = tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+c":
		msg = tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestZoomKeyCommitsSettings(t *testing.T) {
	m, store := newTestModel(t)

	m = pressKey(m, "z")
	assert.True(t, m.running)
	assert.Equal(t, "full render queued", m.status)

	v, err := store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "1E0", v.Zoom, "z doubles the 5E-1 default zoom")
}

func TestRotationKeyWraps(t *testing.T) {
	m, store := newTestModel(t)

	for i := 0; i < 25; i++ {
		m = pressKey(m, "r")
	}

	v, err := store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 15.0, v.Rotate, "25 steps of 15 degrees wrap back to 15")
}

func TestIterationKeys(t *testing.T) {
	m, store := newTestModel(t)

	m = pressKey(m, "+")
	v, err := store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(200), v.Iterations)

	// Halving back is a recolor, not a render.
	m = pressKey(m, "-")
	assert.Equal(t, "recolored", m.status)
}

func TestProgressMessageUpdatesState(t *testing.T) {
	m, _ := newTestModel(t)

	next, _ := m.Update(ProgressMsg{Snapshot: fractalprogress.Snapshot{
		Stage:    fractalprogress.StageIteration,
		Fraction: 0.5,
		Elapsed:  time.Second,
	}})
	m = next.(Model)

	assert.True(t, m.running)
	assert.Equal(t, fractalprogress.StageIteration, m.snapshot.Stage)
}

func TestInputModeCollectsPath(t *testing.T) {
	m, _ := newTestModel(t)

	m = pressKey(m, "o")
	assert.Equal(t, inputOpenLocation, m.inputMode)

	for _, r := range "abc" {
		m = pressKey(m, string(r))
	}
	m = pressKey(m, "backspace")
	assert.Equal(t, "ab", m.inputText)

	m = pressKey(m, "esc")
	assert.Equal(t, inputNone, m.inputMode)
	assert.Empty(t, m.inputText)
}

func TestOpenMissingLocationReportsError(t *testing.T) {
	m, _ := newTestModel(t)

	m = pressKey(m, "o")
	for _, r := range "/does/not/exist.toml" {
		m = pressKey(m, string(r))
	}
	m = pressKey(m, "enter")

	assert.Equal(t, inputNone, m.inputMode)
	assert.Contains(t, m.status, "error")
}

func TestQuitKey(t *testing.T) {
	m, _ := newTestModel(t)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(Model)

	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestViewRendersWithoutSize(t *testing.T) {
	m, _ := newTestModel(t)
	out := m.View()
	assert.Contains(t, out, "AleutianFractal")
	assert.Contains(t, out, "zoom 5E-1")
}
