// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tui is the interactive terminal frontend for the explorer.
//
// # Description
//
// The model renders a live preview of the current fractal, a progress bar
// fed by the sampler's snapshots, and a keymap for the mutation intents.
// All parameter changes go through the mutation state machine; the model
// itself never touches the settings store or the renderer configuration
// directly.
//
// # Thread Safety
//
// The model runs single-threaded inside the bubbletea event loop.
// Coordinator goroutines reach it only through Sink, which converts
// events into messages.
package tui

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianFractal/pkg/logging"
	"github.com/AleutianAI/AleutianFractal/services/fractal/coordinator"
	"github.com/AleutianAI/AleutianFractal/services/fractal/engine"
	"github.com/AleutianAI/AleutianFractal/services/fractal/mutation"
	fractalprogress "github.com/AleutianAI/AleutianFractal/services/fractal/progress"
	"github.com/AleutianAI/AleutianFractal/services/fractal/settings"
)

// =============================================================================
// Messages
// =============================================================================

// ProgressMsg carries one sampler snapshot.
type ProgressMsg struct {
	Snapshot fractalprogress.Snapshot
}

// CompletedMsg carries a render completion event.
type CompletedMsg struct {
	Completion coordinator.Completion
}

// RepaintMsg signals that the output was recolored without a render.
type RepaintMsg struct{}

// LocationFileChangedMsg is sent by the file watcher when the location
// file was edited outside the application.
type LocationFileChangedMsg struct {
	Path string
}

// =============================================================================
// Input Mode
// =============================================================================

// inputKind selects what a path typed into the input line is used for.
type inputKind int

const (
	inputNone inputKind = iota
	inputOpenLocation
	inputSaveImage
	inputSaveLocation
)

func (k inputKind) prompt() string {
	switch k {
	case inputOpenLocation:
		return "open location file: "
	case inputSaveImage:
		return "save image as: "
	case inputSaveLocation:
		return "save location as: "
	default:
		return ""
	}
}

// =============================================================================
// Config
// =============================================================================

// Config wires the explorer model.
type Config struct {
	// Machine consumes every intent. Required.
	Machine *mutation.Machine

	// Renderer and RendererMu give read access to the committed output
	// for the preview. Required.
	Renderer   *engine.Renderer
	RendererMu *sync.Mutex

	// Settings is read for the status line. Required.
	Settings *settings.Store

	// Logger defaults to logging.Default().
	Logger *logging.Logger
}

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model for the interactive explorer.
type Model struct {
	cfg    Config
	logger *logging.Logger

	bar      progress.Model
	snapshot fractalprogress.Snapshot
	running  bool

	preview string
	status  string

	inputMode inputKind
	inputText string

	width    int
	height   int
	quitting bool
}

// NewModel creates the explorer model.
func NewModel(cfg Config) Model {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return Model{
		cfg:    cfg,
		logger: cfg.Logger,
		bar:    progress.New(progress.WithDefaultGradient()),
		status: "ready",
	}
}

// Init implements tea.Model. The first full render is kicked off by the
// command layer before the program starts; nothing to do here.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 20
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}
		m.rebuildPreview()

	case ProgressMsg:
		m.snapshot = msg.Snapshot
		m.running = msg.Snapshot.Stage != fractalprogress.StageComplete

	case CompletedMsg:
		m.running = false
		c := msg.Completion
		switch {
		case c.Err != nil:
			m.status = "render failed: " + c.Err.Error()
		case c.Cancelled:
			m.status = fmt.Sprintf("%s render cancelled after %s",
				c.Mode, c.Outcome.Elapsed.Round(time.Millisecond))
		default:
			m.status = fmt.Sprintf("%s render finished in %s",
				c.Mode, c.Outcome.Elapsed.Round(time.Millisecond))
		}
		m.rebuildPreview()

	case RepaintMsg:
		m.status = "recolored"
		m.rebuildPreview()

	case LocationFileChangedMsg:
		m.apply(mutation.OpenLocation{Path: msg.Path})

	case tea.KeyMsg:
		if m.inputMode != inputNone {
			return m.handleInput(msg)
		}
		return m.handleKey(msg)
	}

	return m, nil
}

// handleKey dispatches the explorer keymap to mutation intents.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "z":
		m.apply(mutation.MultiplyZoom{Factor: 2})

	case "x":
		m.apply(mutation.MultiplyZoom{Factor: 0.5})

	case "r":
		m.applyRotation(15)

	case "R":
		m.applyRotation(-15)

	case "t":
		m.apply(mutation.MultiplyImageSize{Factor: 0.5})

	case "y":
		m.apply(mutation.MultiplyImageSize{Factor: 2})

	case "n":
		m.apply(mutation.NativeImageSize{})

	case "d":
		m.apply(mutation.ToggleDerivative{})

	case "+", "=":
		m.applyIterationScale(2)

	case "-":
		m.applyIterationScale(0.5)

	case "c":
		m.apply(mutation.CancelRender{})
		m.status = "cancel requested"

	case "o":
		m.inputMode = inputOpenLocation
		m.inputText = ""

	case "s":
		m.inputMode = inputSaveImage
		m.inputText = "fractal.png"

	case "S":
		m.inputMode = inputSaveLocation
		m.inputText = "location.toml"
	}

	return m, nil
}

// handleInput collects a file path for the open and save intents.
func (m Model) handleInput(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		kind := m.inputMode
		path := strings.TrimSpace(m.inputText)
		m.inputMode = inputNone
		m.inputText = ""
		if path == "" {
			return m, nil
		}
		switch kind {
		case inputOpenLocation:
			m.apply(mutation.OpenLocation{Path: path})
		case inputSaveImage:
			m.apply(mutation.SaveImageTo{Path: path})
		case inputSaveLocation:
			m.apply(mutation.SaveLocationTo{Path: path})
		}

	case "esc":
		m.inputMode = inputNone
		m.inputText = ""

	case "backspace":
		if len(m.inputText) > 0 {
			m.inputText = m.inputText[:len(m.inputText)-1]
		}

	default:
		if len(msg.Runes) > 0 {
			m.inputText += string(msg.Runes)
		}
	}

	return m, nil
}

// apply runs one intent and records the outcome in the status line.
func (m *Model) apply(intent mutation.Intent) {
	action, err := m.cfg.Machine.Apply(intent)
	if err != nil {
		m.status = "error: " + err.Error()
		m.logger.Warn("intent failed", "error", err)
		return
	}

	switch action {
	case mutation.ActionFast:
		m.running = true
		m.status = "fast render queued"
	case mutation.ActionFull:
		m.running = true
		m.status = "full render queued"
	case mutation.ActionRepaint:
		m.status = "recolored"
	default:
		m.status = "no change"
	}
}

// applyRotation steps the rotation by delta degrees, wrapping at 360.
func (m *Model) applyRotation(delta float64) {
	v, err := m.cfg.Settings.Snapshot()
	if err != nil {
		m.status = "error: " + err.Error()
		return
	}
	rotate := math.Mod(v.Rotate+delta+360, 360)
	m.apply(mutation.SetRotation{Degrees: rotate})
}

// applyIterationScale multiplies the iteration cap.
func (m *Model) applyIterationScale(factor float64) {
	v, err := m.cfg.Settings.Snapshot()
	if err != nil {
		m.status = "error: " + err.Error()
		return
	}
	count := uint64(float64(v.Iterations) * factor)
	if count < 1 {
		count = 1
	}
	m.apply(mutation.SetIterations{Count: count})
}

// =============================================================================
// View
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("AleutianFractal"))
	b.WriteString("\n")
	b.WriteString(m.renderLocationLine())
	b.WriteString("\n\n")

	if m.preview != "" {
		b.WriteString(m.preview)
		b.WriteString("\n")
	}

	b.WriteString(m.renderProgressLine())
	b.WriteString("\n")

	if m.inputMode != inputNone {
		b.WriteString(promptStyle.Render(m.inputMode.prompt()) + m.inputText + "█")
	} else {
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(
		"z/x zoom  r/R rotate  +/- iterations  t/y size  n native  d derivative  " +
			"o open  s save image  S save location  c cancel  q quit"))

	return b.String()
}

// renderLocationLine summarizes the committed view parameters.
func (m Model) renderLocationLine() string {
	v, err := m.cfg.Settings.Snapshot()
	if err != nil {
		return statusStyle.Render("settings unavailable: " + err.Error())
	}

	return locationStyle.Render(fmt.Sprintf(
		"re %s  im %s  zoom %s  iter %d  rot %.0f°  %dx%d",
		truncateDecimal(v.Real, 20), truncateDecimal(v.Imag, 20),
		v.Zoom, v.Iterations, v.Rotate, v.ImageWidth, v.ImageHeight))
}

// renderProgressLine shows the stage name, the weighted fraction and the
// elapsed time of the in-flight render.
func (m Model) renderProgressLine() string {
	if !m.running && m.snapshot.Stage == fractalprogress.StageComplete {
		return stageStyle.Render("complete ") + m.bar.ViewAs(1.0)
	}
	if !m.running {
		return stageStyle.Render("idle")
	}

	return fmt.Sprintf("%s %s %s",
		stageStyle.Render(m.snapshot.Stage.String()),
		m.bar.ViewAs(m.snapshot.Fraction),
		statsStyle.Render(m.snapshot.Elapsed.Round(time.Millisecond).String()))
}

// rebuildPreview samples the committed output into half-block cells. Two
// image rows share one terminal row via the upper half block.
func (m *Model) rebuildPreview() {
	if m.width <= 0 {
		return
	}

	cols := m.width - 4
	if cols > 100 {
		cols = 100
	}
	rows := m.height - 8
	if rows > 28 {
		rows = 28
	}
	if cols < 8 || rows < 4 {
		m.preview = ""
		return
	}

	m.cfg.RendererMu.Lock()
	export := m.cfg.Renderer.Export
	width, height := export.Width, export.Height
	rgb := make([]uint8, len(export.RGB))
	copy(rgb, export.RGB)
	m.cfg.RendererMu.Unlock()

	if width == 0 || height == 0 {
		m.preview = ""
		return
	}

	sample := func(cx, cy int) lipgloss.Color {
		px := cx * width / cols
		py := cy * height / (rows * 2)
		i := (py*width + px) * 3
		return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", rgb[i], rgb[i+1], rgb[i+2]))
	}

	var b strings.Builder
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			style := lipgloss.NewStyle().
				Foreground(sample(col, row*2)).
				Background(sample(col, row*2+1))
			b.WriteString(style.Render("▀"))
		}
		b.WriteString("\n")
	}
	m.preview = b.String()
}

// truncateDecimal shortens long decimal strings for display, keeping the
// sign and leading digits.
func truncateDecimal(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	locationStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	stageStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("75"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)
