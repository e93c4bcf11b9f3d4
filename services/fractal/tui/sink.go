// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/AleutianFractal/services/fractal/coordinator"
	"github.com/AleutianAI/AleutianFractal/services/fractal/progress"
)

// Sink forwards coordinator events into the bubbletea event loop. It
// satisfies both the coordinator's sink contract and the mutation
// machine's repaint notification; Send never blocks the caller beyond a
// channel handoff, so the worker and sampler goroutines stay responsive.
//
// The program is attached after construction because the coordinator and
// the model reference each other through it.
type Sink struct {
	mu      sync.Mutex
	program *tea.Program
}

// NewSink creates a detached sink. Events are dropped until Attach.
func NewSink() *Sink {
	return &Sink{}
}

// Attach connects the running program.
func (s *Sink) Attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	s.mu.Unlock()
}

func (s *Sink) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Progress implements coordinator.Sink.
func (s *Sink) Progress(snap progress.Snapshot) {
	s.send(ProgressMsg{Snapshot: snap})
}

// RenderCompleted implements coordinator.Sink.
func (s *Sink) RenderCompleted(c coordinator.Completion) {
	s.send(CompletedMsg{Completion: c})
}

// Repaint implements mutation.Repainter.
func (s *Sink) Repaint() {
	s.send(RepaintMsg{})
}

// LocationFileChanged is called by the file watcher when the location
// file was edited outside the application.
func (s *Sink) LocationFileChanged(path string) {
	s.send(LocationFileChangedMsg{Path: path})
}
