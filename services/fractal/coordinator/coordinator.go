// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package coordinator owns the single render execution lane.
//
// # Description
//
// The coordinator accepts render requests through a queue and guarantees
// that at most one render executes at a time. Around each render it arms
// the cancellation token, starts the progress sampler, invokes the engine,
// and publishes the final snapshot and a completion event to the
// presentation sink.
//
// A request that arrives while a render is in flight is queued; the
// caller is expected to request cancellation first so the in-flight
// render winds down at its next checkpoint. The coordinator never
// preempts by force. Requests superseded by a newer generation while
// waiting in the queue are coalesced away.
//
// If a render was cancelled mid-flight, its reference orbit may be
// incomplete, so the next fast request is upgraded to a full render.
//
// # Thread Safety
//
// Submit and Cancel may be called from any goroutine. Run must be called
// exactly once, on a dedicated goroutine.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFractal/pkg/logging"
	"github.com/AleutianAI/AleutianFractal/services/fractal/cancel"
	"github.com/AleutianAI/AleutianFractal/services/fractal/engine"
	"github.com/AleutianAI/AleutianFractal/services/fractal/observability"
	"github.com/AleutianAI/AleutianFractal/services/fractal/progress"
	"github.com/AleutianAI/AleutianFractal/services/fractal/settings"
)

// ErrRenderInProgress is returned by Submit when a request arrives while a
// render is running and no cancellation has been requested. This is a
// logic fault in the orchestration layer: the mutation state machine must
// cancel before resubmitting. Callers log and drop the request in
// production.
var ErrRenderInProgress = errors.New("render already in progress")

// State is the coordinator's execution state.
type State int32

const (
	// StateIdle means no render is executing.
	StateIdle State = iota

	// StateRunning means the worker is inside the engine render call.
	StateRunning
)

// Request asks for one render. Generation disambiguates stale requests:
// when several are queued, only the highest generation is serviced.
type Request struct {
	Mode       engine.Mode
	Generation uint64

	// ID correlates log lines for one request. Filled by Submit when
	// empty.
	ID string
}

// Completion is published to the sink after each render, after the
// renderer state has been updated, and after the final progress snapshot.
type Completion struct {
	Generation uint64

	// Mode is the mode actually executed, after any fast-to-full
	// upgrade.
	Mode engine.Mode

	Outcome   engine.Outcome
	Cancelled bool

	// Err is non-nil when the render could not start (settings could
	// not be read back or the engine rejected them).
	Err error
}

// Sink receives progress snapshots and completion events. Implementations
// must not block; the TUI hands off to its own event loop.
type Sink interface {
	Progress(progress.Snapshot)
	RenderCompleted(Completion)
}

// Engine is the renderer collaborator contract the coordinator needs.
// *engine.Renderer satisfies it; tests substitute fakes.
type Engine interface {
	Reset(settings.Values) error
	Render(mode engine.Mode, token *cancel.Token, baseline uint64) engine.Outcome
	Counters() *progress.Counters
	TotalPixels() uint64
}

// Config wires a Coordinator.
type Config struct {
	// Engine executes renders. Required.
	Engine Engine

	// EngineMu is the shared renderer lock. The coordinator takes it
	// only to reset or inspect the engine, never across the blocking
	// render call. Required.
	EngineMu *sync.Mutex

	// Settings supplies the snapshot a full render rebuilds from.
	// Required.
	Settings *settings.Store

	// Sink receives progress and completion events. Required.
	Sink Sink

	// Token is the shared cancellation token. Required.
	Token *cancel.Token

	// Logger defaults to logging.Default().
	Logger *logging.Logger

	// Metrics defaults to an unexported registry.
	Metrics *observability.RenderMetrics

	// SampleInterval is the progress sampling cadence. Default: 20ms.
	SampleInterval time.Duration

	// QueueSize is the request queue depth. Default: 16.
	QueueSize int
}

// Coordinator serializes render execution.
type Coordinator struct {
	engine   Engine
	engineMu *sync.Mutex
	store    *settings.Store
	sink     Sink
	token    *cancel.Token
	logger   *logging.Logger
	metrics  *observability.RenderMetrics
	interval time.Duration

	requests chan Request
	state    atomic.Int32
	baseline atomic.Uint64

	// needFull upgrades the next fast render after a cancellation left
	// the reference orbit in an unknown state. Worker-goroutine only.
	needFull bool
}

// New creates a Coordinator. Run must be started before Submit is useful.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NopMetrics()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 20 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Coordinator{
		engine:   cfg.Engine,
		engineMu: cfg.EngineMu,
		store:    cfg.Settings,
		sink:     cfg.Sink,
		token:    cfg.Token,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		interval: cfg.SampleInterval,
		requests: make(chan Request, cfg.QueueSize),
	}
}

// State returns the current execution state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Cancel requests cooperative cancellation of the in-flight render, if
// any. Returns immediately; completion latency is bounded by the engine's
// checkpoint granularity.
func (c *Coordinator) Cancel() {
	c.token.Cancel()
}

// Submit enqueues a render request.
//
// Returns ErrRenderInProgress when a render is running and no cancel has
// been requested; the request is still enqueued, because the mutation
// layer has already committed settings for it, and it will be serviced
// once the current render finishes on its own. The error exists to flag
// the missing cancel.
func (c *Coordinator) Submit(req Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	var err error
	if c.State() == StateRunning && !c.token.IsCancelled(c.baseline.Load()) {
		err = ErrRenderInProgress
	}

	select {
	case c.requests <- req:
	default:
		// Queue full: the oldest entry is stale by definition.
		select {
		case stale := <-c.requests:
			c.logger.Debug("request queue full, dropping stale request",
				"dropped_generation", stale.Generation)
			c.metrics.RequestsCoalescedTotal.Inc()
		default:
		}
		c.requests <- req
	}

	c.logger.Debug("render request queued",
		"request_id", req.ID, "mode", req.Mode.String(), "generation", req.Generation)
	return err
}

// Run is the worker loop. It blocks until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.requests:
			req = c.coalesce(req)
			c.process(req)
		}
	}
}

// coalesce drains the queue and keeps only the newest generation.
func (c *Coordinator) coalesce(req Request) Request {
	for {
		select {
		case next := <-c.requests:
			stale := req
			if next.Generation >= req.Generation {
				req = next
			} else {
				stale = next
			}
			c.logger.Debug("coalesced stale render request",
				"dropped_generation", stale.Generation, "kept_generation", req.Generation)
			c.metrics.RequestsCoalescedTotal.Inc()
		default:
			return req
		}
	}
}

// process executes one render request end to end.
func (c *Coordinator) process(req Request) {
	logger := c.logger.With("request_id", req.ID, "generation", req.Generation)

	mode := req.Mode
	if c.needFull && mode == engine.ModeFast {
		logger.Info("previous render was cancelled, upgrading fast render to full")
		mode = engine.ModeFull
	}

	baseline := c.token.Arm()
	c.baseline.Store(baseline)
	c.state.Store(int32(StateRunning))
	c.metrics.ActiveRenders.Set(1)

	if mode == engine.ModeFull {
		if err := c.resetEngine(); err != nil {
			logger.Error("failed to reset renderer from settings", "error", err)
			c.state.Store(int32(StateIdle))
			c.metrics.ActiveRenders.Set(0)
			c.sink.RenderCompleted(Completion{
				Generation: req.Generation,
				Mode:       mode,
				Err:        err,
			})
			return
		}
	}

	c.engineMu.Lock()
	counters := c.engine.Counters()
	totalPixels := c.engine.TotalPixels()
	c.engineMu.Unlock()

	sampler := progress.NewSampler(progress.SamplerConfig{
		Counters:    counters,
		TotalPixels: totalPixels,
		Interval:    c.interval,
		Emit: func(s progress.Snapshot) {
			c.metrics.SnapshotsTotal.Inc()
			c.sink.Progress(s)
		},
	})

	logger.Info("render starting", "mode", mode.String(), "total_pixels", totalPixels)
	sampler.Start()

	// The engine owns itself for the duration of this call; no locks
	// are held across it. The token was armed above, before the engine
	// call, so a cancel landing in between is still observed.
	outcome := c.engine.Render(mode, c.token, baseline)

	sampler.Stop()
	elapsed := sampler.Elapsed()

	cancelled := outcome.Cancelled || c.token.IsCancelled(baseline)
	if cancelled {
		c.token.Drain(baseline)
	}
	c.needFull = cancelled

	c.state.Store(int32(StateIdle))
	c.metrics.ActiveRenders.Set(0)

	result := "completed"
	if cancelled {
		result = "cancelled"
	}
	c.metrics.RendersTotal.WithLabelValues(mode.String(), result).Inc()
	c.metrics.RenderDurationSeconds.WithLabelValues(mode.String()).Observe(outcome.Elapsed.Seconds())
	logger.Info("render finished",
		"mode", mode.String(),
		"outcome", result,
		"elapsed_ms", outcome.Elapsed.Milliseconds(),
		"min_valid_iteration", outcome.MinValidIteration)

	// Final snapshot goes out after the state transition so the
	// presentation layer observes consistent renderer state when it
	// reacts; it is always the last snapshot for this render. Elapsed
	// comes from the sampler clock so it never runs behind the periodic
	// snapshots.
	c.metrics.SnapshotsTotal.Inc()
	c.sink.Progress(progress.Snapshot{
		Stage:             progress.StageComplete,
		Fraction:          1.0,
		Elapsed:           elapsed,
		MinValidIteration: outcome.MinValidIteration,
	})

	c.sink.RenderCompleted(Completion{
		Generation: req.Generation,
		Mode:       mode,
		Outcome:    outcome,
		Cancelled:  cancelled,
	})
}

// resetEngine rebuilds the renderer from the committed settings, holding
// the renderer lock only for the swap.
func (c *Coordinator) resetEngine() error {
	values, err := c.store.Snapshot()
	if err != nil {
		return err
	}
	if err := values.Validate(); err != nil {
		return err
	}

	c.engineMu.Lock()
	defer c.engineMu.Unlock()
	return c.engine.Reset(values)
}
