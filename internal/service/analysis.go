// Package service runs models against slides and records what happened.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ekisa-team/pathflow/internal/history"
	"github.com/ekisa-team/pathflow/internal/metrics"
	"github.com/ekisa-team/pathflow/internal/pipeline"
	"github.com/ekisa-team/pathflow/internal/results"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

// Outcome describes one finished run. Err is set for every status but succeeded.
type Outcome struct {
	RunID    string          `json:"run_id"`
	Model    string          `json:"model"`
	ImageUID string          `json:"image_uid"`
	Status   string          `json:"status"`
	Class    string          `json:"error_class,omitempty"`
	Err      error           `json:"-"`
	Saved    []results.Saved `json:"saved,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Analysis runs models against slides. Every failure is caught, logged and
// recorded; nothing a single run does can abort the caller.
type Analysis struct {
	assembler *pipeline.Assembler
	store     *results.Store
	history   history.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger

	locks   map[string]*keyLock
	locksMu sync.Mutex
	wg      sync.WaitGroup
}

// keyLock serialises the runs of one (image, model) pair. refs counts the
// holders and waiters so idle entries can be dropped.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures an Analysis.
type Option func(*Analysis)

// WithLogger sets the logger runs report to.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analysis) {
		a.logger = logger
	}
}

// WithHistory records every run in the ledger.
func WithHistory(h history.Store) Option {
	return func(a *Analysis) {
		a.history = h
	}
}

// WithMetrics observes every run and every saved result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analysis) {
		a.metrics = m
	}
}

// NewAnalysis creates an analysis service saving results to store.
func NewAnalysis(assembler *pipeline.Assembler, store *results.Store, opts ...Option) *Analysis {
	a := &Analysis{
		assembler: assembler,
		store:     store,
		logger:    slog.Default(),
		locks:     make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run assembles and executes model on slide, then saves its outputs.
// Runs of the same (image, model) pair are serialised. opts reach the assembler,
// e.g. pipeline.WithOverrides for per-run metadata.
func (a *Analysis) Run(ctx context.Context, model string, slide *wsi.Slide, opts ...pipeline.AssembleOption) Outcome {
	unlock := a.lock(slide.UID, model)
	defer unlock()

	start := time.Now()
	out := Outcome{RunID: history.NewID(), Model: model, ImageUID: slide.UID}
	log := a.logger.With("run", out.RunID, "model", model, "image", slide.UID)

	handle, err := a.execute(ctx, log, model, slide, &out, opts)
	out.Duration = time.Since(start)
	out.Err = err
	out.Status, out.Class = classify(err)

	switch out.Status {
	case history.StatusSucceeded:
		log.Info("Run finished", "duration", out.Duration, "saved", len(out.Saved))
	case history.StatusSkipped:
		log.Info("Run skipped", "reason", err)
	default:
		log.Error("Run failed", "class", out.Class, "error", err, "duration", out.Duration)
	}

	if a.metrics != nil {
		a.metrics.ObserveRun(model, out.Status, out.Duration)
	}
	a.record(log, out, handle, start)
	return out
}

func (a *Analysis) execute(ctx context.Context, log *slog.Logger, model string, slide *wsi.Slide, out *Outcome, opts []pipeline.AssembleOption) (handle *pipeline.RunHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run of %s panicked: %v", model, r)
		}
	}()

	handle, err = a.assembler.Assemble(model, slide, opts...)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	outputs, err := handle.Run(ctx)
	if err != nil {
		return handle, err
	}

	saved, err := a.store.Save(slide.UID, model, outputs, handle.Renderers())
	if err != nil {
		// failed runs leave the renderer set as it was before the attempt
		slide.RemoveRenderer(handle.Name, handle.Renderer())
		log.Error("Results could not be saved", "error", err)
		return handle, fmt.Errorf("%w: %w", pipeline.ErrIO, err)
	}
	out.Saved = saved
	if a.metrics != nil {
		for _, s := range saved {
			a.metrics.ObserveSaved(string(s.Kind))
		}
	}
	return handle, nil
}

func (a *Analysis) record(log *slog.Logger, out Outcome, handle *pipeline.RunHandle, start time.Time) {
	if a.history == nil {
		return
	}

	run := &history.Run{
		ID:         out.RunID,
		ImageUID:   out.ImageUID,
		Model:      out.Model,
		Status:     out.Status,
		Outputs:    len(out.Saved),
		DurationMS: out.Duration.Milliseconds(),
		StartedAt:  start,
		FinishedAt: start.Add(out.Duration),
	}
	if out.Err != nil {
		run.Error = out.Err.Error()
	}
	if handle != nil {
		run.Backend = string(handle.Selection.Backend)
		run.Format = string(handle.Selection.Format)
		run.Device = string(handle.Selection.Device)
	}

	// the ledger outlives a cancelled request
	if err := a.history.Record(context.Background(), run); err != nil {
		log.Warn("Run could not be recorded", "error", err)
	}
}

// RunAsync starts Run in the background. The returned channel receives exactly
// one outcome.
func (a *Analysis) RunAsync(ctx context.Context, model string, slide *wsi.Slide, opts ...pipeline.AssembleOption) <-chan Outcome {
	ch := make(chan Outcome, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ch <- a.Run(ctx, model, slide, opts...)
		close(ch)
	}()
	return ch
}

// Wait blocks until every background run has finished.
func (a *Analysis) Wait() {
	a.wg.Wait()
}

func (a *Analysis) lock(imageUID, model string) func() {
	key := imageUID + "\x00" + model

	a.locksMu.Lock()
	l, ok := a.locks[key]
	if !ok {
		l = &keyLock{}
		a.locks[key] = l
	}
	l.refs++
	a.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		a.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, key)
		}
		a.locksMu.Unlock()
	}
}

// classify maps a run error to a history status and an error class.
func classify(err error) (string, string) {
	switch {
	case err == nil:
		return history.StatusSucceeded, ""
	case errors.Is(err, pipeline.ErrAlreadyRegistered):
		return history.StatusSkipped, ""
	case errors.Is(err, pipeline.ErrAbandoned), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return history.StatusAbandoned, "abandoned"
	case errors.Is(err, pipeline.ErrConfiguration):
		return history.StatusFailed, "configuration"
	case errors.Is(err, pipeline.ErrResolution):
		return history.StatusFailed, "resolution"
	case errors.Is(err, pipeline.ErrFormatMismatch):
		return history.StatusFailed, "format_mismatch"
	case errors.Is(err, pipeline.ErrIO):
		return history.StatusFailed, "io"
	case errors.Is(err, pipeline.ErrArithmeticDegenerate):
		return history.StatusFailed, "arithmetic_degenerate"
	}
	return history.StatusFailed, "internal"
}
