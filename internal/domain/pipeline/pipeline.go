// Package pipeline provides a small sequential stage runner shared by the
// discovery and apply workflows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrHalt signals an orderly stop. The runner treats it as a successful end of
// the sequence rather than a stage failure.
var ErrHalt = errors.New("pipeline halted")

// Stage is a single named step operating on the shared pipeline state.
type Stage[S any] struct {
	Name string
	Run  func(ctx context.Context, state *S) error
}

// Observer is notified after each stage completes, for checkpoints, audit
// records, and metrics. A halt is reported with err == nil.
type Observer[S any] interface {
	OnStage(ctx context.Context, state *S, name string, duration time.Duration, err error)
}

// ObserverFunc is an adapter to allow ordinary functions to act as Observers.
type ObserverFunc[S any] func(ctx context.Context, state *S, name string, duration time.Duration, err error)

// OnStage calls f(ctx, state, name, duration, err).
func (f ObserverFunc[S]) OnStage(ctx context.Context, state *S, name string, duration time.Duration, err error) {
	if f == nil {
		return
	}
	f(ctx, state, name, duration, err)
}

// Options configure a Runner.
type Options[S any] struct {
	// Required: the ordered stage sequence.
	Stages []Stage[S]

	// Optional: invoked after every executed stage.
	Observer Observer[S]

	// Optional: defaults to slog.Default.
	Logger *slog.Logger
}

// Runner drives a stage sequence to completion over a shared state value.
type Runner[S any] struct {
	stages   []Stage[S]
	observer Observer[S]
	logger   *slog.Logger
}

// NewRunner constructs a Runner from the supplied options.
func NewRunner[S any](opts Options[S]) (*Runner[S], error) {
	if len(opts.Stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	for _, stage := range opts.Stages {
		if stage.Name == "" || stage.Run == nil {
			return nil, errors.New("every stage requires a name and a run func")
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner[S]{
		stages:   opts.Stages,
		observer: opts.Observer,
		logger:   logger,
	}, nil
}

// Run executes the stages in order, stopping at the first failure or halt.
// A stage failure is returned wrapped with the stage name; ErrHalt ends the
// sequence without an error.
func (r *Runner[S]) Run(ctx context.Context, state *S) error {
	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := stage.Run(ctx, state)
		duration := time.Since(start)

		halted := errors.Is(err, ErrHalt)
		if halted {
			err = nil
		}
		r.notify(ctx, state, stage.Name, duration, err)

		if err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		if halted {
			r.logger.DebugContext(ctx, "pipeline halted", "stage", stage.Name)
			return nil
		}
	}
	return nil
}

func (r *Runner[S]) notify(ctx context.Context, state *S, name string, duration time.Duration, err error) {
	if r.observer == nil {
		return
	}
	r.observer.OnStage(ctx, state, name, duration, err)
}
