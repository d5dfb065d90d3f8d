// Package taskrunner provides a shared worker loop for draining queue tasks.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autoapply/autoapply/internal/domain/model"
	obserrors "github.com/autoapply/autoapply/internal/observability/errors"
	"github.com/autoapply/autoapply/internal/observability/metrics"
	"github.com/autoapply/autoapply/internal/observability/statsd"
	"github.com/autoapply/autoapply/internal/service"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Handler processes one reserved task. A nil return completes the task; an
// error return fails it, which reschedules or dead-letters depending on the
// task's remaining attempts.
type Handler interface {
	Execute(ctx context.Context, task *model.Task) error
}

// Options configures a Runner.
type Options struct {
	Tasks    *service.TaskService // Required: queue access
	Handler  Handler              // Required: task processor
	TaskType model.TaskType       // Required: task type to drain

	// Worker settings
	Lease       time.Duration // per-task lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1

	// Optional: throttles task starts across all workers.
	Limiter *rate.Limiter

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner drains tasks of one type from the durable queue and hands them to a
// Handler, heartbeating the lease while each task is in flight.
type Runner struct {
	tasks    *service.TaskService
	handler  Handler
	taskType model.TaskType
	logger   *slog.Logger
	lease    time.Duration
	workers  int
	limiter  *rate.Limiter
	metrics  statsd.Sink
}

// NewRunner creates a new task runner with the given options.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Tasks == nil {
		return nil, errors.New("task service is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if !opts.TaskType.Valid() {
		return nil, fmt.Errorf("invalid task type: %s", opts.TaskType)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		tasks:    opts.Tasks,
		handler:  opts.Handler,
		taskType: opts.TaskType,
		logger:   logger.With("component", "task_runner", "task_type", opts.TaskType),
		lease:    resolveLease(opts.Lease),
		workers:  resolveWorkers(opts.Concurrency),
		limiter:  opts.Limiter,
		metrics:  opts.Metrics,
	}, nil
}

// Run starts the worker loops and processes tasks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting task runner", "workers", r.workers, "lease", r.lease)

	group, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		group.Go(func() error { return r.runWorkerLoop(gctx) })
	}
	return group.Wait()
}

// runWorkerLoop reserves and processes tasks until the context is cancelled.
func (r *Runner) runWorkerLoop(ctx context.Context) error {
	// Subscribe for availability notifications for this task type
	unsub, ch := r.tasks.Subscribe(r.taskType)
	defer unsub()

	for ctx.Err() == nil {
		// Throttle before reserving so rate-limited work never sits on a lease
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil //nolint:nilerr // limiter only errors on context cancellation
			}
		}

		task, err := r.tasks.ReserveNext(ctx, r.taskType, r.lease)
		switch {
		case err == nil:
			if task != nil {
				r.processTask(ctx, task)
			}
		case errors.Is(err, model.ErrNoTasksAvailable):
			if !r.waitForNotify(ctx, ch) {
				return nil
			}
		default:
			r.logger.ErrorContext(ctx, "failed to reserve next task", "error", err)
			return err
		}
	}
	return ctx.Err()
}

// processTask processes a single reserved task.
func (r *Runner) processTask(ctx context.Context, task *model.Task) {
	r.logger.InfoContext(ctx, "processing task", "task_id", task.ID, "run_id", task.RunID)

	stopHB := r.startHeartbeat(ctx, task.ID)
	defer stopHB()

	start := time.Now()

	if err := r.handler.Execute(ctx, task); err != nil {
		r.logger.ErrorContext(ctx, "task processing failed", "task_id", task.ID, "error", err)
		if _, ferr := r.tasks.FailWithDetails(ctx, task.ID, err.Error(), service.TaskFailureDetails{
			ErrorClass: obserrors.Classify(err),
			Metadata: map[string]string{
				"component": "task_runner",
				"task_type": string(r.taskType),
			},
		}); ferr != nil {
			r.logger.ErrorContext(ctx, "failed to mark task as failed", "task_id", task.ID, "error", ferr)
		}
		r.emitTaskMetric(taskMetricInput{
			Task:       task,
			Transition: "failed",
			Result:     "error",
			Elapsed:    time.Since(start),
			Err:        err,
		})
		return
	}

	if completed, err := r.tasks.Complete(ctx, task.ID); err != nil {
		r.logger.ErrorContext(ctx, "failed to mark task as completed", "task_id", task.ID, "error", err)
		r.emitTaskMetric(taskMetricInput{
			Task:       task,
			Transition: "completed",
			Result:     "error",
			Elapsed:    time.Since(start),
			Err:        err,
		})
	} else {
		result := "noop"
		if completed {
			result = "success"
		}
		r.emitTaskMetric(taskMetricInput{
			Task:       task,
			Transition: "completed",
			Result:     result,
			Elapsed:    time.Since(start),
		})
	}
}

// startHeartbeat starts a background ticker to extend the task lease periodically.
// It returns a stop function to end the heartbeat.
func (r *Runner) startHeartbeat(ctx context.Context, taskID string) func() {
	interval := r.lease / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if ok, err := r.tasks.Heartbeat(ctx, taskID, r.lease); err != nil {
					r.logger.ErrorContext(ctx, "heartbeat failed", "task_id", taskID, "error", err)
				} else if !ok {
					r.logger.WarnContext(ctx, "heartbeat not applied (task may be lost)", "task_id", taskID)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

// waitForNotify waits for a task notification or context cancellation.
func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

func resolveLease(lease time.Duration) time.Duration {
	if lease > 0 {
		return lease
	}
	return 30 * time.Second
}

func resolveWorkers(workers int) int {
	if workers > 0 {
		return workers
	}
	return 1
}

type taskMetricInput struct {
	Task       *model.Task
	Transition string
	Result     string
	Elapsed    time.Duration
	Err        error
}

func (r *Runner) emitTaskMetric(input taskMetricInput) {
	if r.metrics == nil || input.Task == nil {
		return
	}

	metrics.EmitTaskLifecycle(r.metrics, metrics.TaskMetric{
		TaskType:   string(input.Task.Type),
		Transition: input.Transition,
		Result:     input.Result,
		Duration:   input.Elapsed,
		Err:        input.Err,
	})
}
