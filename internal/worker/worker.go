// Package worker executes queued crawl jobs and settles their final status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/engine"
	"github.com/JakeFAU/tzxm-crawler/internal/logging"
	"github.com/JakeFAU/tzxm-crawler/internal/metrics"
	"github.com/JakeFAU/tzxm-crawler/internal/storage/memory"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// Runner executes one crawl job.
type Runner interface {
	Run(ctx context.Context, job engine.Job) (crawler.RunCounters, error)
}

// Worker consumes queue items and runs them one at a time.
type Worker struct {
	queue  crawler.Queue
	tasks  *memory.TaskStore
	runs   store.RunStore
	runner Runner
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	tasks *memory.TaskStore,
	runs store.RunStore,
	runner Runner,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		tasks:  tasks,
		runs:   runs,
		runner: runner,
		clock:  clock,
		logger: logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := logging.Job(w.logger, item.JobID, item.RunID)
	if w.tasks.CancelRequested(item.JobID) {
		logger.Info("job cancelled before start")
		w.finish(ctx, item, crawler.JobStatusCancelled, "cancelled before start", crawler.RunCounters{})
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if _, err := w.tasks.MarkRunning(ctx, item.JobID, cancel, w.clock.Now()); err != nil {
		if errors.Is(err, memory.ErrTaskTerminal) {
			logger.Info("job already finished, skipping")
			return
		}
		logger.Error("mark job running", zap.Error(err))
		w.finish(ctx, item, crawler.JobStatusFailed, err.Error(), crawler.RunCounters{})
		return
	}
	if w.runs != nil {
		if err := w.runs.UpdateRunCounters(ctx, item.RunID, crawler.JobStatusRunning, crawler.RunCounters{}); err != nil {
			logger.Warn("mark run running", zap.Error(err))
		}
	}

	metrics.IncActiveWorkers()
	counters, runErr := w.execute(jobCtx, item)
	metrics.DecActiveWorkers()

	status, message := w.deriveFinalStatus(ctx, item.JobID, runErr)
	if status == crawler.JobStatusFailed {
		logger.Error("job failed", zap.Error(runErr))
	}
	w.finish(ctx, item, status, message, counters)
}

// execute runs the job and turns a panic into an error.
func (w *Worker) execute(ctx context.Context, item crawler.QueueItem) (counters crawler.RunCounters, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked",
				zap.String("job_id", item.JobID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.runner.Run(ctx, engine.Job{JobID: item.JobID, RunID: item.RunID, Params: item.Params})
}

// deriveFinalStatus maps the run result to a terminal status. A cancel request
// wins over whatever the run returned.
func (w *Worker) deriveFinalStatus(ctx context.Context, jobID string, runErr error) (crawler.JobStatus, string) {
	switch {
	case w.tasks.CancelRequested(jobID):
		return crawler.JobStatusCancelled, "cancelled by request"
	case runErr == nil:
		return crawler.JobStatusSucceeded, ""
	case ctx.Err() != nil && errors.Is(runErr, context.Canceled):
		return crawler.JobStatusCancelled, "cancelled by shutdown"
	default:
		return crawler.JobStatusFailed, runErr.Error()
	}
}

// finish settles the task and closes the run. Both writes survive ctx
// cancellation so shutdown still leaves a finished run behind.
func (w *Worker) finish(
	ctx context.Context,
	item crawler.QueueItem,
	status crawler.JobStatus,
	message string,
	counters crawler.RunCounters,
) {
	now := w.clock.Now()
	bg := context.WithoutCancel(ctx)
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("status", string(status)))
	changed, err := w.tasks.Finish(bg, item.JobID, status, message, now)
	if err != nil {
		logger.Error("finish task", zap.Error(err))
	}
	if !changed && err == nil {
		logger.Warn("task was already terminal")
		return
	}
	if w.runs != nil {
		if err := w.runs.FinishRun(bg, item.RunID, status, message, counters, now); err != nil {
			logger.Error("finish run", zap.String("run_id", item.RunID), zap.Error(err))
		}
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished",
		zap.Int("total_items", counters.TotalItems),
		zap.Int("new_projects", counters.NewProjects),
		zap.String("message", message),
	)
}
