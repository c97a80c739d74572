// Package dispatcher accepts crawl jobs, fans them out to workers and answers
// status queries.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/metrics"
	"github.com/JakeFAU/tzxm-crawler/internal/storage/memory"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
	"github.com/JakeFAU/tzxm-crawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers and owns job bookkeeping.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	tasks   *memory.TaskStore
	runs    store.RunStore
	ids     crawler.IDGenerator
	clock   crawler.Clock
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue crawler.Queue,
	workers []*worker.Worker,
	tasks *memory.TaskStore,
	runs store.RunStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		tasks:   tasks,
		runs:    runs,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("dispatcher"),
	}
}

// drainer is implemented by queues that can hand back unstarted jobs.
type drainer interface {
	Drain() []crawler.QueueItem
}

// Run starts all workers and blocks until the context finishes. Jobs still
// queued once the workers stop are closed as cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.settleQueued(ctx)
}

// settleQueued finishes the task and run of every job left in the queue.
func (d *Dispatcher) settleQueued(ctx context.Context) {
	q, ok := d.queue.(drainer)
	if !ok {
		return
	}
	left := q.Drain()
	if len(left) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	now := d.clock.Now()
	const message = "cancelled by shutdown before start"
	for _, item := range left {
		logger := d.logger.With(zap.String("job_id", item.JobID), zap.String("run_id", item.RunID))
		changed, err := d.tasks.Finish(bg, item.JobID, crawler.JobStatusCancelled, message, now)
		if err != nil {
			logger.Error("finish queued task", zap.Error(err))
		}
		if !changed && err == nil {
			continue
		}
		if err := d.runs.FinishRun(bg, item.RunID, crawler.JobStatusCancelled, message, crawler.RunCounters{}, now); err != nil {
			logger.Error("finish queued run", zap.Error(err))
		}
		metrics.ObserveJob(string(crawler.JobStatusCancelled))
	}
	d.logger.Info("queued jobs cancelled at shutdown", zap.Int("jobs", len(left)))
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit validates params, records the run and a pending task, and queues the job.
func (d *Dispatcher) Submit(ctx context.Context, params crawler.JobParameters) (crawler.TaskInfo, error) {
	params, err := normalize(params)
	if err != nil {
		return crawler.TaskInfo{}, err
	}
	jobID, err := d.ids.NewID()
	if err != nil {
		return crawler.TaskInfo{}, fmt.Errorf("generate job id: %w", err)
	}
	runID, err := d.ids.NewID()
	if err != nil {
		return crawler.TaskInfo{}, fmt.Errorf("generate run id: %w", err)
	}
	now := d.clock.Now()
	run := crawler.CrawlRun{
		ID:        runID,
		JobID:     jobID,
		Mode:      params.Mode,
		Regions:   params.Regions,
		Status:    crawler.JobStatusPending,
		StartedAt: now,
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return crawler.TaskInfo{}, fmt.Errorf("create run: %w", err)
	}
	task := crawler.TaskInfo{
		ID:          jobID,
		RunID:       runID,
		Status:      crawler.JobStatusPending,
		Params:      params,
		SubmittedAt: now,
	}
	if err := d.tasks.CreateTask(ctx, task); err != nil {
		return crawler.TaskInfo{}, fmt.Errorf("create task: %w", err)
	}

	item := crawler.QueueItem{JobID: jobID, RunID: runID, Params: params, Submitted: now.Unix()}
	if err := d.Enqueue(ctx, item); err != nil {
		d.abandon(ctx, task, err)
		return crawler.TaskInfo{}, err
	}
	d.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("run_id", runID),
		zap.String("mode", string(params.Mode)),
		zap.Strings("regions", params.Regions),
	)
	return task, nil
}

// abandon closes the bookkeeping of a job that never reached the queue.
func (d *Dispatcher) abandon(ctx context.Context, task crawler.TaskInfo, cause error) {
	bg := context.WithoutCancel(ctx)
	now := d.clock.Now()
	if _, err := d.tasks.Finish(bg, task.ID, crawler.JobStatusFailed, cause.Error(), now); err != nil {
		d.logger.Error("finish abandoned task", zap.String("job_id", task.ID), zap.Error(err))
	}
	if err := d.runs.FinishRun(bg, task.RunID, crawler.JobStatusFailed, cause.Error(), crawler.RunCounters{}, now); err != nil {
		d.logger.Error("finish abandoned run", zap.String("run_id", task.RunID), zap.Error(err))
	}
}

// Cancel requests cancellation. Running jobs stop at the next boundary; pending
// jobs are settled as cancelled when a worker picks them up.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) (crawler.TaskInfo, error) {
	task, err := d.tasks.RequestCancel(ctx, jobID)
	if err != nil {
		return crawler.TaskInfo{}, err
	}
	d.logger.Info("job cancel requested", zap.String("job_id", jobID), zap.String("status", string(task.Status)))
	return task, nil
}

// Task returns one job's status.
func (d *Dispatcher) Task(ctx context.Context, jobID string) (crawler.TaskInfo, error) {
	return d.tasks.GetTask(ctx, jobID)
}

// Tasks lists jobs newest first, optionally only unfinished ones.
func (d *Dispatcher) Tasks(ctx context.Context, openOnly bool) []crawler.TaskInfo {
	return d.tasks.ListTasks(ctx, openOnly)
}

// GetRun returns one run record.
func (d *Dispatcher) GetRun(ctx context.Context, runID string) (crawler.CrawlRun, error) {
	return d.runs.GetRun(ctx, runID)
}

// ListRuns returns run history newest first.
func (d *Dispatcher) ListRuns(ctx context.Context, limit, offset int) ([]crawler.CrawlRun, error) {
	return d.runs.ListRuns(ctx, limit, offset)
}

// Wait polls until the job is terminal or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context, jobID string, interval time.Duration) (crawler.TaskInfo, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := d.tasks.GetTask(ctx, jobID)
		if err != nil {
			return crawler.TaskInfo{}, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func normalize(params crawler.JobParameters) (crawler.JobParameters, error) {
	if params.Mode == "" {
		params.Mode = crawler.ModeIncremental
	}
	if !params.Mode.Valid() {
		return params, fmt.Errorf("%w: mode must be %q or %q", crawler.ErrValidation, crawler.ModeFull, crawler.ModeIncremental)
	}
	seen := make(map[string]bool, len(params.Regions))
	regions := make([]string, 0, len(params.Regions))
	for _, r := range params.Regions {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		regions = append(regions, r)
	}
	if len(regions) == 0 {
		return params, fmt.Errorf("%w: at least one region is required", crawler.ErrValidation)
	}
	params.Regions = regions
	params.ExcludeKeywords = trimAll(params.ExcludeKeywords)
	return params, nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
