// Package engine scans the remote catalog region by region, keeps matching
// projects and advances the per-region checkpoint.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/clock/system"
	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/logging"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// DefaultBreakerThreshold is the number of consecutive empty details that
// aborts a region.
const DefaultBreakerThreshold = 10

// Config controls classification and the region circuit breaker.
type Config struct {
	TargetCategories []string
	BreakerThreshold int
	// DiscoveryTopic receives a crawler.DiscoveryEvent per new project when set.
	DiscoveryTopic string
}

// RegionNamer maps region codes to display labels for logs.
type RegionNamer interface {
	DisplayNames(codes []string) map[string]string
}

// Dependencies groups the collaborators an Engine drives.
type Dependencies struct {
	Catalog     crawler.Catalog
	Checkpoints store.CheckpointStore
	Projects    store.ProjectStore
	Runs        store.RunStore
	Publisher   crawler.Publisher
	Retry       *crawler.FixedRetryPolicy
	Clock       crawler.Clock
	Regions     RegionNamer
}

// Job is one crawl request as seen by the engine.
type Job struct {
	JobID  string
	RunID  string
	Params crawler.JobParameters
}

// Engine runs crawl jobs. It is safe for concurrent use by several workers as
// long as no two jobs scan the same region at once.
type Engine struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New validates dependencies and constructs an Engine.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Engine, error) {
	if deps.Catalog == nil || deps.Checkpoints == nil || deps.Projects == nil {
		return nil, fmt.Errorf("engine requires catalog, checkpoint and project stores")
	}
	if deps.Retry == nil {
		deps.Retry = crawler.NewFixedRetryPolicy(crawler.DefaultMaxAttempts, crawler.DefaultRetryDelay)
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger.Named("engine")}, nil
}

// Run scans every region of the job in order. Counters accumulated so far are
// returned even when the job stops early; a cancelled job returns ctx.Err().
func (e *Engine) Run(ctx context.Context, job Job) (crawler.RunCounters, error) {
	var counters crawler.RunCounters
	if !job.Params.Mode.Valid() {
		return counters, fmt.Errorf("%w: unknown mode %q", crawler.ErrValidation, job.Params.Mode)
	}
	classifier := NewClassifier(e.cfg.TargetCategories, job.Params.ExcludeKeywords)
	names := map[string]string{}
	if e.deps.Regions != nil {
		names = e.deps.Regions.DisplayNames(job.Params.Regions)
	}
	logger := logging.Job(e.logger, job.JobID, job.RunID).With(zap.String("mode", string(job.Params.Mode)))
	logger.Info("crawl started", zap.Strings("regions", job.Params.Regions))

	for _, region := range job.Params.Regions {
		if err := ctx.Err(); err != nil {
			logger.Info("crawl stopped before region", zap.String("region", region))
			return counters, err
		}
		scan := &regionScan{
			engine:     e,
			job:        job,
			region:     region,
			classifier: classifier,
			counters:   &counters,
			logger:     logger.With(zap.String("region", region), zap.String("region_name", nameOr(names, region))),
		}
		err := scan.run(ctx)
		e.flush(ctx, job.RunID, counters)
		if err != nil {
			return counters, err
		}
	}
	logger.Info("crawl finished",
		zap.Int("total_items", counters.TotalItems),
		zap.Int("matched", counters.MatchedProjects),
		zap.Int("new", counters.NewProjects),
		zap.Int("aborted_regions", counters.AbortedRegions),
	)
	return counters, nil
}

// flush publishes running counters to the run record. Failures only log.
func (e *Engine) flush(ctx context.Context, runID string, counters crawler.RunCounters) {
	if e.deps.Runs == nil || runID == "" {
		return
	}
	err := e.deps.Runs.UpdateRunCounters(context.WithoutCancel(ctx), runID, crawler.JobStatusRunning, counters)
	if err != nil {
		e.logger.Warn("flush run counters", zap.String("run_id", runID), zap.Error(err))
	}
}

func nameOr(names map[string]string, code string) string {
	if n, ok := names[code]; ok && n != "" {
		return n
	}
	return code
}
