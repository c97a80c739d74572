package store

import (
	"context"
	"time"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = crawler.ErrNotFound

// CheckpointStore persists the per-region resumption point.
type CheckpointStore interface {
	// GetCheckpoint returns ErrNotFound when the region was never scanned.
	GetCheckpoint(ctx context.Context, regionCode string) (crawler.Checkpoint, error)
	// SaveCheckpoint atomically replaces the region's checkpoint.
	SaveCheckpoint(ctx context.Context, checkpoint crawler.Checkpoint) error
}

// ProjectStore persists discovered projects keyed by project id.
type ProjectStore interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	// UpsertProject inserts or refreshes a project; created reports whether the row is new.
	// Parse state, fields and discovery time of an existing row are preserved.
	UpsertProject(ctx context.Context, project crawler.DiscoveredProject) (created bool, err error)
	GetProject(ctx context.Context, projectID string) (crawler.DiscoveredProject, error)
	ListProjects(ctx context.Context, filter crawler.ProjectFilter) ([]crawler.DiscoveredProject, error)
	// SaveExtraction stores parsed fields, marks the project parsed and clears its raw path.
	SaveExtraction(ctx context.Context, projectID string, fields []byte, parsedAt time.Time) error
	// SetRawPath records where an unparsed document was kept.
	SetRawPath(ctx context.Context, projectID, rawPath string) error
	SetInvalid(ctx context.Context, projectID string, invalid bool) error
	DeleteProjects(ctx context.Context, projectIDs []string) (int, error)
	DeleteProjectsByRegion(ctx context.Context, regionCodes []string) (int, error)
}

// RunStore persists the append-only crawl run audit trail.
type RunStore interface {
	CreateRun(ctx context.Context, run crawler.CrawlRun) error
	// UpdateRunCounters overwrites the run's cumulative counters and status.
	UpdateRunCounters(ctx context.Context, runID string, status crawler.JobStatus, counters crawler.RunCounters) error
	// FinishRun closes the run. It is called for every terminal outcome.
	FinishRun(
		ctx context.Context,
		runID string,
		status crawler.JobStatus,
		errText string,
		counters crawler.RunCounters,
		finishedAt time.Time,
	) error
	GetRun(ctx context.Context, runID string) (crawler.CrawlRun, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]crawler.CrawlRun, error)
}

// Repositories bundles the stores a backend provides.
type Repositories struct {
	Checkpoints CheckpointStore
	Projects    ProjectStore
	Runs        RunStore
	// Close releases backend resources; may be nil.
	Close func()
	// Ping checks the backend is reachable; nil for in-process stores.
	Ping func(ctx context.Context) error
}
