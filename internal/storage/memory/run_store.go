package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// RunStore keeps crawl runs in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.CrawlRun
}

var _ store.RunStore = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]crawler.CrawlRun)}
}

// CreateRun appends a run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	run.Regions = append([]string(nil), run.Regions...)
	s.runs[run.ID] = run
	return nil
}

// UpdateRunCounters overwrites counters and status of an open run.
func (s *RunStore) UpdateRunCounters(
	_ context.Context,
	runID string,
	status crawler.JobStatus,
	counters crawler.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	if run.FinishedAt != nil {
		return nil
	}
	run.Status = status
	run.Counters = counters
	s.runs[runID] = run
	return nil
}

// FinishRun closes a run.
func (s *RunStore) FinishRun(
	_ context.Context,
	runID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.RunCounters,
	finishedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	run.FinishedAt = pointerTime(finishedAt)
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.CrawlRun{}, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]crawler.CrawlRun, error) {
	s.mu.RLock()
	out := make([]crawler.CrawlRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return []crawler.CrawlRun{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// NewRepositories bundles fresh in-memory stores.
func NewRepositories() store.Repositories {
	return store.Repositories{
		Checkpoints: NewCheckpointStore(),
		Projects:    NewProjectStore(),
		Runs:        NewRunStore(),
	}
}
