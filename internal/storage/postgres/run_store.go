package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

const runColumns = `id, job_id, mode, regions, status, error_text,
	total_items, matched_projects, new_projects, filtered_items, skipped_items, aborted_regions,
	started_at, finished_at`

// CreateRun appends a crawl run row.
func (s *Store) CreateRun(ctx context.Context, run crawler.CrawlRun) error {
	regions, err := json.Marshal(nonNil(run.Regions))
	if err != nil {
		return fmt.Errorf("failed to encode regions: %w", err)
	}
	query := `
		INSERT INTO crawl_runs (id, job_id, mode, regions, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.JobID, string(run.Mode), regions, string(run.Status), run.StartedAt); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRunCounters overwrites counters and status of an open run.
func (s *Store) UpdateRunCounters(
	ctx context.Context,
	runID string,
	status crawler.JobStatus,
	counters crawler.RunCounters,
) error {
	query := `
		UPDATE crawl_runs
		SET status = $2, total_items = $3, matched_projects = $4, new_projects = $5,
		    filtered_items = $6, skipped_items = $7, aborted_regions = $8
		WHERE id = $1 AND finished_at IS NULL;
	`
	tag, err := s.pool.Exec(ctx, query, runID, string(status),
		counters.TotalItems, counters.MatchedProjects, counters.NewProjects,
		counters.FilteredItems, counters.SkippedItems, counters.AbortedRegions)
	if err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Finished runs are left untouched; only a missing run is an error.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_runs WHERE id = $1);`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if !exists {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// FinishRun closes a run with its final status and counters.
func (s *Store) FinishRun(
	ctx context.Context,
	runID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.RunCounters,
	finishedAt time.Time,
) error {
	query := `
		UPDATE crawl_runs
		SET status = $2, error_text = $3, total_items = $4, matched_projects = $5, new_projects = $6,
		    filtered_items = $7, skipped_items = $8, aborted_regions = $9, finished_at = $10
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, runID, string(status), errText,
		counters.TotalItems, counters.MatchedProjects, counters.NewProjects,
		counters.FilteredItems, counters.SkippedItems, counters.AbortedRegions, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (crawler.CrawlRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = $1;`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlRun{}, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
		}
		return crawler.CrawlRun{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]crawler.CrawlRun, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + runColumns + ` FROM crawl_runs ORDER BY started_at DESC, id DESC LIMIT $1 OFFSET $2;`
	rows, err := s.pool.Query(ctx, query, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := []crawler.CrawlRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (crawler.CrawlRun, error) {
	var (
		run     crawler.CrawlRun
		mode    string
		status  string
		regions []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.JobID,
		&mode,
		&regions,
		&status,
		&run.ErrorText,
		&run.Counters.TotalItems,
		&run.Counters.MatchedProjects,
		&run.Counters.NewProjects,
		&run.Counters.FilteredItems,
		&run.Counters.SkippedItems,
		&run.Counters.AbortedRegions,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		return crawler.CrawlRun{}, err
	}
	run.Mode = crawler.CrawlMode(mode)
	run.Status = crawler.JobStatus(status)
	if len(regions) > 0 {
		if err := json.Unmarshal(regions, &run.Regions); err != nil {
			return crawler.CrawlRun{}, fmt.Errorf("decode regions: %w", err)
		}
	}
	return run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
