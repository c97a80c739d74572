package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/metrics"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// incrementalBatch is how many collected items are processed between counter flushes.
const incrementalBatch = 10

// regionScan holds the state of one region inside one job.
type regionScan struct {
	engine     *Engine
	job        Job
	region     string
	classifier Classifier
	counters   *crawler.RunCounters
	logger     *zap.Logger

	emptyStreak int
	// holdUntil is set when a full scan starts over an existing checkpoint;
	// checkpoint writes wait until the walk reaches that sendid again.
	holdUntil string
	newest    string
}

func (s *regionScan) run(ctx context.Context) error {
	cp, err := s.engine.deps.Checkpoints.GetCheckpoint(ctx, s.region)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cp = crawler.Checkpoint{}
	case err != nil:
		return fmt.Errorf("load checkpoint for %s: %w", s.region, err)
	}

	if s.job.Params.Mode == crawler.ModeIncremental {
		if cp.LastSendID != "" {
			return s.incremental(ctx, cp.LastSendID)
		}
		s.logger.Info("no checkpoint, falling back to full history")
		return s.full(ctx)
	}
	s.holdUntil = cp.LastSendID
	return s.full(ctx)
}

// full walks pages from the oldest (highest index) to page 0 and each page's
// items in reverse, so items are handled oldest to newest.
func (s *regionScan) full(ctx context.Context) error {
	probe, err := s.listPage(ctx, 0)
	if err != nil {
		return err
	}
	total := probe.TotalPages
	s.logger.Info("full history scan", zap.Int("total_pages", total))

	for page := total - 1; page >= 0; page-- {
		if err := ctx.Err(); err != nil {
			s.logger.Info("full history scan interrupted", zap.Int("page", page))
			return err
		}
		current, err := s.listPage(ctx, page)
		if err != nil {
			return err
		}
		before := *s.counters
		aborted, err := s.process(ctx, reversed(current.Items))
		s.logPage(page, total, len(current.Items), before)
		s.engine.flush(ctx, s.job.RunID, *s.counters)
		if err != nil {
			return err
		}
		if aborted {
			// No releaseHold here: a hold still pending means the walk stopped
			// short of the previous checkpoint, so every handled item is older.
			return nil
		}
	}
	return s.releaseHold(ctx)
}

// incremental collects items from page 0 until the checkpoint pivot shows up,
// then handles them oldest first.
func (s *regionScan) incremental(ctx context.Context, pivot string) error {
	var (
		collected []crawler.ItemSummary
		found     bool
	)
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, err := s.listPage(ctx, page)
		if err != nil {
			return err
		}
		fresh := 0
		for _, item := range current.Items {
			if item.SendID == pivot {
				found = true
				break
			}
			collected = append(collected, item)
			fresh++
		}
		s.logger.Debug("incremental page collected",
			zap.Int("page", page),
			zap.Int("total_pages", current.TotalPages),
			zap.Int("new_items", fresh),
			zap.Bool("pivot_found", found),
		)
		if found || page >= current.TotalPages-1 {
			break
		}
	}
	if !found {
		metrics.ObservePivotMissing(s.region)
		s.logger.Warn("checkpoint pivot not found, treating all collected items as new",
			zap.String("pivot", pivot),
			zap.Int("items", len(collected)),
		)
	}
	if len(collected) == 0 {
		s.logger.Info("incremental scan found no new items")
		return nil
	}

	items := reversed(collected)
	for start := 0; start < len(items); start += incrementalBatch {
		end := min(start+incrementalBatch, len(items))
		aborted, err := s.process(ctx, items[start:end])
		s.engine.flush(ctx, s.job.RunID, *s.counters)
		if err != nil || aborted {
			return err
		}
	}
	s.logger.Info("incremental scan finished", zap.Int("items", len(items)))
	return nil
}

// listPage fetches one catalog page, retrying network failures.
func (s *regionScan) listPage(ctx context.Context, page int) (crawler.ItemPage, error) {
	var out crawler.ItemPage
	retry := s.engine.deps.Retry
	_, err := retry.Do(ctx, func(ctx context.Context) error {
		p, err := s.engine.deps.Catalog.ListItems(ctx, s.region, page)
		if err != nil {
			return err
		}
		out = p
		return nil
	}, func(attempt int, err error) {
		s.logger.Warn("list items failed, retrying",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retry.MaxAttempts()),
			zap.Error(err),
		)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.ItemPage{}, ctxErr
		}
		return crawler.ItemPage{}, fmt.Errorf("list items %s page %d: %w", s.region, page, err)
	}
	return out, nil
}

// advance moves the checkpoint to sendID. It uses a context that survives
// cancellation because the item has already been handled.
func (s *regionScan) advance(ctx context.Context, sendID string) error {
	if sendID == "" {
		return nil
	}
	if s.holdUntil != "" {
		s.newest = sendID
		if sendID != s.holdUntil {
			return nil
		}
		s.holdUntil = ""
	}
	return s.save(ctx, sendID)
}

// releaseHold writes the newest handled item when a full scan never met the
// previous checkpoint.
func (s *regionScan) releaseHold(ctx context.Context) error {
	if s.holdUntil == "" || s.newest == "" {
		return nil
	}
	s.logger.Warn("previous checkpoint not seen during full scan",
		zap.String("previous", s.holdUntil),
		zap.String("newest", s.newest),
	)
	s.holdUntil = ""
	return s.save(ctx, s.newest)
}

func (s *regionScan) save(ctx context.Context, sendID string) error {
	cp := crawler.Checkpoint{
		RegionCode: s.region,
		LastSendID: sendID,
		UpdatedAt:  s.engine.deps.Clock.Now(),
	}
	if err := s.engine.deps.Checkpoints.SaveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", s.region, err)
	}
	return nil
}

func (s *regionScan) logPage(page, total, items int, before crawler.RunCounters) {
	s.logger.Info("page scanned",
		zap.Int("page", page+1),
		zap.Int("total_pages", total),
		zap.Int("items", items),
		zap.Int("matched", s.counters.MatchedProjects-before.MatchedProjects),
		zap.Int("new", s.counters.NewProjects-before.NewProjects),
	)
}

func reversed(items []crawler.ItemSummary) []crawler.ItemSummary {
	out := make([]crawler.ItemSummary, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out
}
