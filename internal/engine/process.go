package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/metrics"
)

// process handles items in order, advancing the checkpoint after each one.
// It reports aborted=true when the circuit breaker trips.
func (s *regionScan) process(ctx context.Context, items []crawler.ItemSummary) (bool, error) {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			s.logger.Info("item processing interrupted", zap.String("send_id", item.SendID))
			return false, err
		}
		outcome, err := s.handle(ctx, item)
		if err != nil {
			return false, err
		}
		s.counters.TotalItems++
		metrics.ObserveItem(s.region, outcome)
		if err := s.advance(ctx, item.SendID); err != nil {
			return false, err
		}
		if s.emptyStreak >= s.engine.cfg.BreakerThreshold {
			s.counters.AbortedRegions++
			metrics.ObserveCircuitBreak(s.region)
			s.logger.Error("region aborted: upstream keeps returning empty project details",
				zap.Int("consecutive_empty", s.emptyStreak),
				zap.String("send_id", item.SendID),
			)
			return true, nil
		}
	}
	return false, nil
}

// handle classifies one item and returns its metrics outcome. An error means
// the item was not handled and the checkpoint must stay where it is.
func (s *regionScan) handle(ctx context.Context, item crawler.ItemSummary) (string, error) {
	logger := s.logger.With(zap.String("send_id", item.SendID), zap.String("project_id", item.ProjectID))
	if item.ProjectID == "" {
		s.counters.SkippedItems++
		logger.Warn("item has no project id")
		return metrics.OutcomeSkipped, nil
	}

	known, err := s.engine.deps.Projects.ProjectExists(ctx, item.ProjectID)
	if err != nil {
		return "", fmt.Errorf("check project %s: %w", item.ProjectID, err)
	}
	if known {
		s.counters.MatchedProjects++
		s.emptyStreak = 0
		return metrics.OutcomeRehit, nil
	}

	detail, outcome, err := s.fetchDetail(ctx, item, logger)
	if err != nil || outcome != "" {
		return outcome, err
	}

	if kw, excluded := s.classifier.Excluded(detail.Name); excluded {
		s.counters.FilteredItems++
		logger.Info("project filtered", zap.String("name", detail.Name), zap.String("keyword", kw))
		return metrics.OutcomeFiltered, nil
	}

	if len(detail.Items) == 0 {
		s.emptyStreak++
	} else {
		s.emptyStreak = 0
	}
	if !s.classifier.Matches(detail) {
		return metrics.OutcomeUnmatched, nil
	}

	projectID := detail.ProjectID
	if projectID == "" {
		projectID = item.ProjectID
	}
	project := crawler.DiscoveredProject{
		ProjectID:    projectID,
		Name:         detail.Name,
		RegionCode:   s.region,
		DiscoveredAt: s.engine.deps.Clock.Now(),
	}
	created, err := s.engine.deps.Projects.UpsertProject(ctx, project)
	if err != nil {
		return "", fmt.Errorf("store project %s: %w", projectID, err)
	}
	s.counters.MatchedProjects++
	if !created {
		return metrics.OutcomeMatched, nil
	}
	s.counters.NewProjects++
	logger.Info("project recorded", zap.String("name", detail.Name))
	s.publish(ctx, project)
	return metrics.OutcomeNew, nil
}

// fetchDetail loads the project detail with retries. A non-empty outcome means
// the item is done (skipped) without a detail.
func (s *regionScan) fetchDetail(
	ctx context.Context,
	item crawler.ItemSummary,
	logger *zap.Logger,
) (crawler.ProjectDetail, string, error) {
	var detail crawler.ProjectDetail
	retry := s.engine.deps.Retry
	attempts, err := retry.Do(ctx, func(ctx context.Context) error {
		d, err := s.engine.deps.Catalog.GetProjectDetail(ctx, item.ProjectID)
		if err != nil {
			return err
		}
		detail = d
		return nil
	}, func(attempt int, err error) {
		metrics.ObserveDetailRetry()
		logger.Warn("detail fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retry.MaxAttempts()),
			zap.Error(err),
		)
	})
	switch {
	case err == nil:
		if attempts > 1 {
			logger.Info("detail fetched after retries", zap.Int("attempts", attempts))
		}
		return detail, "", nil
	case ctx.Err() != nil:
		return crawler.ProjectDetail{}, "", ctx.Err()
	case errors.Is(err, crawler.ErrNotFound):
		s.counters.SkippedItems++
		logger.Warn("project has no detail, skipping")
		return crawler.ProjectDetail{}, metrics.OutcomeSkipped, nil
	case errors.Is(err, crawler.ErrNetwork):
		s.counters.SkippedItems++
		logger.Error("detail fetch exhausted retries, skipping",
			zap.Bool("critical", true),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return crawler.ProjectDetail{}, metrics.OutcomeCritical, nil
	default:
		s.counters.SkippedItems++
		logger.Warn("detail fetch failed, skipping", zap.Error(err))
		return crawler.ProjectDetail{}, metrics.OutcomeSkipped, nil
	}
}

func (s *regionScan) publish(ctx context.Context, project crawler.DiscoveredProject) {
	pub := s.engine.deps.Publisher
	topic := s.engine.cfg.DiscoveryTopic
	if pub == nil || topic == "" {
		return
	}
	event := crawler.DiscoveryEvent{
		ProjectID:  project.ProjectID,
		Name:       project.Name,
		RegionCode: project.RegionCode,
		JobID:      s.job.JobID,
		RunID:      s.job.RunID,
		Discovered: project.DiscoveredAt,
	}
	if _, err := pub.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("publish discovery event", zap.String("project_id", project.ProjectID), zap.Error(err))
	}
}
