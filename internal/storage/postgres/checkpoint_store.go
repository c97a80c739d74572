package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// GetCheckpoint loads a region's checkpoint or returns store.ErrNotFound.
func (s *Store) GetCheckpoint(ctx context.Context, regionCode string) (crawler.Checkpoint, error) {
	query := `
		SELECT region_code, last_sendid, updated_at
		FROM crawl_checkpoints
		WHERE region_code = $1;
	`
	var cp crawler.Checkpoint
	err := s.pool.QueryRow(ctx, query, regionCode).Scan(&cp.RegionCode, &cp.LastSendID, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Checkpoint{}, fmt.Errorf("checkpoint %s: %w", regionCode, store.ErrNotFound)
		}
		return crawler.Checkpoint{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

// SaveCheckpoint upserts the region's checkpoint in a single statement.
func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint crawler.Checkpoint) error {
	if checkpoint.RegionCode == "" {
		return fmt.Errorf("%w: region code is required", crawler.ErrValidation)
	}
	query := `
		INSERT INTO crawl_checkpoints (region_code, last_sendid, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (region_code) DO UPDATE
		SET last_sendid = EXCLUDED.last_sendid, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, checkpoint.RegionCode, checkpoint.LastSendID, checkpoint.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
