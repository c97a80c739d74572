package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// CheckpointStore keeps region checkpoints in memory.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]crawler.Checkpoint
}

var _ store.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore constructs a CheckpointStore.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]crawler.Checkpoint)}
}

// GetCheckpoint returns the region's checkpoint or store.ErrNotFound.
func (s *CheckpointStore) GetCheckpoint(_ context.Context, regionCode string) (crawler.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[regionCode]
	if !ok {
		return crawler.Checkpoint{}, fmt.Errorf("checkpoint %s: %w", regionCode, store.ErrNotFound)
	}
	return cp, nil
}

// SaveCheckpoint replaces the region's checkpoint.
func (s *CheckpointStore) SaveCheckpoint(_ context.Context, checkpoint crawler.Checkpoint) error {
	if checkpoint.RegionCode == "" {
		return fmt.Errorf("%w: region code is required", crawler.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[checkpoint.RegionCode] = checkpoint
	return nil
}
