package memory

import (
	"context"
	"sync"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// CheckpointStore keeps projection checkpoints in a map.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]eventsourcing.Checkpoint
}

// NewCheckpointStore creates an empty checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]eventsourcing.Checkpoint)}
}

// SaveCheckpoint implements eventsourcing.CheckpointStore.
func (s *CheckpointStore) SaveCheckpoint(_ context.Context, cp eventsourcing.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ProjectionName] = cp
	return nil
}

// LoadCheckpoint implements eventsourcing.CheckpointStore.
func (s *CheckpointStore) LoadCheckpoint(_ context.Context, name string) (eventsourcing.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[name]
	if !ok {
		return eventsourcing.Checkpoint{}, eventsourcing.ErrCheckpointNotFound
	}
	return cp, nil
}

// DeleteCheckpoint implements eventsourcing.CheckpointStore.
func (s *CheckpointStore) DeleteCheckpoint(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, name)
	return nil
}

var _ eventsourcing.CheckpointStore = (*CheckpointStore)(nil)
