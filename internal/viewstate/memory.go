package viewstate

import (
	"context"
	"sync"

	"github.com/bucketworks/boardwalk/model"
)

// MemoryStore is an in-memory Store. Suitable for tests and single-node dev
// deployments; slots do not survive restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	modes map[string]model.PresentationMode
}

// NewMemoryStore creates an empty in-memory view-state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{modes: make(map[string]model.PresentationMode)}
}

// Driver names the backing implementation.
func (s *MemoryStore) Driver() string { return "memory" }

// GetMode returns the stored mode for the subject's project slot.
func (s *MemoryStore) GetMode(_ context.Context, subjectID, projectID string) (model.PresentationMode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mode, ok := s.modes[FormatKey(subjectID, projectID)]
	return mode, ok, nil
}

// PutMode stores the mode in the subject's project slot.
func (s *MemoryStore) PutMode(_ context.Context, subjectID, projectID string, mode model.PresentationMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[FormatKey(subjectID, projectID)] = mode
	return nil
}

// Len returns the number of stored slots. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modes)
}
