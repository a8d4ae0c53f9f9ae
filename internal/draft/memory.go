package draft

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bucketworks/boardwalk/model"
)

// MemoryStore is an in-memory Store. Drafts do not survive restarts;
// suitable for tests and single-node dev deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[string]model.Draft
}

// NewMemoryStore creates an empty in-memory draft store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]model.Draft)}
}

func draftKey(subjectID, actionID string) string {
	return fmt.Sprintf("%s:%s", subjectID, actionID)
}

// Put saves or replaces the subject's draft for d.ActionID.
func (s *MemoryStore) Put(_ context.Context, subjectID string, d model.Draft) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draftKey(subjectID, d.ActionID)] = d
	return nil
}

// Get returns the subject's draft for an action.
func (s *MemoryStore) Get(_ context.Context, subjectID, actionID string) (model.Draft, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[draftKey(subjectID, actionID)]
	return d, ok, nil
}

// Delete removes the subject's draft for an action.
func (s *MemoryStore) Delete(_ context.Context, subjectID, actionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, draftKey(subjectID, actionID))
	return nil
}

// ListByProject returns the subject's drafts within one project, newest
// first.
func (s *MemoryStore) ListByProject(_ context.Context, subjectID, projectID string) ([]model.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Draft
	for key, d := range s.drafts {
		if d.ProjectID != projectID {
			continue
		}
		if key != draftKey(subjectID, d.ActionID) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Len returns the number of stored drafts. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}
