package collab

import (
	"sync"

	"github.com/bucketworks/boardwalk/model"
)

// Session holds one project's per-process collaboration state: the last
// known action records and the backfill gate memory. The state is advisory;
// the action store stays authoritative and each card's last_event_id
// arbitrates concurrent writes.
type Session struct {
	projectID string

	mu       sync.Mutex
	actions  map[string]model.ProjectAction
	backfill backfillState
}

// backfillState remembers how the backfill gate fared this session. An
// aborted run keeps the session eligible so the next board load picks up the
// remaining work.
type backfillState struct {
	evaluated   bool
	needsRetry  bool
	lastOutcome model.BackfillOutcome
}

func newSession(projectID string) *Session {
	return &Session{
		projectID: projectID,
		actions:   make(map[string]model.ProjectAction),
	}
}

// rememberAll replaces the cached records with a fresh listing.
func (s *Session) rememberAll(actions []model.ProjectAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = make(map[string]model.ProjectAction, len(actions))
	for _, a := range actions {
		s.actions[a.ID] = a
	}
}

// remember upserts one record, typically after a mutation or a conflict
// re-fetch.
func (s *Session) remember(a model.ProjectAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ID] = a
}

// action returns the cached record for an id.
func (s *Session) action(actionID string) (model.ProjectAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[actionID]
	return a, ok
}

// backfillPending reports whether the gate should be evaluated on the next
// board load: either it never completed this session, or the last run
// aborted partway.
func (s *Session) backfillPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.backfill.evaluated || s.backfill.needsRetry
}

// recordBackfill stores an evaluation outcome. aborted marks the session for
// re-evaluation on the next load.
func (s *Session) recordBackfill(outcome model.BackfillOutcome, aborted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backfill.evaluated = true
	s.backfill.needsRetry = aborted
	s.backfill.lastOutcome = outcome
}
