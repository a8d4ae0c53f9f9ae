// Package member caches project membership and answers the edit-rights
// checks that gate every mutation.
package member

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/model"
)

// MemberSource is the slice of the action store the directory reads from.
type MemberSource interface {
	ListMembers(ctx context.Context, projectID string) ([]model.Member, error)
}

type cacheEntry struct {
	members []model.Member
	expires time.Time
}

// Directory answers membership and edit-rights questions with an in-memory
// per-project cache. Reads require membership; mutations require the owner
// or editor role.
type Directory struct {
	store   MemberSource
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewDirectory creates a Directory over the given store with the given cache
// TTL.
func NewDirectory(store MemberSource, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		cache:   make(map[string]cacheEntry),
	}
}

// Members returns the project's member list. Results are cached for the
// configured TTL.
func (d *Directory) Members(ctx context.Context, projectID string) ([]model.Member, error) {
	d.mu.RLock()
	if entry, ok := d.cache[projectID]; ok && time.Now().Before(entry.expires) {
		d.mu.RUnlock()
		if d.metrics != nil {
			d.metrics.RecordMemberCacheHit()
		}
		return entry.members, nil
	}
	d.mu.RUnlock()

	if d.metrics != nil {
		d.metrics.RecordMemberCacheMiss()
	}

	members, err := d.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members for project %s: %w", projectID, err)
	}

	d.mu.Lock()
	d.cache[projectID] = cacheEntry{members: members, expires: time.Now().Add(d.ttl)}
	d.mu.Unlock()

	d.logger.Debug("member list refreshed",
		zap.String("project_id", projectID),
		zap.Int("members", len(members)))

	return members, nil
}

// Lookup returns the subject's member record in the project, if any.
func (d *Directory) Lookup(ctx context.Context, projectID, subjectID string) (model.Member, bool, error) {
	members, err := d.Members(ctx, projectID)
	if err != nil {
		return model.Member{}, false, err
	}
	for _, m := range members {
		if m.SubjectID == subjectID {
			return m, true, nil
		}
	}
	return model.Member{}, false, nil
}

// IsMember reports whether the subject belongs to the project.
func (d *Directory) IsMember(ctx context.Context, projectID, subjectID string) (bool, error) {
	_, found, err := d.Lookup(ctx, projectID, subjectID)
	return found, err
}

// CanEdit reports whether the subject may mutate the project: true iff the
// subject is a member with the owner or editor role.
func (d *Directory) CanEdit(ctx context.Context, projectID, subjectID string) (bool, error) {
	m, found, err := d.Lookup(ctx, projectID, subjectID)
	if err != nil {
		return false, err
	}
	return found && m.Role.CanEdit(), nil
}

// Invalidate drops the project's cached member list. Called after member
// mutations so rights checks see the change immediately.
func (d *Directory) Invalidate(projectID string) {
	d.mu.Lock()
	delete(d.cache, projectID)
	d.mu.Unlock()
}
