// Package descriptor resolves and caches per-project workflow descriptors,
// substituting the built-in default pipeline when a project has none.
package descriptor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/model"
)

// WorkflowSource is the slice of the action store the resolver reads from.
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, projectID string) (model.WorkflowDescriptor, error)
}

type cacheEntry struct {
	descriptor model.WorkflowDescriptor
	expires    time.Time
}

// Resolver loads workflow descriptors from the action store with an in-memory
// per-project cache. Every descriptor it hands out is normalized and complete:
// a failed or empty upstream lookup yields the built-in default pipeline, so
// callers never special-case a missing workflow configuration.
type Resolver struct {
	store   WorkflowSource
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a Resolver over the given store with the given cache TTL.
func NewResolver(store WorkflowSource, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		cache:   make(map[string]cacheEntry),
	}
}

// Resolve returns the project's normalized workflow descriptor. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(ctx context.Context, projectID string) model.WorkflowDescriptor {
	r.mu.RLock()
	if entry, ok := r.cache[projectID]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		if r.metrics != nil {
			r.metrics.RecordDescriptorCacheHit()
		}
		return entry.descriptor
	}
	r.mu.RUnlock()

	if r.metrics != nil {
		r.metrics.RecordDescriptorCacheMiss()
	}
	return r.load(ctx, projectID)
}

// Refresh bypasses the cache and re-resolves the project's descriptor. Used
// after project settings edits.
func (r *Resolver) Refresh(ctx context.Context, projectID string) model.WorkflowDescriptor {
	return r.load(ctx, projectID)
}

// Invalidate drops the cached descriptor for a project.
func (r *Resolver) Invalidate(projectID string) {
	r.mu.Lock()
	delete(r.cache, projectID)
	r.mu.Unlock()
}

func (r *Resolver) load(ctx context.Context, projectID string) model.WorkflowDescriptor {
	ctx, span := observability.StartSpan(ctx, "descriptor.resolve",
		observability.AttrProjectID.String(projectID),
		observability.AttrCacheHit.Bool(false),
	)
	defer span.End()

	d, err := r.store.GetWorkflow(ctx, projectID)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordDescriptorFallback()
		}
		fallback := r.defaultFor(projectID)
		if model.IsNotFound(err) {
			// The project genuinely has no workflow configuration. Cache the
			// default like any other answer.
			r.logger.Debug("descriptor: project has no workflow, using default",
				zap.String("project_id", projectID),
			)
			r.put(projectID, fallback)
			return fallback
		}
		// Transient upstream failure. Serve the default but leave the cache
		// alone so the next resolve retries the real configuration.
		r.logger.Warn("descriptor: workflow fetch failed, using default",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return fallback
	}

	d.Normalize()
	if len(d.CanonicalStatuses) == 0 {
		if r.metrics != nil {
			r.metrics.RecordDescriptorFallback()
		}
		r.logger.Warn("descriptor: remote workflow has no canonical statuses, using default",
			zap.String("project_id", projectID),
		)
		d = r.defaultFor(projectID)
	}
	if d.ProjectID == "" {
		d.ProjectID = projectID
	}

	r.put(projectID, d)
	return d
}

func (r *Resolver) put(projectID string, d model.WorkflowDescriptor) {
	r.mu.Lock()
	r.cache[projectID] = cacheEntry{descriptor: d, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
}

func (r *Resolver) defaultFor(projectID string) model.WorkflowDescriptor {
	d := *model.DefaultWorkflowDescriptor()
	d.ProjectID = projectID
	return d
}
