package descriptor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/model"
)

type stubWorkflowSource struct {
	calls atomic.Int32
	fn    func(projectID string) (model.WorkflowDescriptor, error)
}

func (s *stubWorkflowSource) GetWorkflow(_ context.Context, projectID string) (model.WorkflowDescriptor, error) {
	s.calls.Add(1)
	return s.fn(projectID)
}

func remoteDescriptor() model.WorkflowDescriptor {
	return model.WorkflowDescriptor{
		ProjectID:         "proj-1",
		CanonicalStatuses: []model.Status{"todo", "doing", "finished"},
		ColumnLabels:      map[model.Status]string{"todo": "To Do"},
		DefaultStatus:     "todo",
		DoneStatuses:      []model.Status{"finished"},
	}
}

func TestResolver_Resolve_remoteDescriptor(t *testing.T) {
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return remoteDescriptor(), nil
	}}
	resolver := NewResolver(source, time.Minute, nil, nil)

	d := resolver.Resolve(context.Background(), "proj-1")
	if len(d.CanonicalStatuses) != 3 {
		t.Fatalf("CanonicalStatuses = %v", d.CanonicalStatuses)
	}
	if d.DefaultStatus != "todo" {
		t.Errorf("DefaultStatus = %q, want todo", d.DefaultStatus)
	}
}

func TestResolver_Resolve_normalizesRemoteDescriptor(t *testing.T) {
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return model.WorkflowDescriptor{
			ProjectID:         "proj-1",
			CanonicalStatuses: []model.Status{"todo", "doing", "todo"},
			DefaultStatus:     "archived", // Not canonical.
			DoneStatuses:      []model.Status{"shipped"},
		}, nil
	}}
	resolver := NewResolver(source, time.Minute, nil, nil)

	d := resolver.Resolve(context.Background(), "proj-1")
	if len(d.CanonicalStatuses) != 2 {
		t.Errorf("CanonicalStatuses = %v, want duplicates dropped", d.CanonicalStatuses)
	}
	if d.DefaultStatus != "todo" {
		t.Errorf("DefaultStatus = %q, want substitution with first canonical", d.DefaultStatus)
	}
	if len(d.DoneStatuses) != 1 || d.DoneStatuses[0] != "todo" {
		t.Errorf("DoneStatuses = %v, want [todo]", d.DoneStatuses)
	}
}

func TestResolver_Resolve_cachesWithinTTL(t *testing.T) {
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return remoteDescriptor(), nil
	}}
	resolver := NewResolver(source, time.Minute, nil, nil)

	resolver.Resolve(context.Background(), "proj-1")
	resolver.Resolve(context.Background(), "proj-1")

	if n := source.calls.Load(); n != 1 {
		t.Errorf("store called %d times, want 1 (cache hit)", n)
	}
}

func TestResolver_Resolve_expiresAfterTTL(t *testing.T) {
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return remoteDescriptor(), nil
	}}
	resolver := NewResolver(source, 10*time.Millisecond, nil, nil)

	resolver.Resolve(context.Background(), "proj-1")
	time.Sleep(20 * time.Millisecond)
	resolver.Resolve(context.Background(), "proj-1")

	if n := source.calls.Load(); n != 2 {
		t.Errorf("store called %d times, want 2 (entry expired)", n)
	}
}

func TestResolver_Resolve_notFoundYieldsDefault(t *testing.T) {
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return model.WorkflowDescriptor{}, model.NewNotFoundError("no workflow")
	}}
	resolver := NewResolver(source, time.Minute, nil, nil)

	d := resolver.Resolve(context.Background(), "proj-1")
	if d.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q, want proj-1", d.ProjectID)
	}
	if len(d.CanonicalStatuses) != 4 {
		t.Fatalf("CanonicalStatuses = %v, want the built-in pipeline", d.CanonicalStatuses)
	}
	if d.DefaultStatus != model.StatusBacklog {
		t.Errorf("DefaultStatus = %q, want backlog", d.DefaultStatus)
	}
	if !d.IsDone(model.StatusDone) || !d.IsBlocked(model.StatusBlocked) {
		t.Error("default descriptor must tag done and blocked")
	}

	// A configured absence is a cacheable answer.
	resolver.Resolve(context.Background(), "proj-1")
	if n := source.calls.Load(); n != 1 {
		t.Errorf("store called %d times, want 1 (not-found cached)", n)
	}
}

func TestResolver_Resolve_transientFailureNotCached(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		if failing.Load() {
			return model.WorkflowDescriptor{}, model.NewUpstreamUnavailableError()
		}
		return remoteDescriptor(), nil
	}}
	resolver := NewResolver(source, time.Minute, nil, nil)

	d := resolver.Resolve(context.Background(), "proj-1")
	if len(d.CanonicalStatuses) != 4 {
		t.Fatalf("CanonicalStatuses = %v, want the built-in pipeline while upstream is down", d.CanonicalStatuses)
	}

	// Once the upstream recovers, the next resolve sees the real workflow.
	failing.Store(false)
	d = resolver.Resolve(context.Background(), "proj-1")
	if d.DefaultStatus != "todo" {
		t.Errorf("DefaultStatus = %q, want todo after recovery", d.DefaultStatus)
	}
	if n := source.calls.Load(); n != 2 {
		t.Errorf("store called %d times, want 2 (failure not cached)", n)
	}
}

func TestResolver_Resolve_emptyRemoteFallsBackToDefault(t *testing.T) {
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return model.WorkflowDescriptor{ProjectID: "proj-1"}, nil
	}}
	resolver := NewResolver(source, time.Minute, nil, nil)

	d := resolver.Resolve(context.Background(), "proj-1")
	if len(d.CanonicalStatuses) != 4 {
		t.Errorf("CanonicalStatuses = %v, want the built-in pipeline", d.CanonicalStatuses)
	}
}

func TestResolver_Refresh_bypassesCache(t *testing.T) {
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return remoteDescriptor(), nil
	}}
	resolver := NewResolver(source, time.Minute, nil, nil)

	resolver.Resolve(context.Background(), "proj-1")
	resolver.Refresh(context.Background(), "proj-1")

	if n := source.calls.Load(); n != 2 {
		t.Errorf("store called %d times, want 2 (refresh bypasses cache)", n)
	}

	// Refresh repopulates the cache for subsequent resolves.
	resolver.Resolve(context.Background(), "proj-1")
	if n := source.calls.Load(); n != 2 {
		t.Errorf("store called %d times, want 2 (refresh result cached)", n)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return remoteDescriptor(), nil
	}}
	resolver := NewResolver(source, time.Minute, nil, nil)

	resolver.Resolve(context.Background(), "proj-1")
	resolver.Invalidate("proj-1")
	resolver.Resolve(context.Background(), "proj-1")

	if n := source.calls.Load(); n != 2 {
		t.Errorf("store called %d times, want 2 (invalidated)", n)
	}
}

func TestResolver_recordsCacheMetrics(t *testing.T) {
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	source := &stubWorkflowSource{fn: func(string) (model.WorkflowDescriptor, error) {
		return model.WorkflowDescriptor{}, model.NewNotFoundError("no workflow")
	}}
	resolver := NewResolver(source, time.Minute, nil, metrics)

	resolver.Resolve(context.Background(), "proj-1") // Miss + fallback.
	resolver.Resolve(context.Background(), "proj-1") // Hit.

	if got := testutil.ToFloat64(metrics.DescriptorCacheMissesTotal); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.DescriptorCacheHitsTotal); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.DescriptorFallbacksTotal); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}
