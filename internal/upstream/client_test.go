package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bucketworks/boardwalk/internal/config"
	"github.com/bucketworks/boardwalk/model"
)

func defaultUpstreamConfig(baseURL string) config.UpstreamConfig {
	return config.UpstreamConfig{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:       1,
			BackoffInitial:    1 * time.Millisecond,
			BackoffMultiplier: 1,
			BackoffMax:        5 * time.Millisecond,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      30 * time.Second,
		},
	}
}

func newTestClient(t *testing.T, cfg config.UpstreamConfig) *Client {
	t.Helper()
	return NewClient(cfg, nil, nil)
}

// --- Typed reads ---

func TestClient_GetWorkflow_decodesDescriptor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/v1/projects/proj-1/workflow" {
			t.Errorf("path = %s, want /v1/projects/proj-1/workflow", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"project_id":         "proj-1",
			"canonical_statuses": []string{"todo", "doing", "finished"},
			"column_labels":      map[string]string{"todo": "To Do"},
			"default_status":     "todo",
			"done_statuses":      []string{"finished"},
			"blocked_statuses":   []string{},
		})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	wf, err := client.GetWorkflow(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("GetWorkflow error: %v", err)
	}
	if wf.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q, want proj-1", wf.ProjectID)
	}
	if len(wf.CanonicalStatuses) != 3 {
		t.Errorf("CanonicalStatuses = %v, want 3 entries", wf.CanonicalStatuses)
	}
	if wf.DefaultStatus != "todo" {
		t.Errorf("DefaultStatus = %q, want todo", wf.DefaultStatus)
	}
	if wf.Label("todo") != "To Do" {
		t.Errorf("Label(todo) = %q, want To Do", wf.Label("todo"))
	}
}

func TestClient_ListActions_decodesList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/projects/proj-1/actions" {
			t.Errorf("path = %s, want /v1/projects/proj-1/actions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "act-1", "name": "Write brief", "action_status": "active", "last_event_id": 3},
			{"id": "act-2", "name": "Review brief", "action_status": "backlog", "last_event_id": 1},
		})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	actions, err := client.ListActions(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("ListActions error: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("len = %d, want 2", len(actions))
	}
	if actions[0].ID != "act-1" || actions[0].ActionStatus != "active" {
		t.Errorf("actions[0] = %+v", actions[0])
	}
	if actions[1].LastEventID != 1 {
		t.Errorf("actions[1].LastEventID = %d, want 1", actions[1].LastEventID)
	}
}

func TestClient_GetWorkflow_escapesProjectID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); got != "/v1/projects/proj%2Fwith%20space/workflow" {
			t.Errorf("escaped path = %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"project_id": "proj/with space"})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	if _, err := client.GetWorkflow(context.Background(), "proj/with space"); err != nil {
		t.Fatalf("GetWorkflow error: %v", err)
	}
}

// --- Typed writes ---

func TestClient_CreateAction_postsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/projects/proj-1/actions" {
			t.Errorf("path = %s, want /v1/projects/proj-1/actions", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		var input model.CreateActionInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if input.Name != "Draft proposal" {
			t.Errorf("body name = %q, want %q", input.Name, "Draft proposal")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "act-new", "name": "Draft proposal", "action_status": "backlog", "last_event_id": 1,
		})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	created, err := client.CreateAction(context.Background(), "proj-1", model.CreateActionInput{
		Name:         "Draft proposal",
		ActionStatus: "backlog",
	})
	if err != nil {
		t.Fatalf("CreateAction error: %v", err)
	}
	if created.ID != "act-new" {
		t.Errorf("ID = %q, want act-new", created.ID)
	}
	if created.LastEventID != 1 {
		t.Errorf("LastEventID = %d, want 1", created.LastEventID)
	}
}

func TestClient_UpdateAction_patches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if r.URL.Path != "/v1/actions/act-1" {
			t.Errorf("path = %s, want /v1/actions/act-1", r.URL.Path)
		}
		var input model.UpdateActionInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if input.ExpectedLastEventID != 4 {
			t.Errorf("expected_last_event_id = %d, want 4", input.ExpectedLastEventID)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "act-1", "name": "Renamed", "last_event_id": 5})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	name := "Renamed"
	updated, err := client.UpdateAction(context.Background(), "act-1", model.UpdateActionInput{
		Name:                &name,
		ExpectedLastEventID: 4,
	})
	if err != nil {
		t.Fatalf("UpdateAction error: %v", err)
	}
	if updated.Name != "Renamed" || updated.LastEventID != 5 {
		t.Errorf("updated = %+v", updated)
	}
}

func TestClient_TransitionAction_posts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/actions/act-1/transition" {
			t.Errorf("path = %s, want /v1/actions/act-1/transition", r.URL.Path)
		}
		var input model.TransitionInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if input.ToStatus != "done" {
			t.Errorf("to_status = %q, want done", input.ToStatus)
		}
		if input.CorrelationID == "" {
			t.Error("correlation_id missing from transition body")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "act-1", "action_status": "done", "last_event_id": 6})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	moved, err := client.TransitionAction(context.Background(), "act-1", model.TransitionInput{
		ToStatus:            "done",
		ExpectedLastEventID: 5,
		CorrelationID:       "corr-123",
	})
	if err != nil {
		t.Fatalf("TransitionAction error: %v", err)
	}
	if moved.ActionStatus != "done" {
		t.Errorf("ActionStatus = %q, want done", moved.ActionStatus)
	}
}

func TestClient_RemoveMember_deletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if r.URL.Path != "/v1/projects/proj-1/members/mem-1" {
			t.Errorf("path = %s, want /v1/projects/proj-1/members/mem-1", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	if err := client.RemoveMember(context.Background(), "proj-1", "mem-1"); err != nil {
		t.Fatalf("RemoveMember error: %v", err)
	}
}

// --- Error mapping ---

func TestClient_mapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"code": "NOT_FOUND", "message": "no such project"})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	_, err := client.GetWorkflow(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if code := model.CodeOf(err); code != model.ErrNotFound {
		t.Errorf("code = %s, want %s", code, model.ErrNotFound)
	}
	envelope, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if envelope.Message != "no such project" {
		t.Errorf("message = %q, want upstream message preserved", envelope.Message)
	}
}

func TestClient_mapsCreateConflictToDuplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"code": "DUPLICATE", "message": "canonical id already present"})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	_, err := client.CreateAction(context.Background(), "proj-1", model.CreateActionInput{Name: "x"})
	if !model.IsDuplicate(err) {
		t.Errorf("err = %v, want DUPLICATE", err)
	}
}

func TestClient_mapsUpdateConflictToStaleVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	name := "x"
	_, err := client.UpdateAction(context.Background(), "act-1", model.UpdateActionInput{Name: &name, ExpectedLastEventID: 1})
	if !model.IsStaleVersion(err) {
		t.Errorf("update err = %v, want STALE_VERSION", err)
	}

	_, err = client.TransitionAction(context.Background(), "act-1", model.TransitionInput{ToStatus: "done", ExpectedLastEventID: 1})
	if !model.IsStaleVersion(err) {
		t.Errorf("transition err = %v, want STALE_VERSION", err)
	}
}

func TestClient_mapsBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"code": "BAD_REQUEST", "message": "name is required"})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	_, err := client.CreateAction(context.Background(), "proj-1", model.CreateActionInput{})
	if code := model.CodeOf(err); code != model.ErrBadRequest {
		t.Errorf("code = %s, want %s", code, model.ErrBadRequest)
	}
}

func TestClient_mapsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	_, err := client.GetWorkflow(context.Background(), "proj-1")
	if code := model.CodeOf(err); code != model.ErrUpstreamError {
		t.Errorf("code = %s, want %s", code, model.ErrUpstreamError)
	}
}

func TestClient_mapsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	_, err := client.ListActions(context.Background(), "proj-1")
	if code := model.CodeOf(err); code != model.ErrUpstreamUnavailable {
		t.Errorf("code = %s, want %s", code, model.ErrUpstreamUnavailable)
	}
}

func TestClient_mapsDeadlineToTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GetWorkflow(ctx, "proj-1")
	if code := model.CodeOf(err); code != model.ErrUpstreamTimeout {
		t.Errorf("code = %s, want %s", code, model.ErrUpstreamTimeout)
	}
}

func TestClient_mapsConnectionRefusedToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, defaultUpstreamConfig(url))

	_, err := client.GetWorkflow(context.Background(), "proj-1")
	if code := model.CodeOf(err); code != model.ErrUpstreamUnavailable {
		t.Errorf("code = %s, want %s", code, model.ErrUpstreamUnavailable)
	}
}

// --- Retry logic ---

func TestClient_retriesReadsOnTransientStatus(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := callCount.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"project_id": "proj-1"})
	}))
	defer server.Close()

	cfg := defaultUpstreamConfig(server.URL)
	cfg.Retry.MaxAttempts = 3
	cfg.CircuitBreaker.FailureThreshold = 10
	client := newTestClient(t, cfg)

	wf, err := client.GetWorkflow(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("GetWorkflow error: %v", err)
	}
	if wf.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q, want proj-1", wf.ProjectID)
	}
	if callCount.Load() != 3 {
		t.Errorf("server called %d times, want 3", callCount.Load())
	}
}

func TestClient_neverRetriesMutations(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := defaultUpstreamConfig(server.URL)
	cfg.Retry.MaxAttempts = 3
	cfg.CircuitBreaker.FailureThreshold = 10
	client := newTestClient(t, cfg)

	_, err := client.CreateAction(context.Background(), "proj-1", model.CreateActionInput{Name: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if callCount.Load() != 1 {
		t.Errorf("server called %d times, want 1 (mutations execute once)", callCount.Load())
	}
}

func TestClient_retryExhaustedMapsLastStatus(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := defaultUpstreamConfig(server.URL)
	cfg.Retry.MaxAttempts = 3
	cfg.CircuitBreaker.FailureThreshold = 10
	client := newTestClient(t, cfg)

	_, err := client.ListActions(context.Background(), "proj-1")
	if code := model.CodeOf(err); code != model.ErrUpstreamUnavailable {
		t.Errorf("code = %s, want %s", code, model.ErrUpstreamUnavailable)
	}
	if callCount.Load() != 3 {
		t.Errorf("server called %d times, want 3", callCount.Load())
	}
}

// --- Circuit breaker ---

func TestClient_breakerRejectsWhenOpen(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := defaultUpstreamConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 2
	client := newTestClient(t, cfg)

	// Trip the breaker with server errors.
	client.GetWorkflow(context.Background(), "proj-1")
	client.GetWorkflow(context.Background(), "proj-1")

	countBefore := callCount.Load()
	_, err := client.GetWorkflow(context.Background(), "proj-1")
	if err == nil {
		t.Fatal("expected error when circuit breaker is open")
	}
	if code := model.CodeOf(err); code != model.ErrUpstreamUnavailable {
		t.Errorf("code = %s, want %s", code, model.ErrUpstreamUnavailable)
	}
	if callCount.Load() != countBefore {
		t.Error("server was called despite open circuit breaker")
	}
}

func TestClient_clientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := defaultUpstreamConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 2
	client := newTestClient(t, cfg)

	for i := 0; i < 5; i++ {
		client.GetWorkflow(context.Background(), "missing")
	}
	if s := client.Breaker().State(); s != BreakerClosed {
		t.Errorf("state after 5 client errors = %v, want Closed", s)
	}
}

func TestClient_successResetsBreakerFailures(t *testing.T) {
	var respondWithError atomic.Bool
	respondWithError.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if respondWithError.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"project_id": "proj-1"})
	}))
	defer server.Close()

	cfg := defaultUpstreamConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 3
	client := newTestClient(t, cfg)

	client.GetWorkflow(context.Background(), "proj-1")
	client.GetWorkflow(context.Background(), "proj-1")

	respondWithError.Store(false)
	client.GetWorkflow(context.Background(), "proj-1")

	respondWithError.Store(true)
	client.GetWorkflow(context.Background(), "proj-1")
	client.GetWorkflow(context.Background(), "proj-1")

	if s := client.Breaker().State(); s != BreakerClosed {
		t.Errorf("state = %v, want Closed (failures reset by success)", s)
	}
}

// --- Header handling ---

func TestClient_forwardsIdentityHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want application/json", got)
		}
		if got := r.Header.Get("X-Request-Subject"); got != "user-1" {
			t.Errorf("X-Request-Subject = %q, want user-1", got)
		}
		if got := r.Header.Get("X-Correlation-Id"); got != "corr-abc" {
			t.Errorf("X-Correlation-Id = %q, want corr-abc", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want empty without a configured token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"project_id": "proj-1"})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "user-1",
		CorrelationID: "corr-abc",
	})
	if _, err := client.GetWorkflow(ctx, "proj-1"); err != nil {
		t.Fatalf("GetWorkflow error: %v", err)
	}
}

func TestClient_serviceTokenFromEnv(t *testing.T) {
	t.Setenv("BOARDWALK_TEST_UPSTREAM_TOKEN", "svc-token")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer svc-token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer svc-token")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"project_id": "proj-1"})
	}))
	defer server.Close()

	cfg := defaultUpstreamConfig(server.URL)
	cfg.TokenEnv = "BOARDWALK_TEST_UPSTREAM_TOKEN"
	client := newTestClient(t, cfg)

	if _, err := client.GetWorkflow(context.Background(), "proj-1"); err != nil {
		t.Fatalf("GetWorkflow error: %v", err)
	}
}

func TestClient_sanitizesIdentityHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Newlines must be stripped from header values.
		if got := r.Header.Get("X-Request-Subject"); got != "injectedvalue" {
			t.Errorf("X-Request-Subject = %q, want %q", got, "injectedvalue")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"project_id": "proj-1"})
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID: "injected\r\nvalue",
	})
	if _, err := client.GetWorkflow(ctx, "proj-1"); err != nil {
		t.Fatalf("GetWorkflow error: %v", err)
	}
}

// --- Health check ---

func TestClient_HealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("path = %s, want /v1/health", r.URL.Path)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, defaultUpstreamConfig(server.URL))

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck error: %v", err)
	}

	healthy.Store(false)
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error from unhealthy upstream")
	}
}

func TestClient_HealthCheck_bypassesBreaker(t *testing.T) {
	var healthCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/health" {
			healthCalls.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := defaultUpstreamConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 1
	client := newTestClient(t, cfg)

	// Trip the breaker, then confirm the health probe still reaches the server.
	client.GetWorkflow(context.Background(), "proj-1")
	if s := client.Breaker().State(); s != BreakerOpen {
		t.Fatalf("state = %v, want Open", s)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck error: %v", err)
	}
	if healthCalls.Load() != 1 {
		t.Errorf("health endpoint called %d times, want 1", healthCalls.Load())
	}
}
