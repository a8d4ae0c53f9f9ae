package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/bucketworks/boardwalk/internal/config"
	"github.com/bucketworks/boardwalk/model"
)

// fastRetry is a retry policy with backoffs short enough for tests.
func fastRetry(attempts int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       attempts,
		BackoffInitial:    5 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        20 * time.Millisecond,
	}
}

// ==========================================================================
// Read retries
// ==========================================================================

func TestResilience_ReadsRetryTransientFailures(t *testing.T) {
	h := NewTestHarness(t, WithRetry(fastRetry(3)))
	projectID := h.SeedStandardProject()
	h.Store.SeedAction(ActionFixture("act-1", projectID, "Survivor", model.StatusBacklog))

	h.Backend.FailNext("listActions", 2, http.StatusInternalServerError)

	token := h.GenerateToken(OwnerClaims())
	resp := h.GET("/api/v1/projects/"+projectID+"/board", token)

	var view model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &view)

	backlog := columnByStatus(t, view, model.StatusBacklog)
	if len(backlog.Actions) != 1 {
		t.Errorf("backlog = %+v, want the seeded card", backlog.Actions)
	}
	if got := h.Backend.CallCount("listActions"); got != 3 {
		t.Errorf("action listings = %d, want 2 failures + 1 success", got)
	}
}

func TestResilience_ReadsRideOutDroppedConnections(t *testing.T) {
	h := NewTestHarness(t, WithRetry(fastRetry(3)))
	h.SeedStandardProject()

	h.Backend.DropNext("listProjects", 1)

	token := h.GenerateToken(OwnerClaims())
	resp := h.GET("/api/v1/projects", token)

	var projects []model.Project
	h.AssertJSON(t, resp, http.StatusOK, &projects)
	if got := h.Backend.CallCount("listProjects"); got != 2 {
		t.Errorf("project listings = %d, want 1 dropped + 1 success", got)
	}
}

func TestResilience_MutationsAreNeverRetried(t *testing.T) {
	h := NewTestHarness(t, WithRetry(fastRetry(3)))
	projectID := h.SeedStandardProject()

	h.Backend.FailNext("createAction", 1, http.StatusInternalServerError)

	token := h.GenerateToken(EditorClaims())
	resp := h.POST("/api/v1/projects/"+projectID+"/actions",
		map[string]any{"name": "One shot"}, token)

	h.AssertStatus(t, resp, http.StatusBadGateway)
	env, _ := h.ParseError(resp)
	if env.Code != model.ErrUpstreamError {
		t.Errorf("code = %q, want %q", env.Code, model.ErrUpstreamError)
	}

	if got := h.Backend.CallCount("createAction"); got != 1 {
		t.Errorf("create attempts = %d, writes must execute at most once", got)
	}
	if got := h.Store.ActionCount(projectID); got != 0 {
		t.Errorf("actions = %d, want none after the failed create", got)
	}
}

func TestResilience_RateLimitedUpstreamAnswers503(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedStandardProject()

	h.Backend.FailNext("listProjects", 1, http.StatusTooManyRequests)

	token := h.GenerateToken(OwnerClaims())
	resp := h.GET("/api/v1/projects", token)

	h.AssertStatus(t, resp, http.StatusServiceUnavailable)
	env, _ := h.ParseError(resp)
	if env.Code != model.ErrUpstreamUnavailable {
		t.Errorf("code = %q, want %q", env.Code, model.ErrUpstreamUnavailable)
	}
}

// ==========================================================================
// Circuit breaker
// ==========================================================================

func TestResilience_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := NewTestHarness(t, WithCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	}))
	h.SeedStandardProject()

	h.Backend.FailNext("listProjects", 2, http.StatusInternalServerError)
	token := h.GenerateToken(OwnerClaims())

	for i := 0; i < 2; i++ {
		resp := h.GET("/api/v1/projects", token)
		h.AssertStatus(t, resp, http.StatusBadGateway)
		resp.Body.Close()
	}

	// The breaker is open: the next request is rejected without leaving the
	// process.
	resp := h.GET("/api/v1/projects", token)
	h.AssertStatus(t, resp, http.StatusServiceUnavailable)
	env, _ := h.ParseError(resp)
	if env.Code != model.ErrUpstreamUnavailable {
		t.Errorf("code = %q, want %q", env.Code, model.ErrUpstreamUnavailable)
	}
	if got := h.Backend.CallCount("listProjects"); got != 2 {
		t.Errorf("upstream calls = %d, want the open breaker to short-circuit the third", got)
	}
}

func TestResilience_BreakerRecoversAfterOpenTimeout(t *testing.T) {
	h := NewTestHarness(t, WithCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      200 * time.Millisecond,
	}))
	h.SeedStandardProject()

	h.Backend.FailNext("listProjects", 2, http.StatusInternalServerError)
	token := h.GenerateToken(OwnerClaims())

	for i := 0; i < 2; i++ {
		resp := h.GET("/api/v1/projects", token)
		h.AssertStatus(t, resp, http.StatusBadGateway)
		resp.Body.Close()
	}

	// After the open window a probe is allowed through; its success closes
	// the breaker again.
	time.Sleep(250 * time.Millisecond)

	resp := h.GET("/api/v1/projects", token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.GET("/api/v1/projects", token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	if got := h.Backend.CallCount("listProjects"); got != 4 {
		t.Errorf("upstream calls = %d, want 2 failures + probe + 1 normal", got)
	}
}

// ==========================================================================
// Timeouts
// ==========================================================================

func TestResilience_UpstreamTimeoutAnswers504(t *testing.T) {
	h := NewTestHarness(t, WithUpstreamTimeout(100*time.Millisecond))
	h.SeedStandardProject()

	h.Backend.DelayNext("listProjects", 400*time.Millisecond)

	token := h.GenerateToken(OwnerClaims())
	resp := h.GET("/api/v1/projects", token)

	h.AssertStatus(t, resp, http.StatusGatewayTimeout)
	env, _ := h.ParseError(resp)
	if env.Code != model.ErrUpstreamTimeout {
		t.Errorf("code = %q, want %q", env.Code, model.ErrUpstreamTimeout)
	}
	if got := h.Backend.CallCount("listProjects"); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

// ==========================================================================
// Operational endpoints
// ==========================================================================

func TestResilience_HealthAndReadinessBypassAuth(t *testing.T) {
	h := NewTestHarness(t)

	resp := rawRequest(t, h, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = rawRequest(t, h, http.MethodGet, "/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d, want 200 with a healthy store", resp.StatusCode)
	}
	resp.Body.Close()
}
