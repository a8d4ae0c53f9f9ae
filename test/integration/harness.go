// Package integration provides a reusable test harness for end-to-end testing
// of the boardwalk server. It starts the full HTTP stack over a mock action
// store, with in-memory view-state and draft stores and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bucketworks/boardwalk/internal/backfill"
	"github.com/bucketworks/boardwalk/internal/collab"
	"github.com/bucketworks/boardwalk/internal/config"
	"github.com/bucketworks/boardwalk/internal/descriptor"
	"github.com/bucketworks/boardwalk/internal/draft"
	"github.com/bucketworks/boardwalk/internal/member"
	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/internal/transition"
	"github.com/bucketworks/boardwalk/internal/transport"
	"github.com/bucketworks/boardwalk/internal/upstream"
	"github.com/bucketworks/boardwalk/internal/viewstate"
	"github.com/bucketworks/boardwalk/model"
)

// TestHarness encapsulates a fully wired boardwalk instance over a mock
// action store for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Store is the state behind the mock action store. Seed it directly to
	// arrange scenarios without going through the API.
	Store *upstream.MemoryStore

	// Backend records every request crossing the REST boundary and injects
	// faults for resilience scenarios.
	Backend *MockActionStore

	// Drafts is the draft store, exposed for direct assertions.
	Drafts draft.Store

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout     time.Duration
	autoBackfill       bool
	upstreamTimeout    time.Duration
	retry              config.RetryConfig
	breaker            config.CircuitBreakerConfig
	membersCacheTTL    time.Duration
	descriptorCacheTTL time.Duration
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithoutAutoBackfill disables the backfill gate on board loads, leaving only
// the explicit trigger endpoint.
func WithoutAutoBackfill() HarnessOption {
	return func(c *harnessConfig) {
		c.autoBackfill = false
	}
}

// WithUpstreamTimeout sets the HTTP timeout for action store calls.
func WithUpstreamTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.upstreamTimeout = d
	}
}

// WithRetry sets the retry policy for action store reads.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.retry = r
	}
}

// WithCircuitBreaker sets the circuit breaker thresholds for the action store
// connection.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = cb
	}
}

// WithMembersCacheTTL enables member list caching. The default harness runs
// with caching off so roster seeds are visible immediately.
func WithMembersCacheTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.membersCacheTTL = d
	}
}

// WithDescriptorCacheTTL enables workflow descriptor caching. The default
// harness runs with caching off so workflow seeds are visible immediately.
func WithDescriptorCacheTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.descriptorCacheTTL = d
	}
}

// NewTestHarness creates and starts a full boardwalk test instance. The
// servers are cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout:  10 * time.Second,
		autoBackfill:    true,
		upstreamTimeout: 5 * time.Second,
		retry: config.RetryConfig{
			MaxAttempts: 1,
		},
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OpenTimeout:      30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(hc)
	}

	logger := zaptest.NewLogger(t)

	h := &TestHarness{t: t}

	// Step 1: Mock action store over seedable in-memory state.
	h.Store = upstream.NewMemoryStore()
	h.Backend = newMockActionStore(t, h.Store)

	// Step 2: JWT issuer with its JWKS endpoint.
	h.issuer = newTokenIssuer(t)

	// Step 3: Configuration pointing everything at the test doubles. Cache
	// TTLs are zero so state seeded mid-test is visible on the next request.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Identity.Algorithms = []string{"RS256"}
	h.cfg.Identity.DevSecretEnv = ""
	h.cfg.Upstream.BaseURL = h.Backend.URL()
	h.cfg.Upstream.Timeout = hc.upstreamTimeout
	h.cfg.Upstream.TokenEnv = ""
	h.cfg.Upstream.Retry = hc.retry
	h.cfg.Upstream.CircuitBreaker = hc.breaker
	h.cfg.Descriptor.CacheTTL = hc.descriptorCacheTTL
	h.cfg.Members.CacheTTL = hc.membersCacheTTL
	h.cfg.Backfill.Auto = hc.autoBackfill

	// Step 4: Action store client and domain collaborators.
	client := upstream.NewClient(h.cfg.Upstream, logger, nil)
	descriptors := descriptor.NewResolver(client, h.cfg.Descriptor.CacheTTL, logger, nil)
	machine := transition.NewMachine(client, logger, nil)
	backfills := backfill.NewCoordinator(client, logger, nil)
	members := member.NewDirectory(client, h.cfg.Members.CacheTTL, logger, nil)
	views := viewstate.NewResolver(viewstate.NewMemoryStore(), logger, nil)
	h.Drafts = draft.NewMemoryStore()

	orch := collab.NewOrchestrator(collab.Deps{
		Store:        client,
		Descriptors:  descriptors,
		Machine:      machine,
		Backfill:     backfills,
		Members:      members,
		Views:        views,
		Drafts:       h.Drafts,
		AutoBackfill: h.cfg.Backfill.Auto,
		Logger:       logger,
	})

	// Step 5: Router with the full middleware chain. Metrics stay nil so
	// parallel harnesses do not fight over the process-global registry.
	jwks := transport.NewJWKSClient(h.cfg.Identity.JWKSURL, h.cfg.Identity.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Orchestrator: orch,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Readiness:    observability.ReadinessChecks{Upstream: client},
		Logger:       logger,
	})

	// Step 6: Start the server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- seeding helpers ---

// SeedStandardProject seeds one project with the three standard collaborators
// behind OwnerClaims, EditorClaims, and ViewerClaims, and returns its id. The
// project has no workflow configuration, so the built-in default pipeline
// applies.
func (h *TestHarness) SeedStandardProject() string {
	const projectID = "proj-1"
	h.Store.SeedProject(model.Project{
		ID:     projectID,
		Name:   "Launch",
		Status: model.ProjectActive,
	})
	h.Store.SeedMember(projectID, MemberFixture("user-owner", model.RoleOwner))
	h.Store.SeedMember(projectID, MemberFixture("user-editor", model.RoleEditor))
	h.Store.SeedMember(projectID, MemberFixture("user-viewer", model.RoleViewer))
	return projectID
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPatch, path, body, token)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err, "marshal request body")
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	require.NoError(h.t, err, "create request")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	require.NoError(h.t, err, "%s %s", method, path)
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err, "read response body")
	require.NoError(h.t, json.Unmarshal(data, target), "unmarshal response body: %s", data)
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err, "read response body")
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the response status and parses the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// errorReply mirrors the error wire shape: the envelope plus, on stale
// conflicts, the refreshed record.
type errorReply struct {
	Error  *model.ErrorEnvelope `json:"error"`
	Action *model.ProjectAction `json:"action"`
}

// ParseError parses an error response and returns the envelope with the
// refreshed action record, when one rode along.
func (h *TestHarness) ParseError(resp *http.Response) (model.ErrorEnvelope, *model.ProjectAction) {
	h.t.Helper()
	var reply errorReply
	h.ParseJSON(resp, &reply)
	require.NotNil(h.t, reply.Error, "error response without envelope")
	return *reply.Error, reply.Action
}

// --- default test claims ---

// OwnerClaims returns TestClaims for the standard project's owner.
func OwnerClaims() TestClaims {
	return TestClaims{
		SubjectID:   "user-owner",
		Email:       "owner@crew.example.com",
		DisplayName: "Olive Owner",
		Scopes:      []string{"openid", "profile"},
	}
}

// EditorClaims returns TestClaims for the standard project's editor.
func EditorClaims() TestClaims {
	return TestClaims{
		SubjectID:   "user-editor",
		Email:       "editor@crew.example.com",
		DisplayName: "Ed Editor",
		Scopes:      []string{"openid", "profile"},
	}
}

// ViewerClaims returns TestClaims for the standard project's viewer.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID:   "user-viewer",
		Email:       "viewer@crew.example.com",
		DisplayName: "Vic Viewer",
		Scopes:      []string{"openid", "profile"},
	}
}

// OutsiderClaims returns TestClaims for an authenticated subject with no
// membership anywhere.
func OutsiderClaims() TestClaims {
	return TestClaims{
		SubjectID:   "user-outsider",
		Email:       "outsider@crew.example.com",
		DisplayName: "Oz Outsider",
		Scopes:      []string{"openid", "profile"},
	}
}

// --- fixtures ---

// MemberFixture returns a seedable roster entry for the subject.
func MemberFixture(subjectID string, role model.MemberRole) model.Member {
	return model.Member{
		ID:          "member-" + subjectID,
		SubjectID:   subjectID,
		DisplayName: subjectID,
		Email:       subjectID + "@crew.example.com",
		Role:        role,
		AddedAt:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// ActionFixture returns a seedable card at version 1.
func ActionFixture(id, projectID, name string, status model.Status) model.ProjectAction {
	return model.ProjectAction{
		ID:           id,
		ProjectID:    projectID,
		Name:         name,
		ActionStatus: status,
		LastEventID:  1,
	}
}

// LegacyFixture returns one pre-collaboration task for backfill scenarios.
func LegacyFixture(canonicalID, name string, bucket model.LegacyBucket) model.LegacyAction {
	return model.LegacyAction{
		CanonicalID: canonicalID,
		Name:        name,
		Bucket:      bucket,
	}
}
