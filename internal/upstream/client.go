package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/config"
	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/model"
)

// errBreakerOpen is returned by execute when the circuit rejects a request
// before it leaves the process.
var errBreakerOpen = errors.New("upstream: circuit breaker is open")

// Client is the HTTP implementation of Store. Reads are retried with
// exponential backoff on transient failures; mutations are executed exactly
// once and their conflicts surfaced to the caller.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *CircuitBreaker
	retry   config.RetryConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewClient creates an action store client from configuration. The service
// token is read from the environment variable named by cfg.TokenEnv.
func NewClient(cfg config.UpstreamConfig, logger *zap.Logger, metrics *observability.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var token string
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
	}
	cb := cfg.CircuitBreaker
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.OpenTimeout),
		retry:   cfg.Retry,
		logger:  logger,
		metrics: metrics,
	}
}

// Breaker exposes the circuit breaker for diagnostics.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// --- Store implementation ---

func (c *Client) GetWorkflow(ctx context.Context, projectID string) (model.WorkflowDescriptor, error) {
	var out model.WorkflowDescriptor
	path := fmt.Sprintf("/v1/projects/%s/workflow", url.PathEscape(projectID))
	err := c.do(ctx, "getWorkflow", http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) ListActions(ctx context.Context, projectID string) ([]model.ProjectAction, error) {
	var out []model.ProjectAction
	path := fmt.Sprintf("/v1/projects/%s/actions", url.PathEscape(projectID))
	err := c.do(ctx, "listActions", http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) CreateAction(ctx context.Context, projectID string, input model.CreateActionInput) (model.ProjectAction, error) {
	var out model.ProjectAction
	path := fmt.Sprintf("/v1/projects/%s/actions", url.PathEscape(projectID))
	err := c.do(ctx, "createAction", http.MethodPost, path, input, &out, model.ErrDuplicate)
	return out, err
}

func (c *Client) UpdateAction(ctx context.Context, actionID string, input model.UpdateActionInput) (model.ProjectAction, error) {
	var out model.ProjectAction
	path := fmt.Sprintf("/v1/actions/%s", url.PathEscape(actionID))
	err := c.do(ctx, "updateAction", http.MethodPatch, path, input, &out, model.ErrStaleVersion)
	return out, err
}

func (c *Client) TransitionAction(ctx context.Context, actionID string, input model.TransitionInput) (model.ProjectAction, error) {
	var out model.ProjectAction
	path := fmt.Sprintf("/v1/actions/%s/transition", url.PathEscape(actionID))
	err := c.do(ctx, "transitionAction", http.MethodPost, path, input, &out, model.ErrStaleVersion)
	return out, err
}

func (c *Client) GetActionDetail(ctx context.Context, actionID string) (model.ActionDetail, error) {
	var out model.ActionDetail
	path := fmt.Sprintf("/v1/actions/%s/detail", url.PathEscape(actionID))
	err := c.do(ctx, "getActionDetail", http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) GetActionHistory(ctx context.Context, actionID string) (model.ActionHistory, error) {
	var out model.ActionHistory
	path := fmt.Sprintf("/v1/actions/%s/history", url.PathEscape(actionID))
	err := c.do(ctx, "getActionHistory", http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) AddComment(ctx context.Context, actionID string, input model.CommentInput) (model.Comment, error) {
	var out model.Comment
	path := fmt.Sprintf("/v1/actions/%s/comments", url.PathEscape(actionID))
	err := c.do(ctx, "addComment", http.MethodPost, path, input, &out, "")
	return out, err
}

func (c *Client) ListMembers(ctx context.Context, projectID string) ([]model.Member, error) {
	var out []model.Member
	path := fmt.Sprintf("/v1/projects/%s/members", url.PathEscape(projectID))
	err := c.do(ctx, "listMembers", http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) AddMember(ctx context.Context, projectID string, input model.MemberInput) (model.Member, error) {
	var out model.Member
	path := fmt.Sprintf("/v1/projects/%s/members", url.PathEscape(projectID))
	err := c.do(ctx, "addMember", http.MethodPost, path, input, &out, model.ErrDuplicate)
	return out, err
}

func (c *Client) RemoveMember(ctx context.Context, projectID, memberID string) error {
	path := fmt.Sprintf("/v1/projects/%s/members/%s", url.PathEscape(projectID), url.PathEscape(memberID))
	return c.do(ctx, "removeMember", http.MethodDelete, path, nil, nil, "")
}

func (c *Client) ListLegacyActions(ctx context.Context) ([]model.LegacyAction, error) {
	var out []model.LegacyAction
	err := c.do(ctx, "listLegacyActions", http.MethodGet, "/v1/legacy/actions", nil, &out, "")
	return out, err
}

func (c *Client) ListProjects(ctx context.Context) ([]model.Project, error) {
	var out []model.Project
	err := c.do(ctx, "listProjects", http.MethodGet, "/v1/projects", nil, &out, "")
	return out, err
}

func (c *Client) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	var out model.Project
	path := fmt.Sprintf("/v1/projects/%s", url.PathEscape(projectID))
	err := c.do(ctx, "getProject", http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) CreateProject(ctx context.Context, input model.ProjectInput) (model.Project, error) {
	var out model.Project
	err := c.do(ctx, "createProject", http.MethodPost, "/v1/projects", input, &out, model.ErrDuplicate)
	return out, err
}

func (c *Client) UpdateProject(ctx context.Context, projectID string, input model.ProjectInput) (model.Project, error) {
	var out model.Project
	path := fmt.Sprintf("/v1/projects/%s", url.PathEscape(projectID))
	err := c.do(ctx, "updateProject", http.MethodPatch, path, input, &out, model.ErrStaleVersion)
	return out, err
}

// HealthCheck probes the action store directly, bypassing the breaker so a
// recovering upstream is observed as soon as it answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("upstream: build health request: %w", err)
	}
	c.setStandardHeaders(ctx, req, http.MethodGet)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("upstream: health check returned %d", resp.StatusCode)
	}
	return nil
}

// --- request execution ---

// do runs one logical operation against the action store. Reads (GET) are
// retried on transient failures with exponential backoff; everything else
// executes at most once. conflictCode selects how an upstream 409 is
// surfaced (DUPLICATE for creates, STALE_VERSION for token'd writes).
func (c *Client) do(ctx context.Context, op, method, path string, body, out any, conflictCode string) (err error) {
	ctx, span := observability.StartSpan(ctx, "upstream."+op,
		observability.AttrOperation.String(op),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstream: marshal %s body: %w", op, err)
		}
	}

	maxAttempts := 1
	if method == http.MethodGet && c.retry.MaxAttempts > 1 {
		maxAttempts = c.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.RecordUpstreamRetry(op)
			}
			delay := backoffDelay(c.retry, attempt)
			select {
			case <-ctx.Done():
				return c.mapTransportError(ctx, ctx.Err())
			case <-time.After(delay):
			}
		}

		status, respBody, execErr := c.execute(ctx, op, method, path, payload)
		if execErr != nil {
			if errors.Is(execErr, errBreakerOpen) {
				return model.NewUpstreamUnavailableError()
			}
			lastErr = execErr
			if attempt < maxAttempts-1 {
				c.logger.Debug("upstream: retrying after error",
					zap.String("operation", op),
					zap.Int("attempt", attempt+1),
					zap.Int("max", maxAttempts),
					zap.Error(execErr),
				)
				continue
			}
			return c.mapTransportError(ctx, execErr)
		}

		if isRetryableStatus(status) && attempt < maxAttempts-1 {
			lastErr = c.mapResponseError(status, respBody, conflictCode)
			c.logger.Debug("upstream: retrying after status",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", status),
			)
			continue
		}

		if status >= 400 {
			return c.mapResponseError(status, respBody, conflictCode)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("upstream: decode %s response: %w", op, err)
			}
		}
		return nil
	}

	if lastErr != nil {
		if _, ok := lastErr.(*model.ErrorEnvelope); ok {
			return lastErr
		}
		return c.mapTransportError(ctx, lastErr)
	}
	return nil
}

// execute performs a single HTTP exchange under circuit breaker protection.
func (c *Client) execute(ctx context.Context, op, method, path string, payload []byte) (int, []byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return 0, nil, errBreakerOpen
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream: build request: %w", err)
	}
	c.setStandardHeaders(ctx, req, method)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.recordBreakerState()
		if c.metrics != nil {
			c.metrics.RecordUpstreamRequest(op, 0, time.Since(start))
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB limit
	if err != nil {
		c.breaker.RecordFailure()
		c.recordBreakerState()
		return 0, nil, fmt.Errorf("upstream: read response: %w", err)
	}

	// 4xx responses are application outcomes, not infrastructure failures;
	// only 5xx counts against the breaker.
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else if resp.StatusCode < 400 {
		c.breaker.RecordSuccess()
	}
	c.recordBreakerState()

	if c.metrics != nil {
		c.metrics.RecordUpstreamRequest(op, resp.StatusCode, time.Since(start))
	}

	return resp.StatusCode, respBody, nil
}

// setStandardHeaders applies auth, identity, and trace headers.
func (c *Client) setStandardHeaders(ctx context.Context, req *http.Request, method string) {
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+sanitizeHeader(c.token))
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		req.Header.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
		req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	observability.InjectTraceHeaders(ctx, req.Header)
}

// recordBreakerState pushes the breaker state gauge after every outcome.
func (c *Client) recordBreakerState() {
	if c.metrics == nil {
		return
	}
	var v float64
	switch c.breaker.State() {
	case BreakerClosed:
		v = 0
	case BreakerHalfOpen:
		v = 1
	case BreakerOpen:
		v = 2
	}
	c.metrics.SetUpstreamBreakerState(v)
}

// --- error mapping ---

// upstreamErrorBody is the error shape the action store answers with.
type upstreamErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapResponseError converts a non-2xx upstream response into an envelope.
func (c *Client) mapResponseError(status int, body []byte, conflictCode string) error {
	var parsed upstreamErrorBody
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Message
	if msg == "" {
		msg = fmt.Sprintf("action store returned %d", status)
	}

	switch {
	case status == http.StatusNotFound:
		return model.NewNotFoundError(msg)
	case status == http.StatusConflict:
		switch conflictCode {
		case model.ErrDuplicate:
			return model.NewDuplicateError(msg)
		case model.ErrStaleVersion:
			return model.NewStaleVersionError(msg)
		default:
			return model.NewUpstreamError(msg)
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// A 401/403 here means the service credential was rejected, not the caller's token.
		return model.NewUpstreamError("action store rejected service credential: " + msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return model.NewBadRequestError(msg)
	case status == http.StatusTooManyRequests || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return model.NewUpstreamUnavailableError()
	default:
		return model.NewUpstreamError(msg)
	}
}

// mapTransportError converts a transport-level failure into an envelope.
func (c *Client) mapTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return model.NewUpstreamTimeoutError()
	}
	if isConnectionError(err) {
		return model.NewUpstreamUnavailableError()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return model.NewUpstreamTimeoutError()
	}
	return fmt.Errorf("upstream: request failed: %w", err)
}

// --- classification helpers ---

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return false
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func backoffDelay(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > max {
			return max
		}
	}
	return delay
}
