package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bucketworks/boardwalk/internal/upstream"
	"github.com/bucketworks/boardwalk/model"
)

// MockActionStore is a stateful HTTP test double for the action store. It
// serves the /v1 REST surface over an upstream.MemoryStore, so mutations made
// through one request are visible to the next, the way the real service
// behaves. Per-operation faults can be queued to simulate outages, and every
// received request is recorded for later assertion.
type MockActionStore struct {
	t      *testing.T
	store  *upstream.MemoryStore
	server *httptest.Server

	mu     sync.Mutex
	faults map[string][]fault
	calls  map[string][]*RecordedRequest
}

// RecordedRequest captures one request received by the mock store.
type RecordedRequest struct {
	Method     string
	Path       string
	Header     http.Header
	Body       []byte
	ReceivedAt time.Time
}

// fault is one queued deviation from normal behavior for an operation.
type fault struct {
	status  int
	code    string
	message string
	delay   time.Duration
	drop    bool
}

// newMockActionStore starts the mock REST server over the given state.
func newMockActionStore(t *testing.T, store *upstream.MemoryStore) *MockActionStore {
	t.Helper()

	m := &MockActionStore{
		t:      t,
		store:  store,
		faults: make(map[string][]fault),
		calls:  make(map[string][]*RecordedRequest),
	}

	mux := chi.NewRouter()
	mux.Get("/v1/health", m.op("health", m.handleHealth))
	mux.Get("/v1/projects", m.op("listProjects", m.handleListProjects))
	mux.Post("/v1/projects", m.op("createProject", m.handleCreateProject))
	mux.Get("/v1/projects/{projectID}", m.op("getProject", m.handleGetProject))
	mux.Patch("/v1/projects/{projectID}", m.op("updateProject", m.handleUpdateProject))
	mux.Get("/v1/projects/{projectID}/workflow", m.op("getWorkflow", m.handleGetWorkflow))
	mux.Get("/v1/projects/{projectID}/actions", m.op("listActions", m.handleListActions))
	mux.Post("/v1/projects/{projectID}/actions", m.op("createAction", m.handleCreateAction))
	mux.Get("/v1/projects/{projectID}/members", m.op("listMembers", m.handleListMembers))
	mux.Post("/v1/projects/{projectID}/members", m.op("addMember", m.handleAddMember))
	mux.Delete("/v1/projects/{projectID}/members/{memberID}", m.op("removeMember", m.handleRemoveMember))
	mux.Patch("/v1/actions/{actionID}", m.op("updateAction", m.handleUpdateAction))
	mux.Post("/v1/actions/{actionID}/transition", m.op("transitionAction", m.handleTransition))
	mux.Get("/v1/actions/{actionID}/detail", m.op("getActionDetail", m.handleGetDetail))
	mux.Get("/v1/actions/{actionID}/history", m.op("getActionHistory", m.handleGetHistory))
	mux.Post("/v1/actions/{actionID}/comments", m.op("addComment", m.handleAddComment))
	mux.Get("/v1/legacy/actions", m.op("listLegacyActions", m.handleListLegacy))

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)

	return m
}

// URL returns the base URL of the mock store server.
func (m *MockActionStore) URL() string {
	return m.server.URL
}

// --- fault injection ---

// FailNext queues times consecutive failures for the operation: each affected
// call answers with the given status instead of touching the state.
func (m *MockActionStore) FailNext(op string, times, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < times; i++ {
		m.faults[op] = append(m.faults[op], fault{
			status:  status,
			code:    "UPSTREAM_FAULT",
			message: "injected failure",
		})
	}
}

// DelayNext holds the next call to the operation for d before answering
// normally.
func (m *MockActionStore) DelayNext(op string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], fault{delay: d})
}

// DropNext closes the connection on the next times calls to the operation.
func (m *MockActionStore) DropNext(op string, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < times; i++ {
		m.faults[op] = append(m.faults[op], fault{drop: true})
	}
}

// ResetFaults drops all queued faults.
func (m *MockActionStore) ResetFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[string][]fault)
}

// --- request recording ---

// CallCount returns how many requests the operation has received.
func (m *MockActionStore) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls[op])
}

// LastRequest returns the most recent request for the operation, or nil.
func (m *MockActionStore) LastRequest(op string) *RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.calls[op]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// op wraps an operation handler with recording and fault evaluation.
func (m *MockActionStore) op(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
		}
		r = r.WithContext(storeContext(r))
		r.Body = io.NopCloser(bytes.NewReader(body))

		m.mu.Lock()
		m.calls[name] = append(m.calls[name], &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     r.Header.Clone(),
			Body:       body,
			ReceivedAt: time.Now(),
		})
		var f *fault
		if pending := m.faults[name]; len(pending) > 0 {
			f = &pending[0]
			m.faults[name] = pending[1:]
		}
		m.mu.Unlock()

		if f != nil {
			if f.drop {
				if hj, ok := w.(http.Hijacker); ok {
					if conn, _, err := hj.Hijack(); err == nil {
						conn.Close()
					}
				}
				return
			}
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
			if f.status != 0 {
				writeStoreJSON(w, f.status, map[string]string{
					"code":    f.code,
					"message": f.message,
				})
				return
			}
		}

		h(w, r)
	}
}

// storeContext rebuilds the acting subject from the identity headers the BFF
// forwards, so state changes carry authorship end to end.
func storeContext(r *http.Request) context.Context {
	ctx := r.Context()
	if subj := r.Header.Get("X-Request-Subject"); subj != "" {
		ctx = model.WithRequestContext(ctx, &model.RequestContext{
			SubjectID:     subj,
			CorrelationID: r.Header.Get("X-Correlation-Id"),
		})
	}
	return ctx
}

// --- operation handlers ---

func (m *MockActionStore) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeStoreJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (m *MockActionStore) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := m.store.ListProjects(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, projects)
}

func (m *MockActionStore) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var input model.ProjectInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeStoreError(w, model.NewBadRequestError("invalid body"))
		return
	}
	project, err := m.store.CreateProject(r.Context(), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusCreated, project)
}

func (m *MockActionStore) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := m.store.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, project)
}

func (m *MockActionStore) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var input model.ProjectInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeStoreError(w, model.NewBadRequestError("invalid body"))
		return
	}
	project, err := m.store.UpdateProject(r.Context(), chi.URLParam(r, "projectID"), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, project)
}

func (m *MockActionStore) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	d, err := m.store.GetWorkflow(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, d)
}

func (m *MockActionStore) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := m.store.ListActions(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, actions)
}

func (m *MockActionStore) handleCreateAction(w http.ResponseWriter, r *http.Request) {
	var input model.CreateActionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeStoreError(w, model.NewBadRequestError("invalid body"))
		return
	}
	action, err := m.store.CreateAction(r.Context(), chi.URLParam(r, "projectID"), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusCreated, action)
}

func (m *MockActionStore) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := m.store.ListMembers(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, members)
}

func (m *MockActionStore) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var input model.MemberInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeStoreError(w, model.NewBadRequestError("invalid body"))
		return
	}
	member, err := m.store.AddMember(r.Context(), chi.URLParam(r, "projectID"), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusCreated, member)
}

func (m *MockActionStore) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := m.store.RemoveMember(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "memberID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockActionStore) handleUpdateAction(w http.ResponseWriter, r *http.Request) {
	var input model.UpdateActionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeStoreError(w, model.NewBadRequestError("invalid body"))
		return
	}
	action, err := m.store.UpdateAction(r.Context(), chi.URLParam(r, "actionID"), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, action)
}

func (m *MockActionStore) handleTransition(w http.ResponseWriter, r *http.Request) {
	var input model.TransitionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeStoreError(w, model.NewBadRequestError("invalid body"))
		return
	}
	action, err := m.store.TransitionAction(r.Context(), chi.URLParam(r, "actionID"), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, action)
}

func (m *MockActionStore) handleGetDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := m.store.GetActionDetail(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, detail)
}

func (m *MockActionStore) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := m.store.GetActionHistory(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, history)
}

func (m *MockActionStore) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var input model.CommentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeStoreError(w, model.NewBadRequestError("invalid body"))
		return
	}
	comment, err := m.store.AddComment(r.Context(), chi.URLParam(r, "actionID"), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusCreated, comment)
}

func (m *MockActionStore) handleListLegacy(w http.ResponseWriter, r *http.Request) {
	legacy, err := m.store.ListLegacyActions(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeStoreJSON(w, http.StatusOK, legacy)
}

// --- response helpers ---

func writeStoreJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeStoreError answers with the status code the real action store uses for
// the error class.
func writeStoreError(w http.ResponseWriter, err error) {
	code := model.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case model.ErrNotFound:
		status = http.StatusNotFound
	case model.ErrDuplicate, model.ErrStaleVersion:
		status = http.StatusConflict
	case model.ErrBadRequest, model.ErrValidationError:
		status = http.StatusBadRequest
	}

	message := err.Error()
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		message = ee.Message
	}

	writeStoreJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
