// Package collab coordinates one project's collaboration surface: board and
// detail view-models, guarded mutations, draft overlays, view state, and the
// legacy backfill gate. It owns one Session per project and delegates domain
// rules to the descriptor, transition, backfill, member, viewstate, and
// draft packages.
package collab

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/backfill"
	"github.com/bucketworks/boardwalk/internal/descriptor"
	"github.com/bucketworks/boardwalk/internal/draft"
	"github.com/bucketworks/boardwalk/internal/member"
	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/internal/thread"
	"github.com/bucketworks/boardwalk/internal/timeline"
	"github.com/bucketworks/boardwalk/internal/transition"
	"github.com/bucketworks/boardwalk/internal/upstream"
	"github.com/bucketworks/boardwalk/internal/viewstate"
	"github.com/bucketworks/boardwalk/model"
)

// Deps bundles the collaborators the orchestrator coordinates.
type Deps struct {
	Store       upstream.Store
	Descriptors *descriptor.Resolver
	Machine     *transition.Machine
	Backfill    *backfill.Coordinator
	Members     *member.Directory
	Views       *viewstate.Resolver
	Drafts      draft.Store

	// AutoBackfill runs the backfill gate on every eligible board load.
	// The explicit trigger endpoint works either way.
	AutoBackfill bool

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Orchestrator serves the collaboration API for all projects, one Session
// per project. Methods are safe for concurrent use; cross-collaborator
// conflicts resolve through each card's last_event_id, never through locks.
type Orchestrator struct {
	store        upstream.Store
	descriptors  *descriptor.Resolver
	machine      *transition.Machine
	backfills    *backfill.Coordinator
	members      *member.Directory
	views        *viewstate.Resolver
	drafts       draft.Store
	autoBackfill bool
	logger       *zap.Logger
	metrics      *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewOrchestrator creates an Orchestrator from its dependency bundle.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:        deps.Store,
		descriptors:  deps.Descriptors,
		machine:      deps.Machine,
		backfills:    deps.Backfill,
		members:      deps.Members,
		views:        deps.Views,
		drafts:       deps.Drafts,
		autoBackfill: deps.AutoBackfill,
		logger:       logger,
		metrics:      deps.Metrics,
	}
}

// session returns the project's Session, creating it on first use.
func (o *Orchestrator) session(projectID string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions == nil {
		o.sessions = make(map[string]*Session)
	}
	s, ok := o.sessions[projectID]
	if !ok {
		s = newSession(projectID)
		o.sessions[projectID] = s
	}
	return s
}

// OpenBoard assembles the board view-model for one project: resolved
// descriptor, actions grouped per canonical status with the tag filter
// applied, member-backed access check, backfill gate evaluation, resolved
// view state, and the canonical query string.
func (o *Orchestrator) OpenBoard(ctx context.Context, projectID string, query url.Values) (view model.BoardView, err error) {
	rctx, err := o.requireMember(ctx, projectID)
	if err != nil {
		return model.BoardView{}, err
	}

	ctx, span := observability.StartSpan(ctx, "collab.open_board",
		observability.AttrProjectID.String(projectID),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Project record and workflow descriptor. The descriptor resolver
	// never fails; a missing configuration yields the built-in default.
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return model.BoardView{}, err
	}
	d := o.descriptors.Resolve(ctx, projectID)

	// 2. Native action list. Everything downstream depends on it.
	actions, err := o.store.ListActions(ctx, projectID)
	if err != nil {
		return model.BoardView{}, err
	}

	// 3. Backfill gate. A created batch changes the board, so re-list after
	// a run that produced anything.
	session := o.session(projectID)
	var outcome *model.BackfillOutcome
	if o.autoBackfill && session.backfillPending() {
		result := o.evaluateBackfill(ctx, session, projectID, d, len(actions))
		outcome = &result
		if result.Created > 0 {
			actions, err = o.store.ListActions(ctx, projectID)
			if err != nil {
				return model.BoardView{}, err
			}
		}
	}
	session.rememberAll(actions)

	// 4. View state and columns.
	state := o.views.Resolve(ctx, rctx.SubjectID, projectID, query)
	columns := buildColumns(d, actions, state.Tag)

	return model.BoardView{
		Project:    project,
		Descriptor: &d,
		Columns:    columns,
		ViewState:  state,
		Query:      viewstate.CanonicalQuery(projectID, state),
		Backfill:   outcome,
	}, nil
}

// evaluateBackfill runs one gate evaluation: list the legacy actions only
// when the project has no native ones, and run the coordinator when the gate
// opens. An aborted run leaves the session eligible for the next load.
func (o *Orchestrator) evaluateBackfill(ctx context.Context, session *Session, projectID string, d model.WorkflowDescriptor, nativeCount int) model.BackfillOutcome {
	if nativeCount > 0 {
		// Populated project: gate closed for the rest of the session.
		session.recordBackfill(model.BackfillOutcome{}, false)
		return model.BackfillOutcome{}
	}

	legacy, err := o.store.ListLegacyActions(ctx)
	if err != nil {
		// Leave the gate pending; the listing may succeed on the next load.
		o.logger.Warn("backfill: legacy listing failed",
			zap.String("project_id", projectID),
			zap.Error(err))
		return model.BackfillOutcome{Error: err.Error()}
	}

	if !backfill.ShouldRun(nativeCount, len(legacy)) {
		session.recordBackfill(model.BackfillOutcome{}, false)
		return model.BackfillOutcome{}
	}

	report, runErr := o.backfills.Run(ctx, projectID, d, legacy)
	outcome := model.BackfillOutcome{
		Ran:            true,
		Created:        report.Created,
		AlreadyPresent: report.AlreadyPresent,
		Skipped:        report.Skipped,
	}
	if runErr != nil {
		outcome.Error = runErr.Error()
	}
	session.recordBackfill(outcome, runErr != nil)
	return outcome
}

// TriggerBackfill is the operator entry point. It applies the same gate as
// the automatic evaluation against fresh counts; it never force-runs over
// existing native actions.
func (o *Orchestrator) TriggerBackfill(ctx context.Context, projectID string) (outcome model.BackfillOutcome, err error) {
	if _, err := o.requireEditor(ctx, projectID); err != nil {
		return model.BackfillOutcome{}, err
	}

	ctx, span := observability.StartSpan(ctx, "collab.trigger_backfill",
		observability.AttrProjectID.String(projectID))
	defer func() { observability.EndSpanWithError(span, err) }()

	d := o.descriptors.Resolve(ctx, projectID)
	actions, err := o.store.ListActions(ctx, projectID)
	if err != nil {
		return model.BackfillOutcome{}, err
	}

	session := o.session(projectID)
	outcome = o.evaluateBackfill(ctx, session, projectID, d, len(actions))
	if outcome.Ran && outcome.Created > 0 {
		if refreshed, listErr := o.store.ListActions(ctx, projectID); listErr == nil {
			session.rememberAll(refreshed)
		}
	}
	return outcome, nil
}

// ActionDetail assembles the expanded view-model for one card: the confirmed
// record, long fields, reply tree, merged timeline, and the acting subject's
// draft overlay.
func (o *Orchestrator) ActionDetail(ctx context.Context, projectID, actionID string) (view model.DetailView, err error) {
	rctx, err := o.requireMember(ctx, projectID)
	if err != nil {
		return model.DetailView{}, err
	}

	ctx, span := observability.StartSpan(ctx, "collab.action_detail",
		observability.AttrProjectID.String(projectID),
		observability.AttrActionID.String(actionID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	action, err := o.getAction(ctx, projectID, actionID)
	if err != nil {
		return model.DetailView{}, err
	}

	detail, err := o.store.GetActionDetail(ctx, actionID)
	if err != nil {
		return model.DetailView{}, err
	}
	history, err := o.store.GetActionHistory(ctx, actionID)
	if err != nil {
		return model.DetailView{}, err
	}

	if detail.Description != "" {
		action.Description = detail.Description
	}

	view = model.DetailView{
		Action:    action,
		ObjectRef: detail.ObjectRef,
		Thread:    thread.Build(detail.Comments),
		Timeline:  timeline.Merge(history.Transitions, history.Revisions),
	}

	// The draft overlay is cosmetic; a store failure must not block the
	// detail render.
	if d, found, draftErr := o.drafts.Get(ctx, rctx.SubjectID, actionID); draftErr != nil {
		o.logger.Warn("draft lookup failed",
			zap.String("action_id", actionID),
			zap.Error(draftErr))
	} else if found {
		view.Draft = &d
	}

	return view, nil
}

// CreateAction creates a native action in the project.
func (o *Orchestrator) CreateAction(ctx context.Context, projectID string, input model.CreateActionInput) (action model.ProjectAction, err error) {
	if _, err := o.requireEditor(ctx, projectID); err != nil {
		return model.ProjectAction{}, err
	}
	if details := validateCreate(input); len(details) > 0 {
		return model.ProjectAction{}, model.NewValidationError(details)
	}

	ctx, span := observability.StartSpan(ctx, "collab.create_action",
		observability.AttrProjectID.String(projectID))
	defer func() { observability.EndSpanWithError(span, err) }()

	d := o.descriptors.Resolve(ctx, projectID)
	if input.ActionStatus == "" {
		input.ActionStatus = d.DefaultStatus
	} else if !d.Has(input.ActionStatus) {
		return model.ProjectAction{}, model.NewUnknownStatusError(input.ActionStatus)
	}

	action, err = o.store.CreateAction(ctx, projectID, input)
	if err != nil {
		return model.ProjectAction{}, err
	}
	o.session(projectID).remember(action)
	return action, nil
}

// UpdateAction patches an action's fields under the optimistic-concurrency
// token. A missing expected_last_event_id is filled from the session's last
// known record. On success the subject's draft for the action is cleared;
// on a stale conflict the refreshed record is returned alongside the error.
func (o *Orchestrator) UpdateAction(ctx context.Context, projectID, actionID string, input model.UpdateActionInput) (action model.ProjectAction, err error) {
	rctx, err := o.requireEditor(ctx, projectID)
	if err != nil {
		return model.ProjectAction{}, err
	}

	ctx, span := observability.StartSpan(ctx, "collab.update_action",
		observability.AttrProjectID.String(projectID),
		observability.AttrActionID.String(actionID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if input.ExpectedLastEventID == 0 {
		current, getErr := o.getAction(ctx, projectID, actionID)
		if getErr != nil {
			return model.ProjectAction{}, getErr
		}
		input.ExpectedLastEventID = current.LastEventID
	}

	updated, err := o.store.UpdateAction(ctx, actionID, input)
	if err != nil {
		if model.IsStaleVersion(err) {
			if o.metrics != nil {
				o.metrics.RecordConflict("update")
			}
			return o.refreshAction(ctx, projectID, actionID), err
		}
		return model.ProjectAction{}, err
	}

	o.session(projectID).remember(updated)
	if delErr := o.drafts.Delete(ctx, rctx.SubjectID, actionID); delErr != nil {
		o.logger.Warn("draft clear after update failed",
			zap.String("action_id", actionID),
			zap.Error(delErr))
	}
	return updated, nil
}

// Transition moves an action to a canonical status. The request rides on the
// session's last known version token; a stale conflict comes back with the
// refreshed record so the caller can re-render before retrying.
func (o *Orchestrator) Transition(ctx context.Context, projectID, actionID string, toStatus model.Status) (result transition.Result, err error) {
	if _, err := o.requireEditor(ctx, projectID); err != nil {
		return transition.Result{}, err
	}
	if toStatus == "" {
		return transition.Result{}, model.NewBadRequestError("to_status is required")
	}

	d := o.descriptors.Resolve(ctx, projectID)
	if !d.Has(toStatus) {
		return transition.Result{}, model.NewUnknownStatusError(toStatus)
	}

	action, err := o.getAction(ctx, projectID, actionID)
	if err != nil {
		return transition.Result{}, err
	}

	result, err = o.machine.Transition(ctx, d, action, toStatus)
	return o.settleMove(ctx, projectID, actionID, result, err)
}

// MoveHorizontal shifts an action one pipeline position left or right.
// Out-of-bounds moves are silent no-ops.
func (o *Orchestrator) MoveHorizontal(ctx context.Context, projectID, actionID string, direction int) (result transition.Result, err error) {
	if _, err := o.requireEditor(ctx, projectID); err != nil {
		return transition.Result{}, err
	}
	if direction != transition.Left && direction != transition.Right {
		return transition.Result{}, model.NewBadRequestError("direction must be -1 or 1")
	}

	d := o.descriptors.Resolve(ctx, projectID)
	action, err := o.getAction(ctx, projectID, actionID)
	if err != nil {
		return transition.Result{}, err
	}

	result, err = o.machine.MoveHorizontal(ctx, d, action, direction)
	return o.settleMove(ctx, projectID, actionID, result, err)
}

// settleMove folds a machine outcome into the session: remember the moved
// record, or re-fetch on a stale conflict so the caller gets fresh state.
func (o *Orchestrator) settleMove(ctx context.Context, projectID, actionID string, result transition.Result, err error) (transition.Result, error) {
	if err != nil {
		if model.IsStaleVersion(err) {
			result.Action = o.refreshAction(ctx, projectID, actionID)
		}
		return result, err
	}
	if result.Moved {
		o.session(projectID).remember(result.Action)
	}
	return result, nil
}

// AddComment appends a comment (or a reply when ParentCommentID is set) to
// an action's thread.
func (o *Orchestrator) AddComment(ctx context.Context, projectID, actionID string, input model.CommentInput) (comment model.Comment, err error) {
	if _, err := o.requireEditor(ctx, projectID); err != nil {
		return model.Comment{}, err
	}
	if strings.TrimSpace(input.Body) == "" {
		return model.Comment{}, model.NewValidationError([]model.FieldError{
			{Field: "body", Code: "required", Message: "comment body must not be empty"},
		})
	}

	ctx, span := observability.StartSpan(ctx, "collab.add_comment",
		observability.AttrProjectID.String(projectID),
		observability.AttrActionID.String(actionID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if _, err := o.getAction(ctx, projectID, actionID); err != nil {
		return model.Comment{}, err
	}

	comment, err = o.store.AddComment(ctx, actionID, input)
	if err != nil {
		return model.Comment{}, err
	}

	// A comment bumps the card's event token; keep the session current so
	// the next mutation does not trip a spurious conflict.
	o.refreshAction(ctx, projectID, actionID)
	return comment, nil
}

// SaveDraft stores the subject's unsaved edit overlay for an action.
func (o *Orchestrator) SaveDraft(ctx context.Context, projectID, actionID string, d model.Draft) (model.Draft, error) {
	rctx, err := o.requireEditor(ctx, projectID)
	if err != nil {
		return model.Draft{}, err
	}

	if _, err := o.getAction(ctx, projectID, actionID); err != nil {
		return model.Draft{}, err
	}

	d.ActionID = actionID
	d.ProjectID = projectID
	if err := o.drafts.Put(ctx, rctx.SubjectID, d); err != nil {
		return model.Draft{}, fmt.Errorf("save draft: %w", err)
	}
	return d, nil
}

// DiscardDraft removes the subject's draft for an action.
func (o *Orchestrator) DiscardDraft(ctx context.Context, projectID, actionID string) error {
	rctx, err := o.requireEditor(ctx, projectID)
	if err != nil {
		return err
	}
	if err := o.drafts.Delete(ctx, rctx.SubjectID, actionID); err != nil {
		return fmt.Errorf("discard draft: %w", err)
	}
	return nil
}

// Members lists the project's members. Requires membership.
func (o *Orchestrator) Members(ctx context.Context, projectID string) ([]model.Member, error) {
	if _, err := o.requireMember(ctx, projectID); err != nil {
		return nil, err
	}
	return o.members.Members(ctx, projectID)
}

// AddMember adds a member to the project and invalidates the cached list so
// rights checks see the change immediately.
func (o *Orchestrator) AddMember(ctx context.Context, projectID string, input model.MemberInput) (model.Member, error) {
	if _, err := o.requireEditor(ctx, projectID); err != nil {
		return model.Member{}, err
	}
	if input.SubjectID == "" {
		return model.Member{}, model.NewValidationError([]model.FieldError{
			{Field: "subject_id", Code: "required", Message: "subject_id must not be empty"},
		})
	}

	added, err := o.store.AddMember(ctx, projectID, input)
	if err != nil {
		return model.Member{}, err
	}
	o.members.Invalidate(projectID)
	return added, nil
}

// RemoveMember removes a member from the project.
func (o *Orchestrator) RemoveMember(ctx context.Context, projectID, memberID string) error {
	if _, err := o.requireEditor(ctx, projectID); err != nil {
		return err
	}
	if err := o.store.RemoveMember(ctx, projectID, memberID); err != nil {
		return err
	}
	o.members.Invalidate(projectID)
	return nil
}

// CreateProject creates a project. Any authenticated subject may create one;
// the action store seeds the creator as its owner.
func (o *Orchestrator) CreateProject(ctx context.Context, input model.ProjectInput) (model.Project, error) {
	if _, err := requestContext(ctx); err != nil {
		return model.Project{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return model.Project{}, model.NewValidationError([]model.FieldError{
			{Field: "name", Code: "required", Message: "project name must not be empty"},
		})
	}
	return o.store.CreateProject(ctx, input)
}

// UpdateProject edits project settings. Requires edit rights.
func (o *Orchestrator) UpdateProject(ctx context.Context, projectID string, input model.ProjectInput) (model.Project, error) {
	if _, err := o.requireEditor(ctx, projectID); err != nil {
		return model.Project{}, err
	}
	updated, err := o.store.UpdateProject(ctx, projectID, input)
	if err != nil {
		return model.Project{}, err
	}
	// Settings edits can rename or reorder workflow statuses.
	o.descriptors.Refresh(ctx, projectID)
	return updated, nil
}

// SetViewState applies a view change: the mode persists durably, tag and
// open action ride in the returned canonical query string only.
func (o *Orchestrator) SetViewState(ctx context.Context, projectID string, state model.ViewState) (model.ViewState, string, error) {
	rctx, err := o.requireMember(ctx, projectID)
	if err != nil {
		return model.ViewState{}, "", err
	}
	if state.Mode == "" {
		state.Mode = model.ModeList
	}
	if !state.Mode.Valid() {
		return model.ViewState{}, "", model.NewValidationError([]model.FieldError{
			{Field: "mode", Code: "invalid", Message: `mode must be "list" or "board"`},
		})
	}

	if err := o.views.Persist(ctx, rctx.SubjectID, projectID, state.Mode); err != nil {
		return model.ViewState{}, "", err
	}
	return state, viewstate.CanonicalQuery(projectID, state), nil
}

// Projects lists the projects visible to the authenticated account.
func (o *Orchestrator) Projects(ctx context.Context) ([]model.Project, error) {
	if _, err := requestContext(ctx); err != nil {
		return nil, err
	}
	return o.store.ListProjects(ctx)
}

// getAction returns the session's record for an action, listing the project
// once when the session has not seen it yet.
func (o *Orchestrator) getAction(ctx context.Context, projectID, actionID string) (model.ProjectAction, error) {
	session := o.session(projectID)
	if a, ok := session.action(actionID); ok {
		return a, nil
	}

	actions, err := o.store.ListActions(ctx, projectID)
	if err != nil {
		return model.ProjectAction{}, err
	}
	session.rememberAll(actions)

	if a, ok := session.action(actionID); ok {
		return a, nil
	}
	return model.ProjectAction{}, model.NewNotFoundError(
		fmt.Sprintf("action %q not found in project %q", actionID, projectID))
}

// refreshAction re-fetches the project's actions into the session and
// returns the current record for actionID, or the zero value when the
// listing fails or the action is gone.
func (o *Orchestrator) refreshAction(ctx context.Context, projectID, actionID string) model.ProjectAction {
	actions, err := o.store.ListActions(ctx, projectID)
	if err != nil {
		o.logger.Warn("conflict re-fetch failed",
			zap.String("project_id", projectID),
			zap.String("action_id", actionID),
			zap.Error(err))
		return model.ProjectAction{}
	}
	session := o.session(projectID)
	session.rememberAll(actions)
	a, _ := session.action(actionID)
	return a
}

// requireMember resolves the request context and checks project membership.
func (o *Orchestrator) requireMember(ctx context.Context, projectID string) (*model.RequestContext, error) {
	rctx, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := o.members.IsMember(ctx, projectID, rctx.SubjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewForbiddenError(
			fmt.Sprintf("subject is not a member of project %q", projectID))
	}
	return rctx, nil
}

// requireEditor resolves the request context and checks edit rights. The
// check runs before any upstream mutation is attempted.
func (o *Orchestrator) requireEditor(ctx context.Context, projectID string) (*model.RequestContext, error) {
	rctx, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := o.members.CanEdit(ctx, projectID, rctx.SubjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewForbiddenError("project edits require the owner or editor role")
	}
	return rctx, nil
}

func requestContext(ctx context.Context) (*model.RequestContext, error) {
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return nil, model.NewUnauthorizedError("request context missing")
	}
	return rctx, nil
}

// validateCreate checks the fields a create cannot proceed without.
func validateCreate(input model.CreateActionInput) []model.FieldError {
	var details []model.FieldError
	if strings.TrimSpace(input.Name) == "" {
		details = append(details, model.FieldError{
			Field: "name", Code: "required", Message: "action name must not be empty",
		})
	}
	return details
}
