package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bucketworks/boardwalk/model"
)

// MemoryStore is an in-memory Store for tests and single-process development.
// It enforces the same concurrency and duplicate semantics as the real action
// store: every write must present the card's current last_event_id, and
// creates collide on canonical id.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]model.Project
	workflows map[string]model.WorkflowDescriptor
	actions   map[string][]model.ProjectAction // key: project ID, insertion order
	actionIdx map[string]string                // action ID → project ID
	comments  map[string][]model.Comment      // key: action ID
	trans     map[string][]model.Transition   // key: action ID
	revs      map[string][]model.Revision     // key: action ID
	members   map[string][]model.Member       // key: project ID
	legacy    []model.LegacyAction
}

// NewMemoryStore creates an empty in-memory action store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]model.Project),
		workflows: make(map[string]model.WorkflowDescriptor),
		actions:   make(map[string][]model.ProjectAction),
		actionIdx: make(map[string]string),
		comments:  make(map[string][]model.Comment),
		trans:     make(map[string][]model.Transition),
		revs:      make(map[string][]model.Revision),
		members:   make(map[string][]model.Member),
	}
}

func (s *MemoryStore) GetWorkflow(_ context.Context, projectID string) (model.WorkflowDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.workflows[projectID]
	if !ok {
		return model.WorkflowDescriptor{}, model.NewNotFoundError(
			fmt.Sprintf("project %q has no workflow configuration", projectID),
		)
	}
	return d, nil
}

func (s *MemoryStore) ListActions(_ context.Context, projectID string) ([]model.ProjectAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actions := s.actions[projectID]
	result := make([]model.ProjectAction, len(actions))
	copy(result, actions)
	return result, nil
}

func (s *MemoryStore) CreateAction(_ context.Context, projectID string, input model.CreateActionInput) (model.ProjectAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.CanonicalID != "" {
		for _, a := range s.actions[projectID] {
			if canonicalOf(a) == input.CanonicalID {
				return model.ProjectAction{}, model.NewDuplicateError(
					fmt.Sprintf("canonical id %q is already linked to project %q", input.CanonicalID, projectID),
				)
			}
		}
	}

	now := time.Now().UTC()
	action := model.ProjectAction{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Name:         input.Name,
		Description:  input.Description,
		ActionStatus: input.ActionStatus,
		Owner:        input.OwnerText,
		DueAt:        input.DueAt,
		Tags:         append([]string(nil), input.Tags...),
		LastEventID:  1,
	}
	if input.CanonicalID != "" {
		action.ObjectRef = &model.ObjectRef{ID: input.CanonicalID}
	}

	s.actions[projectID] = append(s.actions[projectID], action)
	s.actionIdx[action.ID] = projectID

	// Creation records the initial status-set event.
	s.trans[action.ID] = append(s.trans[action.ID], model.Transition{
		ID:       uuid.NewString(),
		ActionID: action.ID,
		TS:       now,
		ToStatus: input.ActionStatus,
	})

	return action, nil
}

func (s *MemoryStore) UpdateAction(_ context.Context, actionID string, input model.UpdateActionInput) (model.ProjectAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID, idx, err := s.locate(actionID)
	if err != nil {
		return model.ProjectAction{}, err
	}
	action := s.actions[projectID][idx]

	if input.ExpectedLastEventID != action.LastEventID {
		return model.ProjectAction{}, model.NewStaleVersionError(
			fmt.Sprintf("action %q changed since it was read (expected event %d, current %d)",
				actionID, input.ExpectedLastEventID, action.LastEventID),
		)
	}

	diff := make(map[string]model.FieldChange)
	if input.Name != nil && *input.Name != action.Name {
		diff["name"] = model.FieldChange{Old: action.Name, New: *input.Name}
		action.Name = *input.Name
	}
	if input.Description != nil && *input.Description != action.Description {
		diff["description"] = model.FieldChange{Old: action.Description, New: *input.Description}
		action.Description = *input.Description
	}
	if input.Owner != nil && *input.Owner != action.Owner {
		diff["owner"] = model.FieldChange{Old: action.Owner, New: *input.Owner}
		action.Owner = *input.Owner
	}
	if input.DueAt != nil {
		diff["due_at"] = model.FieldChange{Old: action.DueAt, New: input.DueAt}
		action.DueAt = input.DueAt
	}
	if input.Tags != nil {
		diff["tags"] = model.FieldChange{Old: action.Tags, New: *input.Tags}
		action.Tags = append([]string(nil), (*input.Tags)...)
	}

	action.LastEventID++
	s.actions[projectID][idx] = action

	if len(diff) > 0 {
		s.revs[actionID] = append(s.revs[actionID], model.Revision{
			ID:        uuid.NewString(),
			ActionID:  actionID,
			CreatedAt: time.Now().UTC(),
			Diff:      diff,
		})
	}

	return action, nil
}

func (s *MemoryStore) TransitionAction(_ context.Context, actionID string, input model.TransitionInput) (model.ProjectAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID, idx, err := s.locate(actionID)
	if err != nil {
		return model.ProjectAction{}, err
	}
	action := s.actions[projectID][idx]

	if input.ExpectedLastEventID != action.LastEventID {
		return model.ProjectAction{}, model.NewStaleVersionError(
			fmt.Sprintf("action %q changed since it was read (expected event %d, current %d)",
				actionID, input.ExpectedLastEventID, action.LastEventID),
		)
	}

	from := action.ActionStatus
	action.ActionStatus = input.ToStatus
	action.LastEventID++
	s.actions[projectID][idx] = action

	s.trans[actionID] = append(s.trans[actionID], model.Transition{
		ID:         uuid.NewString(),
		ActionID:   actionID,
		TS:         time.Now().UTC(),
		FromStatus: from,
		ToStatus:   input.ToStatus,
	})

	return action, nil
}

func (s *MemoryStore) GetActionDetail(_ context.Context, actionID string) (model.ActionDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projectID, idx, err := s.locate(actionID)
	if err != nil {
		return model.ActionDetail{}, err
	}
	action := s.actions[projectID][idx]

	comments := make([]model.Comment, len(s.comments[actionID]))
	copy(comments, s.comments[actionID])

	return model.ActionDetail{
		Description: action.Description,
		ObjectRef:   action.ObjectRef,
		Comments:    comments,
	}, nil
}

func (s *MemoryStore) GetActionHistory(_ context.Context, actionID string) (model.ActionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, _, err := s.locate(actionID); err != nil {
		return model.ActionHistory{}, err
	}

	transitions := make([]model.Transition, len(s.trans[actionID]))
	copy(transitions, s.trans[actionID])
	revisions := make([]model.Revision, len(s.revs[actionID]))
	copy(revisions, s.revs[actionID])

	return model.ActionHistory{Transitions: transitions, Revisions: revisions}, nil
}

func (s *MemoryStore) AddComment(ctx context.Context, actionID string, input model.CommentInput) (model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID, idx, err := s.locate(actionID)
	if err != nil {
		return model.Comment{}, err
	}

	author := ""
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		author = rctx.SubjectID
	}

	comment := model.Comment{
		ID:              uuid.NewString(),
		ActionID:        actionID,
		ParentCommentID: input.ParentCommentID,
		Body:            input.Body,
		Author:          author,
		CreatedAt:       time.Now().UTC(),
	}
	s.comments[actionID] = append(s.comments[actionID], comment)

	// A comment is an event on the card: the count and token both move.
	action := s.actions[projectID][idx]
	action.CommentCount++
	action.LastEventID++
	s.actions[projectID][idx] = action

	return comment, nil
}

func (s *MemoryStore) ListMembers(_ context.Context, projectID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.projects[projectID]; !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}
	members := make([]model.Member, len(s.members[projectID]))
	copy(members, s.members[projectID])
	return members, nil
}

func (s *MemoryStore) AddMember(_ context.Context, projectID string, input model.MemberInput) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return model.Member{}, model.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}
	for _, m := range s.members[projectID] {
		if m.SubjectID == input.SubjectID {
			return model.Member{}, model.NewDuplicateError(
				fmt.Sprintf("subject %q is already a member of project %q", input.SubjectID, projectID),
			)
		}
	}

	member := model.Member{
		ID:          uuid.NewString(),
		SubjectID:   input.SubjectID,
		DisplayName: input.DisplayName,
		Email:       input.Email,
		Role:        input.Role,
		AddedAt:     time.Now().UTC(),
	}
	s.members[projectID] = append(s.members[projectID], member)
	return member, nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, projectID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.members[projectID]
	for i, m := range members {
		if m.ID == memberID {
			s.members[projectID] = append(members[:i:i], members[i+1:]...)
			return nil
		}
	}
	return model.NewNotFoundError(
		fmt.Sprintf("member %q not found in project %q", memberID, projectID),
	)
}

func (s *MemoryStore) ListLegacyActions(_ context.Context) ([]model.LegacyAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.LegacyAction, len(s.legacy))
	copy(result, s.legacy)
	return result, nil
}

func (s *MemoryStore) ListProjects(_ context.Context) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Project, 0, len(s.projects))
	for id := range s.projects {
		result = append(result, s.projectWithRoster(id))
	}
	return result, nil
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.projects[projectID]; !ok {
		return model.Project{}, model.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}
	return s.projectWithRoster(projectID), nil
}

func (s *MemoryStore) CreateProject(ctx context.Context, input model.ProjectInput) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := input.Status
	if status == "" {
		status = model.ProjectActive
	}
	project := model.Project{
		ID:             uuid.NewString(),
		Name:           input.Name,
		DesiredOutcome: input.DesiredOutcome,
		DueAt:          input.DueAt,
		Status:         status,
	}
	s.projects[project.ID] = project

	// The creating subject becomes the owning member.
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.SubjectID != "" {
		s.members[project.ID] = append(s.members[project.ID], model.Member{
			ID:          uuid.NewString(),
			SubjectID:   rctx.SubjectID,
			DisplayName: rctx.DisplayName,
			Email:       rctx.Email,
			Role:        model.RoleOwner,
			AddedAt:     time.Now().UTC(),
		})
	}

	return s.projectWithRoster(project.ID), nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, projectID string, input model.ProjectInput) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[projectID]
	if !ok {
		return model.Project{}, model.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}

	if input.Name != "" {
		project.Name = input.Name
	}
	if input.DesiredOutcome != "" {
		project.DesiredOutcome = input.DesiredOutcome
	}
	if input.DueAt != nil {
		project.DueAt = input.DueAt
	}
	if input.Status != "" {
		project.Status = input.Status
	}
	s.projects[projectID] = project

	return s.projectWithRoster(projectID), nil
}

func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// --- seeding helpers, for tests ---

// SeedProject stores a project as-is.
func (s *MemoryStore) SeedProject(p model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// SeedWorkflow stores a project's workflow descriptor as-is.
func (s *MemoryStore) SeedWorkflow(projectID string, d model.WorkflowDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[projectID] = d
}

// SeedAction stores an action as-is, without recording a creation event.
func (s *MemoryStore) SeedAction(a model.ProjectAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ProjectID] = append(s.actions[a.ProjectID], a)
	s.actionIdx[a.ID] = a.ProjectID
}

// SeedComment appends a comment as-is, without touching the card's token.
func (s *MemoryStore) SeedComment(c model.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ActionID] = append(s.comments[c.ActionID], c)
}

// SeedMember appends a roster entry as-is.
func (s *MemoryStore) SeedMember(projectID string, m model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[projectID] = append(s.members[projectID], m)
}

// SeedLegacyActions replaces the account's legacy action list.
func (s *MemoryStore) SeedLegacyActions(list []model.LegacyAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacy = append([]model.LegacyAction(nil), list...)
}

// ActionCount returns the number of actions in a project. For testing.
func (s *MemoryStore) ActionCount(projectID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions[projectID])
}

// --- internals ---

// locate finds an action's project and slice position. Must be called with
// the lock held.
func (s *MemoryStore) locate(actionID string) (projectID string, idx int, err error) {
	projectID, ok := s.actionIdx[actionID]
	if !ok {
		return "", 0, model.NewNotFoundError(fmt.Sprintf("action %q not found", actionID))
	}
	for i, a := range s.actions[projectID] {
		if a.ID == actionID {
			return projectID, i, nil
		}
	}
	return "", 0, model.NewNotFoundError(fmt.Sprintf("action %q not found", actionID))
}

// projectWithRoster returns a project copy with its members attached. Must be
// called with the lock held.
func (s *MemoryStore) projectWithRoster(projectID string) model.Project {
	project := s.projects[projectID]
	if roster := s.members[projectID]; len(roster) > 0 {
		project.Members = make([]model.Member, len(roster))
		copy(project.Members, roster)
	}
	return project
}

// canonicalOf extracts the canonical id an action was created from.
func canonicalOf(a model.ProjectAction) string {
	if a.ObjectRef == nil {
		return ""
	}
	return a.ObjectRef.ID
}
