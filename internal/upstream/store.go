// Package upstream provides the typed client for the action store, the
// remote system of record for projects, actions, comments, and members.
package upstream

import (
	"context"

	"github.com/bucketworks/boardwalk/model"
)

// Store is the typed contract against the action store. Client implements it
// over HTTP; MemoryStore backs tests and single-process development.
type Store interface {
	// GetWorkflow returns the workflow descriptor configured for a project.
	// Returns NOT_FOUND when the project has no stored configuration.
	GetWorkflow(ctx context.Context, projectID string) (model.WorkflowDescriptor, error)

	// ListActions returns every native action linked to a project.
	ListActions(ctx context.Context, projectID string) ([]model.ProjectAction, error)

	// CreateAction creates a native action within a project. Returns
	// DUPLICATE when the canonical id is already linked to the project.
	CreateAction(ctx context.Context, projectID string, input model.CreateActionInput) (model.ProjectAction, error)

	// UpdateAction patches action fields. Returns STALE_VERSION when the
	// expected last_event_id no longer matches the server's record.
	UpdateAction(ctx context.Context, actionID string, input model.UpdateActionInput) (model.ProjectAction, error)

	// TransitionAction moves an action to a new status. Returns
	// STALE_VERSION when the expected last_event_id no longer matches.
	TransitionAction(ctx context.Context, actionID string, input model.TransitionInput) (model.ProjectAction, error)

	// GetActionDetail returns an action's long-form fields and full comment
	// set.
	GetActionDetail(ctx context.Context, actionID string) (model.ActionDetail, error)

	// GetActionHistory returns an action's transition and revision streams.
	GetActionHistory(ctx context.Context, actionID string) (model.ActionHistory, error)

	// AddComment appends a comment to an action's discussion.
	AddComment(ctx context.Context, actionID string, input model.CommentInput) (model.Comment, error)

	// ListMembers returns a project's membership roster.
	ListMembers(ctx context.Context, projectID string) ([]model.Member, error)

	// AddMember adds a collaborator to a project.
	AddMember(ctx context.Context, projectID string, input model.MemberInput) (model.Member, error)

	// RemoveMember removes a collaborator from a project.
	RemoveMember(ctx context.Context, projectID, memberID string) error

	// ListLegacyActions returns the authenticated account's
	// pre-collaboration actions. Read-only input to the backfill.
	ListLegacyActions(ctx context.Context) ([]model.LegacyAction, error)

	// ListProjects returns the projects visible to the authenticated account.
	ListProjects(ctx context.Context) ([]model.Project, error)

	// GetProject returns one project with its roster.
	GetProject(ctx context.Context, projectID string) (model.Project, error)

	// CreateProject creates a project owned by the authenticated account.
	CreateProject(ctx context.Context, input model.ProjectInput) (model.Project, error)

	// UpdateProject patches project settings.
	UpdateProject(ctx context.Context, projectID string, input model.ProjectInput) (model.Project, error)

	// HealthCheck verifies the action store is reachable.
	HealthCheck(ctx context.Context) error
}
