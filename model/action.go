package model

import (
	"strings"
	"time"
)

// ObjectRef is an optional external reference attached to an action,
// serialized in the upstream's JSON-LD flavored form.
type ObjectRef struct {
	ID string `json:"@id"`
}

// ProjectAction is one card on a project board. Every mutation of a card
// must present its current LastEventID; the server rejects writes issued
// against a stale token, which is the only cross-collaborator concurrency
// control in the system.
type ProjectAction struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	ActionStatus Status     `json:"action_status"`
	Owner        string     `json:"owner,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	ObjectRef    *ObjectRef `json:"object_ref,omitempty"`
	CommentCount int        `json:"comment_count"`

	// LastEventID is the monotonically increasing per-card version token.
	LastEventID int64 `json:"last_event_id"`
}

// HasTag reports whether any of the action's tags contains the given
// fragment, case-insensitively. An empty fragment matches everything.
func (a *ProjectAction) HasTag(fragment string) bool {
	if fragment == "" {
		return true
	}
	needle := strings.ToLower(fragment)
	for _, tag := range a.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Comment is one entry in an action's discussion. ParentCommentID is empty
// for root comments; parents always precede their children in creation
// order, so parent pointers cannot form cycles at the source.
type Comment struct {
	ID              string    `json:"id"`
	ActionID        string    `json:"action_id"`
	ParentCommentID string    `json:"parent_comment_id,omitempty"`
	Body            string    `json:"body"`
	Author          string    `json:"author"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsRoot returns true for top-level comments.
func (c *Comment) IsRoot() bool { return c.ParentCommentID == "" }

// Transition is one append-only entry in an action's status audit log.
// FromStatus is empty for the initial status-set event.
type Transition struct {
	ID         string    `json:"id"`
	ActionID   string    `json:"action_id"`
	TS         time.Time `json:"ts"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
}

// FieldChange records the before/after of one field inside a revision diff.
type FieldChange struct {
	Old any `json:"old,omitempty"`
	New any `json:"new,omitempty"`
}

// Revision is one append-only entry in an action's field-revision log.
type Revision struct {
	ID        string                 `json:"id"`
	ActionID  string                 `json:"action_id"`
	CreatedAt time.Time              `json:"created_at"`
	Diff      map[string]FieldChange `json:"diff,omitempty"`
}

// LegacyBucket is a fixed list the pre-collaboration application sorted
// tasks into.
type LegacyBucket string

// Buckets of the legacy application. Legacy actions carry one of the first
// five; reference and project exist in the legacy app but never appear on
// migratable items.
const (
	BucketInbox     LegacyBucket = "inbox"
	BucketNext      LegacyBucket = "next"
	BucketWaiting   LegacyBucket = "waiting"
	BucketCalendar  LegacyBucket = "calendar"
	BucketSomeday   LegacyBucket = "someday"
	BucketReference LegacyBucket = "reference"
	BucketProject   LegacyBucket = "project"
)

// LegacyAction is a task from the pre-collaboration single-user list,
// read-only input to the backfill coordinator. Date fields are raw strings
// parsed best-effort during migration.
type LegacyAction struct {
	CanonicalID   string       `json:"canonical_id"`
	Name          string       `json:"name"`
	Bucket        LegacyBucket `json:"bucket"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	DueDate       string       `json:"due_date,omitempty"`
	ScheduledDate string       `json:"scheduled_date,omitempty"`
	StartDate     string       `json:"start_date,omitempty"`
	Delegate      string       `json:"delegate,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Description   string       `json:"description,omitempty"`
}

// MemberRole is a member's standing within one project.
type MemberRole string

// Project member roles.
const (
	RoleOwner  MemberRole = "owner"
	RoleEditor MemberRole = "editor"
	RoleViewer MemberRole = "viewer"
)

// CanEdit returns true for roles allowed to mutate project state.
func (r MemberRole) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Member is one collaborator on a project.
type Member struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email,omitempty"`
	Role        MemberRole `json:"role"`
	AddedAt     time.Time  `json:"added_at"`
}

// ProjectStatus is the lifecycle state of a project itself, distinct from
// the workflow statuses of its actions.
type ProjectStatus string

// Project lifecycle states.
const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectOnHold    ProjectStatus = "on_hold"
)

// Project is a shared container of actions with a member list.
type Project struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	DesiredOutcome string        `json:"desired_outcome,omitempty"`
	DueAt          *time.Time    `json:"due_at,omitempty"`
	Status         ProjectStatus `json:"status"`
	Members        []Member      `json:"members,omitempty"`
}

// CreateActionInput is the payload for creating a native action. CanonicalID
// is optional; when set (the backfill path) the upstream uses it as a
// natural idempotency key and answers a duplicate conflict on collision.
type CreateActionInput struct {
	CanonicalID  string     `json:"canonical_id,omitempty"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	ActionStatus Status     `json:"action_status"`
	OwnerText    string     `json:"owner_text,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
}

// UpdateActionInput is a partial patch of an action's fields. Nil pointers
// leave the field untouched. ExpectedLastEventID must match the server's
// current token for the patch to apply.
type UpdateActionInput struct {
	Name                *string    `json:"name,omitempty"`
	Description         *string    `json:"description,omitempty"`
	Owner               *string    `json:"owner,omitempty"`
	DueAt               *time.Time `json:"due_at,omitempty"`
	Tags                *[]string  `json:"tags,omitempty"`
	ExpectedLastEventID int64      `json:"expected_last_event_id"`
}

// TransitionInput moves an action to a new status. CorrelationID lets the
// upstream de-duplicate a retried request that already applied.
type TransitionInput struct {
	ToStatus            Status `json:"to_status"`
	ExpectedLastEventID int64  `json:"expected_last_event_id"`
	CorrelationID       string `json:"correlation_id"`
}

// CommentInput adds one comment, optionally as a reply.
type CommentInput struct {
	Body            string `json:"body"`
	ParentCommentID string `json:"parent_comment_id,omitempty"`
}

// MemberInput adds one member to a project.
type MemberInput struct {
	SubjectID   string     `json:"subject_id"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email,omitempty"`
	Role        MemberRole `json:"role"`
}

// ProjectInput creates or patches a project.
type ProjectInput struct {
	Name           string        `json:"name"`
	DesiredOutcome string        `json:"desired_outcome,omitempty"`
	DueAt          *time.Time    `json:"due_at,omitempty"`
	Status         ProjectStatus `json:"status,omitempty"`
}

// ActionDetail is the expanded payload behind one card: the long fields plus
// the full comment set.
type ActionDetail struct {
	Description string     `json:"description,omitempty"`
	ObjectRef   *ObjectRef `json:"object_ref,omitempty"`
	Comments    []Comment  `json:"comments"`
}

// ActionHistory carries the two independent audit streams for one card.
type ActionHistory struct {
	Transitions []Transition `json:"transitions"`
	Revisions   []Revision   `json:"revisions"`
}

// Draft is a subject's unsaved edit of one action: the optimistic local
// overlay shown before the server write lands. Nil fields are untouched.
type Draft struct {
	ActionID    string     `json:"action_id"`
	ProjectID   string     `json:"project_id"`
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Owner       *string    `json:"owner,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Tags        *[]string  `json:"tags,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
