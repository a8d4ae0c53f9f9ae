package model

import "time"

// PresentationMode selects how a project's actions are laid out.
type PresentationMode string

// Presentation modes. List is the default for a first visit.
const (
	ModeList  PresentationMode = "list"
	ModeBoard PresentationMode = "board"
)

// Valid reports whether m is a known presentation mode.
func (m PresentationMode) Valid() bool {
	return m == ModeList || m == ModeBoard
}

// ViewState is the per-project presentation state: two independent slots
// (mode and tag filter) plus the currently opened card. Only the mode is
// persisted durably; tag and open card live in the shareable query string.
type ViewState struct {
	Mode         PresentationMode `json:"mode"`
	Tag          string           `json:"tag,omitempty"`
	OpenActionID string           `json:"open_action_id,omitempty"`
}

// BoardColumn is one pipeline stage with its actions, in upstream order.
type BoardColumn struct {
	Status  Status          `json:"status"`
	Label   string          `json:"label"`
	Actions []ProjectAction `json:"actions"`
}

// BackfillOutcome reports what a backfill evaluation did for a board load.
type BackfillOutcome struct {
	Ran            bool   `json:"ran"`
	Created        int    `json:"created"`
	AlreadyPresent int    `json:"already_present"`
	Skipped        int    `json:"skipped"`
	Error          string `json:"error,omitempty"`
}

// BoardView is the full view-model for one project board: the resolved
// workflow, actions grouped per canonical status (tag filter applied), the
// resolved view state, and the canonical query string the client should put
// in its address bar so the view is shareable.
type BoardView struct {
	Project    Project             `json:"project"`
	Descriptor *WorkflowDescriptor `json:"descriptor"`
	Columns    []BoardColumn       `json:"columns"`
	ViewState  ViewState           `json:"view_state"`
	Query      string              `json:"query"`
	Backfill   *BackfillOutcome    `json:"backfill,omitempty"`
}

// Timeline entry kinds.
const (
	TimelineKindTransition = "transition"
	TimelineKindRevision   = "revision"
)

// TimelineEntry is one row of the merged history feed for a card.
type TimelineEntry struct {
	Kind      string    `json:"kind"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
	RefID     string    `json:"ref_id"`
}

// DetailView is the expanded view-model for one card: the confirmed record,
// the long fields, the reply tree keyed by parent comment id (roots under
// "root"), the merged timeline, and the acting subject's draft overlay when
// one exists.
type DetailView struct {
	Action    ProjectAction        `json:"action"`
	ObjectRef *ObjectRef           `json:"object_ref,omitempty"`
	Thread    map[string][]Comment `json:"thread"`
	Timeline  []TimelineEntry      `json:"timeline"`
	Draft     *Draft               `json:"draft,omitempty"`
}
