package model

// Status identifies one stage of a project's workflow pipeline. Statuses are
// opaque per-project configuration values, not a fixed enum: code must only
// interpret a Status against the project's WorkflowDescriptor.
type Status string

// String returns the raw status identifier.
func (s Status) String() string { return string(s) }

// Stages of the built-in default pipeline. These are ordinary status
// identifiers, meaningful only inside DefaultWorkflowDescriptor.
const (
	StatusBacklog Status = "backlog"
	StatusActive  Status = "active"
	StatusDone    Status = "done"
	StatusBlocked Status = "blocked"
)

// WorkflowDescriptor is the per-project workflow configuration: the ordered
// status pipeline, display labels, and the semantic default/done/blocked
// sets. Done and blocked are tags over ordinary statuses, not separate
// machine states. A resolved descriptor is treated as immutable for the
// lifetime of one board session and re-fetched per project.
type WorkflowDescriptor struct {
	ProjectID         string            `json:"project_id,omitempty"`
	CanonicalStatuses []Status          `json:"canonical_statuses"`
	ColumnLabels      map[Status]string `json:"column_labels,omitempty"`
	DefaultStatus     Status            `json:"default_status"`
	DoneStatuses      []Status          `json:"done_statuses,omitempty"`
	BlockedStatuses   []Status          `json:"blocked_statuses,omitempty"`
}

// DefaultWorkflowDescriptor returns the built-in four-stage pipeline used
// whenever a project has no configured workflow. It is a complete descriptor:
// nothing downstream special-cases "no descriptor yet".
func DefaultWorkflowDescriptor() *WorkflowDescriptor {
	return &WorkflowDescriptor{
		CanonicalStatuses: []Status{StatusBacklog, StatusActive, StatusDone, StatusBlocked},
		ColumnLabels: map[Status]string{
			StatusBacklog: "Backlog",
			StatusActive:  "Active",
			StatusDone:    "Done",
			StatusBlocked: "Blocked",
		},
		DefaultStatus:   StatusBacklog,
		DoneStatuses:    []Status{StatusDone},
		BlockedStatuses: []Status{StatusBlocked},
	}
}

// Has returns true if s is one of the canonical statuses.
func (d *WorkflowDescriptor) Has(s Status) bool {
	return d.IndexOf(s) >= 0
}

// IndexOf returns the pipeline position of s, or -1 if s is not canonical.
func (d *WorkflowDescriptor) IndexOf(s Status) int {
	for i, cs := range d.CanonicalStatuses {
		if cs == s {
			return i
		}
	}
	return -1
}

// Label returns the display label for s, falling back to the raw status
// identifier when no label is configured.
func (d *WorkflowDescriptor) Label(s Status) string {
	if l, ok := d.ColumnLabels[s]; ok && l != "" {
		return l
	}
	return string(s)
}

// IsDone returns true if s carries the done tag.
func (d *WorkflowDescriptor) IsDone(s Status) bool {
	return containsStatus(d.DoneStatuses, s)
}

// IsBlocked returns true if s carries the blocked tag.
func (d *WorkflowDescriptor) IsBlocked(s Status) bool {
	return containsStatus(d.BlockedStatuses, s)
}

// DoneStatus returns the first done-tagged status, if any.
func (d *WorkflowDescriptor) DoneStatus() (Status, bool) {
	if len(d.DoneStatuses) == 0 {
		return "", false
	}
	return d.DoneStatuses[0], true
}

// BlockedStatus returns the first blocked-tagged status, if any.
func (d *WorkflowDescriptor) BlockedStatus() (Status, bool) {
	if len(d.BlockedStatuses) == 0 {
		return "", false
	}
	return d.BlockedStatuses[0], true
}

// Normalize repairs a descriptor in place so that every semantic entry is a
// member of the canonical pipeline: duplicate canonical statuses are dropped
// (first occurrence wins) and any default/done/blocked entry that is not
// canonical is substituted with the first canonical status. A descriptor
// with no canonical statuses is left untouched; resolving such a descriptor
// falls back to the built-in default instead.
func (d *WorkflowDescriptor) Normalize() {
	if len(d.CanonicalStatuses) == 0 {
		return
	}

	seen := make(map[Status]struct{}, len(d.CanonicalStatuses))
	canonical := d.CanonicalStatuses[:0]
	for _, s := range d.CanonicalStatuses {
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		canonical = append(canonical, s)
	}
	d.CanonicalStatuses = canonical
	if len(d.CanonicalStatuses) == 0 {
		return
	}

	first := d.CanonicalStatuses[0]
	if !d.Has(d.DefaultStatus) {
		d.DefaultStatus = first
	}
	d.DoneStatuses = substituteMissing(d.DoneStatuses, d, first)
	d.BlockedStatuses = substituteMissing(d.BlockedStatuses, d, first)
}

// substituteMissing replaces non-canonical entries with the fallback status
// and drops the duplicates that substitution can introduce.
func substituteMissing(set []Status, d *WorkflowDescriptor, fallback Status) []Status {
	if len(set) == 0 {
		return set
	}
	out := set[:0]
	seen := make(map[Status]struct{}, len(set))
	for _, s := range set {
		if !d.Has(s) {
			s = fallback
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
