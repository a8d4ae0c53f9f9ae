// Package timeline merges an action's status log and revision history into
// one activity feed, most recent first.
package timeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bucketworks/boardwalk/model"
)

// Merge flattens transitions and revisions into one feed sorted by timestamp
// descending. The sort is stable, so same-instant entries keep their pre-sort
// relative order; nothing may depend on more than that.
func Merge(transitions []model.Transition, revisions []model.Revision) []model.TimelineEntry {
	entries := make([]model.TimelineEntry, 0, len(transitions)+len(revisions))
	for _, tr := range transitions {
		entries = append(entries, model.TimelineEntry{
			Kind:      model.TimelineKindTransition,
			Label:     transitionLabel(tr),
			Timestamp: tr.TS,
			RefID:     tr.ID,
		})
	}
	for _, rev := range revisions {
		entries = append(entries, model.TimelineEntry{
			Kind:      model.TimelineKindRevision,
			Label:     revisionLabel(rev),
			Timestamp: rev.CreatedAt,
			RefID:     rev.ID,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries
}

// transitionLabel renders a status event: the initial status-set carries no
// from side.
func transitionLabel(tr model.Transition) string {
	if tr.FromStatus == "" {
		return fmt.Sprintf("status set to %s", tr.ToStatus)
	}
	return fmt.Sprintf("status: %s → %s", tr.FromStatus, tr.ToStatus)
}

// revisionLabel renders the sorted changed field names, or "metadata" for a
// revision with an empty diff.
func revisionLabel(rev model.Revision) string {
	if len(rev.Diff) == 0 {
		return "metadata"
	}
	fields := make([]string, 0, len(rev.Diff))
	for f := range rev.Diff {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return strings.Join(fields, ", ")
}
