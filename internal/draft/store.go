// Package draft stores unsaved per-subject edit overlays for actions, so a
// half-typed edit survives navigation (and, with the Postgres store, a
// restart).
package draft

import (
	"context"

	"github.com/bucketworks/boardwalk/model"
)

// Store holds draft overlays keyed by (subject, action). Drafts are private
// to the subject who typed them.
type Store interface {
	// Put saves or replaces the subject's draft for d.ActionID.
	Put(ctx context.Context, subjectID string, d model.Draft) error

	// Get returns the subject's draft for an action. found is false when no
	// draft exists.
	Get(ctx context.Context, subjectID, actionID string) (d model.Draft, found bool, err error)

	// Delete removes the subject's draft for an action. Deleting an absent
	// draft is not an error.
	Delete(ctx context.Context, subjectID, actionID string) error

	// ListByProject returns all of the subject's drafts within one project.
	ListByProject(ctx context.Context, subjectID, projectID string) ([]model.Draft, error)
}
