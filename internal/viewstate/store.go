// Package viewstate resolves and persists per-project presentation state.
// Mode, tag filter, and open action resolve through an ordered source list
// (query, durable store, default); only the presentation mode is stored
// durably.
package viewstate

import (
	"context"
	"fmt"

	"github.com/bucketworks/boardwalk/model"
)

// Store durably holds a subject's presentation mode per project. Tag filter
// and open action are never stored; they live in the query string only.
type Store interface {
	// GetMode returns the stored mode for a subject's project slot.
	// found is false when no slot exists.
	GetMode(ctx context.Context, subjectID, projectID string) (mode model.PresentationMode, found bool, err error)

	// PutMode stores the mode in the subject's project slot.
	PutMode(ctx context.Context, subjectID, projectID string, mode model.PresentationMode) error

	// Driver names the backing implementation for metrics labels.
	Driver() string
}

// FormatKey builds the durable slot key. The logical slot is
// "collaboration-view:{projectID}"; the subject prefix keeps slots apart in
// shared stores.
func FormatKey(subjectID, projectID string) string {
	return fmt.Sprintf("%s:collaboration-view:%s", subjectID, projectID)
}
