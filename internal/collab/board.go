package collab

import "github.com/bucketworks/boardwalk/model"

// buildColumns groups actions into one column per canonical status, in
// pipeline order, preserving the upstream listing order within each column.
// A non-empty tag keeps only actions matching it (case-insensitive
// substring). Actions whose status the descriptor does not know are dropped
// from the board; they remain reachable through the detail view.
func buildColumns(d model.WorkflowDescriptor, actions []model.ProjectAction, tag string) []model.BoardColumn {
	byStatus := make(map[model.Status][]model.ProjectAction, len(d.CanonicalStatuses))
	for _, a := range actions {
		if tag != "" && !a.HasTag(tag) {
			continue
		}
		if !d.Has(a.ActionStatus) {
			continue
		}
		byStatus[a.ActionStatus] = append(byStatus[a.ActionStatus], a)
	}

	columns := make([]model.BoardColumn, 0, len(d.CanonicalStatuses))
	for _, status := range d.CanonicalStatuses {
		columns = append(columns, model.BoardColumn{
			Status:  status,
			Label:   d.Label(status),
			Actions: byStatus[status],
		})
	}
	return columns
}
