package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/bucketworks/boardwalk/model"
)

// ==========================================================================
// Board assembly
// ==========================================================================

func TestBoard_GroupsActionsByPipelineStatus(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	h.Store.SeedAction(ActionFixture("act-1", projectID, "Plan rollout", model.StatusBacklog))
	h.Store.SeedAction(ActionFixture("act-2", projectID, "Draft announcement", model.StatusBacklog))
	h.Store.SeedAction(ActionFixture("act-3", projectID, "Wire telemetry", model.StatusActive))
	h.Store.SeedAction(ActionFixture("act-4", projectID, "Sign contract", model.StatusDone))
	h.Store.SeedAction(ActionFixture("act-5", projectID, "Orphaned card", model.Status("review")))

	token := h.GenerateToken(OwnerClaims())
	resp := h.GET("/api/v1/projects/"+projectID+"/board", token)

	var view model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &view)

	if view.Project.ID != projectID {
		t.Errorf("project id = %q, want %q", view.Project.ID, projectID)
	}
	if len(view.Columns) != 4 {
		t.Fatalf("columns = %d, want 4", len(view.Columns))
	}

	wantOrder := []model.Status{model.StatusBacklog, model.StatusActive, model.StatusDone, model.StatusBlocked}
	wantCounts := []int{2, 1, 1, 0}
	for i, col := range view.Columns {
		if col.Status != wantOrder[i] {
			t.Errorf("column %d status = %q, want %q", i, col.Status, wantOrder[i])
		}
		if len(col.Actions) != wantCounts[i] {
			t.Errorf("column %q has %d actions, want %d", col.Status, len(col.Actions), wantCounts[i])
		}
	}

	// Cards with a status the pipeline does not know stay off the board.
	for _, col := range view.Columns {
		for _, a := range col.Actions {
			if a.ID == "act-5" {
				t.Errorf("action with unknown status appeared in column %q", col.Status)
			}
		}
	}

	if view.ViewState.Mode != model.ModeList {
		t.Errorf("default mode = %q, want %q", view.ViewState.Mode, model.ModeList)
	}
	if view.Query != "project="+projectID+"&view=list" {
		t.Errorf("canonical query = %q", view.Query)
	}
}

func TestBoard_TagFilterNarrowsColumns(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	tagged := ActionFixture("act-ui", projectID, "Polish dialog", model.StatusActive)
	tagged.Tags = []string{"UI", "frontend"}
	h.Store.SeedAction(tagged)

	plain := ActionFixture("act-infra", projectID, "Rotate certs", model.StatusActive)
	plain.Tags = []string{"infra"}
	h.Store.SeedAction(plain)

	token := h.GenerateToken(EditorClaims())
	resp := h.GET("/api/v1/projects/"+projectID+"/board?project="+projectID+"&tag=ui", token)

	var view model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &view)

	if view.ViewState.Tag != "ui" {
		t.Errorf("view state tag = %q, want %q", view.ViewState.Tag, "ui")
	}

	active := columnByStatus(t, view, model.StatusActive)
	if len(active.Actions) != 1 || active.Actions[0].ID != "act-ui" {
		t.Errorf("active column = %+v, want only act-ui", active.Actions)
	}
}

func TestBoard_RequiresMembership(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	token := h.GenerateToken(OutsiderClaims())
	resp := h.GET("/api/v1/projects/"+projectID+"/board", token)
	h.AssertStatus(t, resp, http.StatusForbidden)
}

func TestBoard_ViewerCanRead(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	token := h.GenerateToken(ViewerClaims())
	resp := h.GET("/api/v1/projects/"+projectID+"/board", token)
	h.AssertStatus(t, resp, http.StatusOK)
}

// ==========================================================================
// Legacy backfill
// ==========================================================================

func TestBoard_AutoBackfillMigratesLegacyList(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	completed := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	done := LegacyFixture("legacy-4", "Sign the lease", model.BucketNext)
	done.CompletedAt = &completed

	h.Store.SeedLegacyActions([]model.LegacyAction{
		LegacyFixture("legacy-1", "Ship crates", model.BucketNext),
		LegacyFixture("legacy-2", "Await permits", model.BucketWaiting),
		LegacyFixture("legacy-3", "Dream bigger", model.BucketSomeday),
		LegacyFixture("legacy-5", "Sort me later", model.BucketInbox),
		done,
	})

	token := h.GenerateToken(OwnerClaims())
	resp := h.GET("/api/v1/projects/"+projectID+"/board", token)

	var view model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &view)

	if view.Backfill == nil || !view.Backfill.Ran {
		t.Fatalf("backfill outcome = %+v, want a completed run", view.Backfill)
	}
	if view.Backfill.Created != 4 || view.Backfill.Skipped != 1 || view.Backfill.AlreadyPresent != 0 {
		t.Errorf("backfill counts = %+v, want created 4, skipped 1", view.Backfill)
	}

	// Bucket placement: next lands active, waiting lands blocked, someday
	// lands in the default column, completed items land done.
	wantByStatus := map[model.Status]string{
		model.StatusActive:  "Ship crates",
		model.StatusBlocked: "Await permits",
		model.StatusBacklog: "Dream bigger",
		model.StatusDone:    "Sign the lease",
	}
	for status, name := range wantByStatus {
		col := columnByStatus(t, view, status)
		if len(col.Actions) != 1 || col.Actions[0].Name != name {
			t.Errorf("column %q = %+v, want one action %q", status, col.Actions, name)
		}
	}

	// Migrated cards keep their legacy identity.
	active := columnByStatus(t, view, model.StatusActive)
	if len(active.Actions) == 1 {
		ref := active.Actions[0].ObjectRef
		if ref == nil || ref.ID != "legacy-1" {
			t.Errorf("migrated card object ref = %+v, want legacy-1", ref)
		}
	}

	// The gate closes after one completed run.
	resp = h.GET("/api/v1/projects/"+projectID+"/board", token)
	var second model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &second)
	if second.Backfill != nil {
		t.Errorf("second load backfill = %+v, want none", second.Backfill)
	}
	if got := h.Store.ActionCount(projectID); got != 4 {
		t.Errorf("actions after second load = %d, want 4", got)
	}
}

func TestBoard_BackfillCountsDuplicatesAsPresent(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	h.Store.SeedLegacyActions([]model.LegacyAction{
		LegacyFixture("legacy-1", "Order signage", model.BucketNext),
		LegacyFixture("legacy-1", "Order signage again", model.BucketNext),
	})

	token := h.GenerateToken(OwnerClaims())
	resp := h.GET("/api/v1/projects/"+projectID+"/board", token)

	var view model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &view)

	if view.Backfill == nil || !view.Backfill.Ran {
		t.Fatalf("backfill outcome = %+v, want a run", view.Backfill)
	}
	if view.Backfill.Created != 1 || view.Backfill.AlreadyPresent != 1 {
		t.Errorf("backfill counts = %+v, want created 1, already present 1", view.Backfill)
	}
}

func TestBackfill_TriggerEndpoint(t *testing.T) {
	h := NewTestHarness(t, WithoutAutoBackfill())
	projectID := h.SeedStandardProject()

	h.Store.SeedLegacyActions([]model.LegacyAction{
		LegacyFixture("legacy-1", "Ship crates", model.BucketNext),
		LegacyFixture("legacy-2", "Print manuals", model.BucketCalendar),
	})

	token := h.GenerateToken(OwnerClaims())

	// Board loads must not migrate anything while auto mode is off.
	resp := h.GET("/api/v1/projects/"+projectID+"/board", token)
	var view model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &view)
	if view.Backfill != nil {
		t.Errorf("board load ran backfill = %+v with auto disabled", view.Backfill)
	}

	resp = h.POST("/api/v1/projects/"+projectID+"/backfill", nil, token)
	var outcome model.BackfillOutcome
	h.AssertJSON(t, resp, http.StatusOK, &outcome)
	if !outcome.Ran || outcome.Created != 2 {
		t.Errorf("trigger outcome = %+v, want created 2", outcome)
	}

	// A populated project reports without running.
	resp = h.POST("/api/v1/projects/"+projectID+"/backfill", nil, token)
	var again model.BackfillOutcome
	h.AssertJSON(t, resp, http.StatusOK, &again)
	if again.Ran {
		t.Errorf("second trigger = %+v, want no run over native actions", again)
	}
}

func TestBackfill_ViewerForbidden(t *testing.T) {
	h := NewTestHarness(t, WithoutAutoBackfill())
	projectID := h.SeedStandardProject()

	token := h.GenerateToken(ViewerClaims())
	resp := h.POST("/api/v1/projects/"+projectID+"/backfill", nil, token)
	h.AssertStatus(t, resp, http.StatusForbidden)
}

// ==========================================================================
// View state
// ==========================================================================

func TestViewState_ModePersistsPerSubject(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	owner := h.GenerateToken(OwnerClaims())
	viewer := h.GenerateToken(ViewerClaims())

	resp := h.PUT("/api/v1/projects/"+projectID+"/view",
		map[string]string{"mode": "board"}, owner)

	var reply struct {
		ViewState model.ViewState `json:"view_state"`
		Query     string          `json:"query"`
	}
	h.AssertJSON(t, resp, http.StatusOK, &reply)
	if reply.ViewState.Mode != model.ModeBoard {
		t.Errorf("accepted mode = %q, want board", reply.ViewState.Mode)
	}
	if reply.Query != "project="+projectID+"&view=board" {
		t.Errorf("canonical query = %q", reply.Query)
	}

	// The stored mode applies to the owner's next plain load.
	resp = h.GET("/api/v1/projects/"+projectID+"/board", owner)
	var ownerView model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &ownerView)
	if ownerView.ViewState.Mode != model.ModeBoard {
		t.Errorf("owner mode = %q, want board", ownerView.ViewState.Mode)
	}

	// Another subject keeps the default.
	resp = h.GET("/api/v1/projects/"+projectID+"/board", viewer)
	var viewerView model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &viewerView)
	if viewerView.ViewState.Mode != model.ModeList {
		t.Errorf("viewer mode = %q, want list", viewerView.ViewState.Mode)
	}
}

func TestViewState_QueryOverridesStoredMode(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	owner := h.GenerateToken(OwnerClaims())

	resp := h.PUT("/api/v1/projects/"+projectID+"/view",
		map[string]string{"mode": "board"}, owner)
	h.AssertStatus(t, resp, http.StatusOK)

	resp = h.GET("/api/v1/projects/"+projectID+"/board?project="+projectID+"&view=list&tag=urgent", owner)
	var view model.BoardView
	h.AssertJSON(t, resp, http.StatusOK, &view)

	if view.ViewState.Mode != model.ModeList {
		t.Errorf("mode = %q, want query-supplied list", view.ViewState.Mode)
	}
	if view.ViewState.Tag != "urgent" {
		t.Errorf("tag = %q, want urgent", view.ViewState.Tag)
	}
}

func TestViewState_RejectsUnknownMode(t *testing.T) {
	h := NewTestHarness(t)
	projectID := h.SeedStandardProject()

	token := h.GenerateToken(OwnerClaims())
	resp := h.PUT("/api/v1/projects/"+projectID+"/view",
		map[string]string{"mode": "gantt"}, token)
	h.AssertStatus(t, resp, http.StatusUnprocessableEntity)
}

// columnByStatus finds one column of the board by its canonical status.
func columnByStatus(t *testing.T, view model.BoardView, status model.Status) model.BoardColumn {
	t.Helper()
	for _, col := range view.Columns {
		if col.Status == status {
			return col
		}
	}
	t.Fatalf("board has no column %q", status)
	return model.BoardColumn{}
}
