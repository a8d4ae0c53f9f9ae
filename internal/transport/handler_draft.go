package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bucketworks/boardwalk/internal/collab"
	"github.com/bucketworks/boardwalk/model"
)

// handleSaveDraft upserts the acting subject's draft overlay for one action.
// The path identifies the action; ids inside the body are ignored.
func handleSaveDraft(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		actionID := chi.URLParam(r, "actionID")

		var d model.Draft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		saved, err := orch.SaveDraft(r.Context(), projectID, actionID, d)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, saved)
	}
}

func handleDiscardDraft(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		actionID := chi.URLParam(r, "actionID")

		if err := orch.DiscardDraft(r.Context(), projectID, actionID); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusNoContent, nil)
	}
}
