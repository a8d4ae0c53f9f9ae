package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bucketworks/boardwalk/internal/collab"
	"github.com/bucketworks/boardwalk/model"
)

// handleBoard serves the full board view-model. Query parameters participate
// in view-state resolution, so the raw query is handed through untouched.
func handleBoard(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		view, err := orch.OpenBoard(r.Context(), projectID, r.URL.Query())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// handleTriggerBackfill runs the backfill eligibility evaluation on demand.
// The gate is the same one the board load applies; a project with native
// actions reports without running.
func handleTriggerBackfill(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		outcome, err := orch.TriggerBackfill(r.Context(), projectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, outcome)
	}
}

type viewStateResponse struct {
	ViewState model.ViewState `json:"view_state"`
	Query     string          `json:"query"`
}

// handleSetViewState persists the durable slot of the submitted view state
// and echoes the accepted state with its canonical query string.
func handleSetViewState(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		var state model.ViewState
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		resolved, query, err := orch.SetViewState(r.Context(), projectID, state)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, viewStateResponse{ViewState: resolved, Query: query})
	}
}
