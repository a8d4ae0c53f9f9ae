package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bucketworks/boardwalk/internal/collab"
	"github.com/bucketworks/boardwalk/model"
)

// transitionResponse reports the post-move record and whether a write was
// actually issued. Moved stays false for same-status and out-of-bounds
// requests, which are accepted as no-ops.
type transitionResponse struct {
	Action model.ProjectAction `json:"action"`
	Moved  bool                `json:"moved"`
}

func handleActionDetail(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		actionID := chi.URLParam(r, "actionID")

		view, err := orch.ActionDetail(r.Context(), projectID, actionID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func handleCreateAction(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		var input model.CreateActionInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		action, err := orch.CreateAction(r.Context(), projectID, input)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, action)
	}
}

// handleUpdateAction applies a partial patch. A stale-version rejection is
// answered with 409 carrying the refreshed record, so the client can show
// current state before the user retries.
func handleUpdateAction(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		actionID := chi.URLParam(r, "actionID")

		var input model.UpdateActionInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		action, err := orch.UpdateAction(r.Context(), projectID, actionID, input)
		if err != nil {
			if model.IsStaleVersion(err) {
				WriteConflict(w, err, action)
				return
			}
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, action)
	}
}

func handleTransition(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		actionID := chi.URLParam(r, "actionID")

		var body struct {
			ToStatus model.Status `json:"to_status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		result, err := orch.Transition(r.Context(), projectID, actionID, body.ToStatus)
		if err != nil {
			if model.IsStaleVersion(err) {
				WriteConflict(w, err, result.Action)
				return
			}
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, transitionResponse{Action: result.Action, Moved: result.Moved})
	}
}

func handleMove(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		actionID := chi.URLParam(r, "actionID")

		var body struct {
			Direction int `json:"direction"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		result, err := orch.MoveHorizontal(r.Context(), projectID, actionID, body.Direction)
		if err != nil {
			if model.IsStaleVersion(err) {
				WriteConflict(w, err, result.Action)
				return
			}
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, transitionResponse{Action: result.Action, Moved: result.Moved})
	}
}
