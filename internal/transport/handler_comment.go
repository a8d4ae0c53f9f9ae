package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bucketworks/boardwalk/internal/collab"
	"github.com/bucketworks/boardwalk/model"
)

func handleAddComment(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		actionID := chi.URLParam(r, "actionID")

		var input model.CommentInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		comment, err := orch.AddComment(r.Context(), projectID, actionID, input)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, comment)
	}
}
