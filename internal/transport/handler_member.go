package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bucketworks/boardwalk/internal/collab"
	"github.com/bucketworks/boardwalk/model"
)

func handleListMembers(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		members, err := orch.Members(r.Context(), projectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, members)
	}
}

func handleAddMember(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		var input model.MemberInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		member, err := orch.AddMember(r.Context(), projectID, input)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, member)
	}
}

func handleRemoveMember(orch *collab.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		memberID := chi.URLParam(r, "memberID")

		if err := orch.RemoveMember(r.Context(), projectID, memberID); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusNoContent, nil)
	}
}
