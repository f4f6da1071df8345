package handlers

import (
	"fmt"
	"net/http"

	"github.com/NxTech4021/dl-backend-sub004/middleware"
	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/services"
)

// DisputeHandler exposes admin-only dispute resolution.
type DisputeHandler struct {
	lifecycle services.MatchLifecycleService
}

func NewDisputeHandler(lifecycle services.MatchLifecycleService) *DisputeHandler {
	return &DisputeHandler{lifecycle: lifecycle}
}

func (h *DisputeHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	disputes, err := h.lifecycle.ListOpenDisputes(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"disputes": disputes}, nil)
}

func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	matchID, err := urlParamInt(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	adminID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var input struct {
		// action: "replay" возвращает матч в SCHEDULED, "force" закрывает
		// его с принудительным исходом.
		Action  string              `json:"action"`
		Outcome models.MatchOutcome `json:"outcome,omitempty"`
		Note    string              `json:"note"`
	}
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	switch input.Action {
	case "replay":
		if err = h.lifecycle.ResolveDisputeReplay(r.Context(), matchID, adminID, input.Note); err != nil {
			mapServiceErrorToHTTP(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, jsonResponse{"resolution": "replay"}, nil)

	case "force":
		match, ferr := h.lifecycle.ForceComplete(r.Context(), matchID, adminID, input.Outcome, input.Note)
		if ferr != nil {
			mapServiceErrorToHTTP(w, r, ferr)
			return
		}
		writeJSON(w, http.StatusOK, jsonResponse{"resolution": "force", "match": match}, nil)

	default:
		badRequestResponse(w, r, fmt.Errorf("unknown resolution action %q", input.Action))
	}
}
