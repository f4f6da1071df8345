package handlers

import (
	"context"
	"net/http"

	"github.com/NxTech4021/dl-backend-sub004/middleware"
	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/services"
)

type MatchHandler struct {
	lifecycle services.MatchLifecycleService
}

func NewMatchHandler(lifecycle services.MatchLifecycleService) *MatchHandler {
	return &MatchHandler{lifecycle: lifecycle}
}

func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := urlParamInt(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	match, err := h.lifecycle.GetMatch(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

func (h *MatchHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	matchID, err := urlParamInt(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var input struct {
		Scores []models.ScoreInput `json:"scores"`
	}
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.lifecycle.SubmitResult(r.Context(), matchID, userID, input.Scores)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

func (h *MatchHandler) ConfirmResult(w http.ResponseWriter, r *http.Request) {
	matchID, err := urlParamInt(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var input struct {
		Accept        bool   `json:"accept"`
		DisputeReason string `json:"dispute_reason"`
	}
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.lifecycle.ConfirmResult(r.Context(), matchID, userID, input.Accept, input.DisputeReason)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

func (h *MatchHandler) SubmitWalkover(w http.ResponseWriter, r *http.Request) {
	matchID, err := urlParamInt(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var input struct {
		DefaultingPlayerID int    `json:"defaulting_player_id"`
		Reason             string `json:"reason"`
	}
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.lifecycle.SubmitWalkover(r.Context(), matchID, userID, input.DefaultingPlayerID, input.Reason)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

func (h *MatchHandler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	h.terminalTransition(w, r, h.lifecycle.CancelMatch)
}

func (h *MatchHandler) MarkUnfinished(w http.ResponseWriter, r *http.Request) {
	h.terminalTransition(w, r, h.lifecycle.MarkUnfinished)
}

func (h *MatchHandler) terminalTransition(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, matchID, actorID int) (*models.Match, error)) {
	matchID, err := urlParamInt(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	match, err := transition(r.Context(), matchID, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}
