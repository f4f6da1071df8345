package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/NxTech4021/dl-backend-sub004/middleware"
	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/services"
)

type RatingHandler struct {
	query       services.RatingQueryService
	adjustments services.AdjustmentService
}

func NewRatingHandler(query services.RatingQueryService, adjustments services.AdjustmentService) *RatingHandler {
	return &RatingHandler{query: query, adjustments: adjustments}
}

// scopeFromQuery reads the partition selector shared by every rating route:
// ?scope_type=division&scope_id=12&game_type=singles
func scopeFromQuery(r *http.Request) (models.RatingScope, models.GameType, error) {
	scopeType := models.ScopeType(r.URL.Query().Get("scope_type"))
	if scopeType != models.ScopeDivision && scopeType != models.ScopeSeason {
		return models.RatingScope{}, "", fmt.Errorf("invalid scope_type %q", scopeType)
	}
	scopeID, err := strconv.Atoi(r.URL.Query().Get("scope_id"))
	if err != nil || scopeID < 1 {
		return models.RatingScope{}, "", fmt.Errorf("invalid scope_id %q", r.URL.Query().Get("scope_id"))
	}
	gameType := models.GameType(r.URL.Query().Get("game_type"))
	if gameType != models.GameTypeSingles && gameType != models.GameTypeDoubles {
		return models.RatingScope{}, "", fmt.Errorf("invalid game_type %q", gameType)
	}
	return models.RatingScope{Type: scopeType, ID: scopeID}, gameType, nil
}

func (h *RatingHandler) GetPlayerRating(w http.ResponseWriter, r *http.Request) {
	playerID, err := urlParamInt(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	scope, gameType, err := scopeFromQuery(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	rating, err := h.query.GetCurrent(r.Context(), playerID, scope, gameType)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"rating": rating}, nil)
}

func (h *RatingHandler) GetPlayerHistory(w http.ResponseWriter, r *http.Request) {
	playerID, err := urlParamInt(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	scope, gameType, err := scopeFromQuery(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	history, err := h.query.HistoryByPlayer(r.Context(), playerID, scope, gameType)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"history": history}, nil)
}

func (h *RatingHandler) GetMatchHistory(w http.ResponseWriter, r *http.Request) {
	matchID, err := urlParamInt(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	history, err := h.query.HistoryByMatch(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"history": history}, nil)
}

func (h *RatingHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	scope, gameType, err := scopeFromQuery(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	ratings, err := h.query.Leaderboard(r.Context(), scope, gameType)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"leaderboard": ratings}, nil)
}

func (h *RatingHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	playerID, err := urlParamInt(r, "playerID")
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
		ScopeType models.ScopeType `json:"scope_type"`
		ScopeID   int              `json:"scope_id"`
		GameType  models.GameType  `json:"game_type"`
		Delta     float64          `json:"delta"`
		Note      string           `json:"note"`
	}
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	scope := models.RatingScope{Type: input.ScopeType, ID: input.ScopeID}
	rating, err := h.adjustments.Adjust(r.Context(), adminID, playerID, scope, input.GameType, input.Delta, input.Note)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"rating": rating}, nil)
}
