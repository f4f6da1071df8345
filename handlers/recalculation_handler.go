package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/NxTech4021/dl-backend-sub004/middleware"
	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/services"
)

// RecalculationHandler exposes the admin recalculation workflow: request a
// job, poll its preview, then apply or cancel it.
type RecalculationHandler struct {
	recalcs services.RecalculationService
}

func NewRecalculationHandler(recalcs services.RecalculationService) *RecalculationHandler {
	return &RecalculationHandler{recalcs: recalcs}
}

func (h *RecalculationHandler) Request(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var input struct {
		Scope    models.RecalcScope `json:"scope"`
		TargetID int                `json:"target_id"`
	}
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.TargetID < 1 {
		badRequestResponse(w, r, fmt.Errorf("invalid target_id %d", input.TargetID))
		return
	}

	job, err := h.recalcs.Request(r.Context(), input.Scope, input.TargetID, adminID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	// Превью считается в фоне, клиент опрашивает статус по public_id.
	go func() {
		if perr := h.recalcs.RunPreview(context.Background(), job.ID); perr != nil {
			// RunPreview already records the failure on the job row.
			_ = perr
		}
	}()

	writeJSON(w, http.StatusAccepted, jsonResponse{"recalculation": job}, nil)
}

func (h *RecalculationHandler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	publicID, err := uuid.Parse(chi.URLParam(r, "recalcID"))
	if err != nil {
		badRequestResponse(w, r, fmt.Errorf("invalid recalculation id"))
		return uuid.Nil, false
	}
	return publicID, true
}

func (h *RecalculationHandler) Get(w http.ResponseWriter, r *http.Request) {
	publicID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.recalcs.Get(r.Context(), publicID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"recalculation": job}, nil)
}

func (h *RecalculationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	publicID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.recalcs.Apply(r.Context(), publicID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"recalculation": job}, nil)
}

func (h *RecalculationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	publicID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.recalcs.Cancel(r.Context(), publicID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"recalculation": job}, nil)
}
