// Package handler serves the dev-only OTP lookup endpoint.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"roomchat/backend/internal/devotp"
	"roomchat/backend/internal/platform/httpjson"
)

const devOTPNote = "DEV MODE ONLY"

// Handler serves GET /dev/otp/{pendingId}. Only mounted when dev OTP is enabled and not production.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a handler that reads codes from the given store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

type otpResponse struct {
	PendingID int64  `json:"pendingId"`
	OTP       string `json:"otp"`
	Note      string `json:"note"`
}

// GetOTP returns the plain code for the pending id. 404 if missing or expired.
func (h *Handler) GetOTP(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "pendingId"), 10, 64)
	if err != nil || id <= 0 {
		httpjson.BadRequest(w, "pendingId must be a positive integer")
		return
	}
	code, ok := h.store.Get(r.Context(), id)
	if !ok {
		httpjson.WriteError(w, http.StatusNotFound, httpjson.CodeNotFound, "OTP not found or expired")
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, otpResponse{PendingID: id, OTP: code, Note: devOTPNote})
}
