// Package handler exposes the auth flows over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"roomchat/backend/internal/identity/service"
	"roomchat/backend/internal/mail"
	"roomchat/backend/internal/otp"
	"roomchat/backend/internal/platform/httpjson"
	"roomchat/backend/internal/server/middleware"
)

// AuthService is the subset of *service.AuthService the handler calls.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	VerifyLogin(ctx context.Context, pendingID int64, code string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Logout(ctx context.Context, userID string) error
	RequestPasswordReset(ctx context.Context, email string) (*service.ResetRequestResult, error)
	VerifyPasswordReset(ctx context.Context, pendingID int64, code, newPassword, confirmPassword string) error
	ResendOTP(ctx context.Context, pendingID int64) (int64, error)
}

// Handler serves the /auth and /otp routes.
type Handler struct {
	auth   AuthService
	logger *zap.Logger
}

// NewHandler returns an auth handler. A nil logger disables logging.
func NewHandler(auth AuthService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{auth: auth, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type pendingResponse struct {
	PendingID int64  `json:"pendingId"`
	Message   string `json:"message"`
}

type verifyRequest struct {
	PendingID int64  `json:"pendingId"`
	OTP       string `json:"otp"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	TokenType        string    `json:"tokenType"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	UserID           string    `json:"userId"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetResponse struct {
	Message   string `json:"message"`
	PendingID int64  `json:"pendingId"`
}

type resetVerifyRequest struct {
	PendingID       int64  `json:"pendingId"`
	OTP             string `json:"otp"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type resendRequest struct {
	PendingID int64 `json:"pendingId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Login handles POST /auth/login. A correct password yields a pending id, never a token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, pendingResponse{PendingID: res.PendingID, Message: "OTP sent"})
}

// VerifyLogin handles POST /auth/login/verify.
func (h *Handler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	res, err := h.auth.VerifyLogin(r.Context(), req.PendingID, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, toTokenResponse(res))
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	res, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, toTokenResponse(res))
}

// Logout handles POST /auth/logout for the authenticated caller.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httpjson.Unauthorized(w, "missing or invalid authorization")
		return
	}
	if err := h.auth.Logout(r.Context(), p.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset handles POST /auth/password-reset/request.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	res, err := h.auth.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, resetResponse{Message: res.Message, PendingID: res.PendingID})
}

// VerifyPasswordReset handles POST /auth/password-reset/verify.
func (h *Handler) VerifyPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetVerifyRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	err := h.auth.VerifyPasswordReset(r.Context(), req.PendingID, req.OTP, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset"})
}

// ResendOTP handles POST /otp/resend.
func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	id, err := h.auth.ResendOTP(r.Context(), req.PendingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, pendingResponse{PendingID: id, Message: "OTP sent"})
}

func toTokenResponse(res *service.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:      res.AccessToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
		UserID:           res.UserID,
	}
}

// writeError maps service errors to status codes. Credential failures share one message so
// the response does not reveal which check failed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidEmail):
		httpjson.BadRequest(w, "invalid email")
	case errors.Is(err, service.ErrPasswordMismatch):
		httpjson.BadRequest(w, "passwords do not match")
	case errors.Is(err, service.ErrWeakPassword):
		httpjson.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrInvalidOTP):
		httpjson.BadRequest(w, "Invalid OTP")
	case errors.Is(err, service.ErrInvalidCredentials):
		httpjson.Unauthorized(w, "invalid credentials")
	case errors.Is(err, service.ErrInvalidRefreshToken):
		httpjson.Unauthorized(w, "invalid or expired refresh token")
	case errors.Is(err, service.ErrOTPAttemptsExhausted):
		httpjson.WriteError(w, http.StatusTooManyRequests, httpjson.CodeAttemptsExhausted, "too many invalid attempts; request a new code")
	case errors.Is(err, otp.ErrRateLimited):
		httpjson.WriteError(w, http.StatusTooManyRequests, httpjson.CodeRateLimited, "a code was sent recently; try again later")
	case errors.Is(err, mail.ErrDelivery):
		h.logger.Error("otp delivery failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpjson.WriteError(w, http.StatusBadGateway, httpjson.CodeDeliveryFailed, "could not send verification code")
	default:
		h.logger.Error("auth request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpjson.Internal(w)
	}
}
