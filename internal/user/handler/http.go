// Package handler exposes user registration and account management over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	auditdomain "roomchat/backend/internal/audit/domain"
	"roomchat/backend/internal/mail"
	"roomchat/backend/internal/otp"
	"roomchat/backend/internal/platform/httpjson"
	"roomchat/backend/internal/platform/rbac"
	tokendomain "roomchat/backend/internal/refreshtoken/domain"
	"roomchat/backend/internal/server/middleware"
	"roomchat/backend/internal/user/domain"
	"roomchat/backend/internal/user/service"
)

// UserService is the subset of *service.Service the handler calls.
type UserService interface {
	RegistrationCheck(ctx context.Context, email, password, confirmPassword string) (int64, error)
	Activate(ctx context.Context, pendingID int64, code, name, password, confirmPassword string) (*domain.User, error)
	RegisterAdmin(ctx context.Context, caller rbac.Caller, name, email, password, confirmPassword string) (*domain.User, error)
	UpdatePassword(ctx context.Context, caller rbac.Caller, userID, oldPassword, newPassword, confirmPassword string) error
	Get(ctx context.Context, caller rbac.Caller, userID string) (*domain.User, error)
	List(ctx context.Context, caller rbac.Caller) ([]*domain.User, error)
	Update(ctx context.Context, caller rbac.Caller, userID, name, email string) (*domain.User, error)
	Remove(ctx context.Context, caller rbac.Caller, userID string) error
	Sessions(ctx context.Context, caller rbac.Caller, userID string) ([]*tokendomain.Token, error)
	AuditTrail(ctx context.Context, caller rbac.Caller, userID string, limit, offset int32) ([]*auditdomain.AuditLog, error)
}

// Handler serves the /users routes.
type Handler struct {
	users  UserService
	logger *zap.Logger
}

// NewHandler returns a user handler. A nil logger disables logging.
func NewHandler(users UserService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, logger: logger}
}

type registrationCheckRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type activationRequest struct {
	PendingID       int64  `json:"pendingId"`
	OTP             string `json:"otp"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type adminRegistrationRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type updatePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type updateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type pendingResponse struct {
	PendingID int64  `json:"pendingId"`
	Message   string `json:"message"`
}

type createdResponse struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// userResponse omits the password hash and failure counter.
type userResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type auditResponse struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    string         `json:"userId,omitempty"`
	IP        string         `json:"ip"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RegistrationCheck handles POST /users/registration/check.
func (h *Handler) RegistrationCheck(w http.ResponseWriter, r *http.Request) {
	var req registrationCheckRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	id, err := h.users.RegistrationCheck(r.Context(), req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, pendingResponse{PendingID: id, Message: "OTP sent to email for registration"})
}

// Activate handles POST /users/activation.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activationRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	u, err := h.users.Activate(r.Context(), req.PendingID, req.OTP, req.Name, req.Password, req.ConfirmPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusCreated, createdResponse{UserID: u.ID, Message: "User registration completed successfully"})
}

// RegisterAdmin handles POST /users/registration/admin.
func (h *Handler) RegisterAdmin(w http.ResponseWriter, r *http.Request) {
	var req adminRegistrationRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	u, err := h.users.RegisterAdmin(r.Context(), caller(r), req.Name, req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusCreated, createdResponse{UserID: u.ID, Message: "Admin registration completed successfully"})
}

// UpdatePassword handles POST /users/{id}/password.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	err := h.users.UpdatePassword(r.Context(), caller(r), chi.URLParam(r, "id"), req.OldPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, messageResponse{Message: "Password updated successfully"})
}

// Get handles GET /users/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

// List handles GET /users.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	httpjson.WriteJSON(w, http.StatusOK, out)
}

// Update handles PATCH /users/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.BadRequest(w, err.Error())
		return
	}
	u, err := h.users.Update(r.Context(), caller(r), chi.URLParam(r, "id"), req.Name, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
		DeletedAt: u.DeletedAt,
	}
}

// Remove handles DELETE /users/{id}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Remove(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions handles GET /users/{id}/sessions. Token hashes are never returned.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.users.Sessions(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, sessionResponse{ID: t.ID, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt})
	}
	httpjson.WriteJSON(w, http.StatusOK, out)
}

// AuditTrail handles GET /users/{id}/audit?limit=&offset=.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt32(r, "limit")
	if err != nil {
		httpjson.BadRequest(w, "limit must be an integer")
		return
	}
	offset, err := queryInt32(r, "offset")
	if err != nil {
		httpjson.BadRequest(w, "offset must be an integer")
		return
	}
	entries, err := h.users.AuditTrail(r.Context(), caller(r), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{ID: e.ID, Action: e.Action, UserID: e.UserID, IP: e.IP, Details: e.Details, CreatedAt: e.CreatedAt})
	}
	httpjson.WriteJSON(w, http.StatusOK, out)
}

func queryInt32(r *http.Request, key string) (int32, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	return int32(n), err
}

// caller returns the authenticated principal as an rbac caller; zero when unauthenticated.
func caller(r *http.Request) rbac.Caller {
	p, _ := middleware.PrincipalFrom(r.Context())
	return rbac.Caller{ID: p.UserID, Role: p.Role}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		httpjson.Unauthorized(w, "missing or invalid authorization")
	case errors.Is(err, service.ErrForbidden):
		httpjson.Forbidden(w, "forbidden")
	case errors.Is(err, service.ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, httpjson.CodeNotFound, "user not found")
	case errors.Is(err, service.ErrEmailTaken):
		httpjson.WriteError(w, http.StatusConflict, httpjson.CodeConflict, "a user with this email already exists")
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrPasswordMismatch),
		errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrWrongPassword),
		errors.Is(err, service.ErrInvalidOTP):
		httpjson.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrOTPAttemptsExhausted):
		httpjson.WriteError(w, http.StatusTooManyRequests, httpjson.CodeAttemptsExhausted, "too many invalid attempts; request a new code")
	case errors.Is(err, otp.ErrRateLimited):
		httpjson.WriteError(w, http.StatusTooManyRequests, httpjson.CodeRateLimited, "a code was sent recently; try again later")
	case errors.Is(err, mail.ErrDelivery):
		h.logger.Error("otp delivery failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpjson.WriteError(w, http.StatusBadGateway, httpjson.CodeDeliveryFailed, "could not send verification code")
	default:
		h.logger.Error("user request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpjson.Internal(w)
	}
}
