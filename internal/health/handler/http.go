// Package handler serves the readiness endpoint.
package handler

import (
	"context"
	"net/http"
	"time"

	"roomchat/backend/internal/platform/httpjson"
)

const checkTimeout = 2 * time.Second

// Pinger checks database connectivity. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the authorization policy evaluates. *rbac.Authorizer satisfies it.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves GET /healthz. Nil checkers are skipped.
type Handler struct {
	db     Pinger
	policy PolicyChecker
}

// NewHandler returns a health handler.
func NewHandler(db Pinger, policy PolicyChecker) *Handler {
	return &Handler{db: db, policy: policy}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Policy   string `json:"policy,omitempty"`
}

// HealthCheck responds 200 "serving" when every configured check passes, else 503 "not_serving".
// Failure details are not exposed.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := healthResponse{Status: "serving"}
	if h.db != nil {
		resp.Database = "ok"
		if err := h.db.PingContext(ctx); err != nil {
			resp.Database = "unavailable"
			resp.Status = "not_serving"
		}
	}
	if h.policy != nil {
		resp.Policy = "ok"
		if err := h.policy.HealthCheck(ctx); err != nil {
			resp.Policy = "unavailable"
			resp.Status = "not_serving"
		}
	}
	status := http.StatusOK
	if resp.Status != "serving" {
		status = http.StatusServiceUnavailable
	}
	httpjson.WriteJSON(w, status, resp)
}
