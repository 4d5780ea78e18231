package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"roomchat/backend/internal/devotp"
	devotphandler "roomchat/backend/internal/devotp/handler"
	healthhandler "roomchat/backend/internal/health/handler"
	identityhandler "roomchat/backend/internal/identity/handler"
	"roomchat/backend/internal/platform/httpjson"
	"roomchat/backend/internal/server/middleware"
	userhandler "roomchat/backend/internal/user/handler"
)

// Deps holds the services behind the HTTP routes.
type Deps struct {
	// Auth serves /auth and /otp. If nil, those routes are not mounted.
	Auth identityhandler.AuthService
	// Users serves /users. If nil, those routes are not mounted.
	Users userhandler.UserService
	// Tokens validates Bearer access tokens on protected routes. Required when Auth or Users is set.
	Tokens middleware.AccessValidator
	// HealthPinger is used by /healthz for readiness (e.g. *sql.DB). If nil, the DB ping is skipped.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by /healthz (e.g. *rbac.Authorizer). If nil, the policy check is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
	// DevOTPStore backs GET /dev/otp/{pendingId}. Set only when dev OTP is enabled and not production.
	DevOTPStore devotp.Store
	// Logger receives request and error logs. Nil disables logging.
	Logger *zap.Logger
}

// NewRouter builds the chi router with every route and the shared middleware stack.
//
// Route → handler mapping:
//   - /auth/*, /otp/resend → internal/identity/handler
//   - /users/*             → internal/user/handler
//   - /healthz             → internal/health/handler
//   - /dev/otp/{pendingId} → internal/devotp/handler (dev only)
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recoverer(logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpjson.WriteError(w, http.StatusNotFound, httpjson.CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpjson.WriteError(w, http.StatusMethodNotAllowed, httpjson.CodeBadRequest, "method not allowed")
	})

	r.Get("/healthz", healthhandler.NewHandler(deps.HealthPinger, deps.HealthPolicyChecker).HealthCheck)

	authn := middleware.Authenticate(deps.Tokens)

	if deps.Auth != nil {
		h := identityhandler.NewHandler(deps.Auth, logger)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/login/verify", h.VerifyLogin)
			r.Post("/refresh", h.Refresh)
			r.With(authn).Post("/logout", h.Logout)
			r.Post("/password-reset/request", h.RequestPasswordReset)
			r.Post("/password-reset/verify", h.VerifyPasswordReset)
		})
		r.Post("/otp/resend", h.ResendOTP)
	}

	if deps.Users != nil {
		h := userhandler.NewHandler(deps.Users, logger)
		r.Route("/users", func(r chi.Router) {
			r.Post("/registration/check", h.RegistrationCheck)
			r.Post("/activation", h.Activate)
			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Post("/registration/admin", h.RegisterAdmin)
				r.Get("/", h.List)
				r.Get("/{id}", h.Get)
				r.Patch("/{id}", h.Update)
				r.Delete("/{id}", h.Remove)
				r.Post("/{id}/password", h.UpdatePassword)
				r.Get("/{id}/sessions", h.Sessions)
				r.Get("/{id}/audit", h.AuditTrail)
			})
		})
	}

	if deps.DevOTPStore != nil {
		r.Get("/dev/otp/{pendingId}", devotphandler.NewHandler(deps.DevOTPStore).GetOTP)
	}

	return r
}
