// Package api exposes the vault, login and audit operations over HTTP.
// Handlers read form fields and answer with JSON.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/auth"
	"github.com/jmcleod/opsvault/internal/clock"
	"github.com/jmcleod/opsvault/vault"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	auth    *auth.Authenticator
	vault   *vault.Manager
	auditor *audit.Auditor
	logger  *slog.Logger
	clock   clock.Clock

	trustedProxies []netip.Prefix
	secureCookies  bool

	accountLimiter *backoffLimiter
	ipLimiter      *backoffLimiter
	unlockLimiter  *backoffLimiter
	globalLimiter  *globalRateLimiter
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithAuditor records rate-limit events through au.
func WithAuditor(au *audit.Auditor) Option {
	return func(a *API) { a.auditor = au }
}

// WithClock sets the time source for rate limiting and TOTP codes.
func WithClock(c clock.Clock) Option {
	return func(a *API) { a.clock = c }
}

// WithTrustedProxies sets the CIDR ranges whose forwarding headers are
// believed when determining the client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithSecureCookies marks cookies Secure even on plain HTTP requests, for
// deployments behind a TLS-terminating proxy.
func WithSecureCookies(secure bool) Option {
	return func(a *API) { a.secureCookies = secure }
}

// New creates a new API instance.
func New(authn *auth.Authenticator, vm *vault.Manager, opts ...Option) *API {
	a := &API{
		auth:   authn,
		vault:  vm,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.clock = clock.OrReal(a.clock)
	a.logger = a.logger.With("component", "api")
	a.accountLimiter = newBackoffLimiter(a.clock, accountLimits)
	a.ipLimiter = newBackoffLimiter(a.clock, ipLimits)
	a.unlockLimiter = newBackoffLimiter(a.clock, unlockLimits)
	a.globalLimiter = newGlobalRateLimiter(a.clock)
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/auth/session", a.GetSession)
	r.Post("/login", a.Login)
	r.Post("/login/2fa", a.VerifySecondFactor)
	r.Post("/logout", a.Logout)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Use(a.CSRFMiddleware)

		r.Get("/auth/2fa", a.TwoFactorStatus)
		r.Post("/auth/2fa/setup", a.SetupTwoFactor)
		r.Post("/auth/2fa/enable", a.EnableTwoFactor)
		r.Post("/auth/2fa/disable", a.DisableTwoFactor)
		r.Post("/auth/password", a.ChangePassword)

		r.Get("/vault", a.VaultStatus)
		r.Post("/vault/init", a.InitVault)
		r.Post("/vault/unlock", a.UnlockVault)
		r.Post("/vault/lock", a.LockVault)
		r.Post("/vault/rotate", a.RotateVault)

		r.Get("/{resource}/{id}/secrets/{field}", a.GetSecret)
		r.Put("/{resource}/{id}/secrets/{field}", a.PutSecret)
		r.Post("/{resource}/{id}/reveal", a.RevealSecret)
		r.Post("/credentials/{id}/totp", a.CredentialTOTP)

		r.Get("/audit", a.ListAudit)
	})

	return r
}
