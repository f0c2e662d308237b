package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/app"
	"github.com/org/credcore/internal/auth"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	RateRPS     float64
	RateBurst   int
}

// Server is the API server.
type Server struct {
	app      *app.App
	verifier *auth.Verifier
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a Server over the wired services.
func NewServer(a *app.App, verifier *auth.Verifier, cfg Config) *Server {
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = int(2 * cfg.RateRPS)
	}
	return &Server{app: a, verifier: verifier, cfg: cfg}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(s.cfg.RateRPS, s.cfg.RateBurst).middleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", s.metricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.verifier))
		r.Use(auditMiddleware(s.app.Audit))

		r.Get("/v1/sys/audit-log", s.AuditLogHandler)

		// Password policy
		r.Get("/v1/password-policy", s.PasswordPolicyReadHandler)
		r.Put("/v1/password-policy", s.PasswordPolicyWriteHandler)
		r.Post("/v1/password-policy/validate", s.PasswordValidateHandler)

		// Credentials
		r.Post("/v1/credentials", s.CredentialCreateHandler)
		r.Get("/v1/credentials", s.CredentialListHandler)
		r.Route("/v1/credentials/{id}", func(r chi.Router) {
			r.Get("/", s.CredentialReadHandler)
			r.Patch("/", s.CredentialUpdateHandler)
			r.Delete("/", s.CredentialDeleteHandler)
			r.Put("/secret", s.CredentialSecretHandler)
			r.Get("/history", s.CredentialHistoryHandler)
			r.Post("/restore", s.CredentialRestoreHandler)
			r.Post("/reveal", s.CredentialRevealHandler)
			r.Post("/reuse-check", s.CredentialReuseCheckHandler)
			r.Put("/rotation-policy", s.RotationPolicyAssignHandler)
			r.Post("/rotations", s.RotationScheduleHandler)
			r.Get("/rotations", s.RotationListHandler)
			r.Post("/rotations/auto", s.RotationAutoHandler)
		})

		// Rotation
		r.Post("/v1/rotation-policies", s.RotationPolicyCreateHandler)
		r.Get("/v1/rotation-policies", s.RotationPolicyListHandler)
		r.Get("/v1/rotations/due", s.RotationDueHandler)
		r.Post("/v1/rotations/{id}/complete", s.RotationCompleteHandler)
		r.Post("/v1/rotations/{id}/cancel", s.RotationCancelHandler)

		// Analysis
		r.Post("/v1/analysis/breach", s.BreachCheckHandler)
		r.Post("/v1/analysis/vault", s.VaultAnalysisHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
