package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/authguard/internal/approval"
	"github.com/org/authguard/internal/audit"
	"github.com/org/authguard/internal/auth"
	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/lock"
	"github.com/org/authguard/internal/storage"
	"github.com/org/authguard/internal/trust"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	DeviceID    string
}

// AuditRecorder is the interface the server needs from an audit recorder.
type AuditRecorder interface {
	Record(ctx context.Context, event *models.AuditEvent)
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error)
}

// Server is the Authority Guard API server.
type Server struct {
	store      storage.Backend
	creds      *credential.Store
	approvals  *approval.Manager
	locks      *lock.Controller
	trust      *trust.Service
	sessions   *auth.SessionService
	challenges *auth.ChallengeService
	owners     *auth.OwnerService
	auditor    AuditRecorder
	policy     config.PolicySource
	cfg        Config
	log        zerolog.Logger
	httpSrv    *http.Server
}

// NewServer wires the full guard stack over a storage backend. Require-auth
// credential reads are gated by step-up recency against the trust service,
// which is installed after construction to break the dependency cycle.
func NewServer(store storage.Backend, rootSecret []byte, policy config.PolicySource, cfg Config, log zerolog.Logger) (*Server, error) {
	creds, err := credential.NewStore(store, nil, rootSecret, log)
	if err != nil {
		return nil, err
	}
	auditor := audit.NewRecorder(store, log)
	owners := auth.NewOwnerService(creds, log)
	locks := lock.NewController(creds, owners, rootSecret, cfg.DeviceID, auditor, policy, log)
	trustSvc := trust.NewService(creds, locks, policy, log)
	creds.SetAuthenticator(auth.NewStepUpAuthenticator(trustSvc, policy))
	sessions := auth.NewSessionService(creds, policy, log)
	challenges := auth.NewChallengeService(creds, trustSvc, sessions, auditor, rootSecret, policy, log)
	approvals := approval.NewManager(creds, trustSvc, auditor, policy, log)

	return &Server{
		store:      store,
		creds:      creds,
		approvals:  approvals,
		locks:      locks,
		trust:      trustSvc,
		sessions:   sessions,
		challenges: challenges,
		owners:     owners,
		auditor:    auditor,
		policy:     policy,
		cfg:        cfg,
		log:        log,
	}, nil
}

// Trust exposes the trust service (for bootstrap enrollment).
func (s *Server) Trust() *trust.Service {
	return s.trust
}

// Owners exposes the owner service (for bootstrap enrollment).
func (s *Server) Owners() *auth.OwnerService {
	return s.owners
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)
	r.Use(auditMiddleware(s.auditor))

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes. The lock status, clear, and challenge flows stay
	// reachable while the lock is active: the unlock flow cannot be blocked
	// by the lock it is meant to clear.
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Post("/v1/auth/challenge", s.ChallengeCreateHandler)
		r.Post("/v1/auth/challenge/{id}/validate", s.ChallengeValidateHandler)
		r.Get("/v1/lock/status", s.LockStatusHandler)
		r.Get("/v1/lock/allowed/{action}", s.LockAllowedHandler)
		r.Post("/v1/lock/remote", s.LockRemoteHandler)
		r.Post("/v1/lock/clear", s.LockClearHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.sessions))

		// Sys
		r.Get("/v1/sys/audit-log", s.AuditLogHandler)
		r.Get("/v1/context/{deviceID}", s.ContextHandler)

		// Auth management
		r.Post("/v1/auth/session/revoke", s.SessionRevokeHandler)
		r.Post("/v1/owners", s.OwnerEnrollHandler)
		r.Post("/v1/devices", s.DeviceEnrollHandler)

		// Approvals
		r.Post("/v1/approvals", s.ApprovalCreateHandler)
		r.Get("/v1/approvals", s.ActivePermissionsHandler)
		r.Post("/v1/approvals/cleanup", s.ApprovalCleanupHandler)
		r.Get("/v1/approvals/{actionID}", s.ApprovalGetHandler)
		r.Get("/v1/approvals/{actionID}/valid", s.ApprovalValidHandler)
		r.Post("/v1/approvals/{actionID}/expire", s.ApprovalExpireHandler)

		// Permission gate
		r.Post("/v1/permission/check", s.PermissionCheckHandler)

		// Permission requests
		r.Post("/v1/requests", s.RequestCreateHandler)
		r.Get("/v1/requests/{id}", s.RequestGetHandler)
		r.Post("/v1/requests/{id}/approve", s.RequestApproveHandler)
		r.Post("/v1/requests/{id}/reject", s.RequestRejectHandler)

		// Lock
		r.Post("/v1/lock/trigger", s.LockTriggerHandler)
		r.Post("/v1/lock/conditions", s.LockConditionsHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
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
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
