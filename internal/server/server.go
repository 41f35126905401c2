package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Preservarium/acl-poc/internal/auth"
	"github.com/Preservarium/acl-poc/internal/authz"
	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/ratelimit"
	"github.com/Preservarium/acl-poc/internal/service/grants"
	"github.com/Preservarium/acl-poc/internal/storage"
)

// Server is the ACL HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	DB       *storage.DB
	Engine   *authz.Engine
	GrantSvc *grants.Service
	JWTMgr   *auth.JWTManager
	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter
	Logger   *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	AuthRule            ratelimit.Rule
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:       cfg.DB,
		Engine:   cfg.Engine,
		GrantSvc: cfg.GrantSvc,
		JWTMgr:   cfg.JWTMgr,
		Cache:    cfg.Cache,
		Limiter:  cfg.Limiter,
		Logger:   cfg.Logger,
		AuthRule: cfg.AuthRule,
	})

	mux := http.NewServeMux()

	// Public endpoints.
	mux.Handle("GET /healthz", http.HandlerFunc(h.HandleHealthz))
	mux.Handle("POST /auth/token", http.HandlerFunc(h.HandleAuthToken))

	admin := requireAdmin

	// Users.
	mux.Handle("POST /v1/users", admin(http.HandlerFunc(h.HandleCreateUser)))
	mux.Handle("GET /v1/users", admin(http.HandlerFunc(h.HandleListUsers)))
	mux.Handle("GET /v1/users/me", http.HandlerFunc(h.HandleGetMe))
	mux.Handle("GET /v1/users/{id}", http.HandlerFunc(h.HandleGetUser))
	mux.Handle("PATCH /v1/users/{id}", http.HandlerFunc(h.HandleUpdateUser))
	mux.Handle("DELETE /v1/users/{id}", admin(http.HandlerFunc(h.HandleDeleteUser)))

	// Groups and membership.
	mux.Handle("POST /v1/groups", http.HandlerFunc(h.HandleCreateGroup))
	mux.Handle("GET /v1/groups", http.HandlerFunc(h.HandleListGroups))
	mux.Handle("GET /v1/groups/{id}", http.HandlerFunc(h.HandleGetGroup))
	mux.Handle("PATCH /v1/groups/{id}", http.HandlerFunc(h.HandleUpdateGroup))
	mux.Handle("DELETE /v1/groups/{id}", http.HandlerFunc(h.HandleDeleteGroup))
	mux.Handle("GET /v1/groups/{id}/members", http.HandlerFunc(h.HandleListMembers))
	mux.Handle("POST /v1/groups/{id}/members", http.HandlerFunc(h.HandleAddMember))
	mux.Handle("DELETE /v1/groups/{id}/members/{user_id}", http.HandlerFunc(h.HandleRemoveMember))

	// Hierarchical resources and dashboards.
	mux.Handle("POST /v1/sites", admin(http.HandlerFunc(h.HandleCreateSite)))
	mux.Handle("GET /v1/sites", http.HandlerFunc(h.HandleListSites))
	mux.Handle("GET /v1/sites/{id}", http.HandlerFunc(h.HandleGetSite))
	mux.Handle("PATCH /v1/sites/{id}", http.HandlerFunc(h.HandleUpdateSite))
	mux.Handle("DELETE /v1/sites/{id}", http.HandlerFunc(h.HandleDeleteSite))
	mux.Handle("POST /v1/plans", http.HandlerFunc(h.HandleCreatePlan))
	mux.Handle("GET /v1/plans/{id}", http.HandlerFunc(h.HandleGetPlan))
	mux.Handle("POST /v1/sensors", http.HandlerFunc(h.HandleCreateSensor))
	mux.Handle("GET /v1/sensors/{id}", http.HandlerFunc(h.HandleGetSensor))
	mux.Handle("POST /v1/brokers", http.HandlerFunc(h.HandleCreateBroker))
	mux.Handle("POST /v1/alarms", http.HandlerFunc(h.HandleCreateAlarm))
	mux.Handle("POST /v1/alerts", http.HandlerFunc(h.HandleCreateAlert))
	mux.Handle("POST /v1/dashboards", http.HandlerFunc(h.HandleCreateDashboard))
	mux.Handle("GET /v1/dashboards/{id}", http.HandlerFunc(h.HandleGetDashboard))

	// Catalog kinds.
	mux.Handle("GET /v1/catalog/{kind}", http.HandlerFunc(h.HandleListCatalog))
	mux.Handle("GET /v1/catalog/{kind}/{id}", http.HandlerFunc(h.HandleGetCatalogItem))
	mux.Handle("POST /v1/catalog/{kind}", admin(http.HandlerFunc(h.HandleCreateCatalogItem)))
	mux.Handle("PATCH /v1/catalog/{kind}/{id}", admin(http.HandlerFunc(h.HandleUpdateCatalogItem)))
	mux.Handle("DELETE /v1/catalog/{kind}/{id}", admin(http.HandlerFunc(h.HandleDeleteCatalogItem)))

	// Permissions.
	mux.Handle("GET /v1/permissions", http.HandlerFunc(h.HandleListMyPermissions))
	mux.Handle("POST /v1/permissions", http.HandlerFunc(h.HandleCreateGrant))
	mux.Handle("DELETE /v1/permissions/{id}", http.HandlerFunc(h.HandleRevokeGrant))
	mux.Handle("POST /v1/permissions/check", http.HandlerFunc(h.HandleCheck))
	mux.Handle("GET /v1/permissions/check/{kind}/{id}/{perm}", http.HandlerFunc(h.HandleCheckOne))
	mux.Handle("GET /v1/permissions/resource/{kind}/{id}", http.HandlerFunc(h.HandleListResourcePermissions))
	mux.Handle("GET /v1/permissions/resource/{kind}/{id}/effective", http.HandlerFunc(h.HandleEffective))
	mux.Handle("GET /v1/permissions/inheritance/{kind}/{id}", http.HandlerFunc(h.HandleInheritanceChain))
	mux.Handle("GET /v1/permissions/user-inheritance/{user_id}", http.HandlerFunc(h.HandleUserInheritanceTree))
	mux.Handle("GET /v1/permissions/matrix", http.HandlerFunc(h.HandleMatrix))
	mux.Handle("GET /v1/permissions/expiring", admin(http.HandlerFunc(h.HandleExpiring)))

	// Audit and cache introspection (superuser only).
	mux.Handle("GET /v1/audit", admin(http.HandlerFunc(h.HandleListAudit)))
	mux.Handle("DELETE /v1/audit", admin(http.HandlerFunc(h.HandlePurgeAudit)))
	mux.Handle("GET /v1/cache/stats", admin(http.HandlerFunc(h.HandleCacheStats)))
	mux.Handle("POST /v1/cache/flush", admin(http.HandlerFunc(h.HandleCacheFlush)))

	var handler http.Handler = mux
	handler = authMiddleware(cfg.JWTMgr, cfg.DB, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(cfg.Logger, handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the handler set, used by startup seeding.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
