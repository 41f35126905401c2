package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/auth"
	"github.com/Preservarium/acl-poc/internal/authz"
	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/ctxutil"
	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/ratelimit"
	"github.com/Preservarium/acl-poc/internal/service/grants"
	"github.com/Preservarium/acl-poc/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db        *storage.DB
	engine    *authz.Engine
	grantSvc  *grants.Service
	jwtMgr    *auth.JWTManager
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	authRule  ratelimit.Rule
	startedAt time.Time
}

// HandlersDeps bundles everything Handlers needs.
type HandlersDeps struct {
	DB       *storage.DB
	Engine   *authz.Engine
	GrantSvc *grants.Service
	JWTMgr   *auth.JWTManager
	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter
	Logger   *slog.Logger
	AuthRule ratelimit.Rule
}

// NewHandlers creates a Handlers with all dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		db:        deps.DB,
		engine:    deps.Engine,
		grantSvc:  deps.GrantSvc,
		jwtMgr:    deps.JWTMgr,
		cache:     deps.Cache,
		limiter:   deps.Limiter,
		logger:    deps.Logger,
		authRule:  deps.AuthRule,
		startedAt: time.Now(),
	}
}

// HandleHealthz handles GET /healthz.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "database unreachable")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// HandleAuthToken handles POST /auth/token: username+password in, JWT out.
// The endpoint is rate limited per username to slow credential stuffing.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "username and password are required")
		return
	}

	if res := h.limiter.Allow(r.Context(), h.authRule, req.Username); !res.Allowed {
		for k, v := range res.FormatHeaders() {
			w.Header().Set(k, v)
		}
		writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "too many attempts")
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if user.Disabled {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// currentUser pulls the authenticated user out of the request context.
func currentUser(r *http.Request) model.User {
	u, _ := ctxutil.UserFromContext(r.Context())
	return u
}

// pathUUID parses a path value as a UUID, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// pathKind parses a path value as a resource kind, writing a 400 on failure.
func pathKind(w http.ResponseWriter, r *http.Request, name string) (model.ResourceKind, bool) {
	kind := model.ResourceKind(r.PathValue(name))
	if !model.ValidResourceKind(kind) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown resource kind")
		return "", false
	}
	return kind, true
}

// requirePermission runs a decision for the caller and, on denial, writes
// the verbose 403 with the structured payload (and its denied audit
// event). Returns the decision so callers can apply field restrictions.
func (h *Handlers) requirePermission(w http.ResponseWriter, r *http.Request, kind model.ResourceKind, id uuid.UUID, perm model.Permission) (authz.Decision, bool) {
	user := currentUser(r)
	d, err := h.engine.Check(r.Context(), user, kind, id, perm)
	if err != nil {
		h.writeMappedError(w, r, err)
		return authz.Decision{}, false
	}
	if !d.Allowed {
		detail, derr := h.engine.ExplainDenial(r.Context(), user, kind, id, perm)
		if derr != nil {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "permission denied")
			return authz.Decision{}, false
		}
		writeErrorExtra(w, r, http.StatusForbidden, model.ErrCodeForbidden, detail.Detail, detail)
		return authz.Decision{}, false
	}
	return d, true
}

// enrichGrant attaches display names to a grant for list responses.
func (h *Handlers) enrichGrant(r *http.Request, g model.Grant) model.GrantResponse {
	out := model.GrantResponse{Grant: g}

	switch g.GranteeType {
	case model.GranteeUser:
		if names, err := h.db.UserNames(r.Context(), []uuid.UUID{g.GranteeID}); err == nil {
			out.GranteeName = names[g.GranteeID]
		}
	case model.GranteeGroup:
		if names, err := h.db.GroupNames(r.Context(), []uuid.UUID{g.GranteeID}); err == nil {
			out.GranteeName = names[g.GranteeID]
		}
	}

	if name, err := h.db.ResourceName(r.Context(), g.ResourceType, g.ResourceID); err == nil {
		out.ResourceName = name
	}
	return out
}

// isNotFound reports whether err is the storage missing-row sentinel.
func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// uuidFromQuery parses a query parameter as a UUID.
func uuidFromQuery(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.URL.Query().Get(name))
}
