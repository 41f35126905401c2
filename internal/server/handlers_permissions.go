package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Preservarium/acl-poc/internal/model"
)

// HandleListMyPermissions handles GET /v1/permissions: every live grant
// that names the caller directly or through one of their groups.
func (h *Handlers) HandleListMyPermissions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	direct, err := h.db.ListGrantsForUser(r.Context(), user.ID)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	groups, err := h.engine.GroupsOf(r.Context(), user.ID)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	viaGroups, err := h.db.ListGrantsForGroups(r.Context(), groups)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	all := append(direct, viaGroups...)
	enriched := make([]model.GrantResponse, 0, len(all))
	for _, g := range all {
		enriched = append(enriched, h.enrichGrant(r, g))
	}
	writeJSON(w, r, http.StatusOK, enriched)
}

// HandleListResourcePermissions handles
// GET /v1/permissions/resource/{kind}/{id}. Requires manage on the resource.
func (h *Handlers) HandleListResourcePermissions(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r, "kind")
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if _, ok := h.requirePermission(w, r, kind, id, model.PermissionManage); !ok {
		return
	}

	grants, err := h.db.ListGrantsForResource(r.Context(), kind, id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	enriched := make([]model.GrantResponse, 0, len(grants))
	for _, g := range grants {
		enriched = append(enriched, h.enrichGrant(r, g))
	}
	writeJSON(w, r, http.StatusOK, enriched)
}

// HandleCreateGrant handles POST /v1/permissions. Requires manage on the
// target resource.
func (h *Handlers) HandleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var req model.GrantCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if !model.ValidResourceKind(req.ResourceType) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown resource kind")
		return
	}

	if _, ok := h.requirePermission(w, r, req.ResourceType, req.ResourceID, model.PermissionManage); !ok {
		return
	}

	effect := req.Effect
	if effect == "" {
		effect = model.EffectAllow
	}
	inherit := true
	if req.Inherit != nil {
		inherit = *req.Inherit
	}

	user := currentUser(r)
	created, err := h.grantSvc.Issue(r.Context(), model.Grant{
		GranteeType:  req.GranteeType,
		GranteeID:    req.GranteeID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Permission:   req.Permission,
		Effect:       effect,
		Inherit:      inherit,
		Fields:       req.Fields,
		ExpiresAt:    req.ExpiresAt,
	}, &user.ID)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, h.enrichGrant(r, created))
}

// HandleRevokeGrant handles DELETE /v1/permissions/{id}. Requires manage
// on the resource the grant sits on.
func (h *Handlers) HandleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	g, err := h.db.GetGrant(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	if _, ok := h.requirePermission(w, r, g.ResourceType, g.ResourceID, model.PermissionManage); !ok {
		return
	}

	user := currentUser(r)
	if _, err := h.grantSvc.Revoke(r.Context(), id, &user.ID); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCheck handles POST /v1/permissions/check: the bulk decision
// endpoint. Results come back in input order.
func (h *Handlers) HandleCheck(w http.ResponseWriter, r *http.Request) {
	var req model.CheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.Checks) == 0 || len(req.Checks) > 100 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "between 1 and 100 checks per request")
		return
	}
	for _, c := range req.Checks {
		if !model.ValidResourceKind(c.ResourceType) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown resource kind")
			return
		}
		if !model.ValidPermission(c.Permission) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown permission")
			return
		}
	}

	decisions, err := h.engine.CheckBulk(r.Context(), currentUser(r), req.Checks)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	results := make([]model.CheckResult, len(req.Checks))
	for i, c := range req.Checks {
		results[i] = model.CheckResult{
			ResourceType: c.ResourceType,
			ResourceID:   c.ResourceID,
			Permission:   c.Permission,
			Allowed:      decisions[i].Allowed,
			Fields:       decisions[i].Fields,
		}
	}
	writeJSON(w, r, http.StatusOK, model.CheckResponse{Results: results})
}

// HandleCheckOne handles GET /v1/permissions/check/{kind}/{id}/{perm}:
// the single-decision form of the check API.
func (h *Handlers) HandleCheckOne(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r, "kind")
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	perm := model.Permission(r.PathValue("perm"))
	if !model.ValidPermission(perm) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown permission")
		return
	}

	d, err := h.engine.Check(r.Context(), currentUser(r), kind, id, perm)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.CheckResult{
		ResourceType: kind,
		ResourceID:   id,
		Permission:   perm,
		Allowed:      d.Allowed,
		Fields:       d.Fields,
	})
}

// HandleEffective handles GET /v1/permissions/resource/{kind}/{id}/effective:
// the annotated grant list used to explain decisions.
func (h *Handlers) HandleEffective(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r, "kind")
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	user := currentUser(r)
	perms, err := h.engine.Effective(r.Context(), user.ID, kind, id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	name, err := h.db.ResourceName(r.Context(), kind, id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"user_id":       user.ID,
		"username":      user.Username,
		"resource_type": kind,
		"resource_id":   id,
		"resource_name": name,
		"permissions":   perms,
	})
}

// HandleInheritanceChain handles GET /v1/permissions/inheritance/{kind}/{id}.
func (h *Handlers) HandleInheritanceChain(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r, "kind")
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	chain, err := h.engine.InheritanceChain(r.Context(), kind, id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"resource_type":     kind,
		"resource_id":       id,
		"inheritance_chain": chain,
	})
}

// HandleUserInheritanceTree handles GET /v1/permissions/user-inheritance/{user_id}.
// Users may view their own tree; superusers anyone's.
func (h *Handlers) HandleUserInheritanceTree(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}

	caller := currentUser(r)
	if caller.ID != userID && !caller.IsAdmin {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "you can only view your own inheritance tree")
		return
	}

	if ok, err := h.db.UserExists(r.Context(), userID); err != nil {
		h.writeMappedError(w, r, err)
		return
	} else if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
		return
	}

	tree, err := h.engine.BuildInheritanceTree(r.Context(), userID)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tree)
}

// HandleMatrix handles GET /v1/permissions/matrix?resource_type=&resource_id=.
// Requires manage on the resource.
func (h *Handlers) HandleMatrix(w http.ResponseWriter, r *http.Request) {
	kind := model.ResourceKind(r.URL.Query().Get("resource_type"))
	if !model.ValidResourceKind(kind) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown resource kind")
		return
	}
	id, err := uuidFromQuery(r, "resource_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid resource_id")
		return
	}

	if _, ok := h.requirePermission(w, r, kind, id, model.PermissionManage); !ok {
		return
	}

	matrix, err := h.engine.BuildMatrix(r.Context(), kind, id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, matrix)
}

// HandleExpiring handles GET /v1/permissions/expiring?days_ahead=N
// (superuser only).
func (h *Handlers) HandleExpiring(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days_ahead"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 90 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "days_ahead must be between 1 and 90")
			return
		}
		days = n
	}

	expiring, err := h.db.ListExpiring(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	now := time.Now().UTC()
	out := make([]model.ExpiringGrant, 0, len(expiring))
	for _, g := range expiring {
		out = append(out, model.ExpiringGrant{
			GrantResponse:   h.enrichGrant(r, g),
			DaysUntilExpiry: int(g.ExpiresAt.Sub(now).Hours() / 24),
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}
