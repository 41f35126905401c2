package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/model"
)

// HandleCreateGroup handles POST /v1/groups. Any authenticated user may
// create a group; the creator is auto-granted manage on it.
func (h *Handlers) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	group, err := h.db.CreateGroup(r.Context(), model.Group{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	creator := currentUser(r)
	if _, err := h.grantSvc.AutoGrantManage(r.Context(), creator.ID, model.KindGroup, group.ID); err != nil {
		h.logger.Warn("auto-grant on group create failed", "error", err, "group_id", group.ID)
	}

	writeJSON(w, r, http.StatusCreated, group)
}

// HandleListGroups handles GET /v1/groups.
func (h *Handlers) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.db.ListGroups(r.Context())
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, groups)
}

// HandleGetGroup handles GET /v1/groups/{id}. Requires read on the group.
func (h *Handlers) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindGroup, id, model.PermissionRead); !ok {
		return
	}

	group, err := h.db.GetGroup(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, group)
}

// HandleUpdateGroup handles PATCH /v1/groups/{id}. Requires write.
func (h *Handlers) HandleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindGroup, id, model.PermissionWrite); !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	group, err := h.db.UpdateGroup(r.Context(), id, req.Name, req.Description)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, group)
}

// HandleDeleteGroup handles DELETE /v1/groups/{id}. Requires delete.
// Removing the group also removes its member grants, so member decision
// caches go with it.
func (h *Handlers) HandleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindGroup, id, model.PermissionDelete); !ok {
		return
	}

	if err := h.db.DeleteGroup(r.Context(), id); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.cache.InvalidateAllDecisions(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// HandleListMembers handles GET /v1/groups/{id}/members. Requires read.
func (h *Handlers) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindGroup, id, model.PermissionRead); !ok {
		return
	}

	members, err := h.db.ListGroupMembers(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, members)
}

// HandleAddMember handles POST /v1/groups/{id}/members. Requires manage
// on the group. Membership is a member grant; adding an existing member
// is a conflict.
func (h *Handlers) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindGroup, id, model.PermissionManage); !ok {
		return
	}

	var req struct {
		UserID    uuid.UUID  `json:"user_id"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	actor := currentUser(r)
	grant, err := h.grantSvc.AutoGrantMember(r.Context(), req.UserID, id, &actor.ID, req.ExpiresAt)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, h.enrichGrant(r, grant))
}

// HandleRemoveMember handles DELETE /v1/groups/{id}/members/{user_id}.
// Requires manage on the group.
func (h *Handlers) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindGroup, id, model.PermissionManage); !ok {
		return
	}

	members, err := h.db.ListGroupMembers(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	actor := currentUser(r)
	for _, m := range members {
		if m.UserID == userID {
			if _, err := h.grantSvc.Revoke(r.Context(), m.GrantID, &actor.ID); err != nil {
				h.writeMappedError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user is not a member of this group")
}
