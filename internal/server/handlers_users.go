package server

import (
	"net/http"

	"github.com/Preservarium/acl-poc/internal/auth"
	"github.com/Preservarium/acl-poc/internal/model"
)

// HandleCreateUser handles POST /v1/users (superuser only).
func (h *Handlers) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		IsAdmin    bool   `json:"is_admin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := model.ValidateUsername(req.Username); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Password == "" || req.Email == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	user, err := h.db.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		Email:        req.Email,
		GivenName:    req.GivenName,
		FamilyName:   req.FamilyName,
		PasswordHash: hash,
		IsAdmin:      req.IsAdmin,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	// The creating admin gets manage on the account, like any other
	// resource creation.
	actor := currentUser(r)
	if _, err := h.grantSvc.AutoGrantManage(r.Context(), actor.ID, model.KindUser, user.ID); err != nil {
		h.logger.Warn("auto-grant on user create failed", "error", err, "user_id", user.ID)
	}

	writeJSON(w, r, http.StatusCreated, user)
}

// HandleListUsers handles GET /v1/users (superuser only).
func (h *Handlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, users)
}

// HandleGetMe handles GET /v1/users/me.
func (h *Handlers) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, currentUser(r))
}

// HandleGetUser handles GET /v1/users/{id}: self, superuser, or read on
// the user resource.
func (h *Handlers) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	caller := currentUser(r)
	if caller.ID != id {
		if _, ok := h.requirePermission(w, r, model.KindUser, id, model.PermissionRead); !ok {
			return
		}
	}

	user, err := h.db.GetUser(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

// HandleUpdateUser handles PATCH /v1/users/{id}.
//
// Self-updates are limited to {email, password, given_name, family_name}
// regardless of any ACL grants; that business rule always wins. Editing
// another account needs write on the user resource (or superuser, which
// bypasses evaluation).
func (h *Handlers) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req model.UserUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	caller := currentUser(r)
	isSelf := caller.ID == id

	if isSelf {
		if err := model.ValidateSelfUpdate(req, caller.IsAdmin); err != nil {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, err.Error())
			return
		}
	} else {
		d, ok := h.requirePermission(w, r, model.KindUser, id, model.PermissionWrite)
		if !ok {
			return
		}
		if !fieldsPermit(d.Fields, userUpdateFieldNames(req)) {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "grant restricts which fields you may edit")
			return
		}
		// Privileged flags still require a superuser even with a write
		// grant on the account.
		if (req.IsAdmin != nil || req.Disabled != nil || req.Username != nil) && !caller.IsAdmin {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "superuser required to change username, is_admin or disabled")
			return
		}
	}

	if req.Username != nil {
		if err := model.ValidateUsername(*req.Username); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	var passwordHash *string
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		passwordHash = &hash
	}

	user, err := h.db.UpdateUser(r.Context(), id, req, passwordHash)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

// HandleDeleteUser handles DELETE /v1/users/{id} (superuser only).
func (h *Handlers) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	caller := currentUser(r)
	if caller.ID == id {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "cannot delete your own account")
		return
	}

	if err := h.db.DeleteUser(r.Context(), id); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.cache.InvalidateUser(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// userUpdateFieldNames lists the field names an update touches, in the
// grant field vocabulary.
func userUpdateFieldNames(u model.UserUpdate) []string {
	var out []string
	if u.Username != nil {
		out = append(out, "username")
	}
	if u.Email != nil {
		out = append(out, "email")
	}
	if u.Password != nil {
		out = append(out, "password")
	}
	if u.GivenName != nil {
		out = append(out, "given_name")
	}
	if u.FamilyName != nil {
		out = append(out, "family_name")
	}
	if u.IsAdmin != nil {
		out = append(out, "is_admin")
	}
	if u.Disabled != nil {
		out = append(out, "disabled")
	}
	return out
}

// fieldsPermit reports whether a field-restricted decision covers every
// touched field. A nil restriction means all fields.
func fieldsPermit(allowed []string, touched []string) bool {
	if allowed == nil {
		return true
	}
	set := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		set[f] = true
	}
	for _, f := range touched {
		if !set[f] {
			return false
		}
	}
	return true
}
