package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/model"
)

// HandleListAudit handles GET /v1/audit (superuser only). Filters:
// kind, actor_id, user_id, from, to (RFC3339), limit, offset. Events come
// back most-recent-first.
func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f model.AuditFilter

	if kind := q.Get("kind"); kind != "" {
		switch model.AuditKind(kind) {
		case model.AuditGranted, model.AuditRevoked, model.AuditDenied, model.AuditExpired:
			f.Kind = model.AuditKind(kind)
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown audit kind")
			return
		}
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid actor_id")
			return
		}
		f.ActorID = &id
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid user_id")
			return
		}
		f.UserID = &id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid from timestamp")
			return
		}
		f.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid to timestamp")
			return
		}
		f.To = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid limit")
			return
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid offset")
			return
		}
		f.Offset = n
	}

	events, total, err := h.db.ListAuditEvents(r.Context(), f)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
	})
}

// HandlePurgeAudit handles DELETE /v1/audit?before=RFC3339 (superuser
// only). This is the retention policy escape hatch; nothing purges on a
// schedule.
func (h *Handlers) HandlePurgeAudit(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "before is required")
		return
	}
	before, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid before timestamp")
		return
	}

	deleted, err := h.db.PurgeAuditEvents(r.Context(), before)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"deleted": deleted})
}

// HandleCacheStats handles GET /v1/cache/stats (superuser only).
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.cache.Stats())
}

// HandleCacheFlush handles POST /v1/cache/flush (superuser only).
func (h *Handlers) HandleCacheFlush(w http.ResponseWriter, r *http.Request) {
	h.cache.Flush(r.Context())
	writeJSON(w, r, http.StatusOK, map[string]any{"flushed": true})
}
