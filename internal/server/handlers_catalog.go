package server

import (
	"net/http"

	"github.com/Preservarium/acl-poc/internal/model"
)

// Catalog endpoints cover the admin-managed configuration kinds. Reads
// are open to every authenticated user without an engine check;
// mutations are routed through the superuser-only admin gate, so a
// grant on a catalog item does not enable them.

// catalogKind parses and validates the {kind} path value as a catalog kind.
func catalogKind(w http.ResponseWriter, r *http.Request) (model.ResourceKind, bool) {
	kind := model.ResourceKind(r.PathValue("kind"))
	if !model.IsCatalogKind(kind) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown catalog kind")
		return "", false
	}
	return kind, true
}

// HandleListCatalog handles GET /v1/catalog/{kind}.
func (h *Handlers) HandleListCatalog(w http.ResponseWriter, r *http.Request) {
	kind, ok := catalogKind(w, r)
	if !ok {
		return
	}

	items, err := h.db.ListCatalogItems(r.Context(), kind)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, items)
}

// HandleGetCatalogItem handles GET /v1/catalog/{kind}/{id}.
func (h *Handlers) HandleGetCatalogItem(w http.ResponseWriter, r *http.Request) {
	kind, ok := catalogKind(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	item, err := h.db.GetCatalogItem(r.Context(), kind, id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// HandleCreateCatalogItem handles POST /v1/catalog/{kind} (superuser only
// — enforced in routing; catalog kinds have no create default).
func (h *Handlers) HandleCreateCatalogItem(w http.ResponseWriter, r *http.Request) {
	kind, ok := catalogKind(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	item, err := h.db.CreateCatalogItem(r.Context(), model.CatalogItem{
		Kind: kind, Name: req.Name, Description: req.Description,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, item)
}

// HandleUpdateCatalogItem handles PATCH /v1/catalog/{kind}/{id}
// (superuser only — enforced in routing).
func (h *Handlers) HandleUpdateCatalogItem(w http.ResponseWriter, r *http.Request) {
	kind, ok := catalogKind(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	item, err := h.db.UpdateCatalogItem(r.Context(), kind, id, req.Name, req.Description)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// HandleDeleteCatalogItem handles DELETE /v1/catalog/{kind}/{id}
// (superuser only — enforced in routing).
func (h *Handlers) HandleDeleteCatalogItem(w http.ResponseWriter, r *http.Request) {
	kind, ok := catalogKind(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.db.DeleteCatalogItem(r.Context(), kind, id); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.cache.InvalidateResource(r.Context(), kind, id)
	w.WriteHeader(http.StatusNoContent)
}
