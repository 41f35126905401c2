package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/model"
)

// Resource creation follows the hierarchy: creating a child requires the
// create permission on its parent (manage implies create through the
// lattice). Sites are roots, so only a superuser creates them. Every
// creation auto-grants manage on the new resource to its creator.

// HandleCreateSite handles POST /v1/sites (superuser only — enforced in
// routing).
func (h *Handlers) HandleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	site, err := h.db.CreateSite(r.Context(), model.Site{Name: req.Name, Description: req.Description})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.autoGrant(r, model.KindSite, site.ID)
	writeJSON(w, r, http.StatusCreated, site)
}

// HandleListSites handles GET /v1/sites: all sites the caller can read.
func (h *Handlers) HandleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.db.ListSites(r.Context())
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	user := currentUser(r)
	visible := make([]model.Site, 0, len(sites))
	for _, s := range sites {
		d, err := h.engine.Check(r.Context(), user, model.KindSite, s.ID, model.PermissionRead)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		if d.Allowed {
			visible = append(visible, s)
		}
	}
	writeJSON(w, r, http.StatusOK, visible)
}

// HandleGetSite handles GET /v1/sites/{id}.
func (h *Handlers) HandleGetSite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindSite, id, model.PermissionRead); !ok {
		return
	}
	site, err := h.db.GetSite(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, site)
}

// HandleUpdateSite handles PATCH /v1/sites/{id}. A field-restricted write
// grant limits which fields the caller may change.
func (h *Handlers) HandleUpdateSite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	d, ok := h.requirePermission(w, r, model.KindSite, id, model.PermissionWrite)
	if !ok {
		return
	}

	var req struct {
		Name        *string `json:"name,omitempty"`
		Description *string `json:"description,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	var touched []string
	if req.Name != nil {
		touched = append(touched, "name")
	}
	if req.Description != nil {
		touched = append(touched, "description")
	}
	if !fieldsPermit(d.Fields, touched) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "grant restricts which fields you may edit")
		return
	}

	site, err := h.db.GetSite(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	if req.Name != nil {
		site.Name = *req.Name
	}
	if req.Description != nil {
		site.Description = *req.Description
	}

	updated, err := h.db.UpdateSite(r.Context(), id, site.Name, site.Description)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeleteSite handles DELETE /v1/sites/{id}. Requires delete on the
// site. Grants anywhere in the subtree dangle once their rows cascade, so
// the exact-resource grants are removed and the site's cache entries
// dropped.
func (h *Handlers) HandleDeleteSite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindSite, id, model.PermissionDelete); !ok {
		return
	}

	if _, err := h.db.DeleteGrantsForResource(r.Context(), model.KindSite, id); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	if err := h.db.DeleteSite(r.Context(), id); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.cache.InvalidateResource(r.Context(), model.KindSite, id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreatePlan handles POST /v1/plans. Requires create on the parent
// site.
func (h *Handlers) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SiteID      uuid.UUID `json:"site_id"`
		Name        string    `json:"name"`
		Description string    `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "site_id and name are required")
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindSite, req.SiteID, model.PermissionCreate); !ok {
		return
	}

	plan, err := h.db.CreatePlan(r.Context(), model.Plan{
		SiteID: req.SiteID, Name: req.Name, Description: req.Description,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.autoGrant(r, model.KindPlan, plan.ID)
	writeJSON(w, r, http.StatusCreated, plan)
}

// HandleGetPlan handles GET /v1/plans/{id}.
func (h *Handlers) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindPlan, id, model.PermissionRead); !ok {
		return
	}
	plan, err := h.db.GetPlan(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, plan)
}

// HandleCreateSensor handles POST /v1/sensors. Requires create on the
// parent plan.
func (h *Handlers) HandleCreateSensor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID     uuid.UUID  `json:"plan_id"`
		Name       string     `json:"name"`
		HardwareID *uuid.UUID `json:"hardware_id,omitempty"`
		ProtocolID *uuid.UUID `json:"protocol_id,omitempty"`
		DatatypeID *uuid.UUID `json:"datatype_id,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "plan_id and name are required")
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindPlan, req.PlanID, model.PermissionCreate); !ok {
		return
	}

	sensor, err := h.db.CreateSensor(r.Context(), model.Sensor{
		PlanID: req.PlanID, Name: req.Name,
		HardwareID: req.HardwareID, ProtocolID: req.ProtocolID, DatatypeID: req.DatatypeID,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.autoGrant(r, model.KindSensor, sensor.ID)
	writeJSON(w, r, http.StatusCreated, sensor)
}

// HandleGetSensor handles GET /v1/sensors/{id}.
func (h *Handlers) HandleGetSensor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	d, ok := h.requirePermission(w, r, model.KindSensor, id, model.PermissionRead)
	if !ok {
		return
	}
	sensor, err := h.db.GetSensor(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	// A field-restricted read grant trims the response body.
	if d.Fields != nil {
		writeJSON(w, r, http.StatusOK, filterSensorFields(sensor, d.Fields))
		return
	}
	writeJSON(w, r, http.StatusOK, sensor)
}

// HandleCreateBroker handles POST /v1/brokers. Requires create on the
// parent plan.
func (h *Handlers) HandleCreateBroker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID  uuid.UUID `json:"plan_id"`
		Name    string    `json:"name"`
		Address string    `json:"address"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "plan_id and name are required")
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindPlan, req.PlanID, model.PermissionCreate); !ok {
		return
	}

	broker, err := h.db.CreateBroker(r.Context(), model.Broker{
		PlanID: req.PlanID, Name: req.Name, Address: req.Address,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.autoGrant(r, model.KindBroker, broker.ID)
	writeJSON(w, r, http.StatusCreated, broker)
}

// HandleCreateAlarm handles POST /v1/alarms. Requires create on the
// parent sensor.
func (h *Handlers) HandleCreateAlarm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SensorID uuid.UUID `json:"sensor_id"`
		Name     string    `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "sensor_id and name are required")
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindSensor, req.SensorID, model.PermissionCreate); !ok {
		return
	}

	alarm, err := h.db.CreateAlarm(r.Context(), model.Alarm{SensorID: req.SensorID, Name: req.Name})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.autoGrant(r, model.KindAlarm, alarm.ID)
	writeJSON(w, r, http.StatusCreated, alarm)
}

// HandleCreateAlert handles POST /v1/alerts. Requires create on the
// parent alarm.
func (h *Handlers) HandleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlarmID  uuid.UUID `json:"alarm_id"`
		Message  string    `json:"message"`
		Severity string    `json:"severity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindAlarm, req.AlarmID, model.PermissionCreate); !ok {
		return
	}

	alert, err := h.db.CreateAlert(r.Context(), model.Alert{
		AlarmID: req.AlarmID, Message: req.Message, Severity: req.Severity,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.autoGrant(r, model.KindAlert, alert.ID)
	writeJSON(w, r, http.StatusCreated, alert)
}

// HandleCreateDashboard handles POST /v1/dashboards. Dashboards are
// standalone and user-owned; any authenticated user may create one.
func (h *Handlers) HandleCreateDashboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string         `json:"name"`
		Layout map[string]any `json:"layout,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	user := currentUser(r)
	dashboard, err := h.db.CreateDashboard(r.Context(), model.Dashboard{
		Name: req.Name, OwnerID: user.ID, Layout: req.Layout,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.autoGrant(r, model.KindDashboard, dashboard.ID)
	writeJSON(w, r, http.StatusCreated, dashboard)
}

// HandleGetDashboard handles GET /v1/dashboards/{id}.
func (h *Handlers) HandleGetDashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requirePermission(w, r, model.KindDashboard, id, model.PermissionRead); !ok {
		return
	}
	dashboard, err := h.db.GetDashboard(r.Context(), id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dashboard)
}

// autoGrant issues the creator grant, logging rather than failing the
// request when it cannot be written: the resource exists either way and
// a superuser can repair the grants.
func (h *Handlers) autoGrant(r *http.Request, kind model.ResourceKind, id uuid.UUID) {
	creator := currentUser(r)
	if _, err := h.grantSvc.AutoGrantManage(r.Context(), creator.ID, kind, id); err != nil {
		h.logger.Warn("auto-grant on create failed",
			"error", err, "kind", kind, "resource_id", id, "creator", creator.ID)
	}
}

// filterSensorFields projects a sensor to the granted field set. Identity
// fields always pass through.
func filterSensorFields(s model.Sensor, fields []string) map[string]any {
	allowed := make(map[string]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}
	out := map[string]any{"id": s.ID, "plan_id": s.PlanID}
	if allowed["name"] {
		out["name"] = s.Name
	}
	if allowed["hardware_id"] && s.HardwareID != nil {
		out["hardware_id"] = s.HardwareID
	}
	if allowed["protocol_id"] && s.ProtocolID != nil {
		out["protocol_id"] = s.ProtocolID
	}
	if allowed["datatype_id"] && s.DatatypeID != nil {
		out["datatype_id"] = s.DatatypeID
	}
	return out
}
