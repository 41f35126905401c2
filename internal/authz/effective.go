package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/storage"
)

// allPermissions is the gather set for introspection: every grant on the
// chain is of interest, not just those satisfying one request.
var allPermissions = []model.Permission{
	model.PermissionMember, model.PermissionRead, model.PermissionWrite,
	model.PermissionDelete, model.PermissionCreate, model.PermissionManage,
}

// EffectivePermission is one grant that applies to a (user, resource)
// pair, annotated with where it came from.
type EffectivePermission struct {
	GrantID      uuid.UUID          `json:"grant_id"`
	Permission   model.Permission   `json:"permission"`
	Effect       model.Effect       `json:"effect"`
	Fields       []string           `json:"fields,omitempty"`
	Inherit      bool               `json:"inherit"`
	Source       string             `json:"source"` // "direct" or "via <group name>"
	IsInherited  bool               `json:"is_inherited"`
	Depth        int                `json:"depth"`
	ResourceType model.ResourceKind `json:"resource_type"`
	ResourceID   uuid.UUID          `json:"resource_id"`
}

// Effective returns every grant that would apply to user on (kind, id)
// under the same gathering rules as Check: direct and group grants over
// the full ancestor chain, inheritance-gated, expiry-filtered. Used to
// explain decisions.
func (e *Engine) Effective(ctx context.Context, userID uuid.UUID, kind model.ResourceKind, id uuid.UUID) ([]EffectivePermission, error) {
	groups, err := e.GroupsOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	ancestors, err := e.resolver.Ancestors(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	grantees := make([]storage.GranteeRef, 0, len(groups)+1)
	grantees = append(grantees, storage.GranteeRef{Type: model.GranteeUser, ID: userID})
	for _, g := range groups {
		grantees = append(grantees, storage.GranteeRef{Type: model.GranteeGroup, ID: g})
	}

	resources := make([]storage.ResourceRef, len(ancestors))
	depths := make(map[storage.ResourceRef]int, len(ancestors))
	for i, a := range ancestors {
		ref := storage.ResourceRef{Kind: a.Kind, ID: a.ID}
		resources[i] = ref
		depths[ref] = a.Depth
	}

	grants, err := e.store.ListGrantsForGrantees(ctx, grantees, resources, allPermissions)
	if err != nil {
		return nil, err
	}

	groupNames, err := e.store.GroupNames(ctx, groups)
	if err != nil {
		return nil, err
	}

	var out []EffectivePermission
	for _, g := range grants {
		depth := depths[storage.ResourceRef{Kind: g.ResourceType, ID: g.ResourceID}]
		if depth > 0 && !g.Inherit {
			continue
		}

		source := "direct"
		if g.GranteeType == model.GranteeGroup {
			name := groupNames[g.GranteeID]
			if name == "" {
				name = g.GranteeID.String()
			}
			source = "via " + name
		}

		out = append(out, EffectivePermission{
			GrantID:      g.ID,
			Permission:   g.Permission,
			Effect:       g.Effect,
			Fields:       g.Fields,
			Inherit:      g.Inherit,
			Source:       source,
			IsInherited:  depth > 0,
			Depth:        depth,
			ResourceType: g.ResourceType,
			ResourceID:   g.ResourceID,
		})
	}
	return out, nil
}

// ChainEntry is one ancestor in a resolved inheritance chain.
type ChainEntry struct {
	ResourceType model.ResourceKind `json:"resource_type"`
	ResourceID   uuid.UUID          `json:"resource_id"`
	ResourceName string             `json:"resource_name"`
	Depth        int                `json:"depth"`
}

// InheritanceChain returns the resource's ancestor list with resolved
// display names, closest first.
func (e *Engine) InheritanceChain(ctx context.Context, kind model.ResourceKind, id uuid.UUID) ([]ChainEntry, error) {
	ancestors, err := e.resolver.Ancestors(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	chain := make([]ChainEntry, 0, len(ancestors))
	for _, a := range ancestors {
		name, err := e.store.ResourceName(ctx, a.Kind, a.ID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, ChainEntry{
			ResourceType: a.Kind,
			ResourceID:   a.ID,
			ResourceName: name,
			Depth:        a.Depth,
		})
	}
	return chain, nil
}

// PermissionSource is one row of the verbose-denial payload: a permission
// the user does hold on the resource, and through what. When the required
// permission is not held, it is listed as well with Allowed false.
type PermissionSource struct {
	Permission model.Permission `json:"permission"`
	Allowed    bool             `json:"allowed"`
	Via        string           `json:"via"`      // "me" or the group name
	ViaType    string           `json:"via_type"` // "direct" or "group"
}

// DenialDetail is the structured payload returned by the verbose deny
// path: what was required, on what, and what the user actually holds.
type DenialDetail struct {
	Detail             string             `json:"detail"`
	RequiredPermission model.Permission   `json:"required_permission"`
	ResourceType       model.ResourceKind `json:"resource_type"`
	ResourceID         uuid.UUID          `json:"resource_id"`
	ResourceName       string             `json:"resource_name,omitempty"`
	UserPermissions    []PermissionSource `json:"user_permissions"`
}

var permissionVerbs = map[model.Permission]string{
	model.PermissionRead:   "view",
	model.PermissionWrite:  "edit",
	model.PermissionDelete: "delete",
	model.PermissionCreate: "create in",
	model.PermissionManage: "manage",
}

// ExplainDenial builds the verbose denial payload for a decision that came
// back false, and appends a denied audit event. Routine denials never pass
// through here — only callers that explicitly request the verbose form pay
// for the extra gathering and the audit write.
func (e *Engine) ExplainDenial(ctx context.Context, user model.User, kind model.ResourceKind, id uuid.UUID, perm model.Permission) (DenialDetail, error) {
	effective, err := e.Effective(ctx, user.ID, kind, id)
	if err != nil {
		return DenialDetail{}, err
	}

	var sources []PermissionSource
	seen := map[model.Permission]bool{}
	for _, p := range effective {
		if p.Effect != model.EffectAllow || seen[p.Permission] {
			continue
		}
		seen[p.Permission] = true

		via, viaType := "me", "direct"
		if p.Source != "direct" {
			via, viaType = p.Source[len("via "):], "group"
		}
		sources = append(sources, PermissionSource{
			Permission: p.Permission,
			Allowed:    true,
			Via:        via,
			ViaType:    viaType,
		})
	}
	if !seen[perm] {
		sources = append(sources, PermissionSource{Permission: perm, Allowed: false, ViaType: "direct"})
	}

	name, err := e.store.ResourceName(ctx, kind, id)
	if err != nil {
		return DenialDetail{}, err
	}

	verb := permissionVerbs[perm]
	if verb == "" {
		verb = "access"
	}

	detail := DenialDetail{
		Detail:             fmt.Sprintf("You don't have permission to %s this %s", verb, kind),
		RequiredPermission: perm,
		ResourceType:       kind,
		ResourceID:         id,
		ResourceName:       name,
		UserPermissions:    sources,
	}

	kindCopy, idCopy, permCopy := kind, id, perm
	event := model.AuditEvent{
		Kind:         model.AuditDenied,
		ActorID:      &user.ID,
		TargetUserID: &user.ID,
		ResourceType: &kindCopy,
		ResourceID:   &idCopy,
		Permission:   &permCopy,
		Details: map[string]any{
			"resource_name": name,
		},
	}
	if err := e.store.InsertAuditEvent(ctx, event); err != nil {
		// The denial payload is still valid; losing the audit row is
		// logged, not fatal to the caller.
		e.logger.Warn("authz: denied audit append failed", "error", err, "user_id", user.ID)
	}

	return detail, nil
}
