package authz

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/storage"
)

// matrixPermissions are the columns of the permission matrix. member is
// excluded: the matrix shows operational permissions, membership has its
// own listing.
var matrixPermissions = []model.Permission{
	model.PermissionRead, model.PermissionWrite, model.PermissionDelete,
	model.PermissionCreate, model.PermissionManage,
}

// MatrixCell describes one (grantee, permission) cell.
type MatrixCell struct {
	Allowed         bool     `json:"allowed"`
	Inherited       bool     `json:"inherited,omitempty"`
	Source          string   `json:"source,omitempty"` // "<kind>: <name>" of the ancestor the grant sits on
	FieldRestricted bool     `json:"field_restricted,omitempty"`
	Fields          []string `json:"fields,omitempty"`
}

// MatrixRow is one grantee's cells across all matrix permissions.
type MatrixRow struct {
	GranteeType model.GranteeType               `json:"grantee_type"`
	GranteeID   uuid.UUID                       `json:"grantee_id"`
	GranteeName string                          `json:"grantee_name"`
	Permissions map[model.Permission]MatrixCell `json:"permissions"`
}

// Matrix is the per-resource permission grid.
type Matrix struct {
	ResourceType model.ResourceKind `json:"resource_type"`
	ResourceID   uuid.UUID          `json:"resource_id"`
	ResourceName string             `json:"resource_name"`
	Grantees     []MatrixRow        `json:"grantees"`
}

// BuildMatrix fills the permission grid for one resource: every grantee
// holding an explicit grant on the resource or an inheritable grant on an
// ancestor, one cell per operational permission. Rows sort groups before
// users, then by name.
func (e *Engine) BuildMatrix(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (Matrix, error) {
	ancestors, err := e.resolver.Ancestors(ctx, kind, id)
	if err != nil {
		return Matrix{}, err
	}

	resources := make([]storage.ResourceRef, len(ancestors))
	depths := make(map[storage.ResourceRef]int, len(ancestors))
	for i, a := range ancestors {
		ref := storage.ResourceRef{Kind: a.Kind, ID: a.ID}
		resources[i] = ref
		depths[ref] = a.Depth
	}

	grants, err := e.store.ListGrantsForResources(ctx, resources)
	if err != nil {
		return Matrix{}, err
	}

	type granteeKey struct {
		t  model.GranteeType
		id uuid.UUID
	}
	rows := map[granteeKey]*MatrixRow{}

	for _, g := range grants {
		depth := depths[storage.ResourceRef{Kind: g.ResourceType, ID: g.ResourceID}]
		if depth > 0 && !g.Inherit {
			continue
		}
		// Only allow grants light cells up; denies are surfaced by the
		// effective-permissions view, not the matrix.
		if g.Effect != model.EffectAllow || g.Permission == model.PermissionMember {
			continue
		}

		k := granteeKey{g.GranteeType, g.GranteeID}
		row, ok := rows[k]
		if !ok {
			row = &MatrixRow{
				GranteeType: g.GranteeType,
				GranteeID:   g.GranteeID,
				Permissions: make(map[model.Permission]MatrixCell, len(matrixPermissions)),
			}
			rows[k] = row
		}

		cell := row.Permissions[g.Permission]
		cell.Allowed = true
		if depth > 0 {
			cell.Inherited = true
			name, err := e.store.ResourceName(ctx, g.ResourceType, g.ResourceID)
			if err != nil {
				return Matrix{}, err
			}
			cell.Source = string(g.ResourceType) + ": " + name
		}
		if g.Fields != nil {
			cell.FieldRestricted = true
			set := make(map[string]struct{}, len(cell.Fields)+len(g.Fields))
			for _, f := range cell.Fields {
				set[f] = struct{}{}
			}
			for _, f := range g.Fields {
				set[f] = struct{}{}
			}
			cell.Fields = sortedFields(set)
		}
		row.Permissions[g.Permission] = cell
	}

	// Resolve display names in two batched lookups.
	var userIDs, groupIDs []uuid.UUID
	for k := range rows {
		if k.t == model.GranteeUser {
			userIDs = append(userIDs, k.id)
		} else {
			groupIDs = append(groupIDs, k.id)
		}
	}
	userNames, err := e.store.UserNames(ctx, userIDs)
	if err != nil {
		return Matrix{}, err
	}
	groupNames, err := e.store.GroupNames(ctx, groupIDs)
	if err != nil {
		return Matrix{}, err
	}

	out := make([]MatrixRow, 0, len(rows))
	for k, row := range rows {
		if k.t == model.GranteeUser {
			row.GranteeName = userNames[k.id]
		} else {
			row.GranteeName = groupNames[k.id]
		}
		if row.GranteeName == "" {
			row.GranteeName = k.id.String()
		}
		// Fill the empty cells so every row has the full permission set.
		for _, p := range matrixPermissions {
			if _, ok := row.Permissions[p]; !ok {
				row.Permissions[p] = MatrixCell{}
			}
		}
		out = append(out, *row)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].GranteeType != out[j].GranteeType {
			return out[i].GranteeType == model.GranteeGroup
		}
		return strings.ToLower(out[i].GranteeName) < strings.ToLower(out[j].GranteeName)
	})

	name, err := e.store.ResourceName(ctx, kind, id)
	if err != nil {
		return Matrix{}, err
	}

	return Matrix{
		ResourceType: kind,
		ResourceID:   id,
		ResourceName: name,
		Grantees:     out,
	}, nil
}
