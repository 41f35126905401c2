package authz

import "github.com/Preservarium/acl-poc/internal/model"

// satisfiedBy is the strength-lattice closure table: for each requested
// permission, the set of granted permissions that satisfy it. manage
// implies create, delete and write; each of those implies read. Adding a
// permission later means editing this table, not branching code.
//
// member is deliberately absent: it is matched exactly and never
// participates in implication in either direction.
var satisfiedBy = map[model.Permission][]model.Permission{
	model.PermissionRead: {
		model.PermissionRead, model.PermissionWrite, model.PermissionDelete,
		model.PermissionCreate, model.PermissionManage,
	},
	model.PermissionWrite:  {model.PermissionWrite, model.PermissionManage},
	model.PermissionDelete: {model.PermissionDelete, model.PermissionManage},
	model.PermissionCreate: {model.PermissionCreate, model.PermissionManage},
	model.PermissionManage: {model.PermissionManage},
	model.PermissionMember: {model.PermissionMember},
}

// StrengthClosure returns the permissions whose grants satisfy a request
// for perm. Unknown permissions close over themselves only.
func StrengthClosure(perm model.Permission) []model.Permission {
	if c, ok := satisfiedBy[perm]; ok {
		return c
	}
	return []model.Permission{perm}
}

// Implies reports whether a grant of held satisfies a request for want.
func Implies(held, want model.Permission) bool {
	for _, p := range StrengthClosure(want) {
		if p == held {
			return true
		}
	}
	return false
}
