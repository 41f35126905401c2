package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Preservarium/acl-poc/internal/model"
)

func TestStrengthClosure(t *testing.T) {
	tests := []struct {
		perm model.Permission
		want []model.Permission
	}{
		{model.PermissionRead, []model.Permission{
			model.PermissionRead, model.PermissionWrite, model.PermissionDelete,
			model.PermissionCreate, model.PermissionManage,
		}},
		{model.PermissionWrite, []model.Permission{model.PermissionWrite, model.PermissionManage}},
		{model.PermissionDelete, []model.Permission{model.PermissionDelete, model.PermissionManage}},
		{model.PermissionCreate, []model.Permission{model.PermissionCreate, model.PermissionManage}},
		{model.PermissionManage, []model.Permission{model.PermissionManage}},
		{model.PermissionMember, []model.Permission{model.PermissionMember}},
	}
	for _, tt := range tests {
		assert.ElementsMatch(t, tt.want, StrengthClosure(tt.perm), "closure of %s", tt.perm)
	}
}

func TestImplies(t *testing.T) {
	assert.True(t, Implies(model.PermissionManage, model.PermissionRead))
	assert.True(t, Implies(model.PermissionWrite, model.PermissionRead))
	assert.True(t, Implies(model.PermissionManage, model.PermissionWrite))
	assert.False(t, Implies(model.PermissionRead, model.PermissionWrite))
	assert.False(t, Implies(model.PermissionWrite, model.PermissionDelete))

	// member sits outside the lattice in both directions.
	assert.False(t, Implies(model.PermissionManage, model.PermissionMember))
	assert.False(t, Implies(model.PermissionMember, model.PermissionRead))
	assert.True(t, Implies(model.PermissionMember, model.PermissionMember))
}
