package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestValidateSelfUpdateAllowedFields(t *testing.T) {
	upd := UserUpdate{
		Email:      strPtr("new@example.com"),
		Password:   strPtr("s3cret"),
		GivenName:  strPtr("Ada"),
		FamilyName: strPtr("Lovelace"),
	}
	assert.NoError(t, ValidateSelfUpdate(upd, false))
}

func TestValidateSelfUpdateForbiddenFields(t *testing.T) {
	assert.Error(t, ValidateSelfUpdate(UserUpdate{Username: strPtr("other")}, false))
	assert.Error(t, ValidateSelfUpdate(UserUpdate{IsAdmin: boolPtr(true)}, false))
	assert.Error(t, ValidateSelfUpdate(UserUpdate{Disabled: boolPtr(false)}, false))
}

func TestValidateSelfUpdateAdminBypassesRules(t *testing.T) {
	upd := UserUpdate{
		Username: strPtr("other"),
		IsAdmin:  boolPtr(true),
		Disabled: boolPtr(true),
	}
	assert.NoError(t, ValidateSelfUpdate(upd, true))
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("alice"))
	assert.NoError(t, ValidateUsername("a.b-c_d"))
	assert.Error(t, ValidateUsername("ab"), "too short")
	assert.Error(t, ValidateUsername("has space"))
	assert.Error(t, ValidateUsername("colon:bad"))
}

func TestValidResourceKind(t *testing.T) {
	assert.True(t, ValidResourceKind(KindSite))
	assert.True(t, ValidResourceKind(KindCommunicationMode))
	assert.False(t, ValidResourceKind("warehouse"))
}

func TestIsCatalogKind(t *testing.T) {
	assert.True(t, IsCatalogKind(KindHardware))
	assert.True(t, IsCatalogKind(KindParser))
	assert.False(t, IsCatalogKind(KindSite))
	assert.False(t, IsCatalogKind(KindUser))
}
