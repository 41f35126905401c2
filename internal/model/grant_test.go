package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func validGrant() Grant {
	return Grant{
		GranteeType:  GranteeUser,
		GranteeID:    uuid.New(),
		ResourceType: KindSite,
		ResourceID:   uuid.New(),
		Permission:   PermissionRead,
		Effect:       EffectAllow,
		Inherit:      true,
	}
}

func TestValidateGrant(t *testing.T) {
	now := time.Now()

	assert.NoError(t, ValidateGrant(validGrant(), now))

	g := validGrant()
	g.GranteeType = "robot"
	assert.Error(t, ValidateGrant(g, now), "unknown grantee type")

	g = validGrant()
	g.ResourceType = "warehouse"
	assert.Error(t, ValidateGrant(g, now), "unknown resource kind")

	g = validGrant()
	g.Permission = "own"
	assert.Error(t, ValidateGrant(g, now), "unknown permission")

	g = validGrant()
	g.Effect = "maybe"
	assert.Error(t, ValidateGrant(g, now), "unknown effect")
}

func TestValidateGrantMemberOnlyOnGroups(t *testing.T) {
	now := time.Now()

	g := validGrant()
	g.Permission = PermissionMember
	assert.Error(t, ValidateGrant(g, now), "member on a site is illegal")

	g.ResourceType = KindGroup
	assert.NoError(t, ValidateGrant(g, now))
}

func TestValidateGrantFieldListLegality(t *testing.T) {
	now := time.Now()

	for _, perm := range []Permission{PermissionRead, PermissionWrite} {
		g := validGrant()
		g.Permission = perm
		g.Fields = []string{"name"}
		assert.NoError(t, ValidateGrant(g, now), "%s accepts fields", perm)
	}

	for _, perm := range []Permission{PermissionDelete, PermissionCreate, PermissionManage} {
		g := validGrant()
		g.Permission = perm
		g.Fields = []string{"name"}
		assert.Error(t, ValidateGrant(g, now), "%s ignores fields and must reject them", perm)
	}

	g := validGrant()
	g.Permission = PermissionMember
	g.ResourceType = KindGroup
	g.Fields = []string{"name"}
	assert.Error(t, ValidateGrant(g, now))
}

func TestValidateGrantPastExpiry(t *testing.T) {
	now := time.Now()

	g := validGrant()
	past := now.Add(-time.Second)
	g.ExpiresAt = &past
	assert.Error(t, ValidateGrant(g, now))

	future := now.Add(time.Hour)
	g.ExpiresAt = &future
	assert.NoError(t, ValidateGrant(g, now))
}

func TestGrantExpired(t *testing.T) {
	now := time.Now()

	g := validGrant()
	assert.False(t, g.Expired(now), "no expiry means live forever")

	at := now.Add(-time.Nanosecond)
	g.ExpiresAt = &at
	assert.True(t, g.Expired(now))

	at = now
	g.ExpiresAt = &at
	assert.True(t, g.Expired(now), "expires_at equal to now is already inert")

	at = now.Add(time.Second)
	g.ExpiresAt = &at
	assert.False(t, g.Expired(now))
}
