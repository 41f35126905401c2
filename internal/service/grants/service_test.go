package grants_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/service/grants"
	"github.com/Preservarium/acl-poc/internal/storage"
	"github.com/Preservarium/acl-poc/internal/testutil"
)

var (
	testDB    *storage.DB
	testCache *cache.Cache
	svc       *grants.Service
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	testCache = cache.New(cache.NewMemoryBackend(), cache.TTLs{
		Decision:   time.Minute,
		Membership: time.Minute,
		Ancestors:  time.Minute,
	}, testutil.TestLogger())
	svc = grants.New(testDB, testCache, testutil.TestLogger())

	code := m.Run()
	testDB.Close()
	_ = testCache.Close()
	tc.Terminate()
	os.Exit(code)
}

func suffix() string {
	return uuid.New().String()[:8]
}

func createUser(t *testing.T, name string) model.User {
	t.Helper()
	u, err := testDB.CreateUser(context.Background(), model.User{
		Username: name, Email: name + "@example.com", PasswordHash: "x",
	})
	require.NoError(t, err)
	return u
}

func createGroup(t *testing.T, name string) model.Group {
	t.Helper()
	g, err := testDB.CreateGroup(context.Background(), model.Group{Name: name})
	require.NoError(t, err)
	return g
}

func createSite(t *testing.T, name string) model.Site {
	t.Helper()
	s, err := testDB.CreateSite(context.Background(), model.Site{Name: name})
	require.NoError(t, err)
	return s
}

func TestIssueWritesGrantAndAudit(t *testing.T) {
	ctx := context.Background()
	actor := createUser(t, "actor-"+suffix())
	grantee := createUser(t, "grantee-"+suffix())
	site := createSite(t, "site-"+suffix())

	created, err := svc.Issue(ctx, model.Grant{
		GranteeType:  model.GranteeUser,
		GranteeID:    grantee.ID,
		ResourceType: model.KindSite,
		ResourceID:   site.ID,
		Permission:   model.PermissionWrite,
		Effect:       model.EffectAllow,
		Inherit:      true,
		Fields:       []string{"name"},
	}, &actor.ID)
	require.NoError(t, err)
	require.NotNil(t, created.GrantedBy)
	assert.Equal(t, actor.ID, *created.GrantedBy)

	events, _, err := testDB.ListAuditEvents(ctx, model.AuditFilter{
		Kind: model.AuditGranted, UserID: &grantee.ID,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, actor.ID, *events[0].ActorID)
	assert.Equal(t, "write", string(*events[0].Permission))
	assert.Equal(t, []any{"name"}, events[0].Details["fields"])
}

func TestIssueValidation(t *testing.T) {
	ctx := context.Background()
	actor := createUser(t, "val-actor-"+suffix())
	grantee := createUser(t, "val-grantee-"+suffix())
	site := createSite(t, "val-site-"+suffix())

	base := model.Grant{
		GranteeType:  model.GranteeUser,
		GranteeID:    grantee.ID,
		ResourceType: model.KindSite,
		ResourceID:   site.ID,
		Permission:   model.PermissionManage,
		Effect:       model.EffectAllow,
	}

	// Field list on manage.
	g := base
	g.Fields = []string{"name"}
	_, err := svc.Issue(ctx, g, &actor.ID)
	assert.ErrorIs(t, err, grants.ErrBadRequest)

	// Past expiry.
	g = base
	past := time.Now().UTC().Add(-time.Minute)
	g.ExpiresAt = &past
	_, err = svc.Issue(ctx, g, &actor.ID)
	assert.ErrorIs(t, err, grants.ErrBadRequest)

	// member outside groups.
	g = base
	g.Permission = model.PermissionMember
	_, err = svc.Issue(ctx, g, &actor.ID)
	assert.ErrorIs(t, err, grants.ErrBadRequest)

	// Missing grantee.
	g = base
	g.GranteeID = uuid.New()
	_, err = svc.Issue(ctx, g, &actor.ID)
	assert.ErrorIs(t, err, grants.ErrNotFound)

	// Missing resource.
	g = base
	g.ResourceID = uuid.New()
	_, err = svc.Issue(ctx, g, &actor.ID)
	assert.ErrorIs(t, err, grants.ErrNotFound)
}

func TestIssueDuplicateConflict(t *testing.T) {
	ctx := context.Background()
	actor := createUser(t, "conf-actor-"+suffix())
	grantee := createUser(t, "conf-grantee-"+suffix())
	site := createSite(t, "conf-site-"+suffix())

	g := model.Grant{
		GranteeType:  model.GranteeUser,
		GranteeID:    grantee.ID,
		ResourceType: model.KindSite,
		ResourceID:   site.ID,
		Permission:   model.PermissionRead,
		Effect:       model.EffectAllow,
	}
	_, err := svc.Issue(ctx, g, &actor.ID)
	require.NoError(t, err)

	_, err = svc.Issue(ctx, g, &actor.ID)
	assert.ErrorIs(t, err, grants.ErrConflict)
}

func TestRevokeRoundTrip(t *testing.T) {
	ctx := context.Background()
	actor := createUser(t, "rev-actor-"+suffix())
	grantee := createUser(t, "rev-grantee-"+suffix())
	site := createSite(t, "rev-site-"+suffix())

	created, err := svc.Issue(ctx, model.Grant{
		GranteeType:  model.GranteeUser,
		GranteeID:    grantee.ID,
		ResourceType: model.KindSite,
		ResourceID:   site.ID,
		Permission:   model.PermissionRead,
		Effect:       model.EffectAllow,
	}, &actor.ID)
	require.NoError(t, err)

	revoked, err := svc.Revoke(ctx, created.ID, &actor.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, revoked.ID)

	_, err = svc.Revoke(ctx, created.ID, &actor.ID)
	assert.ErrorIs(t, err, grants.ErrNotFound)

	// Issue then revoke leaves the store where it started.
	left, err := testDB.ListGrantsForResource(ctx, model.KindSite, site.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	events, _, err := testDB.ListAuditEvents(ctx, model.AuditFilter{UserID: &grantee.ID})
	require.NoError(t, err)
	assert.Len(t, events, 2, "one granted, one revoked")
}

func TestIssueInvalidatesUserDecisions(t *testing.T) {
	ctx := context.Background()
	actor := createUser(t, "inv-actor-"+suffix())
	grantee := createUser(t, "inv-grantee-"+suffix())
	site := createSite(t, "inv-site-"+suffix())

	key := cache.DecisionKey(grantee.ID, model.KindSite, site.ID, model.PermissionRead)
	testCache.SetJSON(ctx, key, map[string]bool{"allowed": false}, time.Minute)
	testCache.SetJSON(ctx, cache.UserGroupsKey(grantee.ID), []string{}, time.Minute)

	_, err := svc.Issue(ctx, model.Grant{
		GranteeType:  model.GranteeUser,
		GranteeID:    grantee.ID,
		ResourceType: model.KindSite,
		ResourceID:   site.ID,
		Permission:   model.PermissionRead,
		Effect:       model.EffectAllow,
	}, &actor.ID)
	require.NoError(t, err)

	var out map[string]bool
	assert.False(t, testCache.GetJSON(ctx, key, &out), "stale decision must be gone")
	var groups []string
	assert.False(t, testCache.GetJSON(ctx, cache.UserGroupsKey(grantee.ID), &groups))
}

func TestGroupGrantFlushesDecisionCache(t *testing.T) {
	ctx := context.Background()
	actor := createUser(t, "flush-actor-"+suffix())
	group := createGroup(t, "flush-group-"+suffix())
	site := createSite(t, "flush-site-"+suffix())
	bystander := uuid.New()

	key := cache.DecisionKey(bystander, model.KindSite, site.ID, model.PermissionRead)
	testCache.SetJSON(ctx, key, map[string]bool{"allowed": true}, time.Minute)

	_, err := svc.Issue(ctx, model.Grant{
		GranteeType:  model.GranteeGroup,
		GranteeID:    group.ID,
		ResourceType: model.KindSite,
		ResourceID:   site.ID,
		Permission:   model.PermissionWrite,
		Effect:       model.EffectAllow,
		Inherit:      true,
	}, &actor.ID)
	require.NoError(t, err)

	var out map[string]bool
	assert.False(t, testCache.GetJSON(ctx, key, &out),
		"a group grant drops every cached decision")
}

func TestAutoGrantManage(t *testing.T) {
	ctx := context.Background()
	creator := createUser(t, "auto-creator-"+suffix())
	site := createSite(t, "auto-site-"+suffix())

	g, err := svc.AutoGrantManage(ctx, creator.ID, model.KindSite, site.ID)
	require.NoError(t, err)

	assert.Equal(t, model.PermissionManage, g.Permission)
	assert.Equal(t, model.EffectAllow, g.Effect)
	assert.True(t, g.Inherit)
	assert.Nil(t, g.GrantedBy, "creator grants are system-issued")
}

func TestAutoGrantMemberConflictOnExistingMember(t *testing.T) {
	ctx := context.Background()
	actor := createUser(t, "mem-actor-"+suffix())
	user := createUser(t, "mem-user-"+suffix())
	group := createGroup(t, "mem-group-"+suffix())

	g, err := svc.AutoGrantMember(ctx, user.ID, group.ID, &actor.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PermissionMember, g.Permission)
	assert.False(t, g.Inherit)

	_, err = svc.AutoGrantMember(ctx, user.ID, group.ID, &actor.ID, nil)
	assert.ErrorIs(t, err, grants.ErrConflict)
}
