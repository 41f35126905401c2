package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Preservarium/acl-poc/internal/auth"
	"github.com/Preservarium/acl-poc/internal/authz"
	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/hierarchy"
	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/ratelimit"
	"github.com/Preservarium/acl-poc/internal/server"
	"github.com/Preservarium/acl-poc/internal/service/grants"
	"github.com/Preservarium/acl-poc/internal/storage"
	"github.com/Preservarium/acl-poc/internal/testutil"
)

var (
	testDB  *storage.DB
	testSrv *httptest.Server
)

const adminPassword = "bootstrap-secret"

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	ctx := context.Background()
	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	logger := testutil.TestLogger()
	c := cache.New(cache.NewMemoryBackend(), cache.TTLs{
		Decision:   time.Minute,
		Membership: time.Minute,
		Ancestors:  time.Minute,
	}, logger)
	resolver := hierarchy.NewResolver(testDB, c)
	engine := authz.NewEngine(testDB, resolver, c, logger)
	grantSvc := grants.New(testDB, c, logger)

	jwtMgr, err := auth.NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		Engine:              engine,
		GrantSvc:            grantSvc,
		JWTMgr:              jwtMgr,
		Cache:               c,
		Limiter:             ratelimit.New(nil, logger),
		Logger:              logger,
		Port:                0,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		MaxRequestBodyBytes: 1 << 20,
		AuthRule:            ratelimit.Rule{Prefix: "auth", Limit: 100, Window: time.Minute},
	})
	if err := srv.Handlers().SeedAdmin(ctx, "root", adminPassword); err != nil {
		tc.Terminate()
		panic(err)
	}

	testSrv = httptest.NewServer(srv.Handler())

	code := m.Run()
	testSrv.Close()
	testDB.Close()
	_ = c.Close()
	tc.Terminate()
	os.Exit(code)
}

// doJSON performs a request with an optional bearer token and decodes the
// response envelope's data into out (when non-nil).
func doJSON(t *testing.T, method, path, token string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, testSrv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return resp
}

func login(t *testing.T, username, password string) string {
	t.Helper()
	var tokenResp model.AuthTokenResponse
	resp := doJSON(t, http.MethodPost, "/auth/token", "", map[string]string{
		"username": username, "password": password,
	}, &tokenResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return tokenResp.Token
}

func adminToken(t *testing.T) string {
	return login(t, "root", adminPassword)
}

func createUserViaAPI(t *testing.T, admin, username, password string) model.User {
	t.Helper()
	var u model.User
	resp := doJSON(t, http.MethodPost, "/v1/users", admin, map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}, &u)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return u
}

func suffix() string {
	return uuid.New().String()[:8]
}

func TestAuthTokenFlow(t *testing.T) {
	token := adminToken(t)

	var me model.User
	resp := doJSON(t, http.MethodGet, "/v1/users/me", token, nil, &me)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "root", me.Username)
	assert.True(t, me.IsAdmin)
}

func TestAuthTokenRejectsBadPassword(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/auth/token", "", map[string]string{
		"username": "root", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/v1/users/me", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGrantLifecycleOverHTTP(t *testing.T) {
	admin := adminToken(t)
	s := suffix()

	password := "pw-" + s
	user := createUserViaAPI(t, admin, "eve-"+s, password)
	userToken := login(t, user.Username, password)

	// Admin creates a site and a plan beneath it.
	var site model.Site
	resp := doJSON(t, http.MethodPost, "/v1/sites", admin, map[string]string{"name": "Factory-" + s}, &site)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var plan model.Plan
	resp = doJSON(t, http.MethodPost, "/v1/plans", admin, map[string]any{
		"site_id": site.ID, "name": "Floor-" + s,
	}, &plan)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	checkRead := func(token string) model.CheckResult {
		var out model.CheckResponse
		resp := doJSON(t, http.MethodPost, "/v1/permissions/check", token, model.CheckRequest{
			Checks: []model.CheckItem{{
				ResourceType: model.KindPlan, ResourceID: plan.ID, Permission: model.PermissionRead,
			}},
		}, &out)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, out.Results, 1)
		return out.Results[0]
	}

	assert.False(t, checkRead(userToken).Allowed, "no grants yet")

	// Admin issues read/allow/inherit=true on the site.
	var created model.GrantResponse
	resp = doJSON(t, http.MethodPost, "/v1/permissions", admin, model.GrantCreateRequest{
		GranteeType:  model.GranteeUser,
		GranteeID:    user.ID,
		ResourceType: model.KindSite,
		ResourceID:   site.ID,
		Permission:   model.PermissionRead,
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.True(t, checkRead(userToken).Allowed, "grant inherits from site to plan")

	// Revoke; the cached decision must not outlive it.
	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("/v1/permissions/%s", created.ID), admin, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.False(t, checkRead(userToken).Allowed, "revoke invalidates the decision cache")
}

func TestVerboseDenialPayload(t *testing.T) {
	admin := adminToken(t)
	s := suffix()

	password := "pw-" + s
	user := createUserViaAPI(t, admin, "mallory-"+s, password)
	userToken := login(t, user.Username, password)

	var site model.Site
	resp := doJSON(t, http.MethodPost, "/v1/sites", admin, map[string]string{"name": "Denied-" + s}, &site)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Listing a resource's grants needs manage; the denial is verbose.
	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/v1/permissions/resource/site/%s", testSrv.URL, site.ID), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rawResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = rawResp.Body.Close() }()
	require.Equal(t, http.StatusForbidden, rawResp.StatusCode)

	var envelope struct {
		Error struct {
			Code  string `json:"code"`
			Extra struct {
				RequiredPermission string `json:"required_permission"`
				ResourceID         string `json:"resource_id"`
			} `json:"extra"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rawResp.Body).Decode(&envelope))
	assert.Equal(t, model.ErrCodeForbidden, envelope.Error.Code)
	assert.Equal(t, "manage", envelope.Error.Extra.RequiredPermission)
	assert.Equal(t, site.ID.String(), envelope.Error.Extra.ResourceID)
}

func TestCatalogDefaultRead(t *testing.T) {
	admin := adminToken(t)
	s := suffix()

	password := "pw-" + s
	user := createUserViaAPI(t, admin, "reader-"+s, password)
	userToken := login(t, user.Username, password)

	var item model.CatalogItem
	resp := doJSON(t, http.MethodPost, "/v1/catalog/protocol", admin, map[string]string{
		"name": "modbus-" + s,
	}, &item)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Any authenticated user reads the catalog.
	var items []model.CatalogItem
	resp = doJSON(t, http.MethodGet, "/v1/catalog/protocol", userToken, nil, &items)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, items)

	// Mutation is superuser-gated.
	resp = doJSON(t, http.MethodPost, "/v1/catalog/protocol", userToken, map[string]string{
		"name": "blocked-" + s,
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSelfUpdateRules(t *testing.T) {
	admin := adminToken(t)
	s := suffix()

	password := "pw-" + s
	user := createUserViaAPI(t, admin, "selfie-"+s, password)
	userToken := login(t, user.Username, password)

	// Allowed: email.
	var updated model.User
	resp := doJSON(t, http.MethodPatch, fmt.Sprintf("/v1/users/%s", user.ID), userToken, map[string]any{
		"email": "new-" + s + "@example.com",
	}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "new-"+s+"@example.com", updated.Email)

	// Forbidden: is_admin on oneself, regardless of grants.
	resp = doJSON(t, http.MethodPatch, fmt.Sprintf("/v1/users/%s", user.ID), userToken, map[string]any{
		"is_admin": true,
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMembershipOverHTTP(t *testing.T) {
	admin := adminToken(t)
	s := suffix()

	password := "pw-" + s
	user := createUserViaAPI(t, admin, "joiner-"+s, password)

	var group model.Group
	resp := doJSON(t, http.MethodPost, "/v1/groups", admin, map[string]string{"name": "Team-" + s}, &group)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, fmt.Sprintf("/v1/groups/%s/members", group.ID), admin, map[string]any{
		"user_id": user.ID,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var members []model.Member
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("/v1/groups/%s/members", group.ID), admin, nil, &members)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, members, 1)
	assert.Equal(t, user.ID, members[0].UserID)

	// Duplicate membership is a conflict.
	resp = doJSON(t, http.MethodPost, fmt.Sprintf("/v1/groups/%s/members", group.ID), admin, map[string]any{
		"user_id": user.ID,
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Remove and verify.
	resp = doJSON(t, http.MethodDelete,
		fmt.Sprintf("/v1/groups/%s/members/%s", group.ID, user.ID), admin, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("/v1/groups/%s/members", group.ID), admin, nil, &members)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, members)
}

func TestAuditListingAdminOnly(t *testing.T) {
	admin := adminToken(t)
	s := suffix()

	password := "pw-" + s
	user := createUserViaAPI(t, admin, "peon-"+s, password)
	userToken := login(t, user.Username, password)

	resp := doJSON(t, http.MethodGet, "/v1/audit", userToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var out struct {
		Events []model.AuditEvent `json:"events"`
		Total  int                `json:"total"`
	}
	resp = doJSON(t, http.MethodGet, "/v1/audit?kind=granted", admin, nil, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotZero(t, out.Total, "user creation auto-grants leave granted events")
}
