package cache

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Preservarium/acl-poc/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func memoryCache(t *testing.T) *Cache {
	t.Helper()
	c := New(NewMemoryBackend(), TTLs{
		Decision:   time.Minute,
		Membership: time.Minute,
		Ancestors:  time.Minute,
	}, testLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDisabledCacheIsNoop(t *testing.T) {
	c := New(nil, TTLs{}, testLogger())
	ctx := context.Background()

	assert.False(t, c.Enabled())
	c.SetJSON(ctx, "k", "v", time.Minute)

	var out string
	assert.False(t, c.GetJSON(ctx, "k", &out))
	assert.NoError(t, c.Close())
}

func TestSetGetRoundTrip(t *testing.T) {
	c := memoryCache(t)
	ctx := context.Background()

	type payload struct {
		Allowed bool     `json:"allowed"`
		Fields  []string `json:"fields,omitempty"`
	}
	in := payload{Allowed: true, Fields: []string{"a", "b"}}
	c.SetJSON(ctx, "perm:x", in, c.DecisionTTL())

	var out payload
	require.True(t, c.GetJSON(ctx, "perm:x", &out))
	assert.Equal(t, in, out)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Sets)
}

func TestEntryExpires(t *testing.T) {
	c := New(NewMemoryBackend(), TTLs{}, testLogger())
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	c.SetJSON(ctx, "short", 1, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	var out int
	assert.False(t, c.GetJSON(ctx, "short", &out))
}

func TestInvalidateUser(t *testing.T) {
	c := memoryCache(t)
	ctx := context.Background()
	user, other := uuid.New(), uuid.New()
	res := uuid.New()

	c.SetJSON(ctx, DecisionKey(user, model.KindSite, res, model.PermissionRead), true, time.Minute)
	c.SetJSON(ctx, DecisionKey(other, model.KindSite, res, model.PermissionRead), true, time.Minute)
	c.SetJSON(ctx, UserGroupsKey(user), []string{"g"}, time.Minute)

	c.InvalidateUser(ctx, user)

	var out any
	assert.False(t, c.GetJSON(ctx, DecisionKey(user, model.KindSite, res, model.PermissionRead), &out))
	assert.False(t, c.GetJSON(ctx, UserGroupsKey(user), &out))
	assert.True(t, c.GetJSON(ctx, DecisionKey(other, model.KindSite, res, model.PermissionRead), &out),
		"other users' decisions survive")
}

func TestInvalidateAllDecisions(t *testing.T) {
	c := memoryCache(t)
	ctx := context.Background()
	u1, u2, res := uuid.New(), uuid.New(), uuid.New()

	c.SetJSON(ctx, DecisionKey(u1, model.KindPlan, res, model.PermissionWrite), true, time.Minute)
	c.SetJSON(ctx, DecisionKey(u2, model.KindPlan, res, model.PermissionRead), false, time.Minute)
	c.SetJSON(ctx, UserGroupsKey(u1), []string{"g"}, time.Minute)

	c.InvalidateAllDecisions(ctx)

	var out any
	assert.False(t, c.GetJSON(ctx, DecisionKey(u1, model.KindPlan, res, model.PermissionWrite), &out))
	assert.False(t, c.GetJSON(ctx, DecisionKey(u2, model.KindPlan, res, model.PermissionRead), &out))
	assert.True(t, c.GetJSON(ctx, UserGroupsKey(u1), &out), "memberships survive a decision flush")
}

func TestInvalidateResource(t *testing.T) {
	c := memoryCache(t)
	ctx := context.Background()
	u, res, other := uuid.New(), uuid.New(), uuid.New()

	c.SetJSON(ctx, DecisionKey(u, model.KindSensor, res, model.PermissionRead), true, time.Minute)
	c.SetJSON(ctx, DecisionKey(u, model.KindSensor, other, model.PermissionRead), true, time.Minute)
	c.SetJSON(ctx, AncestorsKey(model.KindSensor, res), []string{"x"}, time.Minute)

	c.InvalidateResource(ctx, model.KindSensor, res)

	var out any
	assert.False(t, c.GetJSON(ctx, DecisionKey(u, model.KindSensor, res, model.PermissionRead), &out))
	assert.False(t, c.GetJSON(ctx, AncestorsKey(model.KindSensor, res), &out))
	assert.True(t, c.GetJSON(ctx, DecisionKey(u, model.KindSensor, other, model.PermissionRead), &out))
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"perm:abc:*", "perm:abc:site:1:read", true},
		{"perm:abc:*", "perm:abd:site:1:read", false},
		{"perm:*", "perm:abc:site:1:read", true},
		{"perm:*", "user_groups:abc", false},
		{"perm:*:site:1:*", "perm:u:site:1:read", true},
		{"perm:*:site:1:*", "perm:u:plan:1:read", false},
		{"*", "anything", true},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPattern(tt.pattern, tt.key), "%s vs %s", tt.pattern, tt.key)
	}
}
