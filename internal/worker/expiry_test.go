package worker_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/storage"
	"github.com/Preservarium/acl-poc/internal/testutil"
	"github.com/Preservarium/acl-poc/internal/worker"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// captureNotifier records notifications for assertions.
type captureNotifier struct {
	mu            sync.Mutex
	notifications []worker.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n worker.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, n)
	return nil
}

func suffix() string {
	return uuid.New().String()[:8]
}

func seedUserAndSite(t *testing.T, name string) (model.User, model.Site) {
	t.Helper()
	ctx := context.Background()
	u, err := testDB.CreateUser(ctx, model.User{
		Username: name, Email: name + "@example.com", PasswordHash: "x",
	})
	require.NoError(t, err)
	s, err := testDB.CreateSite(ctx, model.Site{Name: name + "-site"})
	require.NoError(t, err)
	return u, s
}

func grantWithExpiry(t *testing.T, user model.User, site model.Site, perm model.Permission, at *time.Time) model.Grant {
	t.Helper()
	g, err := testDB.CreateGrant(context.Background(), model.Grant{
		GranteeType:  model.GranteeUser,
		GranteeID:    user.ID,
		ResourceType: model.KindSite,
		ResourceID:   site.ID,
		Permission:   perm,
		Effect:       model.EffectAllow,
		Inherit:      true,
		ExpiresAt:    at,
	})
	require.NoError(t, err)
	return g
}

func TestSweepHarvestsExpiredGrants(t *testing.T) {
	ctx := context.Background()
	user, site := seedUserAndSite(t, "sweep-"+suffix())

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	expired := grantWithExpiry(t, user, site, model.PermissionRead, &past)
	kept := grantWithExpiry(t, user, site, model.PermissionWrite, &future)

	e := worker.NewExpirer(testDB, &captureNotifier{}, testutil.TestLogger(), 7*24*time.Hour)
	e.Sweep(ctx)

	_, err := testDB.GetGrant(ctx, expired.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "the expired row is harvested")

	_, err = testDB.GetGrant(ctx, kept.ID)
	assert.NoError(t, err, "the live row survives")

	events, _, err := testDB.ListAuditEvents(ctx, model.AuditFilter{
		Kind: model.AuditExpired, UserID: &user.ID,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].ActorID, "expiration is a system action")
	assert.Equal(t, "read", string(*events[0].Permission))
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	user, site := seedUserAndSite(t, "idem-"+suffix())

	past := time.Now().UTC().Add(-time.Minute)
	grantWithExpiry(t, user, site, model.PermissionRead, &past)

	e := worker.NewExpirer(testDB, &captureNotifier{}, testutil.TestLogger(), 7*24*time.Hour)
	e.Sweep(ctx)
	e.Sweep(ctx)

	events, _, err := testDB.ListAuditEvents(ctx, model.AuditFilter{
		Kind: model.AuditExpired, UserID: &user.ID,
	})
	require.NoError(t, err)
	assert.Len(t, events, 1, "a second sweep finds nothing to expire")
}

func TestNotifyExpiringGroupsByGrantee(t *testing.T) {
	ctx := context.Background()
	u1, s1 := seedUserAndSite(t, "notif1-"+suffix())
	u2, s2 := seedUserAndSite(t, "notif2-"+suffix())

	soon := time.Now().UTC().Add(24 * time.Hour)
	alsoSoon := time.Now().UTC().Add(48 * time.Hour)
	farOut := time.Now().UTC().Add(60 * 24 * time.Hour)

	grantWithExpiry(t, u1, s1, model.PermissionRead, &soon)
	grantWithExpiry(t, u1, s1, model.PermissionWrite, &alsoSoon)
	grantWithExpiry(t, u2, s2, model.PermissionRead, &soon)
	grantWithExpiry(t, u2, s2, model.PermissionWrite, &farOut)

	capture := &captureNotifier{}
	e := worker.NewExpirer(testDB, capture, testutil.TestLogger(), 7*24*time.Hour)
	e.NotifyExpiring(ctx)

	byGrantee := map[uuid.UUID]worker.Notification{}
	for _, n := range capture.notifications {
		byGrantee[n.GranteeID] = n
	}

	n1, ok := byGrantee[u1.ID]
	require.True(t, ok)
	assert.Len(t, n1.Grants, 2)
	assert.Equal(t, u1.Username, n1.GranteeName)

	n2, ok := byGrantee[u2.ID]
	require.True(t, ok)
	assert.Len(t, n2.Grants, 1, "grants outside the lookahead are excluded")
	assert.LessOrEqual(t, n2.Grants[0].DaysUntilExpiry, 7)
}
