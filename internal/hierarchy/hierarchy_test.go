package hierarchy

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/model"
)

type fakeParents struct {
	links map[model.ResourceKind]map[uuid.UUID]uuid.UUID
	calls int
}

func (f *fakeParents) ParentOf(_ context.Context, kind model.ResourceKind, id uuid.UUID) (uuid.UUID, bool, error) {
	f.calls++
	p, ok := f.links[kind][id]
	return p, ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func disabledCache() *cache.Cache {
	return cache.New(nil, cache.TTLs{}, testLogger())
}

func TestAncestorsFullChain(t *testing.T) {
	site, plan, sensor, alarm, alert := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	parents := &fakeParents{links: map[model.ResourceKind]map[uuid.UUID]uuid.UUID{
		model.KindAlert:  {alert: alarm},
		model.KindAlarm:  {alarm: sensor},
		model.KindSensor: {sensor: plan},
		model.KindPlan:   {plan: site},
	}}
	r := NewResolver(parents, disabledCache())

	chain, err := r.Ancestors(context.Background(), model.KindAlert, alert)
	require.NoError(t, err)
	require.Len(t, chain, 5)

	assert.Equal(t, Node{Kind: model.KindAlert, ID: alert, Depth: 0}, chain[0])
	assert.Equal(t, Node{Kind: model.KindAlarm, ID: alarm, Depth: 1}, chain[1])
	assert.Equal(t, Node{Kind: model.KindSensor, ID: sensor, Depth: 2}, chain[2])
	assert.Equal(t, Node{Kind: model.KindPlan, ID: plan, Depth: 3}, chain[3])
	assert.Equal(t, Node{Kind: model.KindSite, ID: site, Depth: 4}, chain[4])
}

func TestAncestorsBrokerChain(t *testing.T) {
	site, plan, broker := uuid.New(), uuid.New(), uuid.New()
	parents := &fakeParents{links: map[model.ResourceKind]map[uuid.UUID]uuid.UUID{
		model.KindBroker: {broker: plan},
		model.KindPlan:   {plan: site},
	}}
	r := NewResolver(parents, disabledCache())

	chain, err := r.Ancestors(context.Background(), model.KindBroker, broker)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, model.KindPlan, chain[1].Kind)
	assert.Equal(t, model.KindSite, chain[2].Kind)
}

func TestAncestorsStandaloneKinds(t *testing.T) {
	parents := &fakeParents{links: map[model.ResourceKind]map[uuid.UUID]uuid.UUID{}}
	r := NewResolver(parents, disabledCache())

	for _, kind := range []model.ResourceKind{
		model.KindUser, model.KindGroup, model.KindDashboard,
		model.KindHardware, model.KindProtocol,
	} {
		id := uuid.New()
		chain, err := r.Ancestors(context.Background(), kind, id)
		require.NoError(t, err)
		require.Len(t, chain, 1, "%s is standalone", kind)
		assert.Equal(t, Node{Kind: kind, ID: id, Depth: 0}, chain[0])
	}
	assert.Zero(t, parents.calls, "standalone kinds never hit the store")
}

func TestAncestorsTruncatesOnBrokenLink(t *testing.T) {
	plan, sensor := uuid.New(), uuid.New()
	// The plan row is missing its site: the walk stops there, no error.
	parents := &fakeParents{links: map[model.ResourceKind]map[uuid.UUID]uuid.UUID{
		model.KindSensor: {sensor: plan},
	}}
	r := NewResolver(parents, disabledCache())

	chain, err := r.Ancestors(context.Background(), model.KindSensor, sensor)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, model.KindPlan, chain[1].Kind)
}

func TestAncestorsUnknownKind(t *testing.T) {
	r := NewResolver(&fakeParents{}, disabledCache())
	_, err := r.Ancestors(context.Background(), model.ResourceKind("nonsense"), uuid.New())
	assert.Error(t, err)
}

func TestAncestorsCached(t *testing.T) {
	site, plan := uuid.New(), uuid.New()
	parents := &fakeParents{links: map[model.ResourceKind]map[uuid.UUID]uuid.UUID{
		model.KindPlan: {plan: site},
	}}
	c := cache.New(cache.NewMemoryBackend(), cache.TTLs{Ancestors: time.Minute}, testLogger())
	defer func() { _ = c.Close() }()
	r := NewResolver(parents, c)
	ctx := context.Background()

	first, err := r.Ancestors(ctx, model.KindPlan, plan)
	require.NoError(t, err)
	callsAfterFirst := parents.calls

	second, err := r.Ancestors(ctx, model.KindPlan, plan)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, parents.calls, "second resolve must be served from cache")
}

func TestIsHierarchical(t *testing.T) {
	assert.True(t, IsHierarchical(model.KindSite))
	assert.True(t, IsHierarchical(model.KindAlert))
	assert.False(t, IsHierarchical(model.KindGroup))
	assert.False(t, IsHierarchical(model.KindManufacturer))
}
