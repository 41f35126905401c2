// Package authz implements the permission evaluation engine.
//
// A decision combines direct grants on a resource, grants inherited from
// its ancestors, group memberships (themselves modelled as member grants),
// the permission strength lattice, deny-wins conflict resolution and
// per-grant field restrictions. The engine is pure with respect to the
// store snapshot: it holds no locks and keeps no mutable state beyond the
// shared cache, so any number of decisions may run concurrently.
package authz

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/hierarchy"
	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/storage"
)

// Store is the slice of the storage layer the engine reads. *storage.DB
// satisfies it; tests substitute an in-memory fixture.
type Store interface {
	ListUserGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListGrantsForGrantees(ctx context.Context, grantees []storage.GranteeRef, resources []storage.ResourceRef, perms []model.Permission) ([]model.Grant, error)
	ListGrantsForResources(ctx context.Context, resources []storage.ResourceRef) ([]model.Grant, error)
	GroupNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	UserNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	ResourceName(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (string, error)
	InsertAuditEvent(ctx context.Context, e model.AuditEvent) error

	// Forest listings for the per-user inheritance tree.
	ListGrantsForUser(ctx context.Context, userID uuid.UUID) ([]model.Grant, error)
	ListGrantsForGroups(ctx context.Context, groupIDs []uuid.UUID) ([]model.Grant, error)
	ListSites(ctx context.Context) ([]model.Site, error)
	ListPlansBySite(ctx context.Context, siteID uuid.UUID) ([]model.Plan, error)
	ListSensorsByPlan(ctx context.Context, planID uuid.UUID) ([]model.Sensor, error)
	ListBrokersByPlan(ctx context.Context, planID uuid.UUID) ([]model.Broker, error)
	ListAlarmsBySensor(ctx context.Context, sensorID uuid.UUID) ([]model.Alarm, error)
	ListAlertsByAlarm(ctx context.Context, alarmID uuid.UUID) ([]model.Alert, error)
}

// Decision is the outcome of a permission check. Nil Fields means the
// operation is unrestricted ("all fields").
type Decision struct {
	Allowed bool     `json:"allowed"`
	Fields  []string `json:"fields,omitempty"`
}

// Engine evaluates permission checks.
type Engine struct {
	store    Store
	resolver *hierarchy.Resolver
	cache    *cache.Cache
	logger   *slog.Logger

	decisions metric.Int64Counter
}

// NewEngine creates an Engine. The cache may be disabled; the engine then
// recomputes every decision from the store.
func NewEngine(store Store, resolver *hierarchy.Resolver, c *cache.Cache, logger *slog.Logger) *Engine {
	e := &Engine{store: store, resolver: resolver, cache: c, logger: logger}

	meter := otel.GetMeterProvider().Meter("acl/authz")
	if counter, err := meter.Int64Counter("acl.decisions",
		metric.WithDescription("Permission decisions by outcome"),
	); err == nil {
		e.decisions = counter
	}
	return e
}

// GroupsOf resolves the user's group memberships, served from the cache
// when possible. Membership is the set of live allow member grants the
// user holds on resources of kind group.
func (e *Engine) GroupsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	key := cache.UserGroupsKey(userID)
	var cached []uuid.UUID
	if e.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	groups, err := e.store.ListUserGroupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Cache an empty slice rather than nil so membership misses are
	// remembered too.
	if groups == nil {
		groups = []uuid.UUID{}
	}
	e.cache.SetJSON(ctx, key, groups, e.cache.MembershipTTL())
	return groups, nil
}

// Check decides whether user may perform perm on (kind, id).
//
// Superusers bypass everything and are never cached. Otherwise the engine
// gathers the user's groups, the resource's ancestor chain and the
// strength closure of perm, fetches the matching live grants in one
// batched query, and applies them deny-first with inheritance gating.
func (e *Engine) Check(ctx context.Context, user model.User, kind model.ResourceKind, id uuid.UUID, perm model.Permission) (Decision, error) {
	if user.IsAdmin {
		return Decision{Allowed: true}, nil
	}

	key := cache.DecisionKey(user.ID, kind, id, perm)
	var cached Decision
	if e.cache.GetJSON(ctx, key, &cached) {
		e.count(ctx, cached.Allowed, true)
		return cached, nil
	}

	d, err := e.evaluate(ctx, user.ID, kind, id, perm)
	if err != nil {
		return Decision{}, err
	}

	e.cache.SetJSON(ctx, key, d, e.cache.DecisionTTL())
	e.count(ctx, d.Allowed, false)
	return d, nil
}

// evaluate runs the gather/apply/finalize pipeline without consulting the
// decision cache.
func (e *Engine) evaluate(ctx context.Context, userID uuid.UUID, kind model.ResourceKind, id uuid.UUID, perm model.Permission) (Decision, error) {
	groups, err := e.GroupsOf(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	ancestors, err := e.resolver.Ancestors(ctx, kind, id)
	if err != nil {
		return Decision{}, err
	}

	grantees := make([]storage.GranteeRef, 0, len(groups)+1)
	grantees = append(grantees, storage.GranteeRef{Type: model.GranteeUser, ID: userID})
	for _, g := range groups {
		grantees = append(grantees, storage.GranteeRef{Type: model.GranteeGroup, ID: g})
	}

	resources := make([]storage.ResourceRef, len(ancestors))
	depths := make(map[storage.ResourceRef]int, len(ancestors))
	for i, a := range ancestors {
		ref := storage.ResourceRef{Kind: a.Kind, ID: a.ID}
		resources[i] = ref
		depths[ref] = a.Depth
	}

	grants, err := e.store.ListGrantsForGrantees(ctx, grantees, resources, StrengthClosure(perm))
	if err != nil {
		return Decision{}, err
	}

	return apply(grants, depths, kind, perm), nil
}

// apply resolves a set of applicable grants into a decision. Deny is
// considered before allow; grants on ancestors with inherit=false are
// ignored; field lists union, with any unrestricted allow collapsing the
// union to "all fields".
func apply(grants []model.Grant, depths map[storage.ResourceRef]int, kind model.ResourceKind, perm model.Permission) Decision {
	applicable := grants[:0:0]
	for _, g := range grants {
		depth := depths[storage.ResourceRef{Kind: g.ResourceType, ID: g.ResourceID}]
		if depth > 0 && !g.Inherit {
			continue
		}
		applicable = append(applicable, g)
	}

	for _, g := range applicable {
		if g.Effect == model.EffectDeny {
			return Decision{Allowed: false}
		}
	}

	var fields map[string]struct{}
	allowed := false
	for _, g := range applicable {
		// Only allow grants remain.
		if g.Fields == nil {
			return Decision{Allowed: true}
		}
		allowed = true
		if fields == nil {
			fields = make(map[string]struct{})
		}
		for _, f := range g.Fields {
			fields[f] = struct{}{}
		}
	}

	if allowed {
		return Decision{Allowed: true, Fields: sortedFields(fields)}
	}

	// Resource defaults: catalog kinds are readable by every
	// authenticated user; their mutations need a superuser, which was
	// already handled by the bypass above.
	if model.IsCatalogKind(kind) && perm == model.PermissionRead {
		return Decision{Allowed: true}
	}

	return Decision{Allowed: false}
}

func sortedFields(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// CheckBulk evaluates an ordered list of checks and returns one decision
// per input, in the same order. Checks run concurrently with a small
// bound; a single failing check fails the batch.
func (e *Engine) CheckBulk(ctx context.Context, user model.User, checks []model.CheckItem) ([]Decision, error) {
	results := make([]Decision, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range checks {
		g.Go(func() error {
			d, err := e.Check(gctx, user, c.ResourceType, c.ResourceID, c.Permission)
			if err != nil {
				return err
			}
			results[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) count(ctx context.Context, allowed, cached bool) {
	if e.decisions == nil {
		return
	}
	e.decisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("allowed", allowed),
			attribute.Bool("cached", cached),
		),
	)
}
