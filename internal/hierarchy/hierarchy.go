// Package hierarchy resolves a resource to its ancestor chain.
//
// The parent map is static:
//
//	alert → alarm → sensor → plan → site
//	broker → plan → site
//
// Standalone kinds (user, group, dashboard, catalog kinds) have no parent
// and resolve to just themselves. The walk reads parent foreign keys
// through a ParentLookup; a missing row or null FK truncates the chain at
// that depth — that is normal during concurrent deletes, not an error.
package hierarchy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/model"
)

// parentKind is the static parent map. Absent kinds are standalone.
var parentKind = map[model.ResourceKind]model.ResourceKind{
	model.KindAlert:  model.KindAlarm,
	model.KindAlarm:  model.KindSensor,
	model.KindSensor: model.KindPlan,
	model.KindBroker: model.KindPlan,
	model.KindPlan:   model.KindSite,
}

// Node is one entry of an ancestor chain. Depth 0 is the queried resource;
// depth increases toward the root.
type Node struct {
	Kind  model.ResourceKind `json:"kind"`
	ID    uuid.UUID          `json:"id"`
	Depth int                `json:"depth"`
}

// ParentLookup reads the parent FK of a hierarchical resource. ok is false
// when there is no parent to walk to (standalone kind, missing row, null
// FK). Satisfied by *storage.DB.
type ParentLookup interface {
	ParentOf(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (uuid.UUID, bool, error)
}

// IsHierarchical reports whether kind participates in the ancestor chain.
func IsHierarchical(kind model.ResourceKind) bool {
	_, ok := parentKind[kind]
	return ok || kind == model.KindSite
}

// ParentKindOf returns the static parent kind, if any.
func ParentKindOf(kind model.ResourceKind) (model.ResourceKind, bool) {
	p, ok := parentKind[kind]
	return p, ok
}

// Resolver walks ancestor chains, memoizing them in the cache under
// ancestors:{kind}:{id}.
type Resolver struct {
	parents ParentLookup
	cache   *cache.Cache
}

// NewResolver creates a Resolver. c may be a disabled cache.
func NewResolver(parents ParentLookup, c *cache.Cache) *Resolver {
	return &Resolver{parents: parents, cache: c}
}

// Ancestors returns the chain for (kind, id), closest first, including the
// resource itself at depth 0. Unknown kinds are an error; a broken FK link
// mid-chain is not.
func (r *Resolver) Ancestors(ctx context.Context, kind model.ResourceKind, id uuid.UUID) ([]Node, error) {
	if !model.ValidResourceKind(kind) {
		return nil, fmt.Errorf("hierarchy: unknown resource kind %q", kind)
	}

	key := cache.AncestorsKey(kind, id)
	var cached []Node
	if r.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	chain := []Node{{Kind: kind, ID: id, Depth: 0}}
	currentKind, currentID := kind, id
	for depth := 1; ; depth++ {
		nextKind, ok := parentKind[currentKind]
		if !ok {
			break
		}
		parentID, found, err := r.parents.ParentOf(ctx, currentKind, currentID)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		chain = append(chain, Node{Kind: nextKind, ID: parentID, Depth: depth})
		currentKind, currentID = nextKind, parentID
	}

	r.cache.SetJSON(ctx, key, chain, r.cache.AncestorsTTL())
	return chain, nil
}
