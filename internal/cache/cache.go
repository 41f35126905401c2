// Package cache provides the decision/membership/ancestor cache for the
// ACL engine.
//
// The cache is a pure accelerator: every decision is reproducible without
// it, so backend errors are logged and swallowed — a miss or a failure
// falls through to the grant store. Entries are TTL-bounded; invalidation
// is broad but cheap (delete by key pattern) rather than precise.
//
// Key patterns:
//
//	perm:{user_id}:{resource_type}:{resource_id}:{permission}
//	user_groups:{user_id}
//	ancestors:{resource_type}:{resource_id}
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/model"
)

// Backend is the raw byte-level store behind the cache. Implementations:
// redisBackend (shared, pattern delete via SCAN) and memoryBackend
// (in-process fallback when no cache URL is configured).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int, error)
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Close() error
}

// TTLs configures per-entry-class lifetimes.
type TTLs struct {
	Decision   time.Duration // short: minutes
	Membership time.Duration // medium
	Ancestors  time.Duration // long: hours
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Enabled bool    `json:"enabled"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Cache wraps a Backend with JSON serialization, stats and the ACL key
// schema. A nil backend disables caching; every operation becomes a no-op
// miss.
type Cache struct {
	backend Backend
	ttls    TTLs
	logger  *slog.Logger

	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	errs    atomic.Uint64
}

// New creates a Cache over the given backend. backend may be nil to
// disable caching entirely.
func New(backend Backend, ttls TTLs, logger *slog.Logger) *Cache {
	return &Cache{backend: backend, ttls: ttls, logger: logger}
}

// Enabled reports whether a backend is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.backend != nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.Close()
}

// TTL accessors for callers that serialize their own types.

func (c *Cache) DecisionTTL() time.Duration   { return c.ttls.Decision }
func (c *Cache) MembershipTTL() time.Duration { return c.ttls.Membership }
func (c *Cache) AncestorsTTL() time.Duration  { return c.ttls.Ancestors }

// GetJSON fetches key and unmarshals it into dst. Returns false on miss,
// disabled cache, or any backend/decoding error (errors are logged).
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	if !c.Enabled() {
		return false
	}
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache: get failed", "key", key, "error", err)
		return false
	}
	if !ok {
		c.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache: decode failed", "key", key, "error", err)
		return false
	}
	c.hits.Add(1)
	return true
}

// SetJSON stores v under key with the given TTL. Write failures are logged
// and ignored — the cache is never authoritative.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache: encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache: set failed", "key", key, "error", err)
		return
	}
	c.sets.Add(1)
}

// Delete removes exact keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	n, err := c.backend.Delete(ctx, keys...)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache: delete failed", "keys", keys, "error", err)
		return
	}
	c.deletes.Add(uint64(n))
}

// DeletePattern removes all keys matching a glob pattern, e.g.
// "perm:123:*" or "perm:*:site:456:*".
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if !c.Enabled() {
		return
	}
	n, err := c.backend.DeletePattern(ctx, pattern)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache: delete pattern failed", "pattern", pattern, "error", err)
		return
	}
	c.deletes.Add(uint64(n))
}

// Key builders.

// DecisionKey is the cache key for one (user, resource, permission) decision.
func DecisionKey(userID uuid.UUID, kind model.ResourceKind, id uuid.UUID, perm model.Permission) string {
	return "perm:" + userID.String() + ":" + string(kind) + ":" + id.String() + ":" + string(perm)
}

// UserGroupsKey is the cache key for a user's group memberships.
func UserGroupsKey(userID uuid.UUID) string {
	return "user_groups:" + userID.String()
}

// AncestorsKey is the cache key for a resource's ancestor chain.
func AncestorsKey(kind model.ResourceKind, id uuid.UUID) string {
	return "ancestors:" + string(kind) + ":" + id.String()
}

// Invalidation helpers implementing the coherence protocol.

// InvalidateUser drops every decision cached for the user, and the user's
// membership set. Called on any grant touching the user.
func (c *Cache) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	c.DeletePattern(ctx, "perm:"+userID.String()+":*")
	c.Delete(ctx, UserGroupsKey(userID))
}

// InvalidateAllDecisions drops the entire decision cache. Used when a
// group grant changes: group grants are rare enough that precise
// per-member invalidation is not worth tracking.
func (c *Cache) InvalidateAllDecisions(ctx context.Context) {
	c.DeletePattern(ctx, "perm:*")
}

// InvalidateResource drops decisions and the ancestor chain cached for one
// resource. Called on resource deletion.
func (c *Cache) InvalidateResource(ctx context.Context, kind model.ResourceKind, id uuid.UUID) {
	c.DeletePattern(ctx, "perm:*:"+string(kind)+":"+id.String()+":*")
	c.Delete(ctx, AncestorsKey(kind, id))
}

// Flush drops everything. Exposed for the admin cache endpoint.
func (c *Cache) Flush(ctx context.Context) {
	c.DeletePattern(ctx, "*")
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Enabled: c.Enabled(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errs.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
