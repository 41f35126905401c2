package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/storage"
)

// Notification is one grantee's batch of soon-to-expire grants. The
// delivery transport is external; the worker only assembles and hands
// these off.
type Notification struct {
	GranteeType model.GranteeType `json:"grantee_type"`
	GranteeID   uuid.UUID         `json:"grantee_id"`
	GranteeName string            `json:"grantee_name,omitempty"`
	Grants      []ExpiringGrant   `json:"grants"`
}

// ExpiringGrant is one entry of a notification.
type ExpiringGrant struct {
	GrantID         uuid.UUID          `json:"grant_id"`
	ResourceType    model.ResourceKind `json:"resource_type"`
	ResourceID      uuid.UUID          `json:"resource_id"`
	Permission      model.Permission   `json:"permission"`
	ExpiresAt       time.Time          `json:"expires_at"`
	DaysUntilExpiry int                `json:"days_until_expiry"`
}

// Notifier delivers expiry notifications. The default implementation
// logs; production wires a mail or push transport here.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info("expiring grants notification",
		"grantee_type", n.GranteeType,
		"grantee_id", n.GranteeID,
		"grantee_name", n.GranteeName,
		"count", len(n.Grants),
	)
	return nil
}

// Expirer runs the two expiry jobs against the grant store.
type Expirer struct {
	db        *storage.DB
	notifier  Notifier
	logger    *slog.Logger
	lookahead time.Duration
}

// NewExpirer creates an Expirer. lookahead is the notification window.
func NewExpirer(db *storage.DB, notifier Notifier, logger *slog.Logger, lookahead time.Duration) *Expirer {
	return &Expirer{db: db, notifier: notifier, logger: logger, lookahead: lookahead}
}

// Sweep harvests grants whose expiry has passed. Each grant's deletion
// and its expired audit event commit in one transaction; a failure on one
// grant is logged and the sweep continues with the next.
func (e *Expirer) Sweep(ctx context.Context) {
	expired, err := e.db.ListExpired(ctx)
	if err != nil {
		e.logger.Error("worker: list expired grants failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	e.logger.Info("worker: expiring grants", "count", len(expired))

	harvested := 0
	for _, g := range expired {
		if ctx.Err() != nil {
			return
		}

		event := model.AuditEvent{
			Kind: model.AuditExpired,
			Details: map[string]any{
				"grantee_type": string(g.GranteeType),
				"grantee_id":   g.GranteeID.String(),
				"effect":       string(g.Effect),
				"granted_at":   g.GrantedAt.Format(time.RFC3339),
			},
		}
		rt, rid, perm := g.ResourceType, g.ResourceID, g.Permission
		event.ResourceType = &rt
		event.ResourceID = &rid
		event.Permission = &perm
		gid := g.GranteeID
		if g.GranteeType == model.GranteeUser {
			event.TargetUserID = &gid
		} else {
			event.TargetGroupID = &gid
		}
		if g.ExpiresAt != nil {
			event.Details["expired_at"] = g.ExpiresAt.Format(time.RFC3339)
		}

		if err := e.db.DeleteGrantWithAudit(ctx, g.ID, event); err != nil {
			e.logger.Error("worker: expire grant failed", "grant_id", g.ID, "error", err)
			continue
		}
		harvested++
	}

	e.logger.Info("worker: expiry sweep complete", "harvested", harvested)
}

// NotifyExpiring finds grants expiring within the lookahead window, groups
// them by grantee and hands one notification per grantee to the notifier.
func (e *Expirer) NotifyExpiring(ctx context.Context) {
	expiring, err := e.db.ListExpiring(ctx, e.lookahead)
	if err != nil {
		e.logger.Error("worker: list expiring grants failed", "error", err)
		return
	}
	if len(expiring) == 0 {
		return
	}

	now := time.Now().UTC()
	byGrantee := map[granteeKey]*Notification{}
	var order []granteeKey

	for _, g := range expiring {
		k := granteeKey{g.GranteeType, g.GranteeID}
		n, ok := byGrantee[k]
		if !ok {
			n = &Notification{GranteeType: g.GranteeType, GranteeID: g.GranteeID}
			byGrantee[k] = n
			order = append(order, k)
		}
		n.Grants = append(n.Grants, ExpiringGrant{
			GrantID:         g.ID,
			ResourceType:    g.ResourceType,
			ResourceID:      g.ResourceID,
			Permission:      g.Permission,
			ExpiresAt:       *g.ExpiresAt,
			DaysUntilExpiry: int(g.ExpiresAt.Sub(now).Hours() / 24),
		})
	}

	e.resolveGranteeNames(ctx, byGrantee)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, k := range order {
		n := byGrantee[k]
		group.Go(func() error {
			if err := e.notifier.Notify(gctx, *n); err != nil {
				e.logger.Error("worker: notification failed",
					"grantee_id", n.GranteeID, "error", err)
			}
			return nil
		})
	}
	_ = group.Wait()

	e.logger.Info("worker: expiry notifications processed", "grantees", len(byGrantee))
}

// granteeKey groups expiring grants per principal.
type granteeKey struct {
	t  model.GranteeType
	id uuid.UUID
}

// resolveGranteeNames fills display names with two batched lookups. A
// failed lookup leaves names empty; notifications still go out.
func (e *Expirer) resolveGranteeNames(ctx context.Context, byGrantee map[granteeKey]*Notification) {
	var userIDs, groupIDs []uuid.UUID
	for k := range byGrantee {
		if k.t == model.GranteeUser {
			userIDs = append(userIDs, k.id)
		} else {
			groupIDs = append(groupIDs, k.id)
		}
	}

	userNames, err := e.db.UserNames(ctx, userIDs)
	if err != nil {
		e.logger.Warn("worker: resolve user names failed", "error", err)
		userNames = map[uuid.UUID]string{}
	}
	groupNames, err := e.db.GroupNames(ctx, groupIDs)
	if err != nil {
		e.logger.Warn("worker: resolve group names failed", "error", err)
		groupNames = map[uuid.UUID]string{}
	}

	for k, n := range byGrantee {
		if k.t == model.GranteeUser {
			n.GranteeName = userNames[k.id]
		} else {
			n.GranteeName = groupNames[k.id]
		}
	}
}
