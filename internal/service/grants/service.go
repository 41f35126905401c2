// Package grants implements the grant lifecycle: issue, revoke and the
// system auto-grants, each paired with its audit event in one transaction
// and followed by the cache invalidations that keep decisions coherent.
package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/storage"
)

// ErrNotFound is returned when the grantee, resource or grant is missing.
var ErrNotFound = errors.New("grants: not found")

// ErrConflict is returned on a duplicate live grant or a member-add for
// an existing member.
var ErrConflict = errors.New("grants: conflict")

// ErrBadRequest is returned for structurally illegal grants: unknown
// kinds or permissions, a field list on a permission that ignores it, or
// an expiry already in the past.
var ErrBadRequest = errors.New("grants: bad request")

// Service owns grant mutations. Reads go straight to the store; every
// mutation passes through here so audit and invalidation cannot be
// skipped.
type Service struct {
	db     *storage.DB
	cache  *cache.Cache
	logger *slog.Logger
}

// New creates a Service.
func New(db *storage.DB, c *cache.Cache, logger *slog.Logger) *Service {
	return &Service{db: db, cache: c, logger: logger}
}

// Issue validates and persists a grant on behalf of actor, appends the
// granted audit event in the same transaction, and invalidates the
// affected cache entries.
//
// actorID is nil for system-issued grants (bootstrap, auto-grants).
func (s *Service) Issue(ctx context.Context, g model.Grant, actorID *uuid.UUID) (model.Grant, error) {
	now := time.Now().UTC()
	if err := model.ValidateGrant(g, now); err != nil {
		return model.Grant{}, fmt.Errorf("%w: %s", ErrBadRequest, err)
	}

	if err := s.checkExists(ctx, g); err != nil {
		return model.Grant{}, err
	}

	g.GrantedBy = actorID
	g.GrantedAt = now

	event := auditEvent(model.AuditGranted, g, actorID)
	event.Details["effect"] = string(g.Effect)
	event.Details["inherit"] = g.Inherit
	if g.Fields != nil {
		event.Details["fields"] = g.Fields
	}
	if g.ExpiresAt != nil {
		event.Details["expires_at"] = g.ExpiresAt.Format(time.RFC3339)
	}

	created, err := s.db.CreateGrantWithAudit(ctx, g, event)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return model.Grant{}, fmt.Errorf("%w: grant already exists", ErrConflict)
		}
		return model.Grant{}, err
	}

	s.invalidate(ctx, created)
	return created, nil
}

// Revoke deletes a grant by id on behalf of actor, appending the revoked
// audit event in the same transaction, then invalidates symmetrically to
// Issue.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (model.Grant, error) {
	g, err := s.db.GetGrant(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Grant{}, fmt.Errorf("%w: grant %s", ErrNotFound, id)
		}
		return model.Grant{}, err
	}

	event := auditEvent(model.AuditRevoked, g, actorID)
	event.Details["grantee_type"] = string(g.GranteeType)

	if err := s.db.DeleteGrantWithAudit(ctx, id, event); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Grant{}, fmt.Errorf("%w: grant %s", ErrNotFound, id)
		}
		return model.Grant{}, err
	}

	s.invalidate(ctx, g)
	return g, nil
}

// AutoGrantManage issues the creator grant: manage/allow/inherit=true on
// a freshly created resource. System-issued; revocable like any other.
func (s *Service) AutoGrantManage(ctx context.Context, creatorID uuid.UUID, kind model.ResourceKind, id uuid.UUID) (model.Grant, error) {
	return s.Issue(ctx, model.Grant{
		GranteeType:  model.GranteeUser,
		GranteeID:    creatorID,
		ResourceType: kind,
		ResourceID:   id,
		Permission:   model.PermissionManage,
		Effect:       model.EffectAllow,
		Inherit:      true,
	}, nil)
}

// AutoGrantMember is the membership convenience form: a member/allow
// grant with inherit=false on the group. Adding an existing member is a
// conflict.
func (s *Service) AutoGrantMember(ctx context.Context, userID, groupID uuid.UUID, actorID *uuid.UUID, expiresAt *time.Time) (model.Grant, error) {
	return s.Issue(ctx, model.Grant{
		GranteeType:  model.GranteeUser,
		GranteeID:    userID,
		ResourceType: model.KindGroup,
		ResourceID:   groupID,
		Permission:   model.PermissionMember,
		Effect:       model.EffectAllow,
		Inherit:      false,
		ExpiresAt:    expiresAt,
	}, actorID)
}

// checkExists verifies grantee and resource existence before issuing.
func (s *Service) checkExists(ctx context.Context, g model.Grant) error {
	switch g.GranteeType {
	case model.GranteeUser:
		ok, err := s.db.UserExists(ctx, g.GranteeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %s", ErrNotFound, g.GranteeID)
		}
	case model.GranteeGroup:
		ok, err := s.db.GroupExists(ctx, g.GranteeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: group %s", ErrNotFound, g.GranteeID)
		}
	}

	ok, err := s.db.ResourceExists(ctx, g.ResourceType, g.ResourceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, g.ResourceType, g.ResourceID)
	}
	return nil
}

// invalidate applies the coherence protocol for one mutated grant.
//
// User grantee: drop that user's decisions and their membership set,
// whatever the permission. Group grantee: drop the decision cache
// entirely — group grants are rare and precise per-member invalidation is
// not worth the tracking.
func (s *Service) invalidate(ctx context.Context, g model.Grant) {
	switch g.GranteeType {
	case model.GranteeUser:
		s.cache.InvalidateUser(ctx, g.GranteeID)
	case model.GranteeGroup:
		s.cache.InvalidateAllDecisions(ctx)
	}
}

// InvalidateResource drops the resource's cached ancestor chain and every
// decision cached for it.
func (s *Service) InvalidateResource(ctx context.Context, kind model.ResourceKind, id uuid.UUID) {
	s.cache.InvalidateResource(ctx, kind, id)
}

func auditEvent(kind model.AuditKind, g model.Grant, actorID *uuid.UUID) model.AuditEvent {
	e := model.AuditEvent{
		Kind:    kind,
		ActorID: actorID,
		Details: map[string]any{},
	}
	rt, rid, perm := g.ResourceType, g.ResourceID, g.Permission
	e.ResourceType = &rt
	e.ResourceID = &rid
	e.Permission = &perm

	gid := g.GranteeID
	switch g.GranteeType {
	case model.GranteeUser:
		e.TargetUserID = &gid
	case model.GranteeGroup:
		e.TargetGroupID = &gid
	}
	return e
}
