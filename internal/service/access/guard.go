// Package access implements the ownership/tenancy guard that authorizes
// every read and write against target lists, campaigns and enrollments.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/outreach-engine/internal/domain"
)

// OwnershipReader returns the owner column (and read grants) of a resource.
// It must return domain.ErrNotFound when the resource does not exist.
type OwnershipReader interface {
	Ownership(ctx context.Context, rt domain.ResourceType, id string) (*domain.Ownership, error)
}

// Guard is stateless apart from its reader and safe for concurrent use.
type Guard struct {
	owners OwnershipReader
}

// NewGuard creates a guard backed by the given ownership reader.
func NewGuard(owners OwnershipReader) *Guard {
	return &Guard{owners: owners}
}

// Authorize returns nil when actor may access the resource in the given
// mode. Cross-tenant access is always denied, even for guessable ids; writes
// require direct ownership; reads also accept a shared-with grant.
func (g *Guard) Authorize(ctx context.Context, actor domain.Actor, rt domain.ResourceType, id string, mode domain.AccessMode) error {
	if !actor.Valid() {
		return fmt.Errorf("%w: missing user or tenant", domain.ErrUnauthorized)
	}
	o, err := g.owners.Ownership(ctx, rt, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%s %s: %w", rt, id, domain.ErrNotFound)
		}
		return fmt.Errorf("load %s ownership: %w", rt, err)
	}
	if o.TenantID != actor.TenantID {
		return fmt.Errorf("%w: %s %s belongs to another tenant", domain.ErrUnauthorized, rt, id)
	}
	if o.OwnerID == actor.UserID {
		return nil
	}
	if mode == domain.AccessRead {
		for _, u := range o.SharedWith {
			if u == actor.UserID {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s access to %s %s", domain.ErrUnauthorized, mode, rt, id)
}

// Allowed is the boolean form of Authorize. Only authorization failures map
// to false; lookup and storage errors are still returned.
func (g *Guard) Allowed(ctx context.Context, actor domain.Actor, rt domain.ResourceType, id string, mode domain.AccessMode) (bool, error) {
	err := g.Authorize(ctx, actor, rt, id, mode)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrUnauthorized):
		return false, nil
	default:
		return false, err
	}
}
