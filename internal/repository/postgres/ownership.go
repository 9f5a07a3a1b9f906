package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
)

// OwnershipRepo implements access.OwnershipReader.
type OwnershipRepo struct{ db *sql.DB }

// NewOwnershipRepo creates a Postgres-backed ownership reader.
func NewOwnershipRepo(db *sql.DB) *OwnershipRepo { return &OwnershipRepo{db: db} }

func (r *OwnershipRepo) Ownership(ctx context.Context, rt domain.ResourceType, id string) (*domain.Ownership, error) {
	// Every id is a uuid; anything else cannot exist.
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	var (
		o   domain.Ownership
		err error
	)
	switch rt {
	case domain.ResourceTargetList:
		err = r.db.QueryRowContext(ctx,
			`SELECT tenant_id, owner_id, shared_with FROM target_lists WHERE id = $1`, id,
		).Scan(&o.TenantID, &o.OwnerID, pq.Array(&o.SharedWith))
	case domain.ResourceCampaign:
		err = r.db.QueryRowContext(ctx,
			`SELECT tenant_id, owner_id FROM campaigns WHERE id = $1`, id,
		).Scan(&o.TenantID, &o.OwnerID)
	case domain.ResourceCampaignEnrollment:
		err = r.db.QueryRowContext(ctx,
			`SELECT tenant_id, owner_id FROM campaign_enrollments WHERE id = $1`, id,
		).Scan(&o.TenantID, &o.OwnerID)
	default:
		return nil, fmt.Errorf("%w: resource type %q", domain.ErrInvalidInput, rt)
	}
	if err != nil {
		return nil, classify(fmt.Sprintf("%s ownership", rt), err)
	}
	return &o, nil
}
