package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/outreach-engine/internal/domain"
)

// CampaignRepo implements enrollment.CampaignReader against PostgreSQL.
// Campaign CRUD belongs to the dashboard; the engine only reads.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign reader.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var (
		c        domain.Campaign
		settings []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, owner_id, name, settings, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(&c.ID, &c.TenantID, &c.OwnerID, &c.Name, &settings, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, classify("get campaign "+id, err)
	}

	// Fields missing from the stored JSON keep their defaults.
	c.Settings = domain.DefaultSettings()
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &c.Settings); err != nil {
			return nil, fmt.Errorf("decode campaign %s settings: %w", id, err)
		}
	}
	return &c, nil
}
