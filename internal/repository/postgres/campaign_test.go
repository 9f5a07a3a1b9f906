package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
)

const (
	campaignUUID = "7d1c9d1e-5a4f-4e36-9a55-1f0c2b9d8e01"
	listUUID     = "0b7f3e2a-8c61-4d0e-b8a4-5f6e7d8c9a02"
)

func TestCampaignRepoGetCampaignKeepsDefaults(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Date(2026, 10, 13, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).
		WithArgs(campaignUUID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "owner_id", "name", "settings", "created_at", "updated_at"}).
			AddRow(campaignUUID, "t1", "alice", "Q4 push", []byte(`{"timezone":"America/Los_Angeles","daily_send_limit":50}`), now, now))

	c, err := NewCampaignRepo(db).GetCampaign(context.Background(), campaignUUID)
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", c.Settings.Timezone)
	assert.Equal(t, 50, c.Settings.DailySendLimit)
	assert.Equal(t, "09:00", c.Settings.SendingStartTime, "missing keys keep defaults")
	assert.Len(t, c.Settings.SendingDays, 5)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepoGetCampaignNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewCampaignRepo(db).GetCampaign(context.Background(), campaignUUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOwnershipRepo(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewOwnershipRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT tenant_id, owner_id, shared_with FROM target_lists WHERE id = \$1`).
		WithArgs(listUUID).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "owner_id", "shared_with"}).
			AddRow("t1", "alice", "{bob,carol}"))
	o, err := repo.Ownership(ctx, domain.ResourceTargetList, listUUID)
	require.NoError(t, err)
	assert.Equal(t, "alice", o.OwnerID)
	assert.Equal(t, []string{"bob", "carol"}, o.SharedWith)

	mock.ExpectQuery(`SELECT tenant_id, owner_id FROM campaigns WHERE id = \$1`).
		WithArgs(campaignUUID).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "owner_id"}))
	_, err = repo.Ownership(ctx, domain.ResourceCampaign, campaignUUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// malformed ids never reach the database
	_, err = repo.Ownership(ctx, domain.ResourceCampaign, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Ownership(ctx, domain.ResourceType("widget"), campaignUUID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.NoError(t, mock.ExpectationsWereMet())
}
