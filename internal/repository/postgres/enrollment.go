package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/enrollment"
)

// EnrollmentRepo implements enrollment.Repository against PostgreSQL.
type EnrollmentRepo struct{ db *sql.DB }

// NewEnrollmentRepo creates a Postgres-backed enrollment repository.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

// Enroll copies the list inside one transaction. The target list row is
// locked FOR UPDATE first, which serializes concurrent enrollments (and
// deletes) of the same list, so the duplicate check and the counter
// increment cannot race.
func (r *EnrollmentRepo) Enroll(ctx context.Context, p enrollment.EnrollParams) (*domain.CampaignEnrollment, error) {
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	var out *domain.CampaignEnrollment
	err = withTx(ctx, r.db, "enroll", func(tx *sql.Tx) error {
		if existing, err := getEnrollment(ctx, tx, p.EnrollmentID); err == nil {
			out = existing
			return nil
		}

		var listID string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM target_lists WHERE id = $1 FOR UPDATE`, p.TargetListID,
		).Scan(&listID); err != nil {
			return classify("lock target list "+p.TargetListID, err)
		}

		if p.RejectDuplicate {
			var dup string
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM campaign_enrollments
				WHERE campaign_id = $1 AND target_list_id = $2 AND status IN ('active', 'paused')
				LIMIT 1
			`, p.CampaignID, p.TargetListID).Scan(&dup)
			if err == nil {
				return fmt.Errorf("enrollment %s: %w", dup, domain.ErrDuplicateEnrollment)
			}
			if err != sql.ErrNoRows {
				return classify("check duplicate enrollment", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_enrollments
				(id, tenant_id, owner_id, campaign_id, target_list_id, status,
				 profile_count, settings, enrolled_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'active', 0, $6, $7, $7)
		`, p.EnrollmentID, p.TenantID, p.OwnerID, p.CampaignID, p.TargetListID, settings, p.At); err != nil {
			return classify("insert enrollment", err)
		}

		// Source-only bookkeeping (id, list_id, external_id, last_synced_at)
		// is not copied.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO enrollment_profiles
				(id, enrollment_id, campaign_id, tenant_id, `+factColumns+`, snapshot_at)
			SELECT gen_random_uuid(), $1, $2, $3, `+factColumns+`, $4
			FROM target_profiles
			WHERE list_id = $5
			ORDER BY id
		`, p.EnrollmentID, p.CampaignID, p.TenantID, p.At, p.TargetListID)
		if err != nil {
			return classify("copy profiles", err)
		}
		copied, err := res.RowsAffected()
		if err != nil {
			return classify("copy profiles", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sequence_operation_records
				(enrollment_profile_id, enrollment_id, campaign_id, tenant_id,
				 email_status, response_status, sequence_step, lifecycle, version,
				 created_at, updated_at)
			SELECT id, enrollment_id, campaign_id, tenant_id,
			       'pending', 'none', 1, 'active', 1, $2, $2
			FROM enrollment_profiles
			WHERE enrollment_id = $1
		`, p.EnrollmentID, p.At); err != nil {
			return classify("create sequence records", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE campaign_enrollments SET profile_count = $2 WHERE id = $1`,
			p.EnrollmentID, copied); err != nil {
			return classify("set profile count", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE target_lists
			SET campaign_count = campaign_count + 1, used_in_campaigns = TRUE, updated_at = $2
			WHERE id = $1
		`, p.TargetListID, p.At); err != nil {
			return classify("bump list usage", err)
		}

		out = &domain.CampaignEnrollment{
			ID:           p.EnrollmentID,
			TenantID:     p.TenantID,
			OwnerID:      p.OwnerID,
			CampaignID:   p.CampaignID,
			TargetListID: p.TargetListID,
			Status:       domain.EnrollmentActive,
			ProfileCount: int(copied),
			Settings:     p.Settings,
			EnrolledAt:   p.At,
			UpdatedAt:    p.At,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *EnrollmentRepo) GetEnrollment(ctx context.Context, id string) (*domain.CampaignEnrollment, error) {
	return getEnrollment(ctx, r.db, id)
}

func (r *EnrollmentRepo) ListEnrollments(ctx context.Context, campaignID string) ([]domain.CampaignEnrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM campaign_enrollments
		WHERE campaign_id = $1
		ORDER BY enrolled_at DESC, id
	`, campaignID)
	if err != nil {
		return nil, classify("list enrollments", err)
	}
	defer rows.Close()

	out := []domain.CampaignEnrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, classify("list enrollments", rows.Err())
}

func (r *EnrollmentRepo) SetEnrollmentStatus(ctx context.Context, id string, from []domain.EnrollmentStatus, to domain.EnrollmentStatus, at time.Time) (*domain.CampaignEnrollment, error) {
	allowed := make([]string, len(from))
	for i, f := range from {
		allowed[i] = string(f)
	}
	e, err := scanEnrollment(r.db.QueryRowContext(ctx, `
		UPDATE campaign_enrollments
		SET status = $2,
		    updated_at = $3,
		    completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+enrollmentColumns,
		id, string(to), at, pq.Array(allowed)))
	if err == nil {
		return e, nil
	}
	if err != sql.ErrNoRows {
		return nil, classify("set enrollment status", err)
	}

	cur, err := getEnrollment(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("enrollment %s is %s, cannot become %s: %w", id, cur.Status, to, domain.ErrInvalidTransition)
}

func (r *EnrollmentRepo) ListProfiles(ctx context.Context, enrollmentID string) ([]domain.EnrollmentProfile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+enrollmentProfileColumns+`
		FROM enrollment_profiles
		WHERE enrollment_id = $1
		ORDER BY id
	`, enrollmentID)
	if err != nil {
		return nil, classify("list enrollment profiles", err)
	}
	defer rows.Close()

	out := []domain.EnrollmentProfile{}
	for rows.Next() {
		p, err := scanEnrollmentProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment profile: %w", err)
		}
		out = append(out, *p)
	}
	return out, classify("list enrollment profiles", rows.Err())
}

const enrollmentProfileColumns = `id, enrollment_id, campaign_id, tenant_id, ` + factColumns + `, snapshot_at`

func scanEnrollmentProfile(row rowScanner) (*domain.EnrollmentProfile, error) {
	var (
		p   domain.EnrollmentProfile
		raw []byte
	)
	dests := append([]interface{}{&p.ID, &p.EnrollmentID, &p.CampaignID, &p.TenantID},
		factDests(&p.ProfileFacts, &raw)...)
	dests = append(dests, &p.SnapshotAt)
	if err := row.Scan(dests...); err != nil {
		return nil, err
	}
	if err := decodeEnrichment(raw, &p.ProfileFacts); err != nil {
		return nil, fmt.Errorf("decode enrichment of %s: %w", p.ID, err)
	}
	return &p, nil
}

func getEnrollmentProfile(ctx context.Context, q queryer, id string) (*domain.EnrollmentProfile, error) {
	p, err := scanEnrollmentProfile(q.QueryRowContext(ctx,
		`SELECT `+enrollmentProfileColumns+` FROM enrollment_profiles WHERE id = $1`, id))
	if err != nil {
		return nil, classify("get enrollment profile "+id, err)
	}
	return p, nil
}

func (r *EnrollmentRepo) GetTargetList(ctx context.Context, id string) (*domain.TargetList, error) {
	var l domain.TargetList
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, owner_id, name, type, visibility, shared_with,
		       source_list_id, used_in_campaigns, campaign_count, created_at, updated_at
		FROM target_lists
		WHERE id = $1
	`, id).Scan(&l.ID, &l.TenantID, &l.OwnerID, &l.Name, &l.Type, &l.Visibility, pq.Array(&l.SharedWith),
		&l.SourceListID, &l.UsedInCampaigns, &l.CampaignCount, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, classify("get target list "+id, err)
	}
	return &l, nil
}

func (r *EnrollmentRepo) ActiveEnrollmentsForList(ctx context.Context, listID string) ([]string, error) {
	return activeEnrollmentsForList(ctx, r.db, listID)
}

func activeEnrollmentsForList(ctx context.Context, q queryer, listID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM campaign_enrollments
		WHERE target_list_id = $1 AND status = 'active'
		ORDER BY id
	`, listID)
	if err != nil {
		return nil, classify("active enrollments for list", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan enrollment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, classify("active enrollments for list", rows.Err())
}

// DeleteTargetList takes the same row lock as Enroll, so a delete can never
// slip in between an enrollment's guard check and its commit.
func (r *EnrollmentRepo) DeleteTargetList(ctx context.Context, listID string) error {
	return withTx(ctx, r.db, "delete target list", func(tx *sql.Tx) error {
		var used bool
		if err := tx.QueryRowContext(ctx,
			`SELECT used_in_campaigns FROM target_lists WHERE id = $1 FOR UPDATE`, listID,
		).Scan(&used); err != nil {
			return classify("lock target list "+listID, err)
		}
		if used {
			active, err := activeEnrollmentsForList(ctx, tx, listID)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				return &domain.ListInUseError{ListID: listID, ActiveEnrollments: active}
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM target_lists WHERE id = $1`, listID); err != nil {
			return classify("delete target list", err)
		}
		return nil
	})
}
