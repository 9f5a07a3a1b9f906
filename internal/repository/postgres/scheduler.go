package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
)

// SchedulerRepo implements scheduler.Repository and the dispatcher's
// enrollment listing against PostgreSQL.
type SchedulerRepo struct{ db *sql.DB }

// NewSchedulerRepo creates a Postgres-backed scheduler repository.
func NewSchedulerRepo(db *sql.DB) *SchedulerRepo { return &SchedulerRepo{db: db} }

func (r *SchedulerRepo) GetEnrollment(ctx context.Context, id string) (*domain.CampaignEnrollment, error) {
	return getEnrollment(ctx, r.db, id)
}

// GetEnrollmentProfile loads the snapshot the dispatcher renders from.
func (r *SchedulerRepo) GetEnrollmentProfile(ctx context.Context, id string) (*domain.EnrollmentProfile, error) {
	return getEnrollmentProfile(ctx, r.db, id)
}

// DueCandidates returns the active records of an enrollment whose next
// contact is unset or not after asOf, never-contacted records first.
func (r *SchedulerRepo) DueCandidates(ctx context.Context, enrollmentID string, asOf time.Time) ([]scheduler.Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT enrollment_profile_id, next_scheduled_contact
		FROM sequence_operation_records
		WHERE enrollment_id = $1
		  AND lifecycle = 'active'
		  AND (next_scheduled_contact IS NULL OR next_scheduled_contact <= $2)
		ORDER BY next_scheduled_contact NULLS FIRST, enrollment_profile_id
	`, enrollmentID, asOf)
	if err != nil {
		return nil, classify("due candidates", err)
	}
	defer rows.Close()

	var out []scheduler.Candidate
	for rows.Next() {
		var c scheduler.Candidate
		if err := rows.Scan(&c.ProfileID, &c.NextScheduledContact); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, classify("due candidates", rows.Err())
}

// CountSends counts accepted sent events for a campaign in [from, to).
func (r *SchedulerRepo) CountSends(ctx context.Context, campaignID string, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sequence_events
		WHERE campaign_id = $1 AND kind = 'sent' AND occurred_at >= $2 AND occurred_at < $3
	`, campaignID, from, to).Scan(&n)
	if err != nil {
		return 0, classify("count sends", err)
	}
	return n, nil
}

// ActiveEnrollments lists the ids of every active enrollment.
func (r *SchedulerRepo) ActiveEnrollments(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM campaign_enrollments WHERE status = 'active' ORDER BY enrolled_at, id`)
	if err != nil {
		return nil, classify("active enrollments", err)
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
	return ids, classify("active enrollments", rows.Err())
}
