package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
)

// SequenceRepo implements sequence.Repository against PostgreSQL.
type SequenceRepo struct{ db *sql.DB }

// NewSequenceRepo creates a Postgres-backed sequence repository.
func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

const recordColumns = `enrollment_profile_id, enrollment_id, campaign_id, tenant_id,
	email_status, response_status, open_count, click_count, reply_count,
	sequence_step, next_scheduled_contact, last_contacted_at, lifecycle,
	paused_at, pause_reason, unsubscribed_at, completed_at, notes, tags,
	version, created_at, updated_at`

func (r *SequenceRepo) GetRecord(ctx context.Context, profileID string) (*domain.SequenceOperationRecord, error) {
	var rec domain.SequenceOperationRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM sequence_operation_records WHERE enrollment_profile_id = $1`, profileID,
	).Scan(&rec.EnrollmentProfileID, &rec.EnrollmentID, &rec.CampaignID, &rec.TenantID,
		&rec.EmailStatus, &rec.ResponseStatus, &rec.OpenCount, &rec.ClickCount, &rec.ReplyCount,
		&rec.SequenceStep, &rec.NextScheduledContact, &rec.LastContactedAt, &rec.Lifecycle,
		&rec.PausedAt, &rec.PauseReason, &rec.UnsubscribedAt, &rec.CompletedAt, &rec.Notes, pq.Array(&rec.Tags),
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, classify("get sequence record "+profileID, err)
	}
	return &rec, nil
}

func (r *SequenceRepo) GetEnrollment(ctx context.Context, id string) (*domain.CampaignEnrollment, error) {
	return getEnrollment(ctx, r.db, id)
}

// SaveTransition writes rec only if the stored version still equals
// expected. A lost race surfaces as domain.ErrTransactionFailed so the
// caller reloads and reapplies.
func (r *SequenceRepo) SaveTransition(ctx context.Context, rec *domain.SequenceOperationRecord, expected int64, ev *domain.SequenceEvent) error {
	return withTx(ctx, r.db, "save transition", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sequence_operation_records SET
				email_status = $3, response_status = $4,
				open_count = $5, click_count = $6, reply_count = $7,
				sequence_step = $8, next_scheduled_contact = $9, last_contacted_at = $10,
				lifecycle = $11, paused_at = $12, pause_reason = $13,
				unsubscribed_at = $14, completed_at = $15, notes = $16, tags = $17,
				version = $18, updated_at = $19
			WHERE enrollment_profile_id = $1 AND version = $2
		`, rec.EnrollmentProfileID, expected,
			rec.EmailStatus, rec.ResponseStatus,
			rec.OpenCount, rec.ClickCount, rec.ReplyCount,
			rec.SequenceStep, rec.NextScheduledContact, rec.LastContactedAt,
			rec.Lifecycle, rec.PausedAt, rec.PauseReason,
			rec.UnsubscribedAt, rec.CompletedAt, rec.Notes, pq.Array(tagsOrEmpty(rec.Tags)),
			rec.Version, rec.UpdatedAt)
		if err != nil {
			return classify("update sequence record", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify("update sequence record", err)
		}
		if n == 0 {
			return fmt.Errorf("sequence record %s moved past version %d: %w",
				rec.EnrollmentProfileID, expected, domain.ErrTransactionFailed)
		}

		if ev != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sequence_events
					(id, enrollment_profile_id, enrollment_id, campaign_id, kind, step, occurred_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, ev.ID, ev.EnrollmentProfileID, ev.EnrollmentID, ev.CampaignID, ev.Kind, ev.Step, ev.OccurredAt); err != nil {
				return classify("append sequence event", err)
			}
		}

		if rec.Lifecycle.IsFinished() {
			if _, err := tx.ExecContext(ctx, `
				UPDATE campaign_enrollments
				SET status = 'completed', completed_at = $2, updated_at = $2
				WHERE id = $1 AND status <> 'completed'
				  AND NOT EXISTS (
					SELECT 1 FROM sequence_operation_records
					WHERE enrollment_id = $1 AND lifecycle IN ('active', 'paused')
				  )
			`, rec.EnrollmentID, rec.UpdatedAt); err != nil {
				return classify("complete enrollment", err)
			}
		}
		return nil
	})
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
