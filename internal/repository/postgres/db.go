// Package postgres implements the service repository contracts against
// PostgreSQL through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// classify wraps err with op and maps contention, timeout and connection
// failures to domain.ErrTransactionFailed so the service retry loop picks
// them up.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014": // query_canceled (statement_timeout)
			return fmt.Errorf("%s: %w: %v", op, domain.ErrTransactionFailed, err)
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return fmt.Errorf("%s: %w: %v", op, domain.ErrInvalidInput, err)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%s: %w: %v", op, domain.ErrTransactionFailed, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTransactionFailed, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// withTx runs fn in a read-committed transaction and commits when it
// returns nil.
func withTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(op+": begin", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(op+": commit", err)
	}
	return nil
}

// factColumns is the frozen subset shared by target_profiles and
// enrollment_profiles, in domain.ProfileFacts order.
const factColumns = `first_name, last_name, full_name, email, phone, linkedin_url,
	title, seniority, department, city, region, country, timezone,
	company_name, company_domain, company_industry, company_size,
	confidence_score, data_source, last_enriched_at, enrichment`

func factDests(f *domain.ProfileFacts, enrichment *[]byte) []interface{} {
	return []interface{}{
		&f.FirstName, &f.LastName, &f.FullName, &f.Email, &f.Phone, &f.LinkedInURL,
		&f.Title, &f.Seniority, &f.Department, &f.City, &f.Region, &f.Country, &f.Timezone,
		&f.CompanyName, &f.CompanyDomain, &f.CompanyIndustry, &f.CompanySize,
		&f.ConfidenceScore, &f.DataSource, &f.LastEnrichedAt, enrichment,
	}
}

func decodeEnrichment(raw []byte, f *domain.ProfileFacts) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &f.Enrichment)
}

const enrollmentColumns = `id, tenant_id, owner_id, campaign_id, target_list_id, status,
	profile_count, settings, enrolled_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnrollment(row rowScanner) (*domain.CampaignEnrollment, error) {
	var (
		e        domain.CampaignEnrollment
		settings []byte
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.OwnerID, &e.CampaignID, &e.TargetListID, &e.Status,
		&e.ProfileCount, &settings, &e.EnrolledAt, &e.CompletedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settings, &e.Settings); err != nil {
		return nil, fmt.Errorf("decode enrollment settings: %w", err)
	}
	return &e, nil
}

func getEnrollment(ctx context.Context, q queryer, id string) (*domain.CampaignEnrollment, error) {
	e, err := scanEnrollment(q.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM campaign_enrollments WHERE id = $1`, id))
	if err != nil {
		return nil, classify("get enrollment "+id, err)
	}
	return e, nil
}
