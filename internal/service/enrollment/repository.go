package enrollment

import (
	"context"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Repository defines the data access contract for enrollments and the
// target lists they are taken from. Implementations must be safe for
// concurrent use.
type Repository interface {
	// Enroll performs the whole snapshot copy in one atomic unit: lock the
	// target list row, insert the enrollment, copy every current profile,
	// create one default sequence record per copy, and bump the list's
	// usage counter. If an enrollment with p.EnrollmentID already exists it
	// is returned unchanged, which makes a retried call safe. Returns
	// domain.ErrNotFound for a missing list and domain.ErrDuplicateEnrollment
	// when p.RejectDuplicate is set and a live enrollment of the same pair
	// exists.
	Enroll(ctx context.Context, p EnrollParams) (*domain.CampaignEnrollment, error)

	// GetEnrollment returns domain.ErrNotFound when the id is unknown.
	GetEnrollment(ctx context.Context, id string) (*domain.CampaignEnrollment, error)

	// ListEnrollments returns a campaign's enrollments, newest first.
	ListEnrollments(ctx context.Context, campaignID string) ([]domain.CampaignEnrollment, error)

	// SetEnrollmentStatus moves an enrollment to status `to` if its current
	// status is one of `from`. Otherwise it returns an error wrapping
	// domain.ErrInvalidTransition (or domain.ErrNotFound).
	SetEnrollmentStatus(ctx context.Context, id string, from []domain.EnrollmentStatus, to domain.EnrollmentStatus, at time.Time) (*domain.CampaignEnrollment, error)

	// ListProfiles returns an enrollment's snapshot rows ordered by id.
	ListProfiles(ctx context.Context, enrollmentID string) ([]domain.EnrollmentProfile, error)

	// GetTargetList returns domain.ErrNotFound when the id is unknown.
	GetTargetList(ctx context.Context, id string) (*domain.TargetList, error)

	// ActiveEnrollmentsForList returns the ids of active enrollments that
	// reference the list.
	ActiveEnrollmentsForList(ctx context.Context, listID string) ([]string, error)

	// DeleteTargetList re-checks the delete guard under the list row lock
	// and removes the list. Blocked deletes return *domain.ListInUseError.
	DeleteTargetList(ctx context.Context, listID string) error
}

// CampaignReader resolves the campaign being enrolled into.
type CampaignReader interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
}

// Archiver receives every committed snapshot. Failures are logged and never
// undo the enrollment.
type Archiver interface {
	ArchiveEnrollment(ctx context.Context, e *domain.CampaignEnrollment, profiles []domain.EnrollmentProfile) error
}

// EnrollParams is the input of Repository.Enroll.
type EnrollParams struct {
	EnrollmentID    string
	TenantID        string
	OwnerID         string
	CampaignID      string
	TargetListID    string
	Settings        domain.CampaignSettings
	At              time.Time
	RejectDuplicate bool
}
