package domain

import "time"

// EnrollmentStatus is the coarse lifecycle of a CampaignEnrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

// CampaignEnrollment binds one campaign to one source target list at one
// point in time. Settings is the campaign configuration as it was at
// enrollment.
type CampaignEnrollment struct {
	ID           string           `json:"id" db:"id"`
	TenantID     string           `json:"tenant_id" db:"tenant_id"`
	OwnerID      string           `json:"owner_id" db:"owner_id"`
	CampaignID   string           `json:"campaign_id" db:"campaign_id"`
	TargetListID string           `json:"target_list_id" db:"target_list_id"`
	Status       EnrollmentStatus `json:"status" db:"status"`
	ProfileCount int              `json:"profile_count" db:"profile_count"`
	Settings     CampaignSettings `json:"settings" db:"settings"`
	EnrolledAt   time.Time        `json:"enrolled_at" db:"enrolled_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// IsLive reports whether the enrollment still references its target list for
// the purposes of the delete guard.
func (e *CampaignEnrollment) IsLive() bool {
	return e.Status == EnrollmentActive
}

// EnrollmentProfile is the frozen, campaign-scoped copy of one target
// profile. It is never re-synced from the source list.
type EnrollmentProfile struct {
	ID           string `json:"id" db:"id"`
	EnrollmentID string `json:"enrollment_id" db:"enrollment_id"`
	CampaignID   string `json:"campaign_id" db:"campaign_id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	ProfileFacts
	SnapshotAt time.Time `json:"snapshot_at" db:"snapshot_at"`
}

// SnapshotOf copies the frozen subset of a target profile. Source-only
// bookkeeping (id, list id, external id, last sync) is dropped.
func SnapshotOf(p TargetProfile) ProfileFacts {
	facts := p.ProfileFacts
	if p.LastEnrichedAt != nil {
		t := *p.LastEnrichedAt
		facts.LastEnrichedAt = &t
	}
	facts.Enrichment = p.Enrichment.Clone()
	return facts
}

// EnrollmentSummary is what enroll returns to collaborators.
type EnrollmentSummary struct {
	ID             string    `json:"id"`
	ProfileCount   int       `json:"profile_count"`
	EnrollmentDate time.Time `json:"enrollment_date"`
}

// DeleteCheck is the answer of the target-list delete guard.
type DeleteCheck struct {
	Allowed             bool     `json:"allowed"`
	Reason              string   `json:"reason,omitempty"`
	BlockingEnrollments []string `json:"blocking_enrollments,omitempty"`
}
