package domain

import "time"

// TargetListType says whether a list is built around people or companies.
type TargetListType string

const (
	TargetListProfiles  TargetListType = "profiles"
	TargetListCompanies TargetListType = "companies"
)

// Visibility controls who besides the owner may read a list.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
)

// TargetList is a named, user-owned, mutable pool of profiles. Once used in a
// campaign it is soft-referenced: CampaignCount only ever grows.
type TargetList struct {
	ID              string         `json:"id" db:"id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	OwnerID         string         `json:"owner_id" db:"owner_id"`
	Name            string         `json:"name" db:"name"`
	Type            TargetListType `json:"type" db:"type"`
	Visibility      Visibility     `json:"visibility" db:"visibility"`
	SharedWith      []string       `json:"shared_with,omitempty" db:"shared_with"`
	SourceListID    *string        `json:"source_list_id,omitempty" db:"source_list_id"`
	UsedInCampaigns bool           `json:"used_in_campaigns" db:"used_in_campaigns"`
	CampaignCount   int            `json:"campaign_count" db:"campaign_count"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// ProfileFacts is the part of a contact record that is frozen into an
// enrollment: identity, role, location, company context and enrichment
// metadata.
type ProfileFacts struct {
	FirstName   string `json:"first_name" db:"first_name"`
	LastName    string `json:"last_name" db:"last_name"`
	FullName    string `json:"full_name" db:"full_name"`
	Email       string `json:"email" db:"email"`
	Phone       string `json:"phone,omitempty" db:"phone"`
	LinkedInURL string `json:"linkedin_url,omitempty" db:"linkedin_url"`

	Title      string `json:"title" db:"title"`
	Seniority  string `json:"seniority,omitempty" db:"seniority"`
	Department string `json:"department,omitempty" db:"department"`

	City     string `json:"city,omitempty" db:"city"`
	Region   string `json:"region,omitempty" db:"region"`
	Country  string `json:"country,omitempty" db:"country"`
	Timezone string `json:"timezone,omitempty" db:"timezone"`

	CompanyName     string `json:"company_name" db:"company_name"`
	CompanyDomain   string `json:"company_domain,omitempty" db:"company_domain"`
	CompanyIndustry string `json:"company_industry,omitempty" db:"company_industry"`
	CompanySize     string `json:"company_size,omitempty" db:"company_size"`

	ConfidenceScore float64    `json:"confidence_score" db:"confidence_score"`
	DataSource      string     `json:"data_source" db:"data_source"`
	LastEnrichedAt  *time.Time `json:"last_enriched_at,omitempty" db:"last_enriched_at"`
	Enrichment      Enrichment `json:"enrichment" db:"enrichment"`
}

// TargetProfile is a live row of a target list. ID, ListID, ExternalID and
// LastSyncedAt are source-only bookkeeping and never reach a snapshot.
type TargetProfile struct {
	ID           string     `json:"id" db:"id"`
	ListID       string     `json:"list_id" db:"list_id"`
	ExternalID   string     `json:"external_id,omitempty" db:"external_id"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	ProfileFacts
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
