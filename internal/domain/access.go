package domain

// Actor is the already-verified identity supplied by the authentication
// collaborator. It is passed explicitly into every service call.
type Actor struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

// Valid reports whether both halves of the identity are present.
func (a Actor) Valid() bool {
	return a.UserID != "" && a.TenantID != ""
}

// ResourceType names the kinds of resource the ownership guard protects.
type ResourceType string

const (
	ResourceTargetList         ResourceType = "target_list"
	ResourceCampaign           ResourceType = "campaign"
	ResourceCampaignEnrollment ResourceType = "campaign_enrollment"
)

// AccessMode distinguishes read grants from write grants.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
)

func (m AccessMode) String() string {
	if m == AccessWrite {
		return "write"
	}
	return "read"
}

// Ownership is the owner column of a resource plus any read-only grants.
type Ownership struct {
	TenantID   string
	OwnerID    string
	SharedWith []string
}
