package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EnrichmentKind tags the source that produced a profile's enrichment data.
type EnrichmentKind string

const (
	EnrichmentApollo   EnrichmentKind = "apollo"
	EnrichmentLinkedIn EnrichmentKind = "linkedin"
	EnrichmentManual   EnrichmentKind = "manual"
)

// Enrichment is a tagged union over the known enrichment sources. Exactly
// one variant pointer is set for a known Kind; unknown kinds keep their
// payload verbatim in Raw so nothing is lost on a round trip.
type Enrichment struct {
	Kind     EnrichmentKind
	Apollo   *ApolloEnrichment
	LinkedIn *LinkedInEnrichment
	Manual   *ManualEnrichment
	Raw      json.RawMessage
}

type ApolloEnrichment struct {
	PersonID       string   `json:"person_id"`
	OrganizationID string   `json:"organization_id,omitempty"`
	EmailStatus    string   `json:"email_status,omitempty"`
	Departments    []string `json:"departments,omitempty"`
}

type LinkedInEnrichment struct {
	ProfileURN       string   `json:"profile_urn"`
	Headline         string   `json:"headline,omitempty"`
	ConnectionDegree int      `json:"connection_degree,omitempty"`
	Skills           []string `json:"skills,omitempty"`
}

type ManualEnrichment struct {
	EnteredBy string `json:"entered_by"`
	Note      string `json:"note,omitempty"`
}

type enrichmentEnvelope struct {
	Kind EnrichmentKind  `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsZero reports whether no enrichment is attached.
func (e Enrichment) IsZero() bool { return e.Kind == "" }

// Clone deep-copies the variant so snapshots never alias source rows.
func (e Enrichment) Clone() Enrichment {
	out := Enrichment{Kind: e.Kind}
	if e.Apollo != nil {
		a := *e.Apollo
		a.Departments = append([]string(nil), e.Apollo.Departments...)
		out.Apollo = &a
	}
	if e.LinkedIn != nil {
		l := *e.LinkedIn
		l.Skills = append([]string(nil), e.LinkedIn.Skills...)
		out.LinkedIn = &l
	}
	if e.Manual != nil {
		m := *e.Manual
		out.Manual = &m
	}
	if e.Raw != nil {
		out.Raw = append(json.RawMessage(nil), e.Raw...)
	}
	return out
}

func (e Enrichment) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	var variant any
	switch e.Kind {
	case EnrichmentApollo:
		variant = e.Apollo
	case EnrichmentLinkedIn:
		variant = e.LinkedIn
	case EnrichmentManual:
		variant = e.Manual
	default:
		return json.Marshal(enrichmentEnvelope{Kind: e.Kind, Data: e.Raw})
	}
	data, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enrichmentEnvelope{Kind: e.Kind, Data: data})
}

func (e *Enrichment) UnmarshalJSON(b []byte) error {
	*e = Enrichment{}
	if len(bytes.TrimSpace(b)) == 0 || bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var env enrichmentEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("enrichment: %w", err)
	}
	e.Kind = env.Kind
	if len(env.Data) == 0 {
		return nil
	}
	switch env.Kind {
	case EnrichmentApollo:
		e.Apollo = &ApolloEnrichment{}
		return json.Unmarshal(env.Data, e.Apollo)
	case EnrichmentLinkedIn:
		e.LinkedIn = &LinkedInEnrichment{}
		return json.Unmarshal(env.Data, e.LinkedIn)
	case EnrichmentManual:
		e.Manual = &ManualEnrichment{}
		return json.Unmarshal(env.Data, e.Manual)
	default:
		e.Raw = append(json.RawMessage(nil), env.Data...)
		return nil
	}
}
