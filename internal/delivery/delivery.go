// Package delivery adapts outbound mail providers to the dispatcher and
// carries the event payload providers post back to the engine.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Message is one rendered sequence step addressed to one snapshot.
type Message struct {
	ProfileID    string
	EnrollmentID string
	CampaignID   string
	Step         int
	To           string
	FromName     string
	FromEmail    string
	ReplyTo      string
	Subject      string
	HTMLBody     string
}

// From formats the sender address.
func (m *Message) From() string {
	if m.FromName == "" {
		return m.FromEmail
	}
	return fmt.Sprintf("%s <%s>", m.FromName, m.FromEmail)
}

// Result is the provider's verdict on a message. Accepted false means the
// provider refused it for good; transient trouble is reported as an error
// from Send instead.
type Result struct {
	Accepted  bool
	MessageID string
	Provider  string
	Reason    string
	At        time.Time
}

// Sender hands a message to a provider.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// Event is the payload a provider posts to the delivery webhook.
type Event struct {
	EnrollmentProfileID string    `json:"enrollment_profile_id"`
	Event               string    `json:"event"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// Validate checks the payload and returns the parsed kind.
func (e Event) Validate() (domain.EventKind, error) {
	if strings.TrimSpace(e.EnrollmentProfileID) == "" {
		return "", fmt.Errorf("%w: enrollment_profile_id is required", domain.ErrInvalidInput)
	}
	kind, ok := domain.ParseEventKind(e.Event)
	if !ok {
		return "", fmt.Errorf("%w: unknown event %q", domain.ErrInvalidInput, e.Event)
	}
	if e.OccurredAt.IsZero() {
		return "", fmt.Errorf("%w: occurred_at is required", domain.ErrInvalidInput)
	}
	return kind, nil
}
