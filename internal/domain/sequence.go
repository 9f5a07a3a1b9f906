package domain

import "time"

// EmailStatus is the delivery axis of the current send attempt.
type EmailStatus string

const (
	EmailPending   EmailStatus = "pending"
	EmailSent      EmailStatus = "sent"
	EmailDelivered EmailStatus = "delivered"
	EmailOpened    EmailStatus = "opened"
	EmailClicked   EmailStatus = "clicked"
	EmailReplied   EmailStatus = "replied"
	EmailBounced   EmailStatus = "bounced"
	EmailFailed    EmailStatus = "failed"
)

// IsTerminalAttempt reports whether the current attempt can take no further
// delivery events. It does not block later sequence steps.
func (s EmailStatus) IsTerminalAttempt() bool {
	return s == EmailBounced || s == EmailFailed
}

// ResponseStatus tracks whether the contact has answered.
type ResponseStatus string

const (
	ResponseNone    ResponseStatus = "none"
	ResponseReplied ResponseStatus = "replied"
)

// Lifecycle is the isActive axis of a SequenceOperationRecord.
type Lifecycle string

const (
	LifecycleActive       Lifecycle = "active"
	LifecyclePaused       Lifecycle = "paused"
	LifecycleCompleted    Lifecycle = "completed"
	LifecycleUnsubscribed Lifecycle = "unsubscribed"
)

// IsFinished reports whether the record will never be scheduled again.
func (l Lifecycle) IsFinished() bool {
	return l == LifecycleCompleted || l == LifecycleUnsubscribed
}

// EventKind is a delivery or engagement event reported by the delivery
// collaborator.
type EventKind string

const (
	EventSent      EventKind = "sent"
	EventDelivered EventKind = "delivered"
	EventOpened    EventKind = "opened"
	EventClicked   EventKind = "clicked"
	EventBounced   EventKind = "bounced"
	EventFailed    EventKind = "failed"
	EventReplied   EventKind = "replied"
)

// ParseEventKind validates a wire value.
func ParseEventKind(v string) (EventKind, bool) {
	switch k := EventKind(v); k {
	case EventSent, EventDelivered, EventOpened, EventClicked, EventBounced, EventFailed, EventReplied:
		return k, true
	}
	return "", false
}

// Status is the delivery status an event moves the record to.
func (k EventKind) Status() EmailStatus {
	return EmailStatus(k)
}

// SequenceOperationRecord is the mutable operational state paired 1:1 with
// an EnrollmentProfile. Version is bumped on every write and used for
// optimistic concurrency.
type SequenceOperationRecord struct {
	EnrollmentProfileID  string         `json:"enrollment_profile_id" db:"enrollment_profile_id"`
	EnrollmentID         string         `json:"enrollment_id" db:"enrollment_id"`
	CampaignID           string         `json:"campaign_id" db:"campaign_id"`
	TenantID             string         `json:"tenant_id" db:"tenant_id"`
	EmailStatus          EmailStatus    `json:"email_status" db:"email_status"`
	ResponseStatus       ResponseStatus `json:"response_status" db:"response_status"`
	OpenCount            int            `json:"open_count" db:"open_count"`
	ClickCount           int            `json:"click_count" db:"click_count"`
	ReplyCount           int            `json:"reply_count" db:"reply_count"`
	SequenceStep         int            `json:"sequence_step" db:"sequence_step"`
	NextScheduledContact *time.Time     `json:"next_scheduled_contact,omitempty" db:"next_scheduled_contact"`
	LastContactedAt      *time.Time     `json:"last_contacted_at,omitempty" db:"last_contacted_at"`
	Lifecycle            Lifecycle      `json:"is_active" db:"lifecycle"`
	PausedAt             *time.Time     `json:"paused_at,omitempty" db:"paused_at"`
	PauseReason          string         `json:"pause_reason,omitempty" db:"pause_reason"`
	UnsubscribedAt       *time.Time     `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Notes                string         `json:"notes,omitempty" db:"notes"`
	Tags                 []string       `json:"tags,omitempty" db:"tags"`
	Version              int64          `json:"version" db:"version"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at" db:"updated_at"`
}

// AttemptStarted reports whether the current step has been attempted: sent
// at least once, or refused before its first send. A reply that arrives
// before any send does not count.
func (r SequenceOperationRecord) AttemptStarted() bool {
	return r.LastContactedAt != nil || r.EmailStatus == EmailFailed
}

// NewSequenceRecord returns the default state created alongside a snapshot.
func NewSequenceRecord(p EnrollmentProfile, at time.Time) SequenceOperationRecord {
	return SequenceOperationRecord{
		EnrollmentProfileID: p.ID,
		EnrollmentID:        p.EnrollmentID,
		CampaignID:          p.CampaignID,
		TenantID:            p.TenantID,
		EmailStatus:         EmailPending,
		ResponseStatus:      ResponseNone,
		SequenceStep:        1,
		Lifecycle:           LifecycleActive,
		Version:             1,
		CreatedAt:           at,
		UpdatedAt:           at,
	}
}

// SequenceEvent is an accepted delivery event, appended to the event log.
type SequenceEvent struct {
	ID                  string    `json:"id" db:"id"`
	EnrollmentProfileID string    `json:"enrollment_profile_id" db:"enrollment_profile_id"`
	EnrollmentID        string    `json:"enrollment_id" db:"enrollment_id"`
	CampaignID          string    `json:"campaign_id" db:"campaign_id"`
	Kind                EventKind `json:"kind" db:"kind"`
	Step                int       `json:"step" db:"step"`
	OccurredAt          time.Time `json:"occurred_at" db:"occurred_at"`
}
