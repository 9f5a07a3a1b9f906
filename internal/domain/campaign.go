package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Campaign is the outreach campaign a target list gets enrolled into. Only
// the fields the enrollment engine needs are modeled here; the rest of the
// campaign lives with the dashboard CRUD collaborator.
type Campaign struct {
	ID        string           `json:"id" db:"id"`
	TenantID  string           `json:"tenant_id" db:"tenant_id"`
	OwnerID   string           `json:"owner_id" db:"owner_id"`
	Name      string           `json:"name" db:"name"`
	Settings  CampaignSettings `json:"settings" db:"settings"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// CampaignSettings is the sending configuration of a campaign. A copy is
// frozen into every CampaignEnrollment so later edits to the campaign do not
// alter in-flight enrollments.
type CampaignSettings struct {
	Timezone         string         `json:"timezone"`
	SendingDays      []time.Weekday `json:"sending_days"`
	SendingStartTime string         `json:"sending_start_time"` // "HH:MM", local
	SendingEndTime   string         `json:"sending_end_time"`   // "HH:MM", local, inclusive
	DailySendLimit   int            `json:"daily_send_limit"`   // 0 means uncapped
	StopOnReply      bool           `json:"stop_on_reply"`
	FromName         string         `json:"from_name"`
	FromEmail        string         `json:"from_email"`
	ReplyTo          string         `json:"reply_to,omitempty"`
	Steps            []SequenceStep `json:"steps"`
}

// SequenceStep is one touch of the outreach plan. DelayHours is measured
// from the send of the previous step and is ignored for step 1.
type SequenceStep struct {
	Number     int    `json:"number"`
	DelayHours int    `json:"delay_hours"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// DefaultSettings returns weekday business hours in UTC with a single empty step.
func DefaultSettings() CampaignSettings {
	return CampaignSettings{
		Timezone:         "UTC",
		SendingDays:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		SendingStartTime: "09:00",
		SendingEndTime:   "17:00",
		StopOnReply:      true,
		Steps:            []SequenceStep{{Number: 1}},
	}
}

// Clone returns a copy that shares no slices with s.
func (s CampaignSettings) Clone() CampaignSettings {
	out := s
	out.SendingDays = append([]time.Weekday(nil), s.SendingDays...)
	out.Steps = append([]SequenceStep(nil), s.Steps...)
	return out
}

// Step returns the step with the given number.
func (s CampaignSettings) Step(n int) (SequenceStep, bool) {
	for _, st := range s.Steps {
		if st.Number == n {
			return st, true
		}
	}
	return SequenceStep{}, false
}

// FinalStep is the highest configured step number, or 0 when there are none.
func (s CampaignSettings) FinalStep() int {
	final := 0
	for _, st := range s.Steps {
		if st.Number > final {
			final = st.Number
		}
	}
	return final
}

// Location resolves the campaign timezone.
func (s CampaignSettings) Location() (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidInput, s.Timezone, err)
	}
	return loc, nil
}

// Validate checks the settings are usable by the scheduler.
func (s CampaignSettings) Validate() error {
	if _, err := s.Location(); err != nil {
		return err
	}
	if len(s.SendingDays) == 0 {
		return fmt.Errorf("%w: at least one sending day is required", ErrInvalidInput)
	}
	seen := map[time.Weekday]bool{}
	for _, d := range s.SendingDays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: sending day %d out of range", ErrInvalidInput, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: sending day %s listed twice", ErrInvalidInput, d)
		}
		seen[d] = true
	}
	start, err := ParseClock(s.SendingStartTime)
	if err != nil {
		return err
	}
	end, err := ParseClock(s.SendingEndTime)
	if err != nil {
		return err
	}
	if start > end {
		return fmt.Errorf("%w: sending window %s-%s ends before it starts", ErrInvalidInput, s.SendingStartTime, s.SendingEndTime)
	}
	if s.DailySendLimit < 0 {
		return fmt.Errorf("%w: daily send limit must not be negative", ErrInvalidInput)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: at least one sequence step is required", ErrInvalidInput)
	}
	for i := 1; i <= len(s.Steps); i++ {
		st, ok := s.Step(i)
		if !ok {
			return fmt.Errorf("%w: sequence steps must be numbered 1..%d", ErrInvalidInput, len(s.Steps))
		}
		if st.DelayHours < 0 {
			return fmt.Errorf("%w: step %d has a negative delay", ErrInvalidInput, i)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes after local midnight.
func ParseClock(v string) (int, error) {
	h, m, ok := strings.Cut(v, ":")
	if !ok {
		return 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidInput, v)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: time %q has an invalid hour", ErrInvalidInput, v)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: time %q has an invalid minute", ErrInvalidInput, v)
	}
	return hour*60 + minute, nil
}
