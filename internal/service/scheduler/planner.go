package scheduler

import (
	"sort"
	"time"
)

// Candidate is an active record whose next contact is due (or was never
// scheduled) as of the planning instant.
type Candidate struct {
	ProfileID            string
	NextScheduledContact *time.Time
}

// DeferReason says why a candidate was held back.
type DeferReason string

const (
	DeferOutsideWindow DeferReason = "outside_window"
	DeferDailyCap      DeferReason = "daily_cap"
)

// Deferral pushes one candidate to a later contact time.
type Deferral struct {
	ProfileID string      `json:"profile_id"`
	NotBefore time.Time   `json:"not_before"`
	Reason    DeferReason `json:"reason"`
}

// Plan is the outcome of one scheduling pass over an enrollment.
// Remaining is the day's capacity left before Due is sent, or -1 when the
// campaign has no daily limit.
type Plan struct {
	EnrollmentID string     `json:"enrollment_id"`
	AsOf         time.Time  `json:"as_of"`
	Due          []string   `json:"due"`
	Deferred     []Deferral `json:"deferred,omitempty"`
	SentToday    int        `json:"sent_today"`
	Remaining    int        `json:"remaining"`
}

// BuildPlan orders candidates (never-scheduled first, then by next contact,
// then by profile id) and splits them into due and deferred. Nothing is due
// when asOf is outside the window; once the daily limit is used up the rest
// wait for the next sending day. limit 0 means uncapped.
func BuildPlan(w *Window, limit, sentToday int, cands []Candidate, asOf time.Time) Plan {
	ready := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.NextScheduledContact != nil && c.NextScheduledContact.After(asOf) {
			continue
		}
		ready = append(ready, c)
	}
	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i].NextScheduledContact, ready[j].NextScheduledContact
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return ready[i].ProfileID < ready[j].ProfileID
	})

	p := Plan{AsOf: asOf, Due: []string{}, SentToday: sentToday, Remaining: -1}
	if limit > 0 {
		p.Remaining = limit - sentToday
		if p.Remaining < 0 {
			p.Remaining = 0
		}
	}

	if !w.Contains(asOf) {
		open := w.NextOpening(asOf)
		for _, c := range ready {
			p.Deferred = append(p.Deferred, Deferral{ProfileID: c.ProfileID, NotBefore: open, Reason: DeferOutsideWindow})
		}
		return p
	}

	take := len(ready)
	if limit > 0 && p.Remaining < take {
		take = p.Remaining
	}
	for _, c := range ready[:take] {
		p.Due = append(p.Due, c.ProfileID)
	}
	if take < len(ready) {
		next := w.NextDayOpening(asOf)
		for _, c := range ready[take:] {
			p.Deferred = append(p.Deferred, Deferral{ProfileID: c.ProfileID, NotBefore: next, Reason: DeferDailyCap})
		}
	}
	return p
}
