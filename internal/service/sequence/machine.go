package sequence

import (
	"fmt"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
)

// rank orders the forward-only part of the delivery axis.
var rank = map[domain.EmailStatus]int{
	domain.EmailPending:   0,
	domain.EmailSent:      1,
	domain.EmailDelivered: 2,
	domain.EmailOpened:    3,
	domain.EmailClicked:   4,
	domain.EmailReplied:   5,
}

// allowedFrom lists, per event, the delivery statuses it may be applied
// to. sent is handled separately because it can also start the next step.
var allowedFrom = map[domain.EventKind][]domain.EmailStatus{
	domain.EventDelivered: {domain.EmailSent},
	domain.EventOpened:    {domain.EmailSent, domain.EmailDelivered, domain.EmailOpened, domain.EmailClicked, domain.EmailReplied},
	domain.EventClicked:   {domain.EmailOpened, domain.EmailClicked, domain.EmailReplied},
	domain.EventBounced:   {domain.EmailSent, domain.EmailDelivered},
	domain.EventFailed:    {domain.EmailPending, domain.EmailSent, domain.EmailDelivered},
}

func reject(rec domain.SequenceOperationRecord, event, from, reason string) *domain.TransitionError {
	return &domain.TransitionError{ProfileID: rec.EnrollmentProfileID, From: from, Event: event, Reason: reason}
}

// Apply folds one delivery or engagement event into rec and returns the new
// record. rec itself is not modified. Counters only ever grow and the step
// only ever advances. Rejections are *domain.TransitionError.
func Apply(rec domain.SequenceOperationRecord, kind domain.EventKind, at time.Time, settings domain.CampaignSettings) (domain.SequenceOperationRecord, error) {
	next := rec
	from := string(rec.EmailStatus)

	switch kind {
	case domain.EventSent:
		switch rec.Lifecycle {
		case domain.LifecyclePaused, domain.LifecycleCompleted, domain.LifecycleUnsubscribed:
			return rec, reject(rec, string(kind), from, "sequence is "+string(rec.Lifecycle))
		}
		if rec.AttemptStarted() {
			if rec.NextScheduledContact == nil || at.Before(*rec.NextScheduledContact) {
				e := reject(rec, string(kind), from, fmt.Sprintf("step %d already sent and the next step is not due", rec.SequenceStep))
				e.Duplicate = rec.EmailStatus == domain.EmailSent
				return rec, e
			}
			if _, ok := settings.Step(rec.SequenceStep + 1); !ok {
				return rec, reject(rec, string(kind), from, fmt.Sprintf("no step after %d", rec.SequenceStep))
			}
			next.SequenceStep++
		}
		next.EmailStatus = domain.EmailSent
		sentAt := at
		next.LastContactedAt = &sentAt
		advance(&next, at, settings)
		return next, nil

	case domain.EventReplied:
		if rec.EmailStatus.IsTerminalAttempt() {
			return rec, reject(rec, string(kind), from, "attempt already ended")
		}
		next.ReplyCount++
		next.ResponseStatus = domain.ResponseReplied
		next.EmailStatus = domain.EmailReplied
		if settings.StopOnReply && !rec.Lifecycle.IsFinished() {
			finish(&next, at)
		}
		return next, nil

	case domain.EventDelivered, domain.EventOpened, domain.EventClicked, domain.EventBounced, domain.EventFailed:
		firstRefusal := kind == domain.EventFailed && !rec.AttemptStarted()
		if !firstRefusal && !contains(allowedFrom[kind], rec.EmailStatus) {
			e := reject(rec, string(kind), from, "")
			e.Duplicate = rec.EmailStatus == kind.Status()
			return rec, e
		}
	default:
		return rec, reject(rec, string(kind), from, "unknown event")
	}

	switch kind {
	case domain.EventDelivered:
		next.EmailStatus = domain.EmailDelivered
	case domain.EventOpened:
		next.OpenCount++
		next.EmailStatus = maxStatus(rec.EmailStatus, domain.EmailOpened)
	case domain.EventClicked:
		next.ClickCount++
		next.EmailStatus = maxStatus(rec.EmailStatus, domain.EmailClicked)
	case domain.EventBounced, domain.EventFailed:
		next.EmailStatus = kind.Status()
		advance(&next, at, settings)
	}
	return next, nil
}

// advance schedules the step after rec.SequenceStep, or completes the
// sequence when the current step is the last one.
func advance(rec *domain.SequenceOperationRecord, at time.Time, settings domain.CampaignSettings) {
	if rec.Lifecycle.IsFinished() {
		rec.NextScheduledContact = nil
		return
	}
	st, ok := settings.Step(rec.SequenceStep + 1)
	if !ok {
		finish(rec, at)
		return
	}
	due := at.Add(time.Duration(st.DelayHours) * time.Hour)
	rec.NextScheduledContact = &due
}

func finish(rec *domain.SequenceOperationRecord, at time.Time) {
	done := at
	rec.Lifecycle = domain.LifecycleCompleted
	rec.CompletedAt = &done
	rec.NextScheduledContact = nil
	rec.PausedAt = nil
	rec.PauseReason = ""
}

func maxStatus(a, b domain.EmailStatus) domain.EmailStatus {
	if rank[a] >= rank[b] {
		return a
	}
	return b
}

func contains(list []domain.EmailStatus, s domain.EmailStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Pause moves an active record to paused, keeping counters and step.
func Pause(rec domain.SequenceOperationRecord, reason string, at time.Time) (domain.SequenceOperationRecord, error) {
	if rec.Lifecycle != domain.LifecycleActive {
		e := reject(rec, "pause", string(rec.Lifecycle), "only active sequences can be paused")
		e.Duplicate = rec.Lifecycle == domain.LifecyclePaused
		return rec, e
	}
	next := rec
	pausedAt := at
	next.Lifecycle = domain.LifecyclePaused
	next.PausedAt = &pausedAt
	next.PauseReason = reason
	return next, nil
}

// Resume returns a paused record to active and moves a pending contact into
// the next open sending slot.
func Resume(rec domain.SequenceOperationRecord, at time.Time, w *scheduler.Window) (domain.SequenceOperationRecord, error) {
	if rec.Lifecycle != domain.LifecyclePaused {
		e := reject(rec, "resume", string(rec.Lifecycle), "only paused sequences can be resumed")
		e.Duplicate = rec.Lifecycle == domain.LifecycleActive
		return rec, e
	}
	next := rec
	next.Lifecycle = domain.LifecycleActive
	next.PausedAt = nil
	next.PauseReason = ""
	if rec.NextScheduledContact != nil {
		from := *rec.NextScheduledContact
		if from.Before(at) {
			from = at
		}
		due := w.NextOpening(from)
		next.NextScheduledContact = &due
	}
	return next, nil
}

// Unsubscribe makes the record permanently ineligible for scheduling. It is
// valid from every lifecycle state.
func Unsubscribe(rec domain.SequenceOperationRecord, at time.Time) domain.SequenceOperationRecord {
	next := rec
	if rec.Lifecycle == domain.LifecycleUnsubscribed {
		return next
	}
	unsubAt := at
	next.Lifecycle = domain.LifecycleUnsubscribed
	next.UnsubscribedAt = &unsubAt
	next.NextScheduledContact = nil
	next.PausedAt = nil
	next.PauseReason = ""
	return next
}

// Complete ends an active or paused sequence early.
func Complete(rec domain.SequenceOperationRecord, at time.Time) (domain.SequenceOperationRecord, error) {
	if rec.Lifecycle.IsFinished() {
		e := reject(rec, "complete", string(rec.Lifecycle), "sequence already finished")
		e.Duplicate = rec.Lifecycle == domain.LifecycleCompleted
		return rec, e
	}
	next := rec
	finish(&next, at)
	return next, nil
}

// Reschedule pushes the next contact of an active record to notBefore. It
// never pulls a contact earlier.
func Reschedule(rec domain.SequenceOperationRecord, notBefore time.Time) (domain.SequenceOperationRecord, error) {
	if rec.Lifecycle != domain.LifecycleActive {
		return rec, reject(rec, "reschedule", string(rec.Lifecycle), "only active sequences can be rescheduled")
	}
	next := rec
	if rec.NextScheduledContact == nil || rec.NextScheduledContact.Before(notBefore) {
		nb := notBefore
		next.NextScheduledContact = &nb
	}
	return next, nil
}
