// Package sequence implements the per-profile outreach state machine.
//
// Each enrolled profile carries one SequenceOperationRecord with two
// orthogonal axes: the delivery status of the current step's attempt and the
// lifecycle (active, paused, completed, unsubscribed). The transition rules
// live in machine.go as pure functions; Service loads, authorizes, applies
// and persists them with optimistic concurrency and bounded retries.
package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/pkg/retry"
	"github.com/ignite/outreach-engine/internal/service/access"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
)

// Repository persists sequence records. Implementations must be safe for
// concurrent use.
type Repository interface {
	// GetRecord returns domain.ErrNotFound when the profile id is unknown.
	GetRecord(ctx context.Context, profileID string) (*domain.SequenceOperationRecord, error)

	// GetEnrollment returns the enrollment that owns a record.
	GetEnrollment(ctx context.Context, id string) (*domain.CampaignEnrollment, error)

	// SaveTransition writes rec if the stored version still equals
	// expectedVersion, appends event when non-nil, and completes the
	// enrollment once none of its records are active or paused, all in one
	// transaction. A version mismatch is domain.ErrTransactionFailed.
	SaveTransition(ctx context.Context, rec *domain.SequenceOperationRecord, expectedVersion int64, event *domain.SequenceEvent) error
}

// Options tunes the service.
type Options struct {
	// Strict rejects re-delivered duplicate events instead of ignoring them.
	Strict  bool
	Timeout time.Duration
	Retry   retry.Policy
}

// DefaultOptions is strict with a 30s deadline and the default retry policy.
func DefaultOptions() Options {
	return Options{Strict: true, Timeout: 30 * time.Second, Retry: retry.DefaultPolicy()}
}

// Service applies state-machine transitions.
type Service struct {
	repo  Repository
	guard *access.Guard
	opts  Options
	log   *logger.Logger
	now   func() time.Time
}

// NewService creates a sequence service.
func NewService(repo Repository, guard *access.Guard, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, guard: guard, opts: opts, log: log.Named("sequence"), now: time.Now}
}

// transition is one load-apply-save cycle. It returns the record to store,
// the event to append (or nil) and whether anything changed.
type transition func(rec domain.SequenceOperationRecord, e *domain.CampaignEnrollment, now time.Time) (domain.SequenceOperationRecord, *domain.SequenceEvent, bool, error)

func (s *Service) run(ctx context.Context, name, profileID string, authorize func(context.Context, *domain.SequenceOperationRecord) error, fn transition) (*domain.SequenceOperationRecord, error) {
	var out *domain.SequenceOperationRecord
	err := retry.Run(ctx, s.opts.Timeout, s.opts.Retry, s.log, name, func(ctx context.Context) error {
		rec, err := s.repo.GetRecord(ctx, profileID)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(ctx, rec); err != nil {
				return err
			}
		}
		e, err := s.repo.GetEnrollment(ctx, rec.EnrollmentID)
		if err != nil {
			return err
		}

		now := s.now()
		next, event, changed, err := fn(*rec, e, now)
		if err != nil {
			return err
		}
		if !changed {
			out = rec
			return nil
		}
		next.UpdatedAt = now
		next.Version = rec.Version + 1
		if err := s.repo.SaveTransition(ctx, &next, rec.Version, event); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) authorizeWrite(actor domain.Actor) func(context.Context, *domain.SequenceOperationRecord) error {
	return func(ctx context.Context, rec *domain.SequenceOperationRecord) error {
		return s.guard.Authorize(ctx, actor, domain.ResourceCampaignEnrollment, rec.EnrollmentID, domain.AccessWrite)
	}
}

// tolerate turns a duplicate transition into a logged no-op when the
// service is not strict. Every other rejection is logged and returned.
func (s *Service) tolerate(rec domain.SequenceOperationRecord, err error) (bool, error) {
	var te *domain.TransitionError
	if !errors.As(err, &te) {
		return false, err
	}
	if te.Duplicate && !s.opts.Strict {
		s.log.Warn("ignoring duplicate transition", "profile_id", rec.EnrollmentProfileID,
			"event", te.Event, "from", te.From)
		return true, nil
	}
	s.log.Warn("rejected transition", "profile_id", rec.EnrollmentProfileID,
		"event", te.Event, "from", te.From, "reason", te.Reason)
	return false, err
}

// RecordDeliveryEvent folds a delivery or engagement event reported by the
// delivery collaborator into the profile's record.
func (s *Service) RecordDeliveryEvent(ctx context.Context, profileID string, kind domain.EventKind, at time.Time) (*domain.SequenceOperationRecord, error) {
	return s.run(ctx, "record_delivery_event", profileID, nil,
		func(rec domain.SequenceOperationRecord, e *domain.CampaignEnrollment, _ time.Time) (domain.SequenceOperationRecord, *domain.SequenceEvent, bool, error) {
			next, err := Apply(rec, kind, at, e.Settings)
			if err != nil {
				ignored, err := s.tolerate(rec, err)
				return rec, nil, false, ignoreOr(ignored, err)
			}
			ev := &domain.SequenceEvent{
				ID:                  uuid.New().String(),
				EnrollmentProfileID: rec.EnrollmentProfileID,
				EnrollmentID:        rec.EnrollmentID,
				CampaignID:          rec.CampaignID,
				Kind:                kind,
				Step:                next.SequenceStep,
				OccurredAt:          at,
			}
			return next, ev, true, nil
		})
}

func ignoreOr(ignored bool, err error) error {
	if ignored {
		return nil
	}
	return err
}

// Pause stops scheduling for one profile until it is resumed.
func (s *Service) Pause(ctx context.Context, actor domain.Actor, profileID, reason string) (*domain.SequenceOperationRecord, error) {
	return s.run(ctx, "pause", profileID, s.authorizeWrite(actor),
		func(rec domain.SequenceOperationRecord, _ *domain.CampaignEnrollment, now time.Time) (domain.SequenceOperationRecord, *domain.SequenceEvent, bool, error) {
			next, err := Pause(rec, reason, now)
			if err != nil {
				ignored, err := s.tolerate(rec, err)
				return rec, nil, false, ignoreOr(ignored, err)
			}
			return next, nil, true, nil
		})
}

// Resume reactivates a paused profile and re-fits its next contact into the
// enrollment's sending window.
func (s *Service) Resume(ctx context.Context, actor domain.Actor, profileID string) (*domain.SequenceOperationRecord, error) {
	return s.run(ctx, "resume", profileID, s.authorizeWrite(actor),
		func(rec domain.SequenceOperationRecord, e *domain.CampaignEnrollment, now time.Time) (domain.SequenceOperationRecord, *domain.SequenceEvent, bool, error) {
			w, err := scheduler.NewWindow(e.Settings)
			if err != nil {
				return rec, nil, false, err
			}
			next, err := Resume(rec, now, w)
			if err != nil {
				ignored, err := s.tolerate(rec, err)
				return rec, nil, false, ignoreOr(ignored, err)
			}
			return next, nil, true, nil
		})
}

// Unsubscribe permanently removes a profile from scheduling. Repeating it is
// a no-op.
func (s *Service) Unsubscribe(ctx context.Context, actor domain.Actor, profileID string) (*domain.SequenceOperationRecord, error) {
	return s.run(ctx, "unsubscribe", profileID, s.authorizeWrite(actor),
		func(rec domain.SequenceOperationRecord, _ *domain.CampaignEnrollment, now time.Time) (domain.SequenceOperationRecord, *domain.SequenceEvent, bool, error) {
			if rec.Lifecycle == domain.LifecycleUnsubscribed {
				return rec, nil, false, nil
			}
			return Unsubscribe(rec, now), nil, true, nil
		})
}

// Complete ends a profile's sequence before its final step.
func (s *Service) Complete(ctx context.Context, actor domain.Actor, profileID string) (*domain.SequenceOperationRecord, error) {
	return s.run(ctx, "complete", profileID, s.authorizeWrite(actor),
		func(rec domain.SequenceOperationRecord, _ *domain.CampaignEnrollment, now time.Time) (domain.SequenceOperationRecord, *domain.SequenceEvent, bool, error) {
			next, err := Complete(rec, now)
			if err != nil {
				ignored, err := s.tolerate(rec, err)
				return rec, nil, false, ignoreOr(ignored, err)
			}
			return next, nil, true, nil
		})
}

// Reschedule persists a scheduler deferral. Records that stopped being
// active since the plan was built are left alone.
func (s *Service) Reschedule(ctx context.Context, profileID string, notBefore time.Time) (*domain.SequenceOperationRecord, error) {
	return s.run(ctx, "reschedule", profileID, nil,
		func(rec domain.SequenceOperationRecord, _ *domain.CampaignEnrollment, _ time.Time) (domain.SequenceOperationRecord, *domain.SequenceEvent, bool, error) {
			if rec.Lifecycle != domain.LifecycleActive {
				return rec, nil, false, nil
			}
			next, err := Reschedule(rec, notBefore)
			if err != nil {
				return rec, nil, false, err
			}
			changed := rec.NextScheduledContact == nil || !next.NextScheduledContact.Equal(*rec.NextScheduledContact)
			return next, nil, changed, nil
		})
}

// Get returns a profile's record for an acting user.
func (s *Service) Get(ctx context.Context, actor domain.Actor, profileID string) (*domain.SequenceOperationRecord, error) {
	rec, err := s.repo.GetRecord(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, actor, domain.ResourceCampaignEnrollment, rec.EnrollmentID, domain.AccessRead); err != nil {
		return nil, err
	}
	return rec, nil
}

// Lookup returns a record without an actor. Used by the dispatcher.
func (s *Service) Lookup(ctx context.Context, profileID string) (*domain.SequenceOperationRecord, error) {
	return s.repo.GetRecord(ctx, profileID)
}
