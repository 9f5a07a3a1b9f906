// Package scheduler decides which enrolled profiles are due for their next
// sequence step. It honours the campaign's sending days, time-of-day window,
// timezone and daily send limit, all taken from the settings frozen into the
// enrollment.
//
// The scheduler never sends and never writes: Plan is a read-only query that
// is safe to cancel or retry at any point.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/service/access"
)

// Repository is the read side the scheduler needs.
type Repository interface {
	// GetEnrollment returns domain.ErrNotFound when the id is unknown.
	GetEnrollment(ctx context.Context, id string) (*domain.CampaignEnrollment, error)

	// DueCandidates returns the enrollment's active records whose next
	// contact is at or before asOf, or was never scheduled.
	DueCandidates(ctx context.Context, enrollmentID string, asOf time.Time) ([]Candidate, error)

	// CountSends counts sent events for the campaign in [from, to).
	CountSends(ctx context.Context, campaignID string, from, to time.Time) (int, error)
}

// Service answers due-profile queries.
type Service struct {
	repo  Repository
	guard *access.Guard
	log   *logger.Logger
}

// NewService creates a scheduler backed by the given repository.
func NewService(repo Repository, guard *access.Guard, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, guard: guard, log: log.Named("scheduler")}
}

// Plan builds the scheduling plan for one enrollment as of asOf. A paused or
// completed enrollment yields an empty plan.
func (s *Service) Plan(ctx context.Context, enrollmentID string, asOf time.Time) (*Plan, error) {
	e, err := s.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.Status != domain.EnrollmentActive {
		return &Plan{EnrollmentID: e.ID, AsOf: asOf, Due: []string{}, Remaining: -1}, nil
	}

	w, err := NewWindow(e.Settings)
	if err != nil {
		return nil, fmt.Errorf("enrollment %s settings: %w", e.ID, err)
	}
	cands, err := s.repo.DueCandidates(ctx, e.ID, asOf)
	if err != nil {
		return nil, fmt.Errorf("load due candidates: %w", err)
	}

	sent := 0
	if e.Settings.DailySendLimit > 0 {
		from, to := w.DayBounds(asOf)
		sent, err = s.repo.CountSends(ctx, e.CampaignID, from, to)
		if err != nil {
			return nil, fmt.Errorf("count sends: %w", err)
		}
	}

	p := BuildPlan(w, e.Settings.DailySendLimit, sent, cands, asOf)
	p.EnrollmentID = e.ID
	if len(p.Deferred) > 0 {
		s.log.Debug("deferred candidates", "enrollment_id", e.ID, "due", len(p.Due),
			"deferred", len(p.Deferred), "sent_today", sent)
	}
	return &p, nil
}

// DueProfiles is getDueProfiles for an acting user: the ordered profile ids
// due for contact on the given enrollment.
func (s *Service) DueProfiles(ctx context.Context, actor domain.Actor, enrollmentID string, asOf time.Time) ([]string, error) {
	if err := s.guard.Authorize(ctx, actor, domain.ResourceCampaignEnrollment, enrollmentID, domain.AccessRead); err != nil {
		return nil, err
	}
	p, err := s.Plan(ctx, enrollmentID, asOf)
	if err != nil {
		return nil, err
	}
	return p.Due, nil
}

// PlanFor is Plan for an acting user.
func (s *Service) PlanFor(ctx context.Context, actor domain.Actor, enrollmentID string, asOf time.Time) (*Plan, error) {
	if err := s.guard.Authorize(ctx, actor, domain.ResourceCampaignEnrollment, enrollmentID, domain.AccessRead); err != nil {
		return nil, err
	}
	return s.Plan(ctx, enrollmentID, asOf)
}
