// Package enrollment implements the snapshot transaction coordinator and the
// enrollment registry.
//
// Enrolling a target list into a campaign freezes a copy of every profile
// currently on the list, together with the campaign's settings, so later
// edits to either never reach an in-flight enrollment. The copy, the
// per-profile sequence records and the list usage counter are written in a
// single transaction by the repository; this package adds authorization,
// duplicate policy, deadlines and retries around it.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/pkg/retry"
	"github.com/ignite/outreach-engine/internal/service/access"
)

// DuplicatePolicy decides what happens when a list is enrolled into a
// campaign it already has a live enrollment in.
type DuplicatePolicy string

const (
	DuplicateReject DuplicatePolicy = "reject"
	DuplicateAllow  DuplicatePolicy = "allow"
)

// ParseDuplicatePolicy accepts "reject", "allow" or "" (reject).
func ParseDuplicatePolicy(v string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(v))); p {
	case "", DuplicateReject:
		return DuplicateReject, nil
	case DuplicateAllow:
		return DuplicateAllow, nil
	}
	return "", fmt.Errorf("%w: duplicate policy %q", domain.ErrInvalidInput, v)
}

// Options tunes the coordinator.
type Options struct {
	Timeout         time.Duration
	Retry           retry.Policy
	DuplicatePolicy DuplicatePolicy
}

// DefaultOptions rejects duplicates and allows 30s for the whole enrollment.
func DefaultOptions() Options {
	return Options{Timeout: 30 * time.Second, Retry: retry.DefaultPolicy(), DuplicatePolicy: DuplicateReject}
}

// Service coordinates enrollments.
type Service struct {
	repo      Repository
	campaigns CampaignReader
	guard     *access.Guard
	archiver  Archiver
	opts      Options
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates an enrollment coordinator.
func NewService(repo Repository, campaigns CampaignReader, guard *access.Guard, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = DuplicateReject
	}
	return &Service{repo: repo, campaigns: campaigns, guard: guard, opts: opts, log: log.Named("enrollment"), now: time.Now}
}

// SetArchiver enables snapshot archiving after each enrollment.
func (s *Service) SetArchiver(a Archiver) {
	s.archiver = a
}

// Enroll copies the target list's current profiles into a new enrollment of
// the campaign. The actor must own both the list and the campaign. An empty
// list produces an empty enrollment.
func (s *Service) Enroll(ctx context.Context, actor domain.Actor, campaignID, targetListID string) (*domain.EnrollmentSummary, error) {
	if campaignID == "" || targetListID == "" {
		return nil, fmt.Errorf("%w: campaign id and target list id are required", domain.ErrInvalidInput)
	}
	if err := s.guard.Authorize(ctx, actor, domain.ResourceTargetList, targetListID, domain.AccessWrite); err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, actor, domain.ResourceCampaign, campaignID, domain.AccessWrite); err != nil {
		return nil, err
	}

	c, err := s.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := c.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("campaign %s settings: %w", c.ID, err)
	}

	// One id for every attempt so a retry after an unacknowledged commit
	// finds the enrollment instead of creating a second one.
	params := EnrollParams{
		EnrollmentID:    uuid.New().String(),
		TenantID:        actor.TenantID,
		OwnerID:         actor.UserID,
		CampaignID:      c.ID,
		TargetListID:    targetListID,
		Settings:        c.Settings,
		At:              s.now().UTC(),
		RejectDuplicate: s.opts.DuplicatePolicy == DuplicateReject,
	}

	var e *domain.CampaignEnrollment
	err = retry.Run(ctx, s.opts.Timeout, s.opts.Retry, s.log, "enroll", func(ctx context.Context) error {
		var err error
		e, err = s.repo.Enroll(ctx, params)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicateEnrollment) && !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("enrollment failed", "campaign_id", campaignID, "target_list_id", targetListID, "error", err.Error())
		}
		return nil, err
	}

	s.log.Info("enrolled target list", "enrollment_id", e.ID, "campaign_id", e.CampaignID,
		"target_list_id", e.TargetListID, "profiles", e.ProfileCount, "user_id", actor.UserID)
	s.archive(ctx, e)

	return &domain.EnrollmentSummary{ID: e.ID, ProfileCount: e.ProfileCount, EnrollmentDate: e.EnrolledAt}, nil
}

func (s *Service) archive(ctx context.Context, e *domain.CampaignEnrollment) {
	if s.archiver == nil {
		return
	}
	profiles, err := s.repo.ListProfiles(ctx, e.ID)
	if err == nil {
		err = s.archiver.ArchiveEnrollment(ctx, e, profiles)
	}
	if err != nil {
		s.log.Warn("snapshot archive failed", "enrollment_id", e.ID, "error", err.Error())
	}
}

// GetEnrollment returns one enrollment.
func (s *Service) GetEnrollment(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error) {
	if err := s.guard.Authorize(ctx, actor, domain.ResourceCampaignEnrollment, id, domain.AccessRead); err != nil {
		return nil, err
	}
	return s.repo.GetEnrollment(ctx, id)
}

// ListEnrollments returns the campaign's enrollments.
func (s *Service) ListEnrollments(ctx context.Context, actor domain.Actor, campaignID string) ([]domain.CampaignEnrollment, error) {
	if err := s.guard.Authorize(ctx, actor, domain.ResourceCampaign, campaignID, domain.AccessRead); err != nil {
		return nil, err
	}
	return s.repo.ListEnrollments(ctx, campaignID)
}

// ListProfiles returns the frozen snapshot of an enrollment.
func (s *Service) ListProfiles(ctx context.Context, actor domain.Actor, enrollmentID string) ([]domain.EnrollmentProfile, error) {
	if err := s.guard.Authorize(ctx, actor, domain.ResourceCampaignEnrollment, enrollmentID, domain.AccessRead); err != nil {
		return nil, err
	}
	return s.repo.ListProfiles(ctx, enrollmentID)
}

// PauseEnrollment stops the scheduler from picking profiles of an active
// enrollment.
func (s *Service) PauseEnrollment(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error) {
	return s.setStatus(ctx, actor, id, []domain.EnrollmentStatus{domain.EnrollmentActive}, domain.EnrollmentPaused)
}

// ResumeEnrollment reactivates a paused enrollment.
func (s *Service) ResumeEnrollment(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error) {
	return s.setStatus(ctx, actor, id, []domain.EnrollmentStatus{domain.EnrollmentPaused}, domain.EnrollmentActive)
}

// CompleteEnrollment ends an enrollment. It no longer blocks deletion of its
// target list.
func (s *Service) CompleteEnrollment(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error) {
	return s.setStatus(ctx, actor, id, []domain.EnrollmentStatus{domain.EnrollmentActive, domain.EnrollmentPaused}, domain.EnrollmentCompleted)
}

func (s *Service) setStatus(ctx context.Context, actor domain.Actor, id string, from []domain.EnrollmentStatus, to domain.EnrollmentStatus) (*domain.CampaignEnrollment, error) {
	if err := s.guard.Authorize(ctx, actor, domain.ResourceCampaignEnrollment, id, domain.AccessWrite); err != nil {
		return nil, err
	}
	var e *domain.CampaignEnrollment
	err := retry.Run(ctx, s.opts.Timeout, s.opts.Retry, s.log, "set_enrollment_status", func(ctx context.Context) error {
		var err error
		e, err = s.repo.SetEnrollmentStatus(ctx, id, from, to, s.now().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.log.Warn("rejected enrollment transition", "enrollment_id", id, "to", string(to), "error", err.Error())
		}
		return nil, err
	}
	s.log.Info("enrollment status changed", "enrollment_id", id, "status", string(to), "user_id", actor.UserID)
	return e, nil
}

// CheckDelete reports whether a target list may be deleted and, if not,
// which active enrollments block it.
func (s *Service) CheckDelete(ctx context.Context, actor domain.Actor, listID string) (*domain.DeleteCheck, error) {
	if err := s.guard.Authorize(ctx, actor, domain.ResourceTargetList, listID, domain.AccessRead); err != nil {
		return nil, err
	}
	l, err := s.repo.GetTargetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if !l.UsedInCampaigns {
		return &domain.DeleteCheck{Allowed: true}, nil
	}
	active, err := s.repo.ActiveEnrollmentsForList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("active enrollments for list: %w", err)
	}
	if len(active) == 0 {
		return &domain.DeleteCheck{Allowed: true}, nil
	}
	blocked := &domain.ListInUseError{ListID: listID, ActiveEnrollments: active}
	return &domain.DeleteCheck{Allowed: false, Reason: blocked.Error(), BlockingEnrollments: active}, nil
}

// CanDelete is the boolean form of CheckDelete.
func (s *Service) CanDelete(ctx context.Context, actor domain.Actor, listID string) (bool, error) {
	chk, err := s.CheckDelete(ctx, actor, listID)
	if err != nil {
		return false, err
	}
	return chk.Allowed, nil
}

// DeleteTargetList removes a list unless active enrollments still use it,
// in which case a *domain.ListInUseError explains what to do.
func (s *Service) DeleteTargetList(ctx context.Context, actor domain.Actor, listID string) error {
	if err := s.guard.Authorize(ctx, actor, domain.ResourceTargetList, listID, domain.AccessWrite); err != nil {
		return err
	}
	err := retry.Run(ctx, s.opts.Timeout, s.opts.Retry, s.log, "delete_target_list", func(ctx context.Context) error {
		return s.repo.DeleteTargetList(ctx, listID)
	})
	if err != nil {
		return err
	}
	s.log.Info("deleted target list", "target_list_id", listID, "user_id", actor.UserID)
	return nil
}
