package api

import (
	"context"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
)

// EnrollmentService is satisfied by *enrollment.Service.
type EnrollmentService interface {
	Enroll(ctx context.Context, actor domain.Actor, campaignID, targetListID string) (*domain.EnrollmentSummary, error)
	GetEnrollment(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error)
	ListEnrollments(ctx context.Context, actor domain.Actor, campaignID string) ([]domain.CampaignEnrollment, error)
	ListProfiles(ctx context.Context, actor domain.Actor, enrollmentID string) ([]domain.EnrollmentProfile, error)
	PauseEnrollment(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error)
	ResumeEnrollment(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error)
	CompleteEnrollment(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error)
	CheckDelete(ctx context.Context, actor domain.Actor, listID string) (*domain.DeleteCheck, error)
	DeleteTargetList(ctx context.Context, actor domain.Actor, listID string) error
}

// SequenceService is satisfied by *sequence.Service.
type SequenceService interface {
	Get(ctx context.Context, actor domain.Actor, profileID string) (*domain.SequenceOperationRecord, error)
	Pause(ctx context.Context, actor domain.Actor, profileID, reason string) (*domain.SequenceOperationRecord, error)
	Resume(ctx context.Context, actor domain.Actor, profileID string) (*domain.SequenceOperationRecord, error)
	Unsubscribe(ctx context.Context, actor domain.Actor, profileID string) (*domain.SequenceOperationRecord, error)
	Complete(ctx context.Context, actor domain.Actor, profileID string) (*domain.SequenceOperationRecord, error)
	RecordDeliveryEvent(ctx context.Context, profileID string, kind domain.EventKind, at time.Time) (*domain.SequenceOperationRecord, error)
}

// SchedulerService is satisfied by *scheduler.Service.
type SchedulerService interface {
	PlanFor(ctx context.Context, actor domain.Actor, enrollmentID string, asOf time.Time) (*scheduler.Plan, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	enrollments EnrollmentService
	sequences   SequenceService
	scheduler   SchedulerService
	log         *logger.Logger
	now         func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(enrollments EnrollmentService, sequences SequenceService, sched SchedulerService, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{
		enrollments: enrollments,
		sequences:   sequences,
		scheduler:   sched,
		log:         log.Named("api"),
		now:         time.Now,
	}
}
