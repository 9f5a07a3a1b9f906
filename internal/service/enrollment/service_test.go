package enrollment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/pkg/retry"
	"github.com/ignite/outreach-engine/internal/repository/memory"
	"github.com/ignite/outreach-engine/internal/service/access"
	"github.com/ignite/outreach-engine/internal/service/enrollment"
)

var (
	alice = domain.Actor{UserID: "alice", TenantID: "t1"}
	bob   = domain.Actor{UserID: "bob", TenantID: "t1"}
)

func fastOpts(policy enrollment.DuplicatePolicy) enrollment.Options {
	return enrollment.Options{
		Timeout:         time.Second,
		Retry:           retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		DuplicatePolicy: policy,
	}
}

func fixture(t *testing.T, profiles int) (*memory.Store, []string) {
	t.Helper()
	st := memory.New()
	st.PutCampaign(domain.Campaign{ID: "c-1", TenantID: "t1", OwnerID: "alice", Name: "Q4 outbound", Settings: domain.DefaultSettings()})
	st.PutTargetList(domain.TargetList{ID: "list-1", TenantID: "t1", OwnerID: "alice", SharedWith: []string{"bob"}})
	enriched := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < profiles; i++ {
		ids = append(ids, st.PutTargetProfile(domain.TargetProfile{
			ListID:     "list-1",
			ExternalID: "ext",
			ProfileFacts: domain.ProfileFacts{
				FirstName:       "Ada",
				Email:           "ada@example.com",
				Title:           "CTO",
				CompanyName:     "Analytical Engines",
				ConfidenceScore: 0.9,
				DataSource:      "apollo",
				LastEnrichedAt:  &enriched,
				Enrichment: domain.Enrichment{
					Kind:     domain.EnrichmentLinkedIn,
					LinkedIn: &domain.LinkedInEnrichment{Skills: []string{"go"}},
				},
			},
		}))
	}
	return st, ids
}

func newService(st *memory.Store, repo enrollment.Repository, policy enrollment.DuplicatePolicy) *enrollment.Service {
	return enrollment.NewService(repo, st, access.NewGuard(st), fastOpts(policy), logger.Nop())
}

func TestEnrollSnapshotCompleteness(t *testing.T) {
	st, _ := fixture(t, 3)
	svc := newService(st, st, enrollment.DuplicateReject)
	ctx := context.Background()

	sum, err := svc.Enroll(ctx, alice, "c-1", "list-1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.ProfileCount)
	assert.False(t, sum.EnrollmentDate.IsZero())

	profiles, err := st.ListProfiles(ctx, sum.ID)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	for _, p := range profiles {
		assert.Equal(t, "ada@example.com", p.Email)
		assert.Equal(t, "c-1", p.CampaignID)

		rec, err := st.GetRecord(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EmailPending, rec.EmailStatus)
		assert.Equal(t, 1, rec.SequenceStep)
		assert.Equal(t, domain.LifecycleActive, rec.Lifecycle)
		assert.Equal(t, sum.ID, rec.EnrollmentID)
	}

	l, err := st.GetTargetList(ctx, "list-1")
	require.NoError(t, err)
	assert.True(t, l.UsedInCampaigns)
	assert.Equal(t, 1, l.CampaignCount)

	e, err := svc.GetEnrollment(ctx, alice, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentActive, e.Status)
	assert.Equal(t, "list-1", e.TargetListID)
}

func TestEnrollEmptyList(t *testing.T) {
	st, _ := fixture(t, 0)
	svc := newService(st, st, enrollment.DuplicateReject)

	sum, err := svc.Enroll(context.Background(), alice, "c-1", "list-1")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.ProfileCount)
}

func TestSnapshotIsolation(t *testing.T) {
	st, ids := fixture(t, 2)
	svc := newService(st, st, enrollment.DuplicateReject)
	ctx := context.Background()

	sum, err := svc.Enroll(ctx, alice, "c-1", "list-1")
	require.NoError(t, err)

	require.NoError(t, st.UpdateTargetProfile(ids[0], func(p *domain.TargetProfile) {
		p.Email = "changed@example.com"
		p.Enrichment.LinkedIn.Skills[0] = "rust"
		*p.LastEnrichedAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	st.RemoveTargetProfile(ids[1])

	campaign, err := st.GetCampaign(ctx, "c-1")
	require.NoError(t, err)
	campaign.Settings.DailySendLimit = 99
	st.PutCampaign(*campaign)

	profiles, err := st.ListProfiles(ctx, sum.ID)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	for _, p := range profiles {
		assert.Equal(t, "ada@example.com", p.Email)
		assert.Equal(t, []string{"go"}, p.Enrichment.LinkedIn.Skills)
		assert.Equal(t, 2026, p.LastEnrichedAt.Year())
	}

	e, err := st.GetEnrollment(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Settings.DailySendLimit, "campaign edits do not reach the enrollment")
}

func TestEnrollAuthorization(t *testing.T) {
	st, _ := fixture(t, 1)
	st.PutTargetList(domain.TargetList{ID: "list-other", TenantID: "t2", OwnerID: "alice"})
	svc := newService(st, st, enrollment.DuplicateReject)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, bob, "c-1", "list-1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "read grant is not enough to enroll")

	_, err = svc.Enroll(ctx, alice, "c-1", "list-other")
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "cross tenant")

	_, err = svc.Enroll(ctx, alice, "c-1", "list-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Enroll(ctx, alice, "c-missing", "list-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Enroll(ctx, alice, "", "list-1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDuplicateEnrollmentPolicy(t *testing.T) {
	st, _ := fixture(t, 1)
	ctx := context.Background()

	reject := newService(st, st, enrollment.DuplicateReject)
	first, err := reject.Enroll(ctx, alice, "c-1", "list-1")
	require.NoError(t, err)
	_, err = reject.Enroll(ctx, alice, "c-1", "list-1")
	assert.ErrorIs(t, err, domain.ErrDuplicateEnrollment)

	_, err = reject.CompleteEnrollment(ctx, alice, first.ID)
	require.NoError(t, err)
	_, err = reject.Enroll(ctx, alice, "c-1", "list-1")
	assert.NoError(t, err, "a completed enrollment does not block re-enrolling")

	allow := newService(st, st, enrollment.DuplicateAllow)
	_, err = allow.Enroll(ctx, alice, "c-1", "list-1")
	require.NoError(t, err)

	all, err := allow.ListEnrollments(ctx, alice, "c-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	l, err := st.GetTargetList(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, 3, l.CampaignCount)
}

func TestConcurrentEnrollmentsOfSameList(t *testing.T) {
	st, _ := fixture(t, 2)
	svc := newService(st, st, enrollment.DuplicateReject)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Enroll(context.Background(), alice, "c-1", "list-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrDuplicateEnrollment):
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, dups)

	l, err := st.GetTargetList(context.Background(), "list-1")
	require.NoError(t, err)
	assert.Equal(t, 1, l.CampaignCount)
}

func TestDeleteGuard(t *testing.T) {
	st, _ := fixture(t, 1)
	st.PutTargetList(domain.TargetList{ID: "list-fresh", TenantID: "t1", OwnerID: "alice"})
	svc := newService(st, st, enrollment.DuplicateReject)
	ctx := context.Background()

	ok, err := svc.CanDelete(ctx, alice, "list-1")
	require.NoError(t, err)
	assert.True(t, ok, "unused list")

	sum, err := svc.Enroll(ctx, alice, "c-1", "list-1")
	require.NoError(t, err)

	ok, err = svc.CanDelete(ctx, bob, "list-1")
	require.NoError(t, err)
	assert.False(t, ok)

	chk, err := svc.CheckDelete(ctx, alice, "list-1")
	require.NoError(t, err)
	assert.Equal(t, []string{sum.ID}, chk.BlockingEnrollments)
	assert.Contains(t, chk.Reason, "pause or complete")

	err = svc.DeleteTargetList(ctx, alice, "list-1")
	var inUse *domain.ListInUseError
	require.True(t, errors.As(err, &inUse))
	assert.Equal(t, []string{sum.ID}, inUse.ActiveEnrollments)
	assert.ErrorIs(t, err, domain.ErrListInUse)

	err = svc.DeleteTargetList(ctx, bob, "list-1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "shared readers cannot delete")

	_, err = svc.PauseEnrollment(ctx, alice, sum.ID)
	require.NoError(t, err)
	ok, err = svc.CanDelete(ctx, alice, "list-1")
	require.NoError(t, err)
	assert.True(t, ok, "paused enrollments do not block")

	require.NoError(t, svc.DeleteTargetList(ctx, alice, "list-1"))
	_, err = st.GetTargetList(ctx, "list-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	profiles, err := st.ListProfiles(ctx, sum.ID)
	require.NoError(t, err)
	assert.Len(t, profiles, 1, "snapshots outlive their source list")

	require.NoError(t, svc.DeleteTargetList(ctx, alice, "list-fresh"))
}

func TestEnrollmentStatusTransitions(t *testing.T) {
	st, _ := fixture(t, 1)
	svc := newService(st, st, enrollment.DuplicateReject)
	ctx := context.Background()

	sum, err := svc.Enroll(ctx, alice, "c-1", "list-1")
	require.NoError(t, err)

	_, err = svc.ResumeEnrollment(ctx, alice, sum.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	e, err := svc.PauseEnrollment(ctx, alice, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentPaused, e.Status)

	e, err = svc.ResumeEnrollment(ctx, alice, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentActive, e.Status)

	e, err = svc.CompleteEnrollment(ctx, alice, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentCompleted, e.Status)
	assert.NotNil(t, e.CompletedAt)

	_, err = svc.PauseEnrollment(ctx, alice, sum.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.PauseEnrollment(ctx, bob, sum.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

// flakyRepo fails the first n Enroll calls with a retryable error.
type flakyRepo struct {
	*memory.Store
	mu    sync.Mutex
	fails int
	calls int
	ids   []string
}

func (f *flakyRepo) Enroll(ctx context.Context, p enrollment.EnrollParams) (*domain.CampaignEnrollment, error) {
	f.mu.Lock()
	f.calls++
	f.ids = append(f.ids, p.EnrollmentID)
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return nil, domain.ErrTransactionFailed
	}
	return f.Store.Enroll(ctx, p)
}

func TestEnrollRetriesTransactionFailures(t *testing.T) {
	st, _ := fixture(t, 2)
	repo := &flakyRepo{Store: st, fails: 2}
	svc := newService(st, repo, enrollment.DuplicateReject)

	sum, err := svc.Enroll(context.Background(), alice, "c-1", "list-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ProfileCount)
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, repo.ids[0], repo.ids[2], "every attempt reuses the enrollment id")
}

func TestEnrollSurfacesPersistentFailure(t *testing.T) {
	st, _ := fixture(t, 2)
	repo := &flakyRepo{Store: st, fails: 10}
	svc := newService(st, repo, enrollment.DuplicateReject)

	_, err := svc.Enroll(context.Background(), alice, "c-1", "list-1")
	assert.ErrorIs(t, err, domain.ErrTransactionFailed)
	assert.Equal(t, 3, repo.calls)

	l, err := st.GetTargetList(context.Background(), "list-1")
	require.NoError(t, err)
	assert.False(t, l.UsedInCampaigns, "nothing partial is visible")
}

type recordingArchiver struct {
	enrollment string
	profiles   int
	err        error
}

func (a *recordingArchiver) ArchiveEnrollment(_ context.Context, e *domain.CampaignEnrollment, profiles []domain.EnrollmentProfile) error {
	a.enrollment = e.ID
	a.profiles = len(profiles)
	return a.err
}

func TestArchiverReceivesSnapshot(t *testing.T) {
	st, _ := fixture(t, 2)
	svc := newService(st, st, enrollment.DuplicateReject)
	arch := &recordingArchiver{err: errors.New("bucket unavailable")}
	svc.SetArchiver(arch)

	sum, err := svc.Enroll(context.Background(), alice, "c-1", "list-1")
	require.NoError(t, err, "archive failures never fail the enrollment")
	assert.Equal(t, sum.ID, arch.enrollment)
	assert.Equal(t, 2, arch.profiles)
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := enrollment.ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, enrollment.DuplicateReject, p)

	p, err = enrollment.ParseDuplicatePolicy(" Allow ")
	require.NoError(t, err)
	assert.Equal(t, enrollment.DuplicateAllow, p)

	_, err = enrollment.ParseDuplicatePolicy("merge")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
