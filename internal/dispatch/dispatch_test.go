package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/delivery"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/pkg/retry"
	"github.com/ignite/outreach-engine/internal/repository/memory"
	"github.com/ignite/outreach-engine/internal/service/access"
	"github.com/ignite/outreach-engine/internal/service/enrollment"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
	"github.com/ignite/outreach-engine/internal/service/sequence"
)

// Tue 2026-10-13 10:00 in Los Angeles.
var tuesdayMorning = time.Date(2026, 10, 13, 17, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu     sync.Mutex
	sent   []delivery.Message
	refuse map[string]bool
	fail   error
}

func (f *fakeSender) Send(_ context.Context, msg *delivery.Message) (*delivery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.sent = append(f.sent, *msg)
	if f.refuse[msg.To] {
		return &delivery.Result{Accepted: false, Provider: "fake", Reason: "mailbox does not exist"}, nil
	}
	return &delivery.Result{Accepted: true, Provider: "fake", MessageID: "m-" + msg.ProfileID}, nil
}

type harness struct {
	store    *memory.Store
	mr       *miniredis.Miniredis
	client   *redis.Client
	sender   *fakeSender
	seq      *sequence.Service
	settings domain.CampaignSettings
	d        *Dispatcher
}

func newHarness(t *testing.T, limit int, emails ...string) *harness {
	t.Helper()
	return newHarnessWith(t, nil, limit, emails...)
}

// newHarnessWith lets a test adjust the campaign settings before enrollment.
func newHarnessWith(t *testing.T, tune func(*domain.CampaignSettings), limit int, emails ...string) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	st := memory.New()
	st.PutTargetList(domain.TargetList{ID: "list-1", TenantID: "t1", OwnerID: "alice"})
	for i, email := range emails {
		st.PutTargetProfile(domain.TargetProfile{
			ListID: "list-1",
			ProfileFacts: domain.ProfileFacts{
				FirstName:   []string{"Ada", "Grace", "Linus", "Barbara"}[i%4],
				Email:       email,
				Title:       "vp of engineering",
				CompanyName: "Initech",
			},
		})
	}

	settings := domain.DefaultSettings()
	settings.Timezone = "America/Los_Angeles"
	settings.DailySendLimit = limit
	settings.FromName = "Sam"
	settings.FromEmail = "sam@ignite.test"
	settings.Steps = []domain.SequenceStep{
		{Number: 1, Subject: "Hi {{ first_name }}", Body: "<p>{{ company.name }} / {{ title | titlecase }}</p>"},
		{Number: 2, DelayHours: 48, Subject: "Following up, {{ first_name }}", Body: "<p>bump</p>"},
	}
	if tune != nil {
		tune(&settings)
	}
	_, err = st.Enroll(context.Background(), enrollment.EnrollParams{
		EnrollmentID: "enr-1", TenantID: "t1", OwnerID: "alice", CampaignID: "c-1",
		TargetListID: "list-1", Settings: settings, At: tuesdayMorning.Add(-time.Hour),
	})
	require.NoError(t, err)

	guard := access.NewGuard(st)
	seq := sequence.NewService(st, guard, sequence.Options{
		Strict:  true,
		Timeout: time.Second,
		Retry:   retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}, logger.Nop())
	sched := scheduler.NewService(st, guard, logger.Nop())
	sender := &fakeSender{refuse: map[string]bool{}}

	d := New(st, sched, seq, NewCapacityLedger(client, ""), sender, NewRenderer(),
		distlock.NewFactory(client, nil, time.Minute), Config{}, logger.Nop())
	d.now = func() time.Time { return tuesdayMorning }

	return &harness{store: st, mr: mr, client: client, sender: sender, seq: seq, settings: settings, d: d}
}

func (h *harness) record(t *testing.T, email string) *domain.SequenceOperationRecord {
	t.Helper()
	profiles, err := h.store.ListProfiles(context.Background(), "enr-1")
	require.NoError(t, err)
	for _, p := range profiles {
		if p.Email == email {
			rec, err := h.store.GetRecord(context.Background(), p.ID)
			require.NoError(t, err)
			return rec
		}
	}
	t.Fatalf("no snapshot for %s", email)
	return nil
}

func TestTickSendsDueAndDefersOverCap(t *testing.T) {
	h := newHarness(t, 2, "ada@example.com", "grace@example.com", "linus@example.com")

	st, err := h.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Enrollments)
	assert.Equal(t, 2, st.Sent)
	assert.Equal(t, 1, st.Deferred)
	assert.Equal(t, 0, st.Errors)

	require.Len(t, h.sender.sent, 2)
	for _, m := range h.sender.sent {
		assert.Equal(t, 1, m.Step)
		assert.Equal(t, "<p>Initech / Vp Of Engineering</p>", m.HTMLBody)
		assert.Equal(t, "sam@ignite.test", m.FromEmail)
	}

	sentCount := 0
	for _, ev := range h.store.Events() {
		if ev.Kind == domain.EventSent {
			sentCount++
		}
	}
	assert.Equal(t, 2, sentCount)

	// the deferred snapshot waits for Wednesday 09:00 Pacific
	wednesday := time.Date(2026, 10, 14, 16, 0, 0, 0, time.UTC)
	deferred := 0
	for _, email := range []string{"ada@example.com", "grace@example.com", "linus@example.com"} {
		rec := h.record(t, email)
		if rec.EmailStatus == domain.EmailPending {
			deferred++
			require.NotNil(t, rec.NextScheduledContact)
			assert.True(t, rec.NextScheduledContact.Equal(wednesday), "got %s", rec.NextScheduledContact)
		} else {
			require.NotNil(t, rec.NextScheduledContact)
			assert.True(t, rec.NextScheduledContact.Equal(tuesdayMorning.Add(48*time.Hour)))
		}
	}
	assert.Equal(t, 1, deferred)

	// nothing is due on an immediate second pass
	st, err = h.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Sent)
	assert.Len(t, h.sender.sent, 2)
}

func TestTickRespectsSharedCampaignCapacity(t *testing.T) {
	h := newHarness(t, 2, "ada@example.com", "grace@example.com")
	// another enrollment of the same campaign already used today's slots
	h.mr.Set("outreach:sends:c-1:2026-10-13", "2")

	st, err := h.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Sent)
	assert.Equal(t, 2, st.Deferred)
	assert.Empty(t, h.sender.sent)
}

func TestTickRecordsRefusal(t *testing.T) {
	h := newHarness(t, 0, "ada@example.com", "nobody@example.com")
	h.sender.refuse["nobody@example.com"] = true

	st, err := h.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, 1, st.Refused)

	rec := h.record(t, "nobody@example.com")
	assert.Equal(t, domain.EmailFailed, rec.EmailStatus)
	assert.Equal(t, 1, rec.SequenceStep)
	require.NotNil(t, rec.NextScheduledContact, "the next step is still scheduled")
}

func TestTickLeavesRecordOnTransientError(t *testing.T) {
	h := newHarness(t, 5, "ada@example.com")
	h.sender.fail = errors.New("connection reset")

	st, err := h.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Errors)

	rec := h.record(t, "ada@example.com")
	assert.Equal(t, domain.EmailPending, rec.EmailStatus)

	used, err := NewCapacityLedger(h.client, "").used(context.Background(), "c-1", "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, 0, used, "the reserved slot was released")
}

func TestTickSendsSecondStepWhenDue(t *testing.T) {
	h := newHarness(t, 0, "ada@example.com")
	_, err := h.d.Tick(context.Background())
	require.NoError(t, err)

	h.d.now = func() time.Time { return tuesdayMorning.Add(48 * time.Hour) }
	st, err := h.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sent)

	require.Len(t, h.sender.sent, 2)
	assert.Equal(t, 2, h.sender.sent[1].Step)
	assert.Equal(t, "Following up, Ada", h.sender.sent[1].Subject)

	rec := h.record(t, "ada@example.com")
	assert.Equal(t, 2, rec.SequenceStep)
	assert.Equal(t, domain.LifecycleCompleted, rec.Lifecycle, "final step sent")
}

func TestTickDefersOutsideWindow(t *testing.T) {
	h := newHarness(t, 0, "ada@example.com", "grace@example.com")
	// Saturday 2026-10-17 10:00 Pacific
	h.d.now = func() time.Time { return time.Date(2026, 10, 17, 17, 0, 0, 0, time.UTC) }

	st, err := h.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Sent)
	assert.Equal(t, 2, st.Deferred)

	monday := time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC)
	rec := h.record(t, "ada@example.com")
	require.NotNil(t, rec.NextScheduledContact)
	assert.True(t, rec.NextScheduledContact.Equal(monday))
}

func TestTickSkipsLockedCampaign(t *testing.T) {
	h := newHarness(t, 0, "ada@example.com")
	other := distlock.NewRedisLock(h.client, "campaign:c-1", time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	st, err := h.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Locked)
	assert.Empty(t, h.sender.sent)
}

func TestDispatcherStartStop(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.d.Start())
	assert.True(t, h.d.Running())
	assert.Error(t, h.d.Start())
	h.d.Stop()
	assert.False(t, h.d.Running())
	h.d.Stop()
}

func TestCapacityLedger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewCapacityLedger(client, "test")
	ctx := context.Background()

	n, err := l.Reserve(ctx, "c-1", "2026-10-13", 3, 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "seeded with the persisted count")
	assert.Equal(t, time.Hour, mr.TTL("test:c-1:2026-10-13"))

	n, err = l.Reserve(ctx, "c-1", "2026-10-13", 3, 99, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "seed ignored once the counter exists")

	_, err = l.Reserve(ctx, "c-1", "2026-10-13", 3, 0, time.Hour)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	require.NoError(t, l.Release(ctx, "c-1", "2026-10-13"))
	used, err := l.used(ctx, "c-1", "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, 2, used)

	used, err = l.used(ctx, "c-2", "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestRendererMissingVariablesRenderEmpty(t *testing.T) {
	r := NewRenderer()
	e := &domain.CampaignEnrollment{ID: "enr-1", CampaignID: "c-1"}
	p := &domain.EnrollmentProfile{ProfileFacts: domain.ProfileFacts{FullName: "Ada Lovelace"}}

	subject, body, err := r.Render(e, domain.SequenceStep{
		Number:  1,
		Subject: "Hey {{ full_name | first_word }}{{ nickname }}",
		Body:    "{{ nickname | default: 'your team' }}",
	}, p)
	require.NoError(t, err)
	assert.Equal(t, "Hey Ada", subject)
	assert.Equal(t, "your team", body)

	_, _, err = r.Render(e, domain.SequenceStep{Number: 2, Subject: "{% bogus %}"}, p)
	assert.Error(t, err)
}

func TestTickSendsFirstStepAfterReplyBeforeAnySend(t *testing.T) {
	h := newHarnessWith(t, func(s *domain.CampaignSettings) { s.StopOnReply = false }, 5, "ada@example.com")
	ctx := context.Background()
	pid := h.record(t, "ada@example.com").EnrollmentProfileID

	_, err := h.seq.RecordDeliveryEvent(ctx, pid, domain.EventReplied, tuesdayMorning.Add(-30*time.Minute))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		st, err := h.d.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, st.Errors, "tick %d", i)
	}

	require.Len(t, h.sender.sent, 1, "the contact is mailed once")
	assert.Equal(t, 1, h.sender.sent[0].Step)
	assert.Equal(t, "Hi Ada", h.sender.sent[0].Subject)

	rec := h.record(t, "ada@example.com")
	assert.Equal(t, 1, rec.SequenceStep)
	assert.Equal(t, domain.EmailSent, rec.EmailStatus)
	assert.Equal(t, domain.ResponseReplied, rec.ResponseStatus)
	require.NotNil(t, rec.LastContactedAt)
	require.NotNil(t, rec.NextScheduledContact)
	assert.True(t, rec.NextScheduledContact.Equal(tuesdayMorning.Add(48*time.Hour)))

	used, err := NewCapacityLedger(h.client, "").used(ctx, "c-1", "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

// sentRecordingFails accepts every event except sent.
type sentRecordingFails struct {
	*sequence.Service
}

func (s sentRecordingFails) RecordDeliveryEvent(ctx context.Context, profileID string, kind domain.EventKind, at time.Time) (*domain.SequenceOperationRecord, error) {
	if kind == domain.EventSent {
		return nil, domain.ErrTransactionFailed
	}
	return s.Service.RecordDeliveryEvent(ctx, profileID, kind, at)
}

func TestTickHoldsSendThatCouldNotBeRecorded(t *testing.T) {
	h := newHarness(t, 5, "ada@example.com")
	ctx := context.Background()
	sched := scheduler.NewService(h.store, access.NewGuard(h.store), logger.Nop())
	d := New(h.store, sched, sentRecordingFails{h.seq}, NewCapacityLedger(h.client, ""), h.sender, nil,
		distlock.NewFactory(h.client, nil, time.Minute), Config{}, logger.Nop())
	d.now = func() time.Time { return tuesdayMorning }

	st, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Errors)
	require.Len(t, h.sender.sent, 1)

	used, err := NewCapacityLedger(h.client, "").used(ctx, "c-1", "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, 1, used, "the delivered message keeps its slot")

	wednesday := time.Date(2026, 10, 14, 16, 0, 0, 0, time.UTC)
	rec := h.record(t, "ada@example.com")
	require.NotNil(t, rec.NextScheduledContact)
	assert.True(t, rec.NextScheduledContact.Equal(wednesday), "got %s", rec.NextScheduledContact)

	_, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, h.sender.sent, 1, "not picked up again the same day")
}

// gatedSender blocks its first send until release is closed.
type gatedSender struct {
	fakeSender
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSender) Send(ctx context.Context, msg *delivery.Message) (*delivery.Result, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fakeSender.Send(ctx, msg)
}

func TestCampaignCapHoldsAcrossEnrollmentsWithoutLedger(t *testing.T) {
	h := newHarness(t, 2, "ada@example.com", "grace@example.com")
	ctx := context.Background()
	_, err := h.store.Enroll(ctx, enrollment.EnrollParams{
		EnrollmentID: "enr-2", TenantID: "t1", OwnerID: "alice", CampaignID: "c-1",
		TargetListID: "list-1", Settings: h.settings, At: tuesdayMorning.Add(-time.Hour),
	})
	require.NoError(t, err)

	guard := access.NewGuard(h.store)
	locks := distlock.NewFactory(nil, nil, time.Minute)
	newWorker := func(sender delivery.Sender) *Dispatcher {
		d := New(h.store, scheduler.NewService(h.store, guard, logger.Nop()), h.seq, nil, sender, nil,
			locks, Config{}, logger.Nop())
		d.now = func() time.Time { return tuesdayMorning }
		return d
	}

	gated := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	plain := &fakeSender{}
	first, second := newWorker(gated), newWorker(plain)

	done := make(chan Stats, 1)
	go func() {
		st, _ := first.Tick(ctx)
		done <- st
	}()
	<-gated.entered

	st, err := second.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Locked, "both enrollments share the campaign lock")
	assert.Empty(t, plain.sent)

	close(gated.release)
	firstStats := <-done
	assert.Equal(t, 2, firstStats.Sent)

	sentToday := 0
	for _, ev := range h.store.Events() {
		if ev.Kind == domain.EventSent {
			sentToday++
		}
	}
	assert.Equal(t, 2, sentToday)
	assert.Len(t, gated.sent, 2)
}
