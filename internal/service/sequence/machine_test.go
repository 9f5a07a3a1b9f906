package sequence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
)

var t0 = time.Date(2026, 10, 13, 16, 0, 0, 0, time.UTC)

func threeSteps() domain.CampaignSettings {
	s := domain.DefaultSettings()
	s.Steps = []domain.SequenceStep{
		{Number: 1, Subject: "Hi"},
		{Number: 2, DelayHours: 48, Subject: "Following up"},
		{Number: 3, DelayHours: 72, Subject: "Last note"},
	}
	return s
}

func freshRecord() domain.SequenceOperationRecord {
	return domain.NewSequenceRecord(domain.EnrollmentProfile{ID: "p1", EnrollmentID: "e1", CampaignID: "c1", TenantID: "t1"}, t0)
}

func mustApply(t *testing.T, rec domain.SequenceOperationRecord, kind domain.EventKind, at time.Time, s domain.CampaignSettings) domain.SequenceOperationRecord {
	t.Helper()
	next, err := Apply(rec, kind, at, s)
	require.NoError(t, err, "apply %s", kind)
	return next
}

func TestBouncedCannotLaterOpen(t *testing.T) {
	s := threeSteps()
	rec := mustApply(t, freshRecord(), domain.EventSent, t0, s)
	rec = mustApply(t, rec, domain.EventBounced, t0.Add(time.Minute), s)

	_, err := Apply(rec, domain.EventOpened, t0.Add(2*time.Minute), s)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "bounced", te.From)
	assert.Equal(t, "opened", te.Event)
}

func TestDeliveryAxisIsForwardOnly(t *testing.T) {
	s := threeSteps()
	rec := mustApply(t, freshRecord(), domain.EventSent, t0, s)
	rec = mustApply(t, rec, domain.EventDelivered, t0, s)
	rec = mustApply(t, rec, domain.EventOpened, t0, s)
	rec = mustApply(t, rec, domain.EventClicked, t0, s)
	assert.Equal(t, domain.EmailClicked, rec.EmailStatus)

	for _, k := range []domain.EventKind{domain.EventDelivered, domain.EventBounced, domain.EventFailed} {
		_, err := Apply(rec, k, t0, s)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, string(k))
	}

	// a late open after a click keeps the higher status
	rec = mustApply(t, rec, domain.EventOpened, t0, s)
	assert.Equal(t, domain.EmailClicked, rec.EmailStatus)
	assert.Equal(t, 2, rec.OpenCount)
}

func TestClickRequiresOpen(t *testing.T) {
	s := threeSteps()
	rec := mustApply(t, freshRecord(), domain.EventSent, t0, s)
	_, err := Apply(rec, domain.EventClicked, t0, s)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCountersNeverDecrease(t *testing.T) {
	s := threeSteps()
	s.StopOnReply = false
	events := []domain.EventKind{
		domain.EventSent, domain.EventDelivered, domain.EventOpened, domain.EventOpened,
		domain.EventClicked, domain.EventBounced, domain.EventReplied, domain.EventOpened,
		domain.EventReplied, domain.EventSent, domain.EventFailed, domain.EventClicked,
	}
	rec := freshRecord()
	at := t0
	for _, k := range events {
		at = at.Add(24 * time.Hour)
		next, err := Apply(rec, k, at, s)
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			continue
		}
		assert.GreaterOrEqual(t, next.OpenCount, rec.OpenCount)
		assert.GreaterOrEqual(t, next.ClickCount, rec.ClickCount)
		assert.GreaterOrEqual(t, next.ReplyCount, rec.ReplyCount)
		assert.GreaterOrEqual(t, next.SequenceStep, rec.SequenceStep)
		rec = next
	}
	assert.Equal(t, 3, rec.OpenCount)
	assert.Equal(t, 2, rec.ReplyCount)
}

func TestSentSchedulesAndAdvancesSteps(t *testing.T) {
	s := threeSteps()
	rec := mustApply(t, freshRecord(), domain.EventSent, t0, s)
	assert.Equal(t, 1, rec.SequenceStep)
	require.NotNil(t, rec.NextScheduledContact)
	assert.True(t, rec.NextScheduledContact.Equal(t0.Add(48*time.Hour)))
	assert.True(t, rec.LastContactedAt.Equal(t0))

	// the next step is not due yet: a second sent looks like a re-delivery
	_, err := Apply(rec, domain.EventSent, t0.Add(time.Hour), s)
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Duplicate)

	at2 := t0.Add(48 * time.Hour)
	rec = mustApply(t, rec, domain.EventSent, at2, s)
	assert.Equal(t, 2, rec.SequenceStep)
	assert.True(t, rec.NextScheduledContact.Equal(at2.Add(72*time.Hour)))

	at3 := at2.Add(72 * time.Hour)
	rec = mustApply(t, rec, domain.EventSent, at3, s)
	assert.Equal(t, 3, rec.SequenceStep)
	assert.Equal(t, domain.LifecycleCompleted, rec.Lifecycle)
	assert.Nil(t, rec.NextScheduledContact)
	require.NotNil(t, rec.CompletedAt)

	// engagement on the last message is still recorded
	rec = mustApply(t, rec, domain.EventDelivered, at3, s)
	rec = mustApply(t, rec, domain.EventOpened, at3, s)
	assert.Equal(t, 1, rec.OpenCount)

	_, err = Apply(rec, domain.EventSent, at3.Add(1000*time.Hour), s)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestBounceMovesToNextStep(t *testing.T) {
	s := threeSteps()
	rec := mustApply(t, freshRecord(), domain.EventSent, t0, s)
	bouncedAt := t0.Add(time.Hour)
	rec = mustApply(t, rec, domain.EventBounced, bouncedAt, s)
	assert.Equal(t, domain.LifecycleActive, rec.Lifecycle)
	assert.True(t, rec.NextScheduledContact.Equal(bouncedAt.Add(48*time.Hour)))

	rec = mustApply(t, rec, domain.EventSent, bouncedAt.Add(48*time.Hour), s)
	assert.Equal(t, 2, rec.SequenceStep)
	assert.Equal(t, domain.EmailSent, rec.EmailStatus)
}

func TestFailureOnFinalStepCompletes(t *testing.T) {
	s := domain.DefaultSettings()
	rec := mustApply(t, freshRecord(), domain.EventFailed, t0, s)
	assert.Equal(t, domain.EmailFailed, rec.EmailStatus)
	assert.Equal(t, domain.LifecycleCompleted, rec.Lifecycle)
}

func TestReplyStopsSequence(t *testing.T) {
	s := threeSteps()
	rec := mustApply(t, freshRecord(), domain.EventSent, t0, s)
	rec = mustApply(t, rec, domain.EventReplied, t0.Add(time.Hour), s)
	assert.Equal(t, domain.ResponseReplied, rec.ResponseStatus)
	assert.Equal(t, 1, rec.ReplyCount)
	assert.Equal(t, domain.LifecycleCompleted, rec.Lifecycle)
	assert.Nil(t, rec.NextScheduledContact)

	s.StopOnReply = false
	rec = mustApply(t, freshRecord(), domain.EventSent, t0, s)
	rec = mustApply(t, rec, domain.EventReplied, t0.Add(time.Hour), s)
	assert.Equal(t, domain.LifecycleActive, rec.Lifecycle)
	assert.NotNil(t, rec.NextScheduledContact)
}

func TestUnsubscribedIsTerminal(t *testing.T) {
	s := threeSteps()
	rec := mustApply(t, freshRecord(), domain.EventSent, t0, s)
	rec = Unsubscribe(rec, t0.Add(time.Hour))
	assert.Equal(t, domain.LifecycleUnsubscribed, rec.Lifecycle)
	assert.Nil(t, rec.NextScheduledContact)
	require.NotNil(t, rec.UnsubscribedAt)

	_, err := Pause(rec, "vacation", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	w, err := scheduler.NewWindow(s)
	require.NoError(t, err)
	_, err = Resume(rec, t0, w)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = Complete(rec, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = Apply(rec, domain.EventSent, t0.Add(1000*time.Hour), s)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	for _, k := range []domain.EventKind{domain.EventDelivered, domain.EventOpened, domain.EventReplied} {
		next, err := Apply(rec, k, t0.Add(2*time.Hour), s)
		require.NoError(t, err, string(k))
		assert.Equal(t, domain.LifecycleUnsubscribed, next.Lifecycle, string(k))
		assert.Nil(t, next.NextScheduledContact)
		rec = next
	}

	again := Unsubscribe(rec, t0.Add(5*time.Hour))
	assert.True(t, again.UnsubscribedAt.Equal(*rec.UnsubscribedAt), "unsubscribe is idempotent")
}

func TestPauseResume(t *testing.T) {
	s := threeSteps()
	w, err := scheduler.NewWindow(s)
	require.NoError(t, err)

	rec := mustApply(t, freshRecord(), domain.EventSent, t0, s)
	paused, err := Pause(rec, "out of office", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.LifecyclePaused, paused.Lifecycle)
	assert.Equal(t, "out of office", paused.PauseReason)
	assert.Equal(t, rec.SequenceStep, paused.SequenceStep)
	assert.Equal(t, rec.OpenCount, paused.OpenCount)

	_, err = Pause(paused, "again", t0)
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Duplicate)

	_, err = Apply(paused, domain.EventSent, t0.Add(100*time.Hour), s)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// resumed on Saturday 2026-10-17 after the contact came due: next
	// contact moves to Monday's window opening
	sat := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	resumed, err := Resume(paused, sat, w)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleActive, resumed.Lifecycle)
	assert.Nil(t, resumed.PausedAt)
	assert.Empty(t, resumed.PauseReason)
	assert.True(t, resumed.NextScheduledContact.Equal(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))
}

func TestRescheduleOnlyPushesLater(t *testing.T) {
	rec := freshRecord()
	later := t0.Add(24 * time.Hour)
	next, err := Reschedule(rec, later)
	require.NoError(t, err)
	assert.True(t, next.NextScheduledContact.Equal(later))

	earlier, err := Reschedule(next, t0)
	require.NoError(t, err)
	assert.True(t, earlier.NextScheduledContact.Equal(later))

	paused, err := Pause(rec, "", t0)
	require.NoError(t, err)
	_, err = Reschedule(paused, later)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReplyBeforeFirstSendStillSendsStepOne(t *testing.T) {
	s := threeSteps()
	s.StopOnReply = false

	rec := mustApply(t, freshRecord(), domain.EventReplied, t0, s)
	assert.Equal(t, domain.EmailReplied, rec.EmailStatus)
	assert.False(t, rec.AttemptStarted())
	assert.Nil(t, rec.NextScheduledContact)

	rec = mustApply(t, rec, domain.EventSent, t0.Add(time.Hour), s)
	assert.Equal(t, 1, rec.SequenceStep)
	assert.Equal(t, domain.EmailSent, rec.EmailStatus)
	assert.Equal(t, domain.ResponseReplied, rec.ResponseStatus)
	assert.Equal(t, 1, rec.ReplyCount)
	require.NotNil(t, rec.NextScheduledContact)
	assert.True(t, rec.NextScheduledContact.Equal(t0.Add(49*time.Hour)))
	assert.True(t, rec.AttemptStarted())
}

func TestRefusalBeforeFirstSend(t *testing.T) {
	s := threeSteps()
	s.StopOnReply = false

	replied := mustApply(t, freshRecord(), domain.EventReplied, t0, s)
	rec := mustApply(t, replied, domain.EventFailed, t0.Add(time.Hour), s)
	assert.Equal(t, domain.EmailFailed, rec.EmailStatus)
	assert.Equal(t, 1, rec.SequenceStep)
	assert.True(t, rec.AttemptStarted())
	require.NotNil(t, rec.NextScheduledContact, "step 2 is scheduled")

	_, err := Apply(rec, domain.EventFailed, t0.Add(2*time.Hour), s)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	rec = mustApply(t, rec, domain.EventSent, *rec.NextScheduledContact, s)
	assert.Equal(t, 2, rec.SequenceStep)
}
