// Package dispatch runs the outreach send loop: it walks active
// enrollments, asks the scheduler which snapshots are due, reserves daily
// capacity, renders the step and hands it to a delivery.Sender, then folds
// the outcome back into the sequence record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/delivery"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
)

const (
	// DefaultInterval is how often the dispatcher polls.
	DefaultInterval = 30 * time.Second
	// DefaultBatchSize bounds the sends per enrollment per pass.
	DefaultBatchSize = 100
)

// Store is the read side the dispatcher needs beyond the services.
type Store interface {
	ActiveEnrollments(ctx context.Context) ([]string, error)
	GetEnrollment(ctx context.Context, id string) (*domain.CampaignEnrollment, error)
	GetEnrollmentProfile(ctx context.Context, id string) (*domain.EnrollmentProfile, error)
}

// Planner is satisfied by *scheduler.Service.
type Planner interface {
	Plan(ctx context.Context, enrollmentID string, asOf time.Time) (*scheduler.Plan, error)
}

// Sequencer is satisfied by *sequence.Service.
type Sequencer interface {
	Lookup(ctx context.Context, profileID string) (*domain.SequenceOperationRecord, error)
	RecordDeliveryEvent(ctx context.Context, profileID string, kind domain.EventKind, at time.Time) (*domain.SequenceOperationRecord, error)
	Reschedule(ctx context.Context, profileID string, notBefore time.Time) (*domain.SequenceOperationRecord, error)
}

// Ledger is satisfied by *CapacityLedger.
type Ledger interface {
	Reserve(ctx context.Context, campaignID, day string, limit, seed int, ttl time.Duration) (int, error)
	Release(ctx context.Context, campaignID, day string) error
}

// Config tunes the dispatcher.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// PassTimeout bounds one pass over all enrollments.
	PassTimeout time.Duration
}

// Stats summarizes one pass.
type Stats struct {
	Enrollments int
	Locked      int
	Sent        int
	Refused     int
	Deferred    int
	Errors      int
}

// Dispatcher polls active enrollments and sends due steps.
type Dispatcher struct {
	store    Store
	planner  Planner
	seq      Sequencer
	ledger   Ledger
	sender   delivery.Sender
	renderer *Renderer
	locks    distlock.Factory
	cfg      Config
	log      *logger.Logger
	now      func() time.Time

	// Stats
	sent    int64
	refused int64
	failed  int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// New creates a dispatcher. ledger may be nil when no campaign sets a
// daily limit or Redis is not configured; the plan's remaining count is
// then the only cap.
func New(store Store, planner Planner, seq Sequencer, ledger Ledger, sender delivery.Sender,
	renderer *Renderer, locks distlock.Factory, cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 5 * time.Minute
	}
	if renderer == nil {
		renderer = NewRenderer()
	}
	return &Dispatcher{
		store:    store,
		planner:  planner,
		seq:      seq,
		ledger:   ledger,
		sender:   sender,
		renderer: renderer,
		locks:    locks,
		cfg:      cfg,
		log:      log.Named("dispatch"),
		now:      time.Now,
	}
}

// Start begins the polling loop.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	d.log.Info("starting", "interval", d.cfg.Interval.String(), "batch_size", d.cfg.BatchSize)

	d.wg.Add(1)
	go d.loop()
	return nil
}

// Stop cancels the loop and waits for the current pass to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.log.Info("stopped", "sent", atomic.LoadInt64(&d.sent), "refused", atomic.LoadInt64(&d.refused),
		"errors", atomic.LoadInt64(&d.failed))
}

// Running reports whether the loop is active.
func (d *Dispatcher) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(d.ctx, d.cfg.PassTimeout)
			st, err := d.Tick(ctx)
			cancel()
			if err != nil {
				d.log.Error("dispatch pass failed", "error", err)
				continue
			}
			if st.Sent+st.Refused+st.Deferred > 0 {
				d.log.Info("dispatch pass", "enrollments", st.Enrollments, "sent", st.Sent,
					"refused", st.Refused, "deferred", st.Deferred, "errors", st.Errors)
			}
		}
	}
}

// Tick runs one pass over every active enrollment. The daily cap belongs to
// the campaign, so each enrollment is dispatched under its campaign's lock;
// enrollments whose campaign is locked by another worker are skipped.
func (d *Dispatcher) Tick(ctx context.Context) (Stats, error) {
	var st Stats
	ids, err := d.store.ActiveEnrollments(ctx)
	if err != nil {
		return st, fmt.Errorf("list active enrollments: %w", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		st.Enrollments++
		e, err := d.store.GetEnrollment(ctx, id)
		if err == nil {
			err = distlock.WithLock(ctx, d.locks("campaign:"+e.CampaignID), func(ctx context.Context) error {
				return d.dispatchEnrollment(ctx, e, &st)
			})
		}
		switch {
		case errors.Is(err, distlock.ErrNotAcquired):
			st.Locked++
		case err != nil:
			st.Errors++
			atomic.AddInt64(&d.failed, 1)
			d.log.Error("dispatch enrollment", "enrollment_id", id, "error", err)
		}
	}
	return st, nil
}

func (d *Dispatcher) dispatchEnrollment(ctx context.Context, e *domain.CampaignEnrollment, st *Stats) error {
	id := e.ID
	asOf := d.now()
	plan, err := d.planner.Plan(ctx, id, asOf)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	w, err := scheduler.NewWindow(e.Settings)
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}

	for _, def := range plan.Deferred {
		d.postpone(ctx, def.ProfileID, def.NotBefore, string(def.Reason), st)
	}

	due := plan.Due
	if len(due) > d.cfg.BatchSize {
		due = due[:d.cfg.BatchSize]
	}

	dayStart, dayEnd := w.DayBounds(asOf)
	day := dayStart.In(w.Location()).Format("2006-01-02")
	ttl := dayEnd.Sub(asOf) + time.Hour

	for i, pid := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reserved := false
		if limit := e.Settings.DailySendLimit; limit > 0 && d.ledger != nil {
			if _, err := d.ledger.Reserve(ctx, e.CampaignID, day, limit, plan.SentToday, ttl); err != nil {
				if errors.Is(err, domain.ErrCapacityExceeded) {
					next := w.NextDayOpening(asOf)
					for _, rest := range due[i:] {
						d.postpone(ctx, rest, next, string(scheduler.DeferDailyCap), st)
					}
					return nil
				}
				return err
			}
			reserved = true
		}

		consumed, err := d.sendOne(ctx, e, w, pid, st)
		if reserved && !consumed {
			if rerr := d.ledger.Release(ctx, e.CampaignID, day); rerr != nil {
				d.log.Warn("release capacity", "campaign_id", e.CampaignID, "error", rerr)
			}
		}
		if err != nil {
			st.Errors++
			atomic.AddInt64(&d.failed, 1)
			d.log.Warn("send failed", "enrollment_id", id, "profile_id", pid, "error", err)
		}
	}
	return nil
}

// sendOne renders and sends the next step for one snapshot. It reports
// whether the send consumed capacity: a recorded sent event, or a message
// the provider accepted even if recording it failed.
func (d *Dispatcher) sendOne(ctx context.Context, e *domain.CampaignEnrollment, w *scheduler.Window, pid string, st *Stats) (bool, error) {
	rec, err := d.seq.Lookup(ctx, pid)
	if err != nil {
		return false, err
	}
	if rec.Lifecycle != domain.LifecycleActive {
		return false, nil
	}

	stepNo := rec.SequenceStep
	if rec.AttemptStarted() {
		stepNo++
	}
	step, ok := e.Settings.Step(stepNo)
	if !ok {
		return false, fmt.Errorf("enrollment %s has no step %d", e.ID, stepNo)
	}

	p, err := d.store.GetEnrollmentProfile(ctx, pid)
	if err != nil {
		return false, err
	}
	if p.Email == "" {
		return d.refuse(ctx, rec, "no email address", st)
	}

	subject, body, err := d.renderer.Render(e, step, p)
	if err != nil {
		return false, err
	}

	res, err := d.sender.Send(ctx, &delivery.Message{
		ProfileID:    pid,
		EnrollmentID: e.ID,
		CampaignID:   e.CampaignID,
		Step:         stepNo,
		To:           p.Email,
		FromName:     e.Settings.FromName,
		FromEmail:    e.Settings.FromEmail,
		ReplyTo:      e.Settings.ReplyTo,
		Subject:      subject,
		HTMLBody:     body,
	})
	if err != nil {
		return false, err
	}
	if !res.Accepted {
		return d.refuse(ctx, rec, res.Reason, st)
	}

	sentAt := d.now()
	if _, err := d.seq.RecordDeliveryEvent(ctx, pid, domain.EventSent, sentAt); err != nil {
		// The message is out. Hold the record until the next sending day
		// so the next pass does not mail the contact again.
		if _, rerr := d.seq.Reschedule(ctx, pid, w.NextDayOpening(sentAt)); rerr != nil {
			d.log.Error("hold unrecorded send", "profile_id", pid, "error", rerr)
		}
		return true, fmt.Errorf("record sent: %w", err)
	}
	st.Sent++
	atomic.AddInt64(&d.sent, 1)
	return true, nil
}

// refuse records a provider refusal. The refused attempt still occupies its
// step: a record past its first attempt is first moved onto the new step
// with a sent event, then failed.
func (d *Dispatcher) refuse(ctx context.Context, rec *domain.SequenceOperationRecord, reason string, st *Stats) (bool, error) {
	at := d.now()
	sentEvent := false
	if rec.AttemptStarted() {
		if _, err := d.seq.RecordDeliveryEvent(ctx, rec.EnrollmentProfileID, domain.EventSent, at); err != nil {
			return false, fmt.Errorf("record sent: %w", err)
		}
		sentEvent = true
	}
	if _, err := d.seq.RecordDeliveryEvent(ctx, rec.EnrollmentProfileID, domain.EventFailed, at); err != nil {
		return sentEvent, fmt.Errorf("record failed: %w", err)
	}
	st.Refused++
	atomic.AddInt64(&d.refused, 1)
	d.log.Warn("send refused", "profile_id", rec.EnrollmentProfileID, "reason", reason)
	return sentEvent, nil
}

func (d *Dispatcher) postpone(ctx context.Context, pid string, notBefore time.Time, reason string, st *Stats) {
	if _, err := d.seq.Reschedule(ctx, pid, notBefore); err != nil {
		st.Errors++
		d.log.Warn("reschedule", "profile_id", pid, "reason", reason, "error", err)
		return
	}
	st.Deferred++
}
