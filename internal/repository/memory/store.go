// Package memory is an in-process implementation of every repository
// contract. It backs tests and the `storage.driver: memory` mode. A single
// mutex serializes writers, which gives each operation the same
// all-or-nothing visibility the Postgres transactions provide.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/enrollment"
	"github.com/ignite/outreach-engine/internal/service/scheduler"
)

// Store holds all entities in maps keyed by id.
type Store struct {
	mu          sync.RWMutex
	campaigns   map[string]domain.Campaign
	lists       map[string]domain.TargetList
	profiles    map[string]domain.TargetProfile
	enrollments map[string]domain.CampaignEnrollment
	snapshots   map[string]domain.EnrollmentProfile
	records     map[string]domain.SequenceOperationRecord
	events      []domain.SequenceEvent
}

// New returns an empty store.
func New() *Store {
	return &Store{
		campaigns:   make(map[string]domain.Campaign),
		lists:       make(map[string]domain.TargetList),
		profiles:    make(map[string]domain.TargetProfile),
		enrollments: make(map[string]domain.CampaignEnrollment),
		snapshots:   make(map[string]domain.EnrollmentProfile),
		records:     make(map[string]domain.SequenceOperationRecord),
	}
}

// --- seeding (stands in for the list/campaign CRUD collaborators) ---

// PutCampaign inserts or replaces a campaign.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Settings = c.Settings.Clone()
	s.campaigns[c.ID] = c
}

// PutTargetList inserts or replaces a list.
func (s *Store) PutTargetList(l domain.TargetList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.SharedWith = append([]string(nil), l.SharedWith...)
	s.lists[l.ID] = l
}

// PutTargetProfile adds or replaces a live profile row. An empty ID gets a
// fresh uuid, which is returned.
func (s *Store) PutTargetProfile(p domain.TargetProfile) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.ProfileFacts = cloneFacts(p.ProfileFacts)
	s.profiles[p.ID] = p
	return p.ID
}

// UpdateTargetProfile edits a live profile row in place.
func (s *Store) UpdateTargetProfile(id string, fn func(*domain.TargetProfile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("target profile %s: %w", id, domain.ErrNotFound)
	}
	fn(&p)
	p.ProfileFacts = cloneFacts(p.ProfileFacts)
	s.profiles[id] = p
	return nil
}

// RemoveTargetProfile deletes a live profile row.
func (s *Store) RemoveTargetProfile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, id)
}

// Events returns a copy of the event log.
func (s *Store) Events() []domain.SequenceEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SequenceEvent(nil), s.events...)
}

func cloneFacts(f domain.ProfileFacts) domain.ProfileFacts {
	return domain.SnapshotOf(domain.TargetProfile{ProfileFacts: f})
}

// --- ownership ---

// Ownership implements access.OwnershipReader.
func (s *Store) Ownership(_ context.Context, rt domain.ResourceType, id string) (*domain.Ownership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch rt {
	case domain.ResourceTargetList:
		if l, ok := s.lists[id]; ok {
			return &domain.Ownership{TenantID: l.TenantID, OwnerID: l.OwnerID, SharedWith: append([]string(nil), l.SharedWith...)}, nil
		}
	case domain.ResourceCampaign:
		if c, ok := s.campaigns[id]; ok {
			return &domain.Ownership{TenantID: c.TenantID, OwnerID: c.OwnerID}, nil
		}
	case domain.ResourceCampaignEnrollment:
		if e, ok := s.enrollments[id]; ok {
			return &domain.Ownership{TenantID: e.TenantID, OwnerID: e.OwnerID}, nil
		}
	}
	return nil, domain.ErrNotFound
}

// GetCampaign implements enrollment.CampaignReader.
func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	c.Settings = c.Settings.Clone()
	return &c, nil
}

// --- enrollment ---

// Enroll implements enrollment.Repository.
func (s *Store) Enroll(_ context.Context, p enrollment.EnrollParams) (*domain.CampaignEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.enrollments[p.EnrollmentID]; ok {
		return &e, nil
	}
	l, ok := s.lists[p.TargetListID]
	if !ok {
		return nil, fmt.Errorf("target list %s: %w", p.TargetListID, domain.ErrNotFound)
	}
	if p.RejectDuplicate {
		for _, e := range s.enrollments {
			if e.CampaignID == p.CampaignID && e.TargetListID == p.TargetListID && e.Status != domain.EnrollmentCompleted {
				return nil, fmt.Errorf("enrollment %s: %w", e.ID, domain.ErrDuplicateEnrollment)
			}
		}
	}

	var src []domain.TargetProfile
	for _, tp := range s.profiles {
		if tp.ListID == p.TargetListID {
			src = append(src, tp)
		}
	}
	sort.Slice(src, func(i, j int) bool { return src[i].ID < src[j].ID })

	e := domain.CampaignEnrollment{
		ID:           p.EnrollmentID,
		TenantID:     p.TenantID,
		OwnerID:      p.OwnerID,
		CampaignID:   p.CampaignID,
		TargetListID: p.TargetListID,
		Status:       domain.EnrollmentActive,
		ProfileCount: len(src),
		Settings:     p.Settings.Clone(),
		EnrolledAt:   p.At,
		UpdatedAt:    p.At,
	}
	snaps := make([]domain.EnrollmentProfile, 0, len(src))
	for _, tp := range src {
		snaps = append(snaps, domain.EnrollmentProfile{
			ID:           uuid.New().String(),
			EnrollmentID: e.ID,
			CampaignID:   e.CampaignID,
			TenantID:     e.TenantID,
			ProfileFacts: domain.SnapshotOf(tp),
			SnapshotAt:   p.At,
		})
	}

	s.enrollments[e.ID] = e
	for _, ep := range snaps {
		s.snapshots[ep.ID] = ep
		s.records[ep.ID] = domain.NewSequenceRecord(ep, p.At)
	}
	l.CampaignCount++
	l.UsedInCampaigns = true
	l.UpdatedAt = p.At
	s.lists[l.ID] = l

	return &e, nil
}

// GetEnrollment implements the enrollment, sequence and scheduler repositories.
func (s *Store) GetEnrollment(_ context.Context, id string) (*domain.CampaignEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil, fmt.Errorf("enrollment %s: %w", id, domain.ErrNotFound)
	}
	e.Settings = e.Settings.Clone()
	return &e, nil
}

// ListEnrollments implements enrollment.Repository.
func (s *Store) ListEnrollments(_ context.Context, campaignID string) ([]domain.CampaignEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.CampaignEnrollment{}
	for _, e := range s.enrollments {
		if e.CampaignID == campaignID {
			e.Settings = e.Settings.Clone()
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.After(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetEnrollmentStatus implements enrollment.Repository.
func (s *Store) SetEnrollmentStatus(_ context.Context, id string, from []domain.EnrollmentStatus, to domain.EnrollmentStatus, at time.Time) (*domain.CampaignEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil, fmt.Errorf("enrollment %s: %w", id, domain.ErrNotFound)
	}
	allowed := false
	for _, f := range from {
		if e.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return nil, fmt.Errorf("enrollment %s is %s, cannot become %s: %w", id, e.Status, to, domain.ErrInvalidTransition)
	}
	e.Status = to
	e.UpdatedAt = at
	if to == domain.EnrollmentCompleted {
		done := at
		e.CompletedAt = &done
	}
	s.enrollments[id] = e
	return &e, nil
}

// ListProfiles implements enrollment.Repository.
func (s *Store) ListProfiles(_ context.Context, enrollmentID string) ([]domain.EnrollmentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.EnrollmentProfile{}
	for _, ep := range s.snapshots {
		if ep.EnrollmentID == enrollmentID {
			ep.ProfileFacts = cloneFacts(ep.ProfileFacts)
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetEnrollmentProfile returns one snapshot. Used by the dispatcher.
func (s *Store) GetEnrollmentProfile(_ context.Context, id string) (*domain.EnrollmentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("enrollment profile %s: %w", id, domain.ErrNotFound)
	}
	ep.ProfileFacts = cloneFacts(ep.ProfileFacts)
	return &ep, nil
}

// GetTargetList implements enrollment.Repository.
func (s *Store) GetTargetList(_ context.Context, id string) (*domain.TargetList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lists[id]
	if !ok {
		return nil, fmt.Errorf("target list %s: %w", id, domain.ErrNotFound)
	}
	return &l, nil
}

// ActiveEnrollmentsForList implements enrollment.Repository.
func (s *Store) ActiveEnrollmentsForList(_ context.Context, listID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeForListLocked(listID), nil
}

func (s *Store) activeForListLocked(listID string) []string {
	var ids []string
	for _, e := range s.enrollments {
		if e.TargetListID == listID && e.IsLive() {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// DeleteTargetList implements enrollment.Repository. Enrollments taken from
// the list keep their snapshots.
func (s *Store) DeleteTargetList(_ context.Context, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[listID]
	if !ok {
		return fmt.Errorf("target list %s: %w", listID, domain.ErrNotFound)
	}
	if l.UsedInCampaigns {
		if active := s.activeForListLocked(listID); len(active) > 0 {
			return &domain.ListInUseError{ListID: listID, ActiveEnrollments: active}
		}
	}
	delete(s.lists, listID)
	for id, p := range s.profiles {
		if p.ListID == listID {
			delete(s.profiles, id)
		}
	}
	return nil
}

// --- sequence ---

// GetRecord implements sequence.Repository.
func (s *Store) GetRecord(_ context.Context, profileID string) (*domain.SequenceOperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[profileID]
	if !ok {
		return nil, fmt.Errorf("enrollment profile %s: %w", profileID, domain.ErrNotFound)
	}
	r.Tags = append([]string(nil), r.Tags...)
	return &r, nil
}

// SaveTransition implements sequence.Repository.
func (s *Store) SaveTransition(_ context.Context, rec *domain.SequenceOperationRecord, expectedVersion int64, event *domain.SequenceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.EnrollmentProfileID]
	if !ok {
		return fmt.Errorf("enrollment profile %s: %w", rec.EnrollmentProfileID, domain.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("record %s changed concurrently (version %d, expected %d): %w",
			rec.EnrollmentProfileID, cur.Version, expectedVersion, domain.ErrTransactionFailed)
	}
	next := *rec
	next.Tags = append([]string(nil), rec.Tags...)
	s.records[rec.EnrollmentProfileID] = next
	if event != nil {
		s.events = append(s.events, *event)
	}
	s.autoCompleteLocked(rec.EnrollmentID, next.UpdatedAt)
	return nil
}

func (s *Store) autoCompleteLocked(enrollmentID string, at time.Time) {
	e, ok := s.enrollments[enrollmentID]
	if !ok || e.Status == domain.EnrollmentCompleted {
		return
	}
	for _, r := range s.records {
		if r.EnrollmentID == enrollmentID && !r.Lifecycle.IsFinished() {
			return
		}
	}
	done := at
	e.Status = domain.EnrollmentCompleted
	e.CompletedAt = &done
	e.UpdatedAt = at
	s.enrollments[enrollmentID] = e
}

// --- scheduler ---

// DueCandidates implements scheduler.Repository.
func (s *Store) DueCandidates(_ context.Context, enrollmentID string, asOf time.Time) ([]scheduler.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scheduler.Candidate
	for _, r := range s.records {
		if r.EnrollmentID != enrollmentID || r.Lifecycle != domain.LifecycleActive {
			continue
		}
		if r.NextScheduledContact != nil && r.NextScheduledContact.After(asOf) {
			continue
		}
		out = append(out, scheduler.Candidate{ProfileID: r.EnrollmentProfileID, NextScheduledContact: r.NextScheduledContact})
	}
	return out, nil
}

// CountSends implements scheduler.Repository.
func (s *Store) CountSends(_ context.Context, campaignID string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.events {
		if ev.CampaignID == campaignID && ev.Kind == domain.EventSent &&
			!ev.OccurredAt.Before(from) && ev.OccurredAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// ActiveEnrollments lists the ids of every active enrollment. Used by the
// dispatcher.
func (s *Store) ActiveEnrollments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, e := range s.enrollments {
		if e.Status == domain.EnrollmentActive {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
