package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
)

type enrollRequest struct {
	TargetListID string `json:"target_list_id"`
}

// Enroll snapshots a target list into a campaign.
//
//	POST /api/campaigns/{campaignId}/enrollments
func (h *Handlers) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.TargetListID = strings.TrimSpace(req.TargetListID)
	if req.TargetListID == "" {
		httputil.BadRequest(w, "target_list_id is required")
		return
	}

	actor := ActorFrom(r.Context())
	sum, err := h.enrollments.Enroll(r.Context(), actor, chi.URLParam(r, "campaignId"), req.TargetListID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.log.Info("enrolled", "enrollment_id", sum.ID, "profiles", sum.ProfileCount, "user_id", actor.UserID)
	httputil.Created(w, sum)
}

// ListEnrollments lists a campaign's enrollments, newest first.
//
//	GET /api/campaigns/{campaignId}/enrollments
func (h *Handlers) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	list, err := h.enrollments.ListEnrollments(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "campaignId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"enrollments": list, "total": len(list)})
}

// GetEnrollment returns one enrollment.
//
//	GET /api/enrollments/{enrollmentId}
func (h *Handlers) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.enrollments.GetEnrollment(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "enrollmentId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, e)
}

// ListEnrollmentProfiles returns the frozen snapshots of an enrollment.
//
//	GET /api/enrollments/{enrollmentId}/profiles
func (h *Handlers) ListEnrollmentProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.enrollments.ListProfiles(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "enrollmentId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"profiles": profiles, "total": len(profiles)})
}

// PauseEnrollment, ResumeEnrollment and CompleteEnrollment move the
// enrollment lifecycle.
//
//	POST /api/enrollments/{enrollmentId}/pause
//	POST /api/enrollments/{enrollmentId}/resume
//	POST /api/enrollments/{enrollmentId}/complete
func (h *Handlers) PauseEnrollment(w http.ResponseWriter, r *http.Request) {
	h.enrollmentStatus(w, r, h.enrollments.PauseEnrollment)
}

func (h *Handlers) ResumeEnrollment(w http.ResponseWriter, r *http.Request) {
	h.enrollmentStatus(w, r, h.enrollments.ResumeEnrollment)
}

func (h *Handlers) CompleteEnrollment(w http.ResponseWriter, r *http.Request) {
	h.enrollmentStatus(w, r, h.enrollments.CompleteEnrollment)
}

type enrollmentOp func(ctx context.Context, actor domain.Actor, id string) (*domain.CampaignEnrollment, error)

func (h *Handlers) enrollmentStatus(w http.ResponseWriter, r *http.Request, op enrollmentOp) {
	e, err := op(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "enrollmentId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, e)
}

// DueProfiles returns the scheduling plan for an enrollment: the profiles
// due now and those deferred with the reason.
//
//	GET /api/enrollments/{enrollmentId}/due?as_of=RFC3339
func (h *Handlers) DueProfiles(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, "as_of must be RFC3339")
			return
		}
		asOf = t
	}

	plan, err := h.scheduler.PlanFor(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "enrollmentId"), asOf)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, plan)
}

// CanDeleteTargetList reports whether the delete guard would allow a delete.
//
//	GET /api/target-lists/{listId}/can-delete
func (h *Handlers) CanDeleteTargetList(w http.ResponseWriter, r *http.Request) {
	check, err := h.enrollments.CheckDelete(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "listId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, check)
}

// DeleteTargetList deletes a list unless an active enrollment uses it.
//
//	DELETE /api/target-lists/{listId}
func (h *Handlers) DeleteTargetList(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	listID := chi.URLParam(r, "listId")
	if err := h.enrollments.DeleteTargetList(r.Context(), actor, listID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.log.Info("target list deleted", "list_id", listID, "user_id", actor.UserID)
	httputil.NoContent(w)
}
