package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/delivery"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
)

// GetSequenceRecord returns the per-profile sequence state.
//
//	GET /api/enrollment-profiles/{profileId}
func (h *Handlers) GetSequenceRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.sequences.Get(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "profileId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, rec)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// PauseProfile stops contact with one profile. The body is optional.
//
//	POST /api/enrollment-profiles/{profileId}/pause
func (h *Handlers) PauseProfile(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.ContentLength != 0 && !httputil.Decode(w, r, &req) {
		return
	}
	rec, err := h.sequences.Pause(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "profileId"), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// ResumeProfile reactivates a paused profile.
//
//	POST /api/enrollment-profiles/{profileId}/resume
func (h *Handlers) ResumeProfile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.sequences.Resume(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "profileId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// UnsubscribeProfile is terminal.
//
//	POST /api/enrollment-profiles/{profileId}/unsubscribe
func (h *Handlers) UnsubscribeProfile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.sequences.Unsubscribe(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "profileId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.log.Info("profile unsubscribed", "profile_id", rec.EnrollmentProfileID)
	httputil.OK(w, rec)
}

// CompleteProfile ends the sequence for one profile.
//
//	POST /api/enrollment-profiles/{profileId}/complete
func (h *Handlers) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.sequences.Complete(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "profileId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// DeliveryEvent applies a provider event (sent, opened, clicked, replied,
// bounced, failed) to the sequence record. Re-delivered events answer 409
// unless strict transitions are off, in which case they are a no-op.
//
//	POST /api/delivery/events
func (h *Handlers) DeliveryEvent(w http.ResponseWriter, r *http.Request) {
	var ev delivery.Event
	if !httputil.Decode(w, r, &ev) {
		return
	}
	kind, err := ev.Validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.sequences.RecordDeliveryEvent(r.Context(), ev.EnrollmentProfileID, kind, ev.OccurredAt)
	if err != nil {
		h.log.Warn("delivery event rejected", "profile_id", ev.EnrollmentProfileID, "event", ev.Event, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, rec)
}
