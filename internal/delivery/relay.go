package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/outreach-engine/internal/pkg/httpretry"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// HTTPSender posts messages as JSON to a relay endpoint that fronts the
// actual mail provider.
type HTTPSender struct {
	client httpretry.HTTPDoer
	url    string
	token  string
	log    *logger.Logger
	now    func() time.Time
}

// NewHTTPSender builds a relay sender. client is normally a
// *httpretry.RetryClient.
func NewHTTPSender(client httpretry.HTTPDoer, url, token string, log *logger.Logger) *HTTPSender {
	return &HTTPSender{client: client, url: url, token: token, log: log.Named("relay"), now: time.Now}
}

type relayRequest struct {
	EnrollmentProfileID string `json:"enrollment_profile_id"`
	EnrollmentID        string `json:"enrollment_id"`
	CampaignID          string `json:"campaign_id"`
	Step                int    `json:"step"`
	To                  string `json:"to"`
	From                string `json:"from"`
	ReplyTo             string `json:"reply_to,omitempty"`
	Subject             string `json:"subject"`
	HTML                string `json:"html"`
}

type relayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// Send posts msg. 2xx is accepted, any other 4xx is a refusal, and 5xx
// left over after the retry client gives up is returned as an error.
func (s *HTTPSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	body, err := json.Marshal(relayRequest{
		EnrollmentProfileID: msg.ProfileID,
		EnrollmentID:        msg.EnrollmentID,
		CampaignID:          msg.CampaignID,
		Step:                msg.Step,
		To:                  msg.To,
		From:                msg.From(),
		ReplyTo:             msg.ReplyTo,
		Subject:             msg.Subject,
		HTML:                msg.HTMLBody,
	})
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay send: %w", err)
	}
	defer resp.Body.Close()

	var out relayResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{Accepted: true, MessageID: out.MessageID, Provider: "relay", At: s.now()}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		reason := out.Error
		if reason == "" {
			reason = resp.Status
		}
		s.log.Warn("relay rejected message", "email", msg.To, "profile_id", msg.ProfileID, "status", resp.StatusCode)
		return &Result{Accepted: false, Provider: "relay", Reason: reason, At: s.now()}, nil
	default:
		return nil, fmt.Errorf("relay send: status %d", resp.StatusCode)
	}
}
