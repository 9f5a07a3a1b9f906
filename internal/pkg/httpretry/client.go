// Package httpretry provides an HTTP client that retries transient failures
// with exponential backoff and jitter. The delivery relay sender uses it.
package httpretry

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Logger
}

// NewRetryClient wraps client. A nil client means a default http.Client with
// a 30s timeout; maxRetries <= 0 means 3 retries after the first attempt.
func NewRetryClient(client HTTPDoer, maxRetries int, log *logger.Logger) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
		log:        log,
	}
}

// WithDelays overrides the backoff bounds. Used by tests.
func (rc *RetryClient) WithDelays(base, max time.Duration) *RetryClient {
	rc.baseDelay, rc.maxDelay = base, max
	return rc
}

var errRetryableStatus = errors.New("retryable status")

// Do executes req, retrying on 429/5xx and transport errors. Client errors
// are returned immediately. When retries run out on a retryable status the
// last response is returned as-is so the caller can inspect it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = rc.baseDelay
	exp.MaxInterval = rc.maxDelay
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(rc.maxRetries)), req.Context())

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		attempt++
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("httpretry: reset request body: %w", err))
			}
			req.Body = body
		}

		r, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if !isRetryableStatus(r.StatusCode) || attempt > rc.maxRetries {
			resp = r
			return nil
		}
		io.Copy(io.Discard, r.Body)
		r.Body.Close()
		return fmt.Errorf("httpretry: %w %d", errRetryableStatus, r.StatusCode)
	}
	notify := func(err error, wait time.Duration) {
		rc.log.Warn("http retry", "method", req.Method, "host", req.URL.Host, "path", req.URL.Path,
			"attempt", attempt, "wait", wait.String(), "error", err.Error())
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
