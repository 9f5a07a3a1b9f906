package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by services, repositories and the API layer.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrTransactionFailed   = errors.New("transaction failed")
	ErrCapacityExceeded    = errors.New("daily send capacity exceeded")
	ErrDuplicateEnrollment = errors.New("target list is already enrolled in this campaign")
	ErrListInUse           = errors.New("target list is in use")
	ErrInvalidInput        = errors.New("invalid input")
)

// TransitionError describes a rejected state-machine event.
type TransitionError struct {
	ProfileID string
	From      string
	Event     string
	Reason    string
	// Duplicate is set when the event would move the record to the state it
	// is already in, which is what a re-delivered webhook looks like.
	Duplicate bool
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("profile %s: cannot apply %s from %s", e.ProfileID, e.Event, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ListInUseError blocks a target-list delete and says what to do about it.
type ListInUseError struct {
	ListID            string
	ActiveEnrollments []string
}

func (e *ListInUseError) Error() string {
	return fmt.Sprintf("target list %s is used by %d active campaign enrollment(s) (%s); pause or complete them before deleting the list",
		e.ListID, len(e.ActiveEnrollments), strings.Join(e.ActiveEnrollments, ", "))
}

func (e *ListInUseError) Unwrap() error { return ErrListInUse }

// IsRetryable reports whether err is a storage-level failure that is safe
// to retry because the underlying operation is atomic.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}
