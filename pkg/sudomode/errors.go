package sudomode

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is. Denied and Rejected are final
// answers; Infrastructure failures may be retried.
var (
	ErrDenied          = errors.New("denied by policy")
	ErrRejected        = errors.New("rejected by reviewer")
	ErrInfrastructure  = errors.New("governor unavailable")
	ErrRequestNotFound = errors.New("approval request not found")
	ErrConflict        = errors.New("request already resolved")
)

// DeniedError is returned when the rule set denies the action outright.
type DeniedError struct {
	Reason string
	Rule   string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// RejectedError is returned when a human rejected the pending request.
type RejectedError struct {
	RequestID string
	Reason    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("action was rejected by human: %s", e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// RequestNotFoundError is returned when the governor no longer knows a
// request, for example after a restart.
type RequestNotFoundError struct {
	RequestID string
}

func (e *RequestNotFoundError) Error() string {
	return fmt.Sprintf("approval request %s was not found on the server", e.RequestID)
}

func (e *RequestNotFoundError) Is(target error) bool {
	return target == ErrRequestNotFound || target == ErrInfrastructure
}

// ConflictError is returned by Approve and Reject when the request has
// already been resolved.
type ConflictError struct {
	RequestID     string
	CurrentStatus string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("request %s is already %s", e.RequestID, e.CurrentStatus)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransportError covers network failures and unexpected server responses.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sudomode [HTTP_%d]: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sudomode: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrInfrastructure
}
