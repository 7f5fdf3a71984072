// Package sudomode is the Go client for the sudomode governor.
//
// A caller asks the governor whether it may perform an action before doing
// it. Execute combines the check with the approval wait: it returns nil
// when the action may go ahead, and an error describing why not otherwise.
//
//	client := sudomode.NewClient(sudomode.WithBaseURL("http://localhost:8000"))
//	defer client.Close()
//
//	if err := client.Execute(ctx, "stripe.charge", "charge", map[string]any{"amount": 5000}); err != nil {
//		switch {
//		case errors.Is(err, sudomode.ErrDenied), errors.Is(err, sudomode.ErrRejected):
//			// do not retry
//		case errors.Is(err, sudomode.ErrInfrastructure):
//			// retry later
//		}
//		return err
//	}
package sudomode

import "time"

// Status values returned by POST /v1/govern
const (
	StatusAllow           = "ALLOW"
	StatusDeny            = "DENY"
	StatusRequireApproval = "REQUIRE_APPROVAL"
)

// Status values of a pending request
const (
	RequestPending  = "PENDING"
	RequestApproved = "APPROVED"
	RequestRejected = "REJECTED"
)

// Decision is the governor's answer to a check.
type Decision struct {
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id,omitempty"`
	Rule      string `json:"rule,omitempty"`
}

// PendingRequest is a request parked for human review.
type PendingRequest struct {
	ID        string         `json:"id"`
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Args      map[string]any `json:"args"`
	Status    string         `json:"status"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// State is a step of the client's check-and-wait flow.
type State string

const (
	StateChecking     State = "CHECKING"
	StateAllowed      State = "ALLOWED"
	StateDenied       State = "DENIED"
	StateWaiting      State = "WAITING"
	StateApproved     State = "APPROVED"
	StateRejected     State = "REJECTED"
	StateLookupFailed State = "LOOKUP_FAILED"
	// StateCheckFailed ends Execute when the check itself fails or the
	// governor's answer cannot be used.
	StateCheckFailed State = "CHECK_FAILED"
	// StateCancelled ends a wait abandoned through its context.
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateAllowed, StateDenied, StateApproved, StateRejected, StateLookupFailed, StateCheckFailed, StateCancelled:
		return true
	}
	return false
}

type governRequest struct {
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Args     map[string]any `json:"args"`
}

type listResponse struct {
	Requests []PendingRequest `json:"requests"`
}

type resolveResponse struct {
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	Request   PendingRequest `json:"request"`
}
