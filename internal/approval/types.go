package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dagbolade/sudomode/internal/policy"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus accepts status names in any letter case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Request is a governed request parked until a human resolves it
type Request struct {
	ID        string         `json:"id"`
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Args      map[string]any `json:"args"`
	Status    Status         `json:"status"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

var (
	ErrNotFound = errors.New("request not found")
	ErrConflict = errors.New("request already resolved")
)

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("request not found: %s", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError is returned when a transition is attempted on a request that
// already left PENDING.
type ConflictError struct {
	ID      string
	Current Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("request %s is already %s", e.ID, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ListFilter narrows List results. The zero value lists everything.
type ListFilter struct {
	Status Status
}

type Store interface {
	Create(ctx context.Context, req policy.Request, reason string) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, filter ListFilter) ([]Request, error)
	// Transition moves a PENDING request to a terminal status. Of two
	// concurrent transitions on the same id exactly one succeeds.
	Transition(ctx context.Context, id string, to Status) (Request, error)
	Delete(ctx context.Context, id string) error
	NotifyChannel() <-chan struct{}
	Close() error
}
