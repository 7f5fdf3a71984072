package audit

import (
	"context"
	"encoding/json"
	"time"
)

type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionDeny            Decision = "deny"
	DecisionRequireApproval Decision = "require_approval"
	DecisionApproved        Decision = "approved"
	DecisionRejected        Decision = "rejected"
)

// Record is one governance event to append to the trail.
type Record struct {
	Resource  string
	Action    string
	Args      json.RawMessage
	Decision  Decision
	Reason    string
	RequestID string
}

type Entry struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Resource  string          `json:"resource"`
	Action    string          `json:"action"`
	Args      json.RawMessage `json:"args"`
	Decision  Decision        `json:"decision"`
	Reason    string          `json:"reason"`
	RequestID string          `json:"request_id,omitempty"`
}

// Query narrows List results. A zero Limit means no limit.
type Query struct {
	RequestID string
	Limit     int
}

type Store interface {
	Log(ctx context.Context, rec Record) error
	List(ctx context.Context, q Query) ([]Entry, error)
	Close() error
}
