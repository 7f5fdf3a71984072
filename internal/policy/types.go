package policy

import (
	"context"
	"fmt"
	"strings"
)

// Status is the outcome of evaluating a request against the rule set
type Status string

const (
	StatusAllow           Status = "ALLOW"
	StatusDeny            Status = "DENY"
	StatusRequireApproval Status = "REQUIRE_APPROVAL"
)

// Wildcard matches any resource or action
const Wildcard = "*"

// DefaultDenyReason is returned when no rule matches a request
const DefaultDenyReason = "no matching policy - default deny"

func (s Status) Valid() bool {
	switch s {
	case StatusAllow, StatusDeny, StatusRequireApproval:
		return true
	}
	return false
}

// ParseStatus accepts decision names in any letter case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown decision %q", s)
	}
	return st, nil
}

// Rule is one entry of the ordered rule set
type Rule struct {
	Name      string `yaml:"name" json:"name,omitempty"`
	Resource  string `yaml:"resource" json:"resource"`
	Action    string `yaml:"action" json:"action"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Decision  Status `yaml:"decision" json:"decision"`
	Reason    string `yaml:"reason" json:"reason"`
}

// Request is a single "may I do X?" question asked by an agent
type Request struct {
	Resource string         `json:"resource" validate:"required"`
	Action   string         `json:"action" validate:"required"`
	Args     map[string]any `json:"args"`
}

// Decision is the governor's answer. RequestID is set only for REQUIRE_APPROVAL.
type Decision struct {
	Status    Status `json:"status"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id,omitempty"`
	Rule      string `json:"rule,omitempty"`
}

// Evaluator classifies requests against the loaded rule set
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) Decision
	Rules() []Rule
	Reload() error
	Close() error
}
