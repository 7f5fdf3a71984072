package audit

import (
	"encoding/json"
	"fmt"
)

func validateRecord(rec Record) error {
	if rec.Resource == "" {
		return fmt.Errorf("resource cannot be empty")
	}

	if rec.Action == "" {
		return fmt.Errorf("action cannot be empty")
	}

	if len(rec.Args) > 0 && !json.Valid(rec.Args) {
		return fmt.Errorf("args must be valid JSON")
	}

	if !isValidDecision(rec.Decision) {
		return fmt.Errorf("invalid decision: %s", rec.Decision)
	}

	if rec.Reason == "" {
		return fmt.Errorf("reason cannot be empty")
	}

	return nil
}

func isValidDecision(d Decision) bool {
	switch d {
	case DecisionAllow, DecisionDeny, DecisionRequireApproval, DecisionApproved, DecisionRejected:
		return true
	}
	return false
}
