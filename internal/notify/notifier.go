package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Alert describes a request that is waiting for a human decision.
type Alert struct {
	RequestID string
	Resource  string
	Action    string
	Args      map[string]any
	Reason    string
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log. It is used when no webhook is set.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, alert Alert) error {
	log.Warn().
		Str("request_id", alert.RequestID).
		Str("resource", alert.Resource).
		Str("action", alert.Action).
		Str("reason", alert.Reason).
		Msg("approval required - no webhook configured, alert logged only")
	return nil
}
