// Package governance answers "may I do X?" and parks requests that need a
// human until they are approved or rejected.
package governance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dagbolade/sudomode/internal/approval"
	"github.com/dagbolade/sudomode/internal/audit"
	"github.com/dagbolade/sudomode/internal/metrics"
	"github.com/dagbolade/sudomode/internal/notify"
	"github.com/dagbolade/sudomode/internal/policy"
	"github.com/dagbolade/sudomode/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AlertDispatcher hands alerts to the notifier without blocking.
type AlertDispatcher interface {
	Dispatch(alert notify.Alert) bool
}

type Service struct {
	evaluator  policy.Evaluator
	store      approval.Store
	dispatcher AlertDispatcher
	audit      audit.Store
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Service)

func WithDispatcher(d AlertDispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithAudit records every decision and resolution in store.
func WithAudit(store audit.Store) Option {
	return func(s *Service) { s.audit = store }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func NewService(evaluator policy.Evaluator, store approval.Store, opts ...Option) *Service {
	s := &Service{
		evaluator: evaluator,
		store:     store,
		tracer:    telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Govern evaluates req and, when the rule set asks for a human, creates a
// pending request and fires an alert. The only error is a failure to
// create the pending request; notifier and audit failures are logged.
func (s *Service) Govern(ctx context.Context, req policy.Request) (policy.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "governance.govern", trace.WithAttributes(
		attribute.String("sudomode.resource", req.Resource),
		attribute.String("sudomode.action", req.Action),
	))
	defer span.End()

	decision := s.evaluator.Evaluate(ctx, req)
	span.SetAttributes(attribute.String("sudomode.decision", string(decision.Status)))

	if decision.Status == policy.StatusRequireApproval {
		pending, err := s.store.Create(ctx, req, decision.Reason)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create pending request")
			return policy.Decision{}, fmt.Errorf("create pending request: %w", err)
		}
		decision.RequestID = pending.ID
		span.SetAttributes(attribute.String("sudomode.request_id", pending.ID))

		s.alert(req, decision)
		s.refreshPending(ctx)
	}

	s.metrics.ObserveDecision(string(decision.Status))
	s.record(ctx, req.Resource, req.Action, req.Args, auditDecision(decision.Status), decision.Reason, decision.RequestID)

	log.Info().
		Str("resource", req.Resource).
		Str("action", req.Action).
		Str("status", string(decision.Status)).
		Str("rule", decision.Rule).
		Str("request_id", decision.RequestID).
		Msg("request governed")

	return decision, nil
}

// Get returns the pending request for id.
func (s *Service) Get(ctx context.Context, id string) (approval.Request, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter approval.ListFilter) ([]approval.Request, error) {
	return s.store.List(ctx, filter)
}

// Delete removes a request regardless of its status.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.refreshPending(ctx)
	log.Info().Str("id", id).Msg("approval request deleted")
	return nil
}

func (s *Service) alert(req policy.Request, decision policy.Decision) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(notify.Alert{
		RequestID: decision.RequestID,
		Resource:  req.Resource,
		Action:    req.Action,
		Args:      req.Args,
		Reason:    decision.Reason,
	})
}

func (s *Service) record(ctx context.Context, resource, action string, args map[string]any, decision audit.Decision, reason, requestID string) {
	if s.audit == nil {
		return
	}

	raw, err := json.Marshal(args)
	if err != nil || args == nil {
		raw = json.RawMessage(`{}`)
	}

	err = s.audit.Log(ctx, audit.Record{
		Resource:  resource,
		Action:    action,
		Args:      raw,
		Decision:  decision,
		Reason:    reason,
		RequestID: requestID,
	})
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("audit logging failed")
	}
}

type pendingCounter interface {
	PendingCount() int
}

func (s *Service) refreshPending(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if pc, ok := s.store.(pendingCounter); ok {
		s.metrics.SetPending(pc.PendingCount())
		return
	}
	pending, err := s.store.List(ctx, approval.ListFilter{Status: approval.StatusPending})
	if err == nil {
		s.metrics.SetPending(len(pending))
	}
}

func auditDecision(status policy.Status) audit.Decision {
	switch status {
	case policy.StatusAllow:
		return audit.DecisionAllow
	case policy.StatusRequireApproval:
		return audit.DecisionRequireApproval
	default:
		return audit.DecisionDeny
	}
}
