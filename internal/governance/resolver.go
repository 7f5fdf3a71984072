package governance

import (
	"context"
	"errors"

	"github.com/dagbolade/sudomode/internal/approval"
	"github.com/dagbolade/sudomode/internal/audit"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Resolver lets a human move a pending request to APPROVED or REJECTED.
// Unknown ids return approval.ErrNotFound; requests that are no longer
// pending return approval.ErrConflict and are left untouched.
type Resolver struct {
	svc *Service
}

func NewResolver(svc *Service) *Resolver {
	return &Resolver{svc: svc}
}

func (r *Resolver) Approve(ctx context.Context, id string) (approval.Request, error) {
	return r.resolve(ctx, id, approval.StatusApproved)
}

func (r *Resolver) Reject(ctx context.Context, id string) (approval.Request, error) {
	return r.resolve(ctx, id, approval.StatusRejected)
}

func (r *Resolver) resolve(ctx context.Context, id string, to approval.Status) (approval.Request, error) {
	action := "approve"
	decision := audit.DecisionApproved
	if to == approval.StatusRejected {
		action = "reject"
		decision = audit.DecisionRejected
	}

	ctx, span := r.svc.tracer.Start(ctx, "governance."+action, trace.WithAttributes(
		attribute.String("sudomode.request_id", id),
	))
	defer span.End()

	req, err := r.svc.store.Transition(ctx, id, to)
	if err != nil {
		r.svc.metrics.ObserveResolution(action, outcome(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		return approval.Request{}, err
	}

	r.svc.metrics.ObserveResolution(action, "ok")
	r.svc.refreshPending(ctx)
	r.svc.record(ctx, req.Resource, req.Action, req.Args, decision, req.Reason, req.ID)

	log.Info().Str("id", id).Str("status", string(req.Status)).Msg("request resolved")
	return req, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return "not_found"
	case errors.Is(err, approval.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
