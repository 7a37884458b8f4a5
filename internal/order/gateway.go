package order

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"tradepulse/internal/journal"
	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/internal/obs"
	"tradepulse/internal/risk"
	"tradepulse/pkg/exception"
)

const defaultSubmitTimeout = 5 * time.Second

// Submitter forwards an accepted order to the active venue. The
// orchestrator implements it for live adapters; tests inject stubs.
type Submitter interface {
	Submit(ctx context.Context, order model.Order) (model.OrderResult, error)
}

// Recorder receives the decision and fill records for history
// write-through. Implementations must not block the caller.
type Recorder interface {
	RecordDecision(model.Order, model.RiskDecision)
	RecordFill(model.Fill)
}

// Config wires the gateway.
type Config struct {
	Risk      *risk.Engine
	Venue     Submitter
	Journal   *journal.Journal
	Store     Recorder
	Metrics   *obs.Metrics
	Traces    *obs.TraceGenerator
	AccountID string

	// SubmitTimeout bounds the venue round trip. Expiry releases the
	// reservation and rejects the order with Timeout.
	SubmitTimeout time.Duration
}

// Gateway is the order path: every client order passes the risk engine,
// and accepted orders go to the venue under a reserve-then-confirm-or-
// release protocol. Exactly one decision record is journaled per order,
// before any fill record for that order.
type Gateway struct {
	cfg Config
}

// NewGateway validates config and builds the order gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Risk == nil || cfg.Venue == nil {
		return nil, exception.ErrNilInstance
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	return &Gateway{cfg: cfg}, nil
}

// Submit runs one order end to end and returns the client-facing
// decision. A venue failure after acceptance rolls the reservation back
// and surfaces a rejection; the risk engine's accepted decision record is
// already journaled by then, which is why downstream consumers dedup by
// order id.
func (g *Gateway) Submit(ctx context.Context, order model.Order) model.RiskDecision {
	flowStart := time.Now()
	traceID := g.cfg.Traces.Next()

	evalStart := time.Now()
	decision := g.cfg.Risk.Validate(g.cfg.AccountID, order)
	g.cfg.Metrics.ObserveRiskEval(time.Since(evalStart))
	g.cfg.Metrics.ObserveDecision(decision.Outcome, decision.Reason)

	g.journalDecision(traceID, decision)
	if g.cfg.Store != nil {
		g.cfg.Store.RecordDecision(order, decision)
	}

	if !decision.Accepted() {
		logs.Infof("order %s rejected reason=%s account=%s symbol=%s trace=%d",
			order.ID, decision.Reason, g.cfg.AccountID, order.Symbol, traceID)
		return decision
	}

	submitCtx, cancel := context.WithTimeout(ctx, g.cfg.SubmitTimeout)
	result, err := g.cfg.Venue.Submit(submitCtx, order)
	cancel()
	if err != nil {
		return g.rollback(order, decision, traceID, err)
	}

	fill, err := g.cfg.Risk.CommitFill(order.ID, result.FillPrice)
	if err != nil {
		// The reservation vanished between acceptance and confirmation;
		// nothing to roll back, but the fill cannot be booked.
		logs.Errorf("commit fill order %s, err: %+v", order.ID, err)
		decision.Outcome = enum.OutcomeRejected
		decision.Reason = enum.RejectReasonRejectedByVenue
		return decision
	}

	g.journalFill(traceID, fill)
	if g.cfg.Store != nil {
		g.cfg.Store.RecordFill(fill)
	}
	g.cfg.Metrics.IncFill()
	g.cfg.Metrics.ObserveOrderFlow(time.Since(flowStart))

	logs.Infof("order %s filled qty=%d price=%s venue_order=%s trace=%d",
		order.ID, fill.Quantity, fill.Price, result.VenueOrderID, traceID)
	return decision
}

// rollback releases the reservation after a venue failure and rewrites
// the client-facing outcome. Reservation release must succeed for account
// state to stay truthful, so a release error is loud.
func (g *Gateway) rollback(order model.Order, decision model.RiskDecision, traceID uint64, cause error) model.RiskDecision {
	if err := g.cfg.Risk.ReleaseReservation(order.ID); err != nil {
		logs.Errorf("release reservation order %s, err: %+v", order.ID, err)
	}

	decision.Outcome = enum.OutcomeRejected
	switch {
	case errors.Is(cause, exception.ErrSubmitTimeout), errors.Is(cause, context.DeadlineExceeded):
		decision.Reason = enum.RejectReasonTimeout
	default:
		decision.Reason = enum.RejectReasonRejectedByVenue
	}

	logs.Warnf("order %s venue failure reason=%s trace=%d, err: %+v", order.ID, decision.Reason, traceID, cause)
	return decision
}

func (g *Gateway) journalDecision(traceID uint64, decision model.RiskDecision) {
	if g.cfg.Journal == nil {
		return
	}
	if err := g.cfg.Journal.AppendDecision(traceID, decision); err != nil {
		logs.Errorf("journal decision order %s, err: %+v", decision.OrderID, err)
	}
}

func (g *Gateway) journalFill(traceID uint64, fill model.Fill) {
	if g.cfg.Journal == nil {
		return
	}
	if err := g.cfg.Journal.AppendFill(traceID, fill); err != nil {
		logs.Errorf("journal fill order %s, err: %+v", fill.OrderID, err)
	}
}
