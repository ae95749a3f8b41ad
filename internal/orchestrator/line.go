package orchestrator

import (
	stdcontext "context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/adapter"
	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/context"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/hold"
	"github.com/yourorg/travel-orchestrator/internal/planbuilder"
)

// lineResult is the tagged result of one line pipeline. target and conn are
// kept for compensation of confirmed lines.
type lineResult struct {
	outcome domain.ReservationOutcome
	err     error
	target  catalog.Target
	conn    adapter.Connector
}

// runLines drives every line on a bounded pool. Results are written by index
// so cart order is preserved.
func (o *Orchestrator) runLines(ctx stdcontext.Context, traceCtx context.TraceContext, cc context.CheckoutContext, plan *planbuilder.CheckoutPlan, holds *hold.Manager) []lineResult {
	results := make([]lineResult, len(plan.Lines))
	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup
	for i := range plan.Lines {
		lp := plan.Lines[i]
		lc := context.DeriveLineContext(traceCtx, cc, lp.Index, lp.LineID, lp.Line)
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[lp.Index] = o.processLine(ctx, lc, lp, holds)
		}()
	}
	wg.Wait()
	return results
}

// processLine runs hold → register → liveness check → confirm → invoice. A
// panic before confirmation becomes a failed outcome of this line only; after
// confirmation the line stays reserved with a warning.
func (o *Orchestrator) processLine(ctx stdcontext.Context, lc context.LineContext, lp planbuilder.LinePlan, holds *hold.Manager) (res lineResult) {
	line := lp.Line
	logger := o.logger.With(lc.Fields()...)
	res.outcome = domain.ReservationOutcome{
		LineIndex: lp.Index,
		Kind:      line.Kind,
		ServiceID: line.ServiceID,
		Title:     line.Title,
		Amount:    lp.Invoice.Total,
		State:     domain.StateInitiated,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("line pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			if res.outcome.Success && res.outcome.ConfirmationCode != "" {
				// Confirmed at the provider: the line must still be charged or compensated.
				res.outcome.Warning = msgInternalAfterConfirm
			} else {
				res.fail(failure.New(failure.ClassInternal, "", "panic: %v", r), msgInternal)
			}
		}
		status := "success"
		if !res.outcome.Success {
			status = "failure"
		}
		o.metrics.LineOutcomes.WithLabelValues(string(line.Kind), status).Inc()
	}()

	target, err := o.resolver.Lookup(ctx, line.ServiceID)
	if err != nil {
		logger.Warn("service lookup failed", zap.Error(err))
		return res.fail(err, msgServiceUnavailable)
	}
	if target.Entry.Kind != line.Kind {
		return res.fail(fmt.Errorf("service %d sells %s, not %s: %w", line.ServiceID, target.Entry.Kind, line.Kind, failure.ErrInvalidCheckout), msgKindMismatch)
	}
	conn, err := o.connectors.Get(line.Kind)
	if err != nil {
		return res.fail(err, msgServiceUnavailable)
	}
	res.target, res.conn = target, conn

	h, err := conn.CreateHold(ctx, target, line.ProductID, adapter.Availability{Dates: line.Dates, PartySize: line.PartySize}, lc.HoldTTL)
	if err != nil {
		logger.Warn("create hold failed", zap.Error(err))
		return res.fail(err, msgHoldFailed)
	}
	h.LineIndex = lp.Index
	holds.Track(h)
	res.outcome.State = domain.StateHoldAcquired
	logger.Debug("hold acquired", zap.String("hold_id", h.ID), zap.Time("expires_at", h.ExpiresAt))

	customer, err := o.providerCustomer(ctx, lc, target, conn, logger)
	if err != nil {
		logger.Warn("customer registration failed", zap.Error(err))
		o.releaseHold(ctx, lp.Index, target, conn, holds, logger)
		return res.fail(err, msgRegisterFailed)
	}
	res.outcome.State = domain.StateCustomerRegistered

	if !holds.IsLive(h) {
		logger.Info("hold expired before confirmation", zap.String("hold_id", h.ID))
		o.releaseHold(ctx, lp.Index, target, conn, holds, logger)
		return res.fail(&failure.Error{
			Class: failure.ClassProviderRejection, Op: string(domain.OpConfirm),
			Message: "hold expired before confirmation", Err: failure.ErrHoldExpired,
		}, msgHoldExpired)
	}

	code, err := conn.ConfirmReservation(ctx, target, line.ProductID, h.ID, customer)
	if err != nil {
		logger.Warn("confirm failed", zap.Error(err))
		o.releaseHold(ctx, lp.Index, target, conn, holds, logger)
		if errors.Is(err, failure.ErrHoldExpired) {
			return res.fail(err, msgHoldExpired)
		}
		return res.fail(err, msgConfirmFailed)
	}
	holds.Release(lp.Index)
	res.outcome.Success = true
	res.outcome.ConfirmationCode = code
	res.outcome.State = domain.StateReserved
	logger.Info("reservation confirmed", zap.String("confirmation_code", code))

	url, err := conn.GenerateInvoice(ctx, target, code, adapter.Invoice{
		Subtotal: lp.Invoice.Subtotal,
		Tax:      lp.Invoice.Tax,
		Total:    lp.Invoice.Total,
		Billing:  lc.Billing,
	})
	if err != nil {
		logger.Warn("invoice failed; reservation kept", zap.String("confirmation_code", code), zap.Error(err))
		res.outcome.Warning = msgInvoiceFailed
		return res
	}
	res.outcome.InvoiceURL = url
	res.outcome.State = domain.StateInvoiced
	return res
}

func (r *lineResult) fail(err error, message string) lineResult {
	r.err = err
	r.outcome.Success = false
	r.outcome.ConfirmationCode = ""
	r.outcome.InvoiceURL = ""
	r.outcome.ErrorMessage = message
	r.outcome.FailureCode = string(failure.ClassOf(err))
	r.outcome.State = domain.StateFailed
	return *r
}

// providerCustomer reuses the external id stored for (customer, service) or
// registers the customer with the provider and stores the new id.
func (o *Orchestrator) providerCustomer(ctx stdcontext.Context, lc context.LineContext, target catalog.Target, conn adapter.Connector, logger *zap.Logger) (adapter.Customer, error) {
	customer := adapter.Customer{Name: lc.Billing.Name, Document: lc.Billing.Document, Email: lc.Billing.Email}

	id, found, err := o.store.FindExternalCustomer(ctx, lc.CustomerID, target.Entry.ID)
	if err != nil {
		logger.Warn("external customer lookup failed; registering again", zap.Error(err))
	}
	if found && id != "" {
		customer.ExternalID = id
		return customer, nil
	}

	id, err = conn.RegisterExternalCustomer(ctx, target, customer)
	if err != nil {
		return customer, err
	}
	customer.ExternalID = id
	if err := o.store.SaveExternalCustomer(ctx, lc.CustomerID, target.Entry.ID, id); err != nil {
		logger.Warn("external customer id not stored", zap.String("external_id", id), zap.Error(err))
	}
	return customer, nil
}

// releaseHold forgets the hold and asks the provider to drop it when the
// provider offers that operation.
func (o *Orchestrator) releaseHold(ctx stdcontext.Context, index int, target catalog.Target, conn adapter.Connector, holds *hold.Manager, logger *zap.Logger) {
	h, ok := holds.Release(index)
	if !ok {
		return
	}
	err := conn.ReleaseHold(ctx, target, h.ID)
	switch {
	case err == nil:
		logger.Debug("hold released", zap.String("hold_id", h.ID))
	case failure.IsClass(err, failure.ClassProtocolUnavailable):
		logger.Debug("provider offers no hold release; letting it expire", zap.String("hold_id", h.ID))
	default:
		logger.Warn("hold release failed", zap.String("hold_id", h.ID), zap.Error(err))
	}
}
