// Package orchestrator runs a checkout: every cart line is driven through its
// provider pipeline (hold, register customer, confirm, invoice) on a bounded
// worker pool, the successful subset is charged with a single debit, and
// confirmed lines are cancelled again when the debit fails.
package orchestrator

import (
	stdcontext "context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/adapter"
	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/context"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/events"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/hold"
	"github.com/yourorg/travel-orchestrator/internal/logging"
	"github.com/yourorg/travel-orchestrator/internal/metrics"
	"github.com/yourorg/travel-orchestrator/internal/planbuilder"
	"github.com/yourorg/travel-orchestrator/internal/reporting"
)

// TargetResolver finds the catalog entry and descriptors of a service.
type TargetResolver interface {
	Lookup(ctx stdcontext.Context, serviceID int64) (catalog.Target, error)
}

// Connectors returns the connector of a product kind.
type Connectors interface {
	Get(kind domain.ProductKind) (adapter.Connector, error)
}

type PaymentGateway interface {
	Debit(ctx stdcontext.Context, origin, destination string, amount decimal.Decimal) error
}

// BalanceChecker is used by the optional pre-flight balance check.
type BalanceChecker interface {
	Balance(ctx stdcontext.Context, account string) (decimal.Decimal, error)
}

// Store is the write side of the catalog collaborator used at checkout time.
type Store interface {
	FindExternalCustomer(ctx stdcontext.Context, customerID, serviceID int64) (string, bool, error)
	SaveExternalCustomer(ctx stdcontext.Context, customerID, serviceID int64, externalID string) error
	// SavePurchase persists the purchase and one reservation per succeeded line atomically.
	SavePurchase(ctx stdcontext.Context, purchase domain.PurchaseRecord, reservations []domain.Reservation) error
}

// CheckoutRequest is the input of ProcessCheckout.
type CheckoutRequest struct {
	CustomerID  int64              `json:"customer_id"`
	BankAccount string             `json:"bank_account"`
	Lines       []domain.CartLine  `json:"lines"`
	Billing     domain.BillingInfo `json:"billing"`
}

type Status string

const (
	StatusCompleted       Status = "COMPLETED"
	StatusNothingReserved Status = "NOTHING_RESERVED"
	StatusPaymentFailed   Status = "PAYMENT_FAILED"
)

// StuckCompensation is a confirmed reservation that could not be cancelled
// after the debit failed. It needs manual follow-up.
type StuckCompensation struct {
	LineIndex        int                `json:"line_index"`
	Kind             domain.ProductKind `json:"kind"`
	ServiceID        int64              `json:"service_id"`
	ConfirmationCode string             `json:"confirmation_code"`
	Error            string             `json:"error"`
}

// CheckoutResult reports the overall outcome and one outcome per cart line in cart order.
type CheckoutResult struct {
	CheckoutID    string                      `json:"checkout_id"`
	PurchaseID    string                      `json:"purchase_id,omitempty"`
	Success       bool                        `json:"success"`
	Status        Status                      `json:"status"`
	Message       string                      `json:"message"`
	FailureCode   failure.Class               `json:"failure_code,omitempty"`
	AmountCharged decimal.Decimal             `json:"amount_charged"`
	Outcomes      []domain.ReservationOutcome `json:"outcomes"`
	// StuckCompensations lists reservations still active at the provider
	// although the checkout failed.
	StuckCompensations []StuckCompensation `json:"stuck_compensations,omitempty"`
	// ReconciliationRequired is set when the customer was charged but the
	// purchase could not be persisted.
	ReconciliationRequired bool                       `json:"reconciliation_required,omitempty"`
	Summary                *reporting.CheckoutSummary `json:"summary"`
}

type Config struct {
	Workers              int
	CompensationAttempts int
	CompensationBackoff  time.Duration
	// VerifyBalance checks the customer's balance against the cart total
	// before any provider is contacted.
	VerifyBalance bool
	Now           func() time.Time
}

type Deps struct {
	Resolver   TargetResolver
	Connectors Connectors
	Payments   PaymentGateway
	Store      Store
	Publisher  events.Publisher
	Contexts   *context.ContextBuilder
	Plans      *planbuilder.PlanBuilder
	Reporter   *reporting.Reporter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Orchestrator coordinates checkouts. It is safe for concurrent use.
type Orchestrator struct {
	resolver   TargetResolver
	connectors Connectors
	payments   PaymentGateway
	store      Store
	publisher  events.Publisher
	contexts   *context.ContextBuilder
	plans      *planbuilder.PlanBuilder
	reporter   *reporting.Reporter
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        Config
	sleep      func(ctx stdcontext.Context, d time.Duration) error
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(d Deps, cfg Config) *Orchestrator {
	if d.Resolver == nil {
		panic("TargetResolver cannot be nil")
	}
	if d.Connectors == nil {
		panic("Connectors cannot be nil")
	}
	if d.Payments == nil {
		panic("PaymentGateway cannot be nil")
	}
	if d.Store == nil {
		panic("Store cannot be nil")
	}
	if d.Contexts == nil {
		panic("ContextBuilder cannot be nil")
	}
	if d.Plans == nil {
		panic("PlanBuilder cannot be nil")
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Reporter == nil {
		d.Reporter = reporting.NewReporter()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.CompensationAttempts < 1 {
		cfg.CompensationAttempts = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		resolver:   d.Resolver,
		connectors: d.Connectors,
		payments:   d.Payments,
		store:      d.Store,
		publisher:  d.Publisher,
		contexts:   d.Contexts,
		plans:      d.Plans,
		reporter:   d.Reporter,
		metrics:    d.Metrics,
		logger:     logging.OrNop(d.Logger).Named("orchestrator"),
		cfg:        cfg,
		sleep:      sleepCtx,
	}
}

// ProcessCheckout runs one checkout attempt. The returned error is non-nil
// only for requests rejected before any provider was contacted; every other
// outcome, including payment failure, is reported in the result.
func (o *Orchestrator) ProcessCheckout(ctx stdcontext.Context, req CheckoutRequest) (CheckoutResult, error) {
	traceCtx, checkoutCtx, err := o.contexts.BuildContexts(ctx, req.CustomerID, req.BankAccount, req.Billing)
	if err != nil {
		o.metrics.Checkouts.WithLabelValues("invalid").Inc()
		return CheckoutResult{}, err
	}

	spanCtx, span := otel.Tracer("orchestrator").Start(traceCtx.Context(), "Orchestrator.ProcessCheckout")
	defer span.End()
	traceCtx = context.NewTraceContextWithIDs(spanCtx, traceCtx.TraceID, span.SpanContext().SpanID().String())
	span.SetAttributes(
		attribute.String("checkout_id", checkoutCtx.CheckoutID),
		attribute.Int64("customer_id", checkoutCtx.CustomerID),
		attribute.Int("lines", len(req.Lines)),
	)
	logger := o.logger.With(traceCtx.Fields()...).With(zap.String("checkout_id", checkoutCtx.CheckoutID))

	plan, err := o.plans.Build(traceCtx, checkoutCtx, req.Lines)
	if err != nil {
		o.metrics.Checkouts.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, err.Error())
		return CheckoutResult{}, err
	}

	// Provider calls, the debit and compensation must not be abandoned
	// half-way when the caller goes away.
	work := stdcontext.WithoutCancel(spanCtx)

	if o.cfg.VerifyBalance {
		if res, ok := o.preflight(work, checkoutCtx, plan, logger); !ok {
			span.SetStatus(codes.Error, res.Message)
			return res, nil
		}
	}

	holds := hold.NewManager(o.cfg.Now)
	results := o.runLines(work, traceCtx, checkoutCtx, plan, holds)
	outcomes := make([]domain.ReservationOutcome, len(results))
	for i, r := range results {
		outcomes[i] = r.outcome
	}
	if left := holds.Outstanding(); len(left) > 0 {
		logger.Warn("holds left outstanding after line pipelines", zap.Int("count", len(left)))
	}

	res := CheckoutResult{CheckoutID: checkoutCtx.CheckoutID, AmountCharged: decimal.Zero}
	total := reporting.ChargeableTotal(outcomes)
	if total.IsZero() {
		// Free lines that did confirm are not kept without a purchase.
		res.StuckCompensations = o.compensate(work, checkoutCtx, results, msgCancelledNoCharge, outcomes, logger)
		res.Status, res.Message, res.FailureCode = StatusNothingReserved, msgNothingReserved, firstFailure(outcomes)
		return o.finish(work, span, checkoutCtx, res, outcomes, logger), nil
	}

	logger.Info("debiting customer", zap.String("amount", total.StringFixed(2)))
	if err := o.payments.Debit(work, checkoutCtx.BankAccount, checkoutCtx.PlatformAccount, total); err != nil {
		logger.Warn("debit failed, compensating confirmed lines", zap.Error(err))
		res.StuckCompensations = o.compensate(work, checkoutCtx, results, msgCancelledNoPayment, outcomes, logger)
		res.Status, res.Message, res.FailureCode = StatusPaymentFailed, msgPaymentFailed, failure.ClassPayment
		if len(res.StuckCompensations) > 0 {
			res.FailureCode = failure.ClassStuckCompensation
		}
		return o.finish(work, span, checkoutCtx, res, outcomes, logger), nil
	}

	for i := range outcomes {
		if outcomes[i].State == domain.StateInvoiced {
			outcomes[i].State = domain.StateCompleted
		}
	}
	res.Success = true
	res.Status, res.Message = StatusCompleted, msgCompleted
	res.AmountCharged = total
	res.PurchaseID = uuid.NewString()
	if err := o.persist(work, checkoutCtx, res.PurchaseID, total, outcomes); err != nil {
		logger.Error("purchase charged but not persisted; reconciliation required",
			zap.String("purchase_id", res.PurchaseID), zap.String("amount", total.StringFixed(2)), zap.Error(err))
		res.ReconciliationRequired = true
		o.publish(work, events.TypeReconciliation, checkoutCtx, map[string]any{
			"purchase_id": res.PurchaseID,
			"amount":      total.StringFixed(2),
			"error":       err.Error(),
			"outcomes":    outcomes,
		}, logger)
	}
	return o.finish(work, span, checkoutCtx, res, outcomes, logger), nil
}

// preflight rejects the checkout when the customer's balance cannot cover
// the whole cart. A failed balance lookup does not block the checkout.
func (o *Orchestrator) preflight(ctx stdcontext.Context, cc context.CheckoutContext, plan *planbuilder.CheckoutPlan, logger *zap.Logger) (CheckoutResult, bool) {
	checker, ok := o.payments.(BalanceChecker)
	if !ok {
		return CheckoutResult{}, true
	}
	cartTotal := decimal.Zero
	for _, lp := range plan.Lines {
		cartTotal = cartTotal.Add(lp.Invoice.Total)
	}
	balance, err := checker.Balance(ctx, cc.BankAccount)
	if err != nil {
		logger.Warn("balance lookup failed, continuing without pre-flight check", zap.Error(err))
		return CheckoutResult{}, true
	}
	if balance.GreaterThanOrEqual(cartTotal) {
		return CheckoutResult{}, true
	}
	logger.Info("insufficient balance",
		zap.String("balance", balance.StringFixed(2)), zap.String("cart_total", cartTotal.StringFixed(2)))
	outcomes := make([]domain.ReservationOutcome, len(plan.Lines))
	for i, lp := range plan.Lines {
		outcomes[i] = domain.ReservationOutcome{
			LineIndex: i, Kind: lp.Line.Kind, ServiceID: lp.Line.ServiceID, Title: lp.Line.Title,
			Amount: lp.Invoice.Total, State: domain.StateInitiated,
			ErrorMessage: msgInsufficient, FailureCode: string(failure.ClassPayment),
		}
	}
	o.metrics.Checkouts.WithLabelValues(string(StatusPaymentFailed)).Inc()
	return CheckoutResult{
		CheckoutID:    cc.CheckoutID,
		Status:        StatusPaymentFailed,
		Message:       msgInsufficient,
		FailureCode:   failure.ClassPayment,
		AmountCharged: decimal.Zero,
		Outcomes:      outcomes,
		Summary:       o.reporter.Summarize(outcomes),
	}, false
}

func (o *Orchestrator) persist(ctx stdcontext.Context, cc context.CheckoutContext, purchaseID string, total decimal.Decimal, outcomes []domain.ReservationOutcome) error {
	purchase := domain.PurchaseRecord{
		ID:         purchaseID,
		CustomerID: cc.CustomerID,
		Total:      total,
		CreatedAt:  o.cfg.Now().UTC(),
		Outcomes:   outcomes,
	}
	var reservations []domain.Reservation
	for _, oc := range outcomes {
		if !oc.Success {
			continue
		}
		reservations = append(reservations, domain.Reservation{
			PurchaseID:       purchaseID,
			CustomerID:       cc.CustomerID,
			ServiceID:        oc.ServiceID,
			Kind:             oc.Kind,
			ConfirmationCode: oc.ConfirmationCode,
			Title:            oc.Title,
			Amount:           oc.Amount,
			InvoiceURL:       oc.InvoiceURL,
			Active:           true,
		})
	}
	if err := o.store.SavePurchase(ctx, purchase, reservations); err != nil {
		return fmt.Errorf("save purchase %s: %w", purchaseID, err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx stdcontext.Context, span trace.Span, cc context.CheckoutContext, res CheckoutResult, outcomes []domain.ReservationOutcome, logger *zap.Logger) CheckoutResult {
	res.Outcomes = outcomes
	res.Summary = o.reporter.Summarize(outcomes)
	o.metrics.Checkouts.WithLabelValues(string(res.Status)).Inc()
	span.SetAttributes(attribute.String("status", string(res.Status)))

	eventType := events.TypeCheckoutCompleted
	if !res.Success {
		eventType = events.TypeCheckoutFailed
		span.SetStatus(codes.Error, res.Message)
	}
	o.publish(ctx, eventType, cc, res, logger)

	logger.Info("checkout finished",
		zap.String("status", string(res.Status)),
		zap.Int("succeeded", res.Summary.Succeeded),
		zap.Int("failed", res.Summary.Failed),
		zap.String("amount", res.AmountCharged.StringFixed(2)),
		zap.Duration("elapsed", cc.Elapsed()))
	return res
}

// publish never fails the checkout; broker problems are only logged.
func (o *Orchestrator) publish(ctx stdcontext.Context, eventType string, cc context.CheckoutContext, payload any, logger *zap.Logger) {
	ev, err := events.New(eventType, cc.CheckoutID, cc.CustomerID, payload)
	if err == nil {
		err = o.publisher.Publish(ctx, ev)
	}
	if err != nil {
		logger.Warn("event not published", zap.String("type", eventType), zap.Error(err))
	}
}

func firstFailure(outcomes []domain.ReservationOutcome) failure.Class {
	for _, oc := range outcomes {
		if !oc.Success && oc.FailureCode != "" {
			return failure.Class(oc.FailureCode)
		}
	}
	return failure.ClassNone
}

func sleepCtx(ctx stdcontext.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
