// Package planbuilder validates a cart and turns it into a checkout plan: one
// entry per line with a stable line id and its invoice breakdown.
package planbuilder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/travel-orchestrator/internal/context"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/metrics"
)

// LinePlan is one cart line ready to be driven through its pipeline.
type LinePlan struct {
	Index   int
	LineID  string
	Line    domain.CartLine
	Invoice Breakdown
}

type CheckoutPlan struct {
	PlanID     string
	CheckoutID string
	Lines      []LinePlan
}

// PlanBuilder constructs a CheckoutPlan from the cart and the checkout context.
type PlanBuilder struct {
	tax     TaxCalculator
	metrics *metrics.Metrics
}

func NewPlanBuilder(tax TaxCalculator, m *metrics.Metrics) *PlanBuilder {
	if tax == nil {
		panic("TaxCalculator cannot be nil")
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &PlanBuilder{tax: tax, metrics: m}
}

// Build validates every line before anything is sent to a provider. Any
// invalid line rejects the whole cart with failure.ErrInvalidCheckout.
func (b *PlanBuilder) Build(traceCtx context.TraceContext, checkoutCtx context.CheckoutContext, lines []domain.CartLine) (*CheckoutPlan, error) {
	start := time.Now()
	b.metrics.PlanRequests.Inc()
	defer func() { b.metrics.PlanBuildDuration.Observe(time.Since(start).Seconds()) }()

	_, span := otel.Tracer("planbuilder").Start(traceCtx.Context(), "PlanBuilder.Build")
	defer span.End()
	span.SetAttributes(attribute.Int("lines", len(lines)))

	if len(lines) == 0 {
		span.SetStatus(codes.Error, "empty cart")
		return nil, fmt.Errorf("cart is empty: %w", failure.ErrInvalidCheckout)
	}

	plan := &CheckoutPlan{PlanID: uuid.NewString(), CheckoutID: checkoutCtx.CheckoutID, Lines: make([]LinePlan, 0, len(lines))}
	for i, line := range lines {
		if err := validateLine(line); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("line %d: %s: %w", i, err, failure.ErrInvalidCheckout)
		}
		plan.Lines = append(plan.Lines, LinePlan{
			Index:   i,
			LineID:  fmt.Sprintf("%s-%d", plan.PlanID[:8], i),
			Line:    line,
			Invoice: b.tax.Breakdown(line.Amount()),
		})
	}
	return plan, nil
}

func validateLine(l domain.CartLine) error {
	if _, err := domain.ParseProductKind(string(l.Kind)); err != nil {
		return err
	}
	switch {
	case l.ServiceID <= 0:
		return fmt.Errorf("service id must be positive")
	case strings.TrimSpace(l.ProductID) == "":
		return fmt.Errorf("product id is required")
	case l.Quantity <= 0:
		return fmt.Errorf("quantity must be positive")
	case l.FinalPrice.IsNegative() || l.UnitPrice.IsNegative():
		return fmt.Errorf("prices cannot be negative")
	case l.PartySize < 0:
		return fmt.Errorf("party size cannot be negative")
	case l.Dates != nil && !l.Dates.Valid():
		return fmt.Errorf("invalid date range")
	}
	return nil
}
