package context

import (
	stdcontext "context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
)

// DefaultVATRate is the tax rate applied when none is configured.
var DefaultVATRate = decimal.RequireFromString("0.12")

// ContextBuilder is responsible for creating TraceContext and CheckoutContext.
type ContextBuilder struct {
	cfg CheckoutConfig
	now func() time.Time
}

// NewContextBuilder creates a new ContextBuilder.
func NewContextBuilder(cfg CheckoutConfig) *ContextBuilder {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 300 * time.Second
	}
	if !cfg.VATRate.IsPositive() {
		cfg.VATRate = DefaultVATRate
	}
	return &ContextBuilder{cfg: cfg, now: time.Now}
}

// BuildContexts creates the trace and checkout contexts of one attempt. The
// customer identity is validated here, before any provider is contacted.
func (cb *ContextBuilder) BuildContexts(parent stdcontext.Context, customerID int64, bankAccount string, billing domain.BillingInfo) (TraceContext, CheckoutContext, error) {
	traceCtx := NewTraceContext(parent)

	if customerID <= 0 {
		return traceCtx, CheckoutContext{}, fmt.Errorf("customer id must be positive: %w", failure.ErrInvalidCheckout)
	}
	if strings.TrimSpace(bankAccount) == "" {
		return traceCtx, CheckoutContext{}, fmt.Errorf("bank account is required: %w", failure.ErrInvalidCheckout)
	}
	if strings.TrimSpace(cb.cfg.PlatformAccount) == "" {
		return traceCtx, CheckoutContext{}, fmt.Errorf("platform account is not configured")
	}

	return traceCtx, CheckoutContext{
		CheckoutID:      uuid.NewString(),
		CustomerID:      customerID,
		BankAccount:     strings.TrimSpace(bankAccount),
		PlatformAccount: cb.cfg.PlatformAccount,
		Billing:         billing,
		HoldTTL:         cb.cfg.HoldTTL,
		VATRate:         cb.cfg.VATRate,
		StartedAt:       cb.now(),
	}, nil
}
