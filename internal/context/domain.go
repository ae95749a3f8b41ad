package context

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/travel-orchestrator/internal/domain"
)

// CheckoutConfig is the static configuration every checkout attempt starts from.
type CheckoutConfig struct {
	PlatformAccount string
	HoldTTL         time.Duration
	VATRate         decimal.Decimal
}

// CheckoutContext carries the business data of one checkout attempt.
type CheckoutContext struct {
	CheckoutID      string
	CustomerID      int64
	BankAccount     string
	PlatformAccount string
	Billing         domain.BillingInfo
	HoldTTL         time.Duration
	VATRate         decimal.Decimal
	StartedAt       time.Time
}

// Elapsed is the time since the checkout started.
func (c CheckoutContext) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}
