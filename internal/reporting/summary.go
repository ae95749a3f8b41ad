// Package reporting summarises the line outcomes of a checkout.
package reporting

import (
	"github.com/shopspring/decimal"

	"github.com/yourorg/travel-orchestrator/internal/domain"
)

// KindSummary counts outcomes for one product kind.
type KindSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// CheckoutSummary is attached to every checkout result.
type CheckoutSummary struct {
	Lines           int                                `json:"lines"`
	Succeeded       int                                `json:"succeeded"`
	Failed          int                                `json:"failed"`
	Invoiced        int                                `json:"invoiced"`
	Warnings        int                                `json:"warnings"`
	ChargeableTotal decimal.Decimal                    `json:"chargeable_total"`
	ByKind          map[domain.ProductKind]KindSummary `json:"by_kind"`
	// FailureBreakdown counts failed lines per failure class code.
	FailureBreakdown map[string]int `json:"failure_breakdown"`
}

type Reporter struct{}

func NewReporter() *Reporter {
	return &Reporter{}
}

// Summarize aggregates outcomes. The chargeable total is the sum of the
// amounts of succeeded lines.
func (r *Reporter) Summarize(outcomes []domain.ReservationOutcome) *CheckoutSummary {
	s := &CheckoutSummary{
		Lines:            len(outcomes),
		ChargeableTotal:  decimal.Zero,
		ByKind:           make(map[domain.ProductKind]KindSummary),
		FailureBreakdown: make(map[string]int),
	}
	for _, o := range outcomes {
		k := s.ByKind[o.Kind]
		if o.Success {
			s.Succeeded++
			k.Succeeded++
			s.ChargeableTotal = s.ChargeableTotal.Add(o.Amount)
			if o.InvoiceURL != "" {
				s.Invoiced++
			}
		} else {
			s.Failed++
			k.Failed++
			if o.FailureCode != "" {
				s.FailureBreakdown[o.FailureCode]++
			}
		}
		if o.Warning != "" {
			s.Warnings++
		}
		s.ByKind[o.Kind] = k
	}
	s.ChargeableTotal = s.ChargeableTotal.Round(2)
	return s
}

// ChargeableTotal is Σ amount over the succeeded outcomes.
func ChargeableTotal(outcomes []domain.ReservationOutcome) decimal.Decimal {
	total := decimal.Zero
	for _, o := range outcomes {
		if o.Success {
			total = total.Add(o.Amount)
		}
	}
	return total.Round(2)
}
