package planbuilder

import (
	"github.com/shopspring/decimal"
)

// Breakdown splits a tax-inclusive line total.
type Breakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// TaxCalculator computes the invoice breakdown of a line total.
type TaxCalculator interface {
	Breakdown(total decimal.Decimal) Breakdown
}

// InclusiveVAT treats totals as already including VAT at Rate.
type InclusiveVAT struct {
	Rate decimal.Decimal
}

func NewInclusiveVAT(rate decimal.Decimal) *InclusiveVAT {
	return &InclusiveVAT{Rate: rate}
}

// Breakdown returns subtotal = round(total / (1+rate), 2) and tax = total - subtotal.
func (v *InclusiveVAT) Breakdown(total decimal.Decimal) Breakdown {
	total = total.Round(2)
	if !v.Rate.IsPositive() {
		return Breakdown{Subtotal: total, Tax: decimal.Zero, Total: total}
	}
	subtotal := total.Div(decimal.NewFromInt(1).Add(v.Rate)).Round(2)
	return Breakdown{Subtotal: subtotal, Tax: total.Sub(subtotal), Total: total}
}
