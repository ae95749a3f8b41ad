package reporting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/yourorg/travel-orchestrator/internal/domain"
)

func TestReporter_Summarize(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []domain.ReservationOutcome
		check    func(t *testing.T, s *CheckoutSummary)
	}{
		{
			name:     "Empty",
			outcomes: nil,
			check: func(t *testing.T, s *CheckoutSummary) {
				assert.Equal(t, 0, s.Lines)
				assert.True(t, s.ChargeableTotal.IsZero())
				assert.Empty(t, s.ByKind)
			},
		},
		{
			name: "PartialFulfilment",
			outcomes: []domain.ReservationOutcome{
				{Kind: domain.KindHotel, Success: true, Amount: decimal.RequireFromString("360.00"), InvoiceURL: "https://inv/1"},
				{Kind: domain.KindCar, Success: false, FailureCode: "NETWORK_FAILURE", Amount: decimal.RequireFromString("80.00")},
				{Kind: domain.KindHotel, Success: true, Amount: decimal.RequireFromString("40.50"), Warning: "factura pendiente"},
			},
			check: func(t *testing.T, s *CheckoutSummary) {
				assert.Equal(t, 3, s.Lines)
				assert.Equal(t, 2, s.Succeeded)
				assert.Equal(t, 1, s.Failed)
				assert.Equal(t, 1, s.Invoiced)
				assert.Equal(t, 1, s.Warnings)
				assert.Equal(t, "400.50", s.ChargeableTotal.StringFixed(2))
				assert.Equal(t, KindSummary{Succeeded: 2}, s.ByKind[domain.KindHotel])
				assert.Equal(t, KindSummary{Failed: 1}, s.ByKind[domain.KindCar])
				assert.Equal(t, map[string]int{"NETWORK_FAILURE": 1}, s.FailureBreakdown)
			},
		},
		{
			name: "AllFailed",
			outcomes: []domain.ReservationOutcome{
				{Kind: domain.KindFlight, FailureCode: "PROVIDER_REJECTION"},
				{Kind: domain.KindFlight, FailureCode: "PROVIDER_REJECTION"},
			},
			check: func(t *testing.T, s *CheckoutSummary) {
				assert.Equal(t, 0, s.Succeeded)
				assert.Equal(t, 2, s.FailureBreakdown["PROVIDER_REJECTION"])
				assert.True(t, s.ChargeableTotal.IsZero())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, NewReporter().Summarize(tt.outcomes))
		})
	}
}

func TestChargeableTotal(t *testing.T) {
	got := ChargeableTotal([]domain.ReservationOutcome{
		{Success: true, Amount: decimal.RequireFromString("10.10")},
		{Success: false, Amount: decimal.RequireFromString("99")},
		{Success: true, Amount: decimal.RequireFromString("0.205")},
	})
	assert.Equal(t, "10.31", got.StringFixed(2))
}
