package adapter

import "github.com/yourorg/travel-orchestrator/internal/domain"

// NewCar returns the car rental connector. Rental companies invoice through
// their legacy endpoint only.
func NewCar(c Caller, opts Options) *KindConnector {
	return newConnector(c, profile{
		kind:          domain.KindCar,
		resourceLacks: []domain.Operation{domain.OpGenerateInvoice},
		request: func(a Availability) map[string]any {
			p := map[string]any{}
			if a.Dates != nil {
				p["pickup"] = a.Dates.From
				p["dropoff"] = a.Dates.To
			}
			return p
		},
	}, opts)
}
