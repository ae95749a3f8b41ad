package adapter

import "github.com/yourorg/travel-orchestrator/internal/domain"

func NewRestaurant(c Caller, opts Options) *KindConnector {
	return newConnector(c, profile{
		kind:          domain.KindRestaurant,
		resourceLacks: []domain.Operation{domain.OpRegisterCustomer, domain.OpReleaseHold},
		request: func(a Availability) map[string]any {
			p := map[string]any{}
			if a.Dates != nil {
				p["date"] = a.Dates.From
			}
			if a.PartySize > 0 {
				p["party_size"] = a.PartySize
			}
			return p
		},
	}, opts)
}
