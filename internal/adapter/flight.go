package adapter

import "github.com/yourorg/travel-orchestrator/internal/domain"

// NewFlight returns the flight connector. Seats are requested per passenger
// on the departure date.
func NewFlight(c Caller, opts Options) *KindConnector {
	return newConnector(c, profile{
		kind: domain.KindFlight,
		request: func(a Availability) map[string]any {
			p := map[string]any{}
			if a.Dates != nil {
				p["departure"] = a.Dates.From
				if !a.Dates.To.Equal(a.Dates.From) {
					p["return"] = a.Dates.To
				}
			}
			if a.PartySize > 0 {
				p["seats"] = a.PartySize
			}
			return p
		},
	}, opts)
}
