package adapter

import "github.com/yourorg/travel-orchestrator/internal/domain"

func NewHotel(c Caller, opts Options) *KindConnector {
	return newConnector(c, profile{
		kind: domain.KindHotel,
		request: func(a Availability) map[string]any {
			p := map[string]any{}
			if a.Dates != nil {
				p["check_in"] = a.Dates.From
				p["check_out"] = a.Dates.To
			}
			if a.PartySize > 0 {
				p["guests"] = a.PartySize
			}
			return p
		},
	}, opts)
}
