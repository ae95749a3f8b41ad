package adapter

import "github.com/yourorg/travel-orchestrator/internal/domain"

// NewTourPackage returns the tour package connector. Package operators only
// expose the legacy protocol.
func NewTourPackage(c Caller, opts Options) *KindConnector {
	return newConnector(c, profile{
		kind:          domain.KindPackage,
		resourceLacks: append([]domain.Operation{domain.OpReleaseHold}, domain.Operations...),
		request: func(a Availability) map[string]any {
			p := map[string]any{}
			if a.Dates != nil {
				p["departure"] = a.Dates.From
			}
			if a.PartySize > 0 {
				p["travellers"] = a.PartySize
			}
			return p
		},
	}, opts)
}
