// Package adapter defines the provider Connector interface and the per-kind
// connectors for flights, hotels, cars, restaurants and tour packages.
// Connectors build protocol-neutral requests, hand them to the router (which
// picks resource-HTTP or legacy-RPC) and normalise the provider answers into
// domain types.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/router"
	"github.com/yourorg/travel-orchestrator/internal/wire"
)

// DefaultHoldTTL is used when CreateHold is called without a TTL.
const DefaultHoldTTL = 300 * time.Second

// SearchFilters narrows a provider search.
type SearchFilters struct {
	Query     string
	Dates     *domain.DateRange
	PartySize int
	// Extra carries provider-specific filters verbatim.
	Extra map[string]string
}

// Availability is the date range and/or party size a product is requested for.
type Availability struct {
	Dates     *domain.DateRange
	PartySize int
}

// Customer identifies the buyer towards a provider. ExternalID is the id the
// provider assigned when the customer was registered.
type Customer struct {
	Name       string
	Document   string
	Email      string
	ExternalID string
}

// Invoice is the tax-inclusive breakdown sent with GenerateInvoice.
type Invoice struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Billing  domain.BillingInfo
}

// Connector is implemented by each product kind. Every operation receives
// the resolved catalog target so it can fall back between families.
type Connector interface {
	Kind() domain.ProductKind

	// Search is read-only and retried on network failures.
	Search(ctx context.Context, t catalog.Target, f SearchFilters) ([]domain.Product, error)
	// CheckAvailability is advisory; a true answer does not reserve anything.
	CheckAvailability(ctx context.Context, t catalog.Target, productID string, a Availability) (bool, error)
	// CreateHold is never retried. A zero ttl means DefaultHoldTTL.
	CreateHold(ctx context.Context, t catalog.Target, productID string, a Availability, ttl time.Duration) (domain.Hold, error)
	// RegisterExternalCustomer treats "customer already exists" as success
	// and returns the id carried by the conflict answer.
	RegisterExternalCustomer(ctx context.Context, t catalog.Target, c Customer) (string, error)
	// ConfirmReservation turns a hold into a reservation. An expired hold is a
	// permanent rejection wrapping failure.ErrHoldExpired.
	ConfirmReservation(ctx context.Context, t catalog.Target, productID, holdID string, c Customer) (string, error)
	GenerateInvoice(ctx context.Context, t catalog.Target, confirmationCode string, inv Invoice) (string, error)
	FetchReservation(ctx context.Context, t catalog.Target, confirmationCode string) (domain.ReservationSnapshot, error)
	// CancelReservation returns the refund amount. Calling it twice for the
	// same confirmation code returns the same amount.
	CancelReservation(ctx context.Context, t catalog.Target, confirmationCode string) (decimal.Decimal, error)
	// ReleaseHold is only available when a descriptor configures a path for it.
	ReleaseHold(ctx context.Context, t catalog.Target, holdID string) error
}

// Caller executes a routed request. *router.Router implements it.
type Caller interface {
	Execute(ctx context.Context, route router.Route) (wire.Response, domain.ProtocolFamily, error)
}

// Registry maps product kinds onto their connector.
type Registry struct {
	connectors map[domain.ProductKind]Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[domain.ProductKind]Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Kind()] = c
	}
	return r
}

// Get returns the connector for kind.
func (r *Registry) Get(kind domain.ProductKind) (Connector, error) {
	c, ok := r.connectors[kind]
	if !ok {
		return nil, fmt.Errorf("adapter: no connector registered for kind %q", kind)
	}
	return c, nil
}

// Kinds lists the registered kinds in domain.Kinds order.
func (r *Registry) Kinds() []domain.ProductKind {
	var out []domain.ProductKind
	for _, k := range domain.Kinds {
		if _, ok := r.connectors[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// NewDefaultRegistry builds the five standard connectors sharing one caller.
func NewDefaultRegistry(c Caller, opts Options) *Registry {
	return NewRegistry(
		NewFlight(c, opts),
		NewHotel(c, opts),
		NewCar(c, opts),
		NewRestaurant(c, opts),
		NewTourPackage(c, opts),
	)
}
