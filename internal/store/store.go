// Package store persists the catalog, external customer ids, purchases and
// reservations. SQLStore runs on postgres (lib/pq) or sqlite (modernc);
// Memory keeps everything in process.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/travel-orchestrator/internal/domain"
)

// Repository is everything the checkout and cancellation coordinators and
// the catalog resolver need from persistence.
type Repository interface {
	GetService(ctx context.Context, serviceID int64) (domain.ServiceCatalogEntry, error)
	ResolveDescriptors(ctx context.Context, serviceID int64) ([]domain.ProtocolDescriptor, error)
	SaveService(ctx context.Context, entry domain.ServiceCatalogEntry, descriptors ...domain.ProtocolDescriptor) error

	FindExternalCustomer(ctx context.Context, customerID, serviceID int64) (string, bool, error)
	SaveExternalCustomer(ctx context.Context, customerID, serviceID int64, externalID string) error

	SavePurchase(ctx context.Context, purchase domain.PurchaseRecord, reservations []domain.Reservation) error
	GetPurchase(ctx context.Context, purchaseID string) (domain.PurchaseRecord, error)
	ListReservations(ctx context.Context, purchaseID string) ([]domain.Reservation, error)
	GetReservation(ctx context.Context, reservationID int64) (domain.Reservation, error)
	// DeactivateReservation flips an active reservation inactive and records
	// the refund. It fails with failure.ErrReservationNotFound when no active
	// reservation has that id.
	DeactivateReservation(ctx context.Context, reservationID int64, refund decimal.Decimal, at time.Time) error

	Close() error
}
