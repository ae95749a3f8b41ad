package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
)

// Memory is an in-process Repository. Its catalog side is a
// catalog.MemoryRepository.
type Memory struct {
	*catalog.MemoryRepository

	mu           sync.Mutex
	customers    map[[2]int64]string
	purchases    map[string]domain.PurchaseRecord
	reservations map[int64]domain.Reservation
	nextID       int64
}

func NewMemory(repo *catalog.MemoryRepository) *Memory {
	if repo == nil {
		repo = catalog.NewMemoryRepository()
	}
	return &Memory{
		MemoryRepository: repo,
		customers:        make(map[[2]int64]string),
		purchases:        make(map[string]domain.PurchaseRecord),
		reservations:     make(map[int64]domain.Reservation),
	}
}

func (m *Memory) SaveService(_ context.Context, entry domain.ServiceCatalogEntry, descriptors ...domain.ProtocolDescriptor) error {
	m.AddService(entry, descriptors...)
	return nil
}

func (m *Memory) FindExternalCustomer(_ context.Context, customerID, serviceID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.customers[[2]int64{customerID, serviceID}]
	return id, ok, nil
}

func (m *Memory) SaveExternalCustomer(_ context.Context, customerID, serviceID int64, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[[2]int64{customerID, serviceID}] = externalID
	return nil
}

func (m *Memory) SavePurchase(_ context.Context, purchase domain.PurchaseRecord, reservations []domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.purchases[purchase.ID]; dup {
		return fmt.Errorf("store: purchase %s already exists", purchase.ID)
	}
	purchase.Outcomes = append([]domain.ReservationOutcome(nil), purchase.Outcomes...)
	m.purchases[purchase.ID] = purchase
	for _, r := range reservations {
		m.nextID++
		r.ID = m.nextID
		r.PurchaseID = purchase.ID
		r.Active = true
		m.reservations[r.ID] = r
	}
	return nil
}

func (m *Memory) GetPurchase(_ context.Context, purchaseID string) (domain.PurchaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[purchaseID]
	if !ok {
		return domain.PurchaseRecord{}, fmt.Errorf("store: purchase %s not found", purchaseID)
	}
	return p, nil
}

func (m *Memory) ListReservations(_ context.Context, purchaseID string) ([]domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Reservation
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.reservations[id]; ok && r.PurchaseID == purchaseID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) GetReservation(_ context.Context, reservationID int64) (domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("store: reservation %d: %w", reservationID, failure.ErrReservationNotFound)
	}
	return r, nil
}

// PutReservation stores r under its own id, replacing any existing one.
func (m *Memory) PutReservation(r domain.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = r
	if r.ID > m.nextID {
		m.nextID = r.ID
	}
}

func (m *Memory) DeactivateReservation(_ context.Context, reservationID int64, refund decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok || !r.Active {
		return fmt.Errorf("store: no active reservation %d: %w", reservationID, failure.ErrReservationNotFound)
	}
	r.Active = false
	r.RefundAmount = decimal.NewNullDecimal(refund.Round(2))
	at = at.UTC()
	r.CancelledAt = &at
	m.reservations[reservationID] = r
	return nil
}

func (m *Memory) Close() error { return nil }

var (
	_ Repository = (*Memory)(nil)
	_ Repository = (*SQLStore)(nil)
)
