// Package mock provides a scripted adapter.Connector for coordinator tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/travel-orchestrator/internal/adapter"
	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/domain"
)

// Connector is a mock implementation of adapter.Connector. Each operation
// calls its Func field when set and otherwise succeeds with generated ids.
type Connector struct {
	ProductKind domain.ProductKind

	SearchFunc            func(ctx context.Context, t catalog.Target, f adapter.SearchFilters) ([]domain.Product, error)
	CheckAvailabilityFunc func(ctx context.Context, t catalog.Target, productID string, a adapter.Availability) (bool, error)
	CreateHoldFunc        func(ctx context.Context, t catalog.Target, productID string, a adapter.Availability, ttl time.Duration) (domain.Hold, error)
	RegisterCustomerFunc  func(ctx context.Context, t catalog.Target, c adapter.Customer) (string, error)
	ConfirmFunc           func(ctx context.Context, t catalog.Target, productID, holdID string, c adapter.Customer) (string, error)
	GenerateInvoiceFunc   func(ctx context.Context, t catalog.Target, code string, inv adapter.Invoice) (string, error)
	FetchFunc             func(ctx context.Context, t catalog.Target, code string) (domain.ReservationSnapshot, error)
	CancelFunc            func(ctx context.Context, t catalog.Target, code string) (decimal.Decimal, error)
	ReleaseHoldFunc       func(ctx context.Context, t catalog.Target, holdID string) error

	// Refund is what the default CancelReservation returns.
	Refund decimal.Decimal

	mu    sync.Mutex
	calls []Call
}

// Call records one operation invocation.
type Call struct {
	Op        domain.Operation
	ServiceID int64
	Arg       string
}

func NewConnector(kind domain.ProductKind) *Connector {
	return &Connector{ProductKind: kind}
}

func (m *Connector) Kind() domain.ProductKind { return m.ProductKind }

// Calls returns a copy of the recorded invocations in order.
func (m *Connector) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Count returns how many times op was invoked.
func (m *Connector) Count(op domain.Operation) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (m *Connector) record(op domain.Operation, t catalog.Target, arg string) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, ServiceID: t.Entry.ID, Arg: arg})
	m.mu.Unlock()
}

func (m *Connector) Search(ctx context.Context, t catalog.Target, f adapter.SearchFilters) ([]domain.Product, error) {
	m.record(domain.OpSearch, t, f.Query)
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, t, f)
	}
	return nil, nil
}

func (m *Connector) CheckAvailability(ctx context.Context, t catalog.Target, productID string, a adapter.Availability) (bool, error) {
	m.record(domain.OpCheckAvailability, t, productID)
	if m.CheckAvailabilityFunc != nil {
		return m.CheckAvailabilityFunc(ctx, t, productID, a)
	}
	return true, nil
}

func (m *Connector) CreateHold(ctx context.Context, t catalog.Target, productID string, a adapter.Availability, ttl time.Duration) (domain.Hold, error) {
	m.record(domain.OpCreateHold, t, productID)
	if m.CreateHoldFunc != nil {
		return m.CreateHoldFunc(ctx, t, productID, a, ttl)
	}
	if ttl <= 0 {
		ttl = adapter.DefaultHoldTTL
	}
	return domain.Hold{ID: "hold-" + uuid.NewString(), ExpiresAt: time.Now().Add(ttl)}, nil
}

func (m *Connector) RegisterExternalCustomer(ctx context.Context, t catalog.Target, c adapter.Customer) (string, error) {
	m.record(domain.OpRegisterCustomer, t, c.Document)
	if m.RegisterCustomerFunc != nil {
		return m.RegisterCustomerFunc(ctx, t, c)
	}
	return "ext-" + c.Document, nil
}

func (m *Connector) ConfirmReservation(ctx context.Context, t catalog.Target, productID, holdID string, c adapter.Customer) (string, error) {
	m.record(domain.OpConfirm, t, holdID)
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, t, productID, holdID, c)
	}
	return "conf-" + productID, nil
}

func (m *Connector) GenerateInvoice(ctx context.Context, t catalog.Target, code string, inv adapter.Invoice) (string, error) {
	m.record(domain.OpGenerateInvoice, t, code)
	if m.GenerateInvoiceFunc != nil {
		return m.GenerateInvoiceFunc(ctx, t, code, inv)
	}
	return "https://invoices.example/" + code, nil
}

func (m *Connector) FetchReservation(ctx context.Context, t catalog.Target, code string) (domain.ReservationSnapshot, error) {
	m.record(domain.OpFetchReservation, t, code)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, t, code)
	}
	return domain.ReservationSnapshot{ConfirmationCode: code, Status: "confirmed"}, nil
}

func (m *Connector) CancelReservation(ctx context.Context, t catalog.Target, code string) (decimal.Decimal, error) {
	m.record(domain.OpCancelReservation, t, code)
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, t, code)
	}
	return m.Refund, nil
}

func (m *Connector) ReleaseHold(ctx context.Context, t catalog.Target, holdID string) error {
	m.record(domain.OpReleaseHold, t, holdID)
	if m.ReleaseHoldFunc != nil {
		return m.ReleaseHoldFunc(ctx, t, holdID)
	}
	return nil
}

var _ adapter.Connector = (*Connector)(nil)
