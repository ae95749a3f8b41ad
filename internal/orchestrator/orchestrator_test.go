package orchestrator_test

import (
	go_std_context "context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/travel-orchestrator/internal/adapter"
	adaptermock "github.com/yourorg/travel-orchestrator/internal/adapter/mock"
	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/context"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/events"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/metrics"
	"github.com/yourorg/travel-orchestrator/internal/orchestrator"
	"github.com/yourorg/travel-orchestrator/internal/planbuilder"
	"github.com/yourorg/travel-orchestrator/internal/store"
)

const (
	platformAccount = "100"
	customerAccount = "ACC-7"
)

type debit struct {
	origin, destination string
	amount              decimal.Decimal
}

// fakeBank records debits and answers balance lookups.
type fakeBank struct {
	mu      sync.Mutex
	debits  []debit
	err     error
	balance decimal.Decimal
}

func (b *fakeBank) Debit(_ go_std_context.Context, origin, destination string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debits = append(b.debits, debit{origin, destination, amount})
	return b.err
}

func (b *fakeBank) Balance(go_std_context.Context, string) (decimal.Decimal, error) {
	return b.balance, nil
}

// failingStore rejects purchases.
type failingStore struct {
	*store.Memory
}

func (failingStore) SavePurchase(go_std_context.Context, domain.PurchaseRecord, []domain.Reservation) error {
	return errors.New("disk full")
}

type fixture struct {
	store      *store.Memory
	hotel      *adaptermock.Connector
	car        *adaptermock.Connector
	restaurant *adaptermock.Connector
	bank       *fakeBank
	recorder   *events.Recorder
	metrics    *metrics.Metrics
	deps       orchestrator.Deps
	cfg        orchestrator.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory(nil)
	for _, e := range []domain.ServiceCatalogEntry{
		{ID: 101, Kind: domain.KindHotel, Name: "Hotel Quito", Active: true},
		{ID: 201, Kind: domain.KindCar, Name: "Autos Andes", Active: true},
		{ID: 301, Kind: domain.KindRestaurant, Name: "La Ronda", Active: true},
	} {
		mem.AddService(e, domain.ProtocolDescriptor{Family: domain.FamilyResourceHTTP, BaseURL: "http://provider"})
	}
	f := &fixture{
		store:      mem,
		hotel:      adaptermock.NewConnector(domain.KindHotel),
		car:        adaptermock.NewConnector(domain.KindCar),
		restaurant: adaptermock.NewConnector(domain.KindRestaurant),
		bank:       &fakeBank{},
		recorder:   &events.Recorder{},
		metrics:    metrics.New(prometheus.NewRegistry()),
	}
	f.deps = orchestrator.Deps{
		Resolver:   catalog.NewResolver(mem, nil, nil),
		Connectors: adapter.NewRegistry(f.hotel, f.car, f.restaurant),
		Payments:   f.bank,
		Store:      mem,
		Publisher:  f.recorder,
		Contexts:   context.NewContextBuilder(context.CheckoutConfig{PlatformAccount: platformAccount}),
		Plans:      planbuilder.NewPlanBuilder(planbuilder.NewInclusiveVAT(context.DefaultVATRate), f.metrics),
		Metrics:    f.metrics,
	}
	f.cfg = orchestrator.Config{Workers: 2, CompensationAttempts: 3}
	return f
}

func (f *fixture) run(t *testing.T, lines ...domain.CartLine) orchestrator.CheckoutResult {
	t.Helper()
	res, err := orchestrator.NewOrchestrator(f.deps, f.cfg).ProcessCheckout(go_std_context.Background(), request(lines...))
	require.NoError(t, err)
	require.Len(t, res.Outcomes, len(lines))
	return res
}

func request(lines ...domain.CartLine) orchestrator.CheckoutRequest {
	return orchestrator.CheckoutRequest{
		CustomerID:  7,
		BankAccount: customerAccount,
		Lines:       lines,
		Billing:     domain.BillingInfo{Name: "Ana Pérez", Document: "0102030405", Email: "ana@example.com"},
	}
}

func hotelLine() domain.CartLine {
	return domain.CartLine{Kind: domain.KindHotel, ServiceID: 101, ProductID: "H55", Title: "Suite",
		FinalPrice: decimal.RequireFromString("360.00"), UnitPrice: decimal.RequireFromString("400.00"), Quantity: 1}
}

func carLine() domain.CartLine {
	return domain.CartLine{Kind: domain.KindCar, ServiceID: 201, ProductID: "C1", Title: "Compacto",
		FinalPrice: decimal.RequireFromString("40.00"), Quantity: 2}
}

func restaurantLine() domain.CartLine {
	return domain.CartLine{Kind: domain.KindRestaurant, ServiceID: 301, ProductID: "R1", Title: "Cena",
		FinalPrice: decimal.RequireFromString("55.50"), Quantity: 1, PartySize: 2}
}

func networkFailure(op domain.Operation) error {
	return &failure.Error{Class: failure.ClassNetwork, Op: string(op), Message: "connection reset"}
}

func TestProcessCheckout_ScenarioA_SingleHotel(t *testing.T) {
	f := newFixture(t)
	var invoice adapter.Invoice
	f.hotel.GenerateInvoiceFunc = func(_ go_std_context.Context, _ catalog.Target, code string, inv adapter.Invoice) (string, error) {
		invoice = inv
		return "https://hotel.example/f/" + code, nil
	}

	res := f.run(t, hotelLine())

	assert.True(t, res.Success)
	assert.Equal(t, orchestrator.StatusCompleted, res.Status)
	assert.Equal(t, "360.00", res.AmountCharged.StringFixed(2))
	assert.Equal(t, "321.43", invoice.Subtotal.StringFixed(2))
	assert.Equal(t, "38.57", invoice.Tax.StringFixed(2))
	assert.Equal(t, "Ana Pérez", invoice.Billing.Name)

	out := res.Outcomes[0]
	assert.True(t, out.Success)
	assert.Equal(t, "conf-H55", out.ConfirmationCode)
	assert.Equal(t, "https://hotel.example/f/conf-H55", out.InvoiceURL)
	assert.Equal(t, domain.StateCompleted, out.State)

	require.Len(t, f.bank.debits, 1)
	assert.Equal(t, debit{customerAccount, platformAccount, decimal.RequireFromString("360.00")}, f.bank.debits[0])

	purchase, err := f.store.GetPurchase(go_std_context.Background(), res.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), purchase.CustomerID)
	assert.Len(t, purchase.Outcomes, 1)
	reservations, err := f.store.ListReservations(go_std_context.Background(), res.PurchaseID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, "conf-H55", reservations[0].ConfirmationCode)
	assert.True(t, reservations[0].Active)

	assert.Len(t, f.recorder.OfType(events.TypeCheckoutCompleted), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("COMPLETED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LineOutcomes.WithLabelValues("hotel", "success")))
}

func TestProcessCheckout_ScenarioB_PartialFulfilment(t *testing.T) {
	f := newFixture(t)
	f.car.CreateHoldFunc = func(go_std_context.Context, catalog.Target, string, adapter.Availability, time.Duration) (domain.Hold, error) {
		return domain.Hold{}, networkFailure(domain.OpCreateHold)
	}

	res := f.run(t, hotelLine(), carLine())

	assert.True(t, res.Success)
	assert.True(t, res.Outcomes[0].Success)
	assert.False(t, res.Outcomes[1].Success)
	assert.Equal(t, "no se pudo crear la prerreserva", res.Outcomes[1].ErrorMessage)
	assert.Equal(t, string(failure.ClassNetwork), res.Outcomes[1].FailureCode)
	assert.Empty(t, res.Outcomes[1].ConfirmationCode)
	assert.Equal(t, domain.StateFailed, res.Outcomes[1].State)

	require.Len(t, f.bank.debits, 1)
	assert.Equal(t, "360.00", f.bank.debits[0].amount.StringFixed(2))
	assert.Zero(t, f.car.Count(domain.OpConfirm))
	assert.Equal(t, 1, res.Summary.Failed)
	assert.Equal(t, 1, res.Summary.FailureBreakdown["NETWORK_FAILURE"])
}

func TestProcessCheckout_ScenarioC_DebitFailureCompensates(t *testing.T) {
	f := newFixture(t)
	f.bank.err = &failure.Error{Class: failure.ClassPayment, Op: "debit", Message: "fondos insuficientes"}

	res := f.run(t, hotelLine(), restaurantLine())

	assert.False(t, res.Success)
	assert.Equal(t, orchestrator.StatusPaymentFailed, res.Status)
	assert.Equal(t, failure.ClassPayment, res.FailureCode)
	assert.Empty(t, res.PurchaseID)
	assert.True(t, res.AmountCharged.IsZero())
	assert.Empty(t, res.StuckCompensations)

	assert.Len(t, f.bank.debits, 1)
	assert.Equal(t, 1, f.hotel.Count(domain.OpCancelReservation))
	assert.Equal(t, 1, f.restaurant.Count(domain.OpCancelReservation))
	for _, out := range res.Outcomes {
		assert.False(t, out.Success)
		assert.Equal(t, "reserva cancelada: el pago no pudo procesarse", out.ErrorMessage)
		assert.Empty(t, out.ConfirmationCode)
	}
	assert.Len(t, f.recorder.OfType(events.TypeCheckoutFailed), 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Compensations.WithLabelValues("cancelled")))
}

func TestProcessCheckout_StuckCompensation(t *testing.T) {
	f := newFixture(t)
	f.bank.err = &failure.Error{Class: failure.ClassPayment, Op: "debit"}
	f.hotel.CancelFunc = func(go_std_context.Context, catalog.Target, string) (decimal.Decimal, error) {
		return decimal.Decimal{}, networkFailure(domain.OpCancelReservation)
	}

	res := f.run(t, hotelLine(), restaurantLine())

	assert.Equal(t, orchestrator.StatusPaymentFailed, res.Status)
	assert.Equal(t, failure.ClassStuckCompensation, res.FailureCode)
	require.Len(t, res.StuckCompensations, 1)
	stuck := res.StuckCompensations[0]
	assert.Equal(t, 0, stuck.LineIndex)
	assert.Equal(t, "conf-H55", stuck.ConfirmationCode)
	assert.Equal(t, 3, f.hotel.Count(domain.OpCancelReservation))

	assert.NotEmpty(t, res.Outcomes[0].Warning)
	assert.Equal(t, domain.StateInvoiced, res.Outcomes[0].State, "never charged, so not completed")
	assert.False(t, res.Outcomes[1].Success)

	assert.Len(t, f.recorder.OfType(events.TypeCompensationStuck), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Compensations.WithLabelValues("stuck")))
}

func TestProcessCheckout_NothingReserved(t *testing.T) {
	f := newFixture(t)
	f.hotel.CreateHoldFunc = func(go_std_context.Context, catalog.Target, string, adapter.Availability, time.Duration) (domain.Hold, error) {
		return domain.Hold{}, &failure.Error{Class: failure.ClassProviderRejection, Message: "sin cupo"}
	}
	f.car.CreateHoldFunc = f.hotel.CreateHoldFunc

	res := f.run(t, hotelLine(), carLine())

	assert.False(t, res.Success)
	assert.Equal(t, orchestrator.StatusNothingReserved, res.Status)
	assert.Equal(t, failure.ClassProviderRejection, res.FailureCode)
	assert.Empty(t, f.bank.debits)
}

func TestProcessCheckout_OutcomesKeepCartOrder(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workers = 3
	f.hotel.CreateHoldFunc = func(_ go_std_context.Context, _ catalog.Target, productID string, _ adapter.Availability, ttl time.Duration) (domain.Hold, error) {
		var n int
		_, _ = fmt.Sscanf(productID, "H%d", &n)
		time.Sleep(time.Duration(10-n) * time.Millisecond)
		return domain.Hold{ID: "hold-" + productID, ExpiresAt: time.Now().Add(ttl)}, nil
	}

	var lines []domain.CartLine
	for i := 0; i < 8; i++ {
		l := hotelLine()
		l.ProductID = fmt.Sprintf("H%d", i)
		l.Title = fmt.Sprintf("room %d", i)
		lines = append(lines, l)
	}
	res := f.run(t, lines...)

	for i, out := range res.Outcomes {
		assert.Equal(t, i, out.LineIndex)
		assert.Equal(t, fmt.Sprintf("room %d", i), out.Title)
		assert.Equal(t, fmt.Sprintf("conf-H%d", i), out.ConfirmationCode)
	}
	require.Len(t, f.bank.debits, 1)
	assert.Equal(t, "2880.00", f.bank.debits[0].amount.StringFixed(2))
}

func TestProcessCheckout_PanicIsIsolatedToLine(t *testing.T) {
	f := newFixture(t)
	f.car.ConfirmFunc = func(go_std_context.Context, catalog.Target, string, string, adapter.Customer) (string, error) {
		panic("provider client bug")
	}

	res := f.run(t, hotelLine(), carLine())

	assert.True(t, res.Outcomes[0].Success)
	assert.False(t, res.Outcomes[1].Success)
	assert.Equal(t, string(failure.ClassInternal), res.Outcomes[1].FailureCode)
	require.Len(t, f.bank.debits, 1)
	assert.Equal(t, "360.00", f.bank.debits[0].amount.StringFixed(2))
}

func TestProcessCheckout_PanicAfterConfirmKeepsLineCharged(t *testing.T) {
	f := newFixture(t)
	f.car.GenerateInvoiceFunc = func(go_std_context.Context, catalog.Target, string, adapter.Invoice) (string, error) {
		panic("invoice renderer bug")
	}

	res := f.run(t, hotelLine(), carLine())

	car := res.Outcomes[1]
	assert.True(t, car.Success)
	assert.Equal(t, "conf-C1", car.ConfirmationCode)
	assert.NotEmpty(t, car.Warning)
	assert.Equal(t, domain.StateReserved, car.State)
	assert.Equal(t, 1, f.car.Count(domain.OpConfirm))
	assert.Zero(t, f.car.Count(domain.OpCancelReservation))

	require.Len(t, f.bank.debits, 1)
	assert.Equal(t, "440.00", f.bank.debits[0].amount.StringFixed(2))
	assert.True(t, res.Success)
	assert.Equal(t, "440.00", res.AmountCharged.StringFixed(2))
}

func TestProcessCheckout_PanicAfterConfirmIsCompensated(t *testing.T) {
	f := newFixture(t)
	f.bank.err = &failure.Error{Class: failure.ClassPayment, Op: "debit", Message: "fondos insuficientes"}
	f.car.GenerateInvoiceFunc = func(go_std_context.Context, catalog.Target, string, adapter.Invoice) (string, error) {
		panic("invoice renderer bug")
	}

	res := f.run(t, carLine())

	assert.False(t, res.Success)
	assert.Equal(t, orchestrator.StatusPaymentFailed, res.Status)
	assert.Equal(t, 1, f.car.Count(domain.OpCancelReservation))
	assert.False(t, res.Outcomes[0].Success)
	assert.Empty(t, res.StuckCompensations)
}

func TestProcessCheckout_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  orchestrator.CheckoutRequest
	}{
		{"empty cart", request()},
		{"no customer", func() orchestrator.CheckoutRequest { r := request(hotelLine()); r.CustomerID = 0; return r }()},
		{"no bank account", func() orchestrator.CheckoutRequest { r := request(hotelLine()); r.BankAccount = " "; return r }()},
		{"bad line", func() orchestrator.CheckoutRequest {
			l := hotelLine()
			l.Quantity = 0
			return request(l)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := orchestrator.NewOrchestrator(f.deps, f.cfg).ProcessCheckout(go_std_context.Background(), tt.req)
			assert.ErrorIs(t, err, failure.ErrInvalidCheckout)
			assert.Empty(t, f.hotel.Calls())
			assert.Empty(t, f.bank.debits)
		})
	}
}

func TestProcessCheckout_ReusesStoredExternalCustomer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveExternalCustomer(go_std_context.Background(), 7, 101, "EXT-KNOWN"))
	var confirmedFor string
	f.hotel.ConfirmFunc = func(_ go_std_context.Context, _ catalog.Target, productID, _ string, c adapter.Customer) (string, error) {
		confirmedFor = c.ExternalID
		return "conf-" + productID, nil
	}

	f.run(t, hotelLine(), restaurantLine())

	assert.Zero(t, f.hotel.Count(domain.OpRegisterCustomer))
	assert.Equal(t, "EXT-KNOWN", confirmedFor)

	assert.Equal(t, 1, f.restaurant.Count(domain.OpRegisterCustomer))
	id, found, err := f.store.FindExternalCustomer(go_std_context.Background(), 7, 301)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ext-0102030405", id)
}

func TestProcessCheckout_ExpiredHoldIsNotConfirmed(t *testing.T) {
	f := newFixture(t)
	f.hotel.CreateHoldFunc = func(go_std_context.Context, catalog.Target, string, adapter.Availability, time.Duration) (domain.Hold, error) {
		return domain.Hold{ID: "HLD-old", ExpiresAt: time.Now().Add(-time.Second)}, nil
	}

	res := f.run(t, hotelLine())

	out := res.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, "la prerreserva expiró antes de confirmar", out.ErrorMessage)
	assert.Equal(t, string(failure.ClassProviderRejection), out.FailureCode)
	assert.Zero(t, f.hotel.Count(domain.OpConfirm))
	assert.Equal(t, 1, f.hotel.Count(domain.OpReleaseHold))
	assert.Empty(t, f.bank.debits)
}

func TestProcessCheckout_ConfirmFailureReleasesHold(t *testing.T) {
	f := newFixture(t)
	f.hotel.ConfirmFunc = func(go_std_context.Context, catalog.Target, string, string, adapter.Customer) (string, error) {
		return "", &failure.Error{Class: failure.ClassProviderRejection, Message: "tarifa cambió"}
	}
	f.hotel.ReleaseHoldFunc = func(go_std_context.Context, catalog.Target, string) error {
		return &failure.Error{Class: failure.ClassProtocolUnavailable}
	}

	res := f.run(t, hotelLine(), carLine())

	assert.Equal(t, "no se pudo confirmar la reserva", res.Outcomes[0].ErrorMessage)
	assert.Equal(t, domain.StateFailed, res.Outcomes[0].State)
	assert.Equal(t, 1, f.hotel.Count(domain.OpReleaseHold))
	assert.True(t, res.Outcomes[1].Success)
	assert.Equal(t, "80.00", res.AmountCharged.StringFixed(2))
}

func TestProcessCheckout_InvoiceFailureKeepsLine(t *testing.T) {
	f := newFixture(t)
	f.hotel.GenerateInvoiceFunc = func(go_std_context.Context, catalog.Target, string, adapter.Invoice) (string, error) {
		return "", networkFailure(domain.OpGenerateInvoice)
	}

	res := f.run(t, hotelLine())

	out := res.Outcomes[0]
	assert.True(t, out.Success)
	assert.Empty(t, out.InvoiceURL)
	assert.NotEmpty(t, out.Warning)
	assert.Equal(t, domain.StateReserved, out.State)
	assert.Equal(t, "360.00", res.AmountCharged.StringFixed(2))
}

func TestProcessCheckout_PersistenceFailureNeedsReconciliation(t *testing.T) {
	f := newFixture(t)
	f.deps.Store = failingStore{f.store}

	res := f.run(t, hotelLine())

	assert.True(t, res.Success)
	assert.True(t, res.ReconciliationRequired)
	assert.Len(t, f.bank.debits, 1)
	assert.Len(t, f.recorder.OfType(events.TypeReconciliation), 1)
}

func TestProcessCheckout_KindMismatch(t *testing.T) {
	f := newFixture(t)
	l := carLine()
	l.ServiceID = 101

	res := f.run(t, l, hotelLine())

	assert.False(t, res.Outcomes[0].Success)
	assert.Equal(t, "el servicio no corresponde al tipo de producto", res.Outcomes[0].ErrorMessage)
	assert.Zero(t, f.car.Count(domain.OpCreateHold))
	assert.True(t, res.Outcomes[1].Success)
}

func TestProcessCheckout_BalancePreflight(t *testing.T) {
	f := newFixture(t)
	f.cfg.VerifyBalance = true
	f.bank.balance = decimal.RequireFromString("100")

	res := f.run(t, hotelLine())

	assert.Equal(t, orchestrator.StatusPaymentFailed, res.Status)
	assert.Equal(t, "saldo insuficiente para el total del carrito", res.Message)
	assert.Empty(t, f.hotel.Calls())
	assert.Empty(t, f.bank.debits)

	f.bank.balance = decimal.RequireFromString("1000")
	res = f.run(t, hotelLine())
	assert.True(t, res.Success)
}

func TestNewOrchestrator_PanicsOnMissingDeps(t *testing.T) {
	f := newFixture(t)
	assert.NotPanics(t, func() { orchestrator.NewOrchestrator(f.deps, f.cfg) })

	for _, strip := range []func(d *orchestrator.Deps){
		func(d *orchestrator.Deps) { d.Resolver = nil },
		func(d *orchestrator.Deps) { d.Connectors = nil },
		func(d *orchestrator.Deps) { d.Payments = nil },
		func(d *orchestrator.Deps) { d.Store = nil },
		func(d *orchestrator.Deps) { d.Contexts = nil },
		func(d *orchestrator.Deps) { d.Plans = nil },
	} {
		d := f.deps
		strip(&d)
		assert.Panics(t, func() { orchestrator.NewOrchestrator(d, f.cfg) })
	}
}
