package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/cache"
	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/logging"
	"github.com/yourorg/travel-orchestrator/internal/router"
	"github.com/yourorg/travel-orchestrator/internal/wire"
)

// Business codes providers use for answers that are not plain rejections.
var (
	customerExistsCodes   = []string{"CUSTOMER_EXISTS", "CLIENTE_EXISTE"}
	alreadyCancelledCodes = []string{"ALREADY_CANCELLED", "YA_CANCELADA"}
	holdExpiredCodes      = []string{"HOLD_EXPIRED", "PRERRESERVA_EXPIRADA"}
)

type Options struct {
	Logger *zap.Logger
	// CancelCacheTTL bounds how long a cancellation result is replayed;
	// zero keeps it for the process lifetime.
	CancelCacheTTL time.Duration
	// ResourceLacks overrides the kind's default set of operations without
	// a resource-HTTP implementation.
	ResourceLacks map[domain.ProductKind][]domain.Operation
	Now           func() time.Time
}

// profile is what distinguishes one product kind from another: which
// operations lack a resource-HTTP implementation and how a product is
// requested for given dates and party size.
type profile struct {
	kind          domain.ProductKind
	resourceLacks []domain.Operation
	request       func(a Availability) map[string]any
}

// KindConnector is the shared implementation behind every product kind.
type KindConnector struct {
	kind    domain.ProductKind
	caller  Caller
	lacks   map[domain.Operation]bool
	request func(a Availability) map[string]any
	cancels *cache.Cache[decimal.Decimal]
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

var _ Connector = (*KindConnector)(nil)

func newConnector(c Caller, p profile, opts Options) *KindConnector {
	if c == nil {
		panic("adapter: caller cannot be nil")
	}
	lacks := p.resourceLacks
	if override, ok := opts.ResourceLacks[p.kind]; ok {
		lacks = override
	}
	set := make(map[domain.Operation]bool, len(lacks))
	for _, op := range lacks {
		set[op] = true
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &KindConnector{
		kind:    p.kind,
		caller:  c,
		lacks:   set,
		request: p.request,
		cancels: cache.New[decimal.Decimal](nil).WithClock(now),
		ttl:     opts.CancelCacheTTL,
		logger:  logging.OrNop(opts.Logger).Named("connector").With(zap.String("kind", string(p.kind))),
		now:     now,
	}
}

func (c *KindConnector) Kind() domain.ProductKind { return c.kind }

// ResourceCapable reports whether the kind implements op over resource-HTTP.
func (c *KindConnector) ResourceCapable(op domain.Operation) bool { return !c.lacks[op] }

// answer is a successful provider reply with the call it belongs to.
type answer struct {
	op        domain.Operation
	family    domain.ProtocolFamily
	serviceID int64
	body      []byte
}

func (c *KindConnector) call(ctx context.Context, t catalog.Target, req wire.Request) (answer, error) {
	resp, family, err := c.caller.Execute(ctx, router.Route{
		Kind:            c.kind,
		Target:          t,
		ResourceCapable: c.ResourceCapable(req.Op),
		Request:         req,
	})
	return answer{op: req.Op, family: family, serviceID: t.Entry.ID, body: resp.Body}, err
}

func (c *KindConnector) Search(ctx context.Context, t catalog.Target, f SearchFilters) ([]domain.Product, error) {
	params := c.request(Availability{Dates: f.Dates, PartySize: f.PartySize})
	if f.Query != "" {
		params["q"] = f.Query
	}
	for k, v := range f.Extra {
		params[k] = v
	}
	a, err := c.call(ctx, t, wire.Request{Op: domain.OpSearch, Params: params})
	if err != nil {
		return nil, err
	}
	primary, alternate := productsShapes(c.kind)
	return decodeAs(c, a, primary, alternate)
}

func (c *KindConnector) CheckAvailability(ctx context.Context, t catalog.Target, productID string, av Availability) (bool, error) {
	params := c.request(av)
	params["product_id"] = productID
	a, err := c.call(ctx, t, wire.Request{Op: domain.OpCheckAvailability, Params: params})
	if err != nil {
		return false, err
	}
	return decodeAs(c, a, availabilityPrimary, availabilityAlternate)
}

func (c *KindConnector) CreateHold(ctx context.Context, t catalog.Target, productID string, av Availability, ttl time.Duration) (domain.Hold, error) {
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	params := c.request(av)
	params["product_id"] = productID
	params["ttl_seconds"] = int(ttl / time.Second)

	requested := c.now()
	a, err := c.call(ctx, t, wire.Request{Op: domain.OpCreateHold, Params: params})
	if err != nil {
		return domain.Hold{}, err
	}
	h, err := decodeAs(c, a, holdPrimary, holdAlternate)
	if err != nil {
		return domain.Hold{}, err
	}
	expires := h.expiresAt
	if limit := requested.Add(ttl); expires.IsZero() || expires.After(limit) {
		expires = limit
	}
	return domain.Hold{ID: h.id, ExpiresAt: expires}, nil
}

func (c *KindConnector) RegisterExternalCustomer(ctx context.Context, t catalog.Target, cu Customer) (string, error) {
	a, err := c.call(ctx, t, wire.Request{Op: domain.OpRegisterCustomer, Params: map[string]any{
		"name":     cu.Name,
		"document": cu.Document,
		"email":    cu.Email,
	}})
	if err != nil {
		fe, ok := failure.As(err)
		if !ok || fe.Class != failure.ClassProviderRejection || !(fe.StatusCode == 409 || hasCode(fe, customerExistsCodes)) {
			return "", err
		}
		c.logger.Info("customer already registered with provider",
			zap.Int64("service_id", t.Entry.ID), zap.String("code", fe.Code))
		a.body = fe.Raw
		return decodeAs(c, a, customerPrimary, customerAlternate)
	}
	return decodeAs(c, a, customerPrimary, customerAlternate)
}

func (c *KindConnector) ConfirmReservation(ctx context.Context, t catalog.Target, productID, holdID string, cu Customer) (string, error) {
	a, err := c.call(ctx, t, wire.Request{Op: domain.OpConfirm, Params: map[string]any{
		"product_id":  productID,
		"hold_id":     holdID,
		"customer_id": cu.ExternalID,
		"name":        cu.Name,
		"document":    cu.Document,
		"email":       cu.Email,
	}})
	if err != nil {
		if fe, ok := failure.As(err); ok && fe.Class == failure.ClassProviderRejection && hasCode(fe, holdExpiredCodes) && fe.Err == nil {
			fe.Err = failure.ErrHoldExpired
		}
		return "", err
	}
	return decodeAs(c, a, confirmationPrimary, confirmationAlternate)
}

func (c *KindConnector) GenerateInvoice(ctx context.Context, t catalog.Target, confirmationCode string, inv Invoice) (string, error) {
	a, err := c.call(ctx, t, wire.Request{Op: domain.OpGenerateInvoice, Params: map[string]any{
		"confirmation_code": confirmationCode,
		"subtotal":          inv.Subtotal,
		"tax":               inv.Tax,
		"total":             inv.Total,
		"billing_name":      inv.Billing.Name,
		"billing_document":  inv.Billing.Document,
		"billing_email":     inv.Billing.Email,
		"billing_address":   inv.Billing.Address,
		"billing_tax_id":    inv.Billing.TaxID,
	}})
	if err != nil {
		return "", err
	}
	return decodeAs(c, a, invoicePrimary, invoiceAlternate)
}

func (c *KindConnector) FetchReservation(ctx context.Context, t catalog.Target, confirmationCode string) (domain.ReservationSnapshot, error) {
	a, err := c.call(ctx, t, wire.Request{Op: domain.OpFetchReservation, ID: confirmationCode})
	if err != nil {
		return domain.ReservationSnapshot{}, err
	}
	snap, err := decodeAs(c, a, snapshotPrimary, snapshotAlternate)
	if err != nil {
		return domain.ReservationSnapshot{}, err
	}
	if snap.ConfirmationCode == "" {
		snap.ConfirmationCode = confirmationCode
	}
	return snap, nil
}

// CancelReservation replays the cached refund of an earlier cancel. A provider
// answering "already cancelled" without a cached result is resolved through
// FetchReservation.
func (c *KindConnector) CancelReservation(ctx context.Context, t catalog.Target, confirmationCode string) (decimal.Decimal, error) {
	key := fmt.Sprintf("%d:%s", t.Entry.ID, confirmationCode)
	if refund, ok := c.cancels.Get(key); ok {
		c.logger.Debug("replaying cached cancellation",
			zap.Int64("service_id", t.Entry.ID), zap.String("confirmation_code", confirmationCode))
		return refund, nil
	}

	a, err := c.call(ctx, t, wire.Request{Op: domain.OpCancelReservation, ID: confirmationCode})
	var refund decimal.Decimal
	switch {
	case err == nil:
		refund, err = decodeAs(c, a, refundPrimary, refundAlternate)
		if err != nil {
			return decimal.Decimal{}, err
		}
	case alreadyCancelled(err):
		c.logger.Info("provider reports reservation already cancelled",
			zap.Int64("service_id", t.Entry.ID), zap.String("confirmation_code", confirmationCode))
		snap, ferr := c.FetchReservation(ctx, t, confirmationCode)
		if ferr != nil {
			return decimal.Decimal{}, fmt.Errorf("resolve refund of cancelled reservation %s: %w", confirmationCode, ferr)
		}
		if !snap.RefundAmount.Valid {
			return decimal.Decimal{}, &failure.Error{
				Class: failure.ClassSchemaMismatch, Op: string(domain.OpFetchReservation),
				Provider: fmt.Sprintf("%s/%d", c.kind, t.Entry.ID),
				Message:  "cancelled reservation reports no refund amount", Delivered: true,
			}
		}
		refund = snap.RefundAmount.Decimal
	default:
		return decimal.Decimal{}, err
	}

	c.cancels.Set(key, refund, c.ttl)
	return refund, nil
}

func (c *KindConnector) ReleaseHold(ctx context.Context, t catalog.Target, holdID string) error {
	_, err := c.call(ctx, t, wire.Request{Op: domain.OpReleaseHold, ID: holdID})
	return err
}

func alreadyCancelled(err error) bool {
	fe, ok := failure.As(err)
	if !ok || fe.Class != failure.ClassProviderRejection {
		return false
	}
	return fe.StatusCode == 410 || hasCode(fe, alreadyCancelledCodes)
}

func hasCode(fe *failure.Error, codes []string) bool {
	for _, c := range codes {
		if strings.EqualFold(fe.Code, c) {
			return true
		}
	}
	return false
}

// IsHoldExpired reports whether err is a confirm rejection caused by an expired hold.
func IsHoldExpired(err error) bool {
	return errors.Is(err, failure.ErrHoldExpired)
}
