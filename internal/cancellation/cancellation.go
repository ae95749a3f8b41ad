// Package cancellation cancels a persisted reservation on behalf of its
// owner: the provider cancels it, the refund is transferred from the
// platform account and only then is the reservation marked inactive.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/adapter"
	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/events"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/logging"
	"github.com/yourorg/travel-orchestrator/internal/metrics"
	"github.com/yourorg/travel-orchestrator/internal/processor"
)

var ErrInvalidRequest = errors.New("invalid cancellation request")

type Store interface {
	GetReservation(ctx context.Context, reservationID int64) (domain.Reservation, error)
	DeactivateReservation(ctx context.Context, reservationID int64, refund decimal.Decimal, at time.Time) error
}

type TargetResolver interface {
	Lookup(ctx context.Context, serviceID int64) (catalog.Target, error)
}

type Connectors interface {
	Get(kind domain.ProductKind) (adapter.Connector, error)
}

type Refunder interface {
	Refund(ctx context.Context, origin, destination string, amount decimal.Decimal) error
}

type Config struct {
	PlatformAccount string
	// Attempts bounds provider cancel attempts.
	Attempts int
	Backoff  time.Duration
	Now      func() time.Time
}

type Deps struct {
	Store      Store
	Resolver   TargetResolver
	Connectors Connectors
	Payments   Refunder
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Result describes a cancellation. AlreadyCancelled is set when the
// reservation was inactive before the call and nothing was done.
type Result struct {
	ReservationID    int64           `json:"reservation_id"`
	ConfirmationCode string          `json:"confirmation_code"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	AlreadyCancelled bool            `json:"already_cancelled"`
	CancelledAt      time.Time       `json:"cancelled_at"`
}

type Coordinator struct {
	store      Store
	resolver   TargetResolver
	connectors Connectors
	payments   Refunder
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        Config
	locks      *keyedMutex
	sleep      func(time.Duration)
}

func NewCoordinator(d Deps, cfg Config) *Coordinator {
	if d.Store == nil || d.Resolver == nil || d.Connectors == nil || d.Payments == nil {
		panic("cancellation: store, resolver, connectors and payments are required")
	}
	if strings.TrimSpace(cfg.PlatformAccount) == "" {
		panic("cancellation: platform account is required")
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		store:      d.Store,
		resolver:   d.Resolver,
		connectors: d.Connectors,
		payments:   d.Payments,
		publisher:  d.Publisher,
		metrics:    d.Metrics,
		logger:     logging.OrNop(d.Logger).Named("cancellation"),
		cfg:        cfg,
		locks:      newKeyedMutex(),
		sleep:      time.Sleep,
	}
}

// CancelReservation cancels reservationID for customerID and refunds to
// refundAccount. Concurrent calls for the same reservation run one at a time,
// so at most one refund transfer is made.
func (c *Coordinator) CancelReservation(ctx context.Context, reservationID, customerID int64, refundAccount string) (res Result, err error) {
	if reservationID <= 0 || customerID <= 0 || strings.TrimSpace(refundAccount) == "" {
		return Result{}, fmt.Errorf("reservation, customer and refund account are required: %w", ErrInvalidRequest)
	}

	ctx, span := otel.Tracer("cancellation").Start(ctx, "Coordinator.CancelReservation")
	defer span.End()
	span.SetAttributes(attribute.Int64("reservation_id", reservationID))
	defer func() {
		result := "cancelled"
		switch {
		case err != nil:
			result = "error"
			span.SetStatus(codes.Error, err.Error())
		case res.AlreadyCancelled:
			result = "already_cancelled"
		}
		c.metrics.Cancellations.WithLabelValues(result).Inc()
	}()

	unlock := c.locks.Lock(reservationID)
	defer unlock()

	// The provider cancel and the refund are not abandoned with the caller.
	ctx = context.WithoutCancel(ctx)
	logger := c.logger.With(zap.Int64("reservation_id", reservationID), zap.Int64("customer_id", customerID))

	r, err := c.store.GetReservation(ctx, reservationID)
	if err != nil {
		return Result{}, err
	}
	if r.CustomerID != customerID {
		logger.Warn("cancellation attempted by another customer", zap.Int64("owner", r.CustomerID))
		return Result{}, fmt.Errorf("reservation %d: %w", reservationID, failure.ErrNotOwner)
	}
	res = Result{ReservationID: r.ID, ConfirmationCode: r.ConfirmationCode}
	if !r.Active {
		res.AlreadyCancelled = true
		res.RefundAmount = r.RefundAmount.Decimal
		if r.CancelledAt != nil {
			res.CancelledAt = *r.CancelledAt
		}
		logger.Info("reservation already cancelled", zap.String("refund", res.RefundAmount.StringFixed(2)))
		return res, nil
	}

	target, err := c.resolver.Lookup(ctx, r.ServiceID)
	if err != nil {
		return Result{}, fmt.Errorf("reservation %d: %w", reservationID, err)
	}
	conn, err := c.connectors.Get(r.Kind)
	if err != nil {
		return Result{}, err
	}

	refund, err := c.cancelWithRetry(ctx, conn, target, r.ConfirmationCode, logger)
	if err != nil {
		return Result{}, err
	}
	logger = logger.With(zap.String("confirmation_code", r.ConfirmationCode), zap.String("refund", refund.StringFixed(2)))

	if refund.IsPositive() {
		if err := c.payments.Refund(ctx, c.cfg.PlatformAccount, refundAccount, refund); err != nil {
			logger.Error("provider cancelled but refund failed; reservation stays active", zap.Error(err))
			return Result{}, err
		}
	}

	at := c.cfg.Now().UTC()
	if err := c.store.DeactivateReservation(ctx, r.ID, refund, at); err != nil {
		logger.Error("refund transferred but reservation not deactivated; reconciliation required", zap.Error(err))
		c.publish(ctx, events.TypeReconciliation, r, map[string]any{
			"reservation_id": r.ID,
			"refund":         refund.StringFixed(2),
			"error":          err.Error(),
		}, logger)
		return Result{}, fmt.Errorf("deactivate reservation %d: %w", r.ID, err)
	}

	res.RefundAmount = refund
	res.CancelledAt = at
	logger.Info("reservation cancelled")
	c.publish(ctx, events.TypeReservationCancelled, r, res, logger)
	return res, nil
}

func (c *Coordinator) cancelWithRetry(ctx context.Context, conn adapter.Connector, target catalog.Target, code string, logger *zap.Logger) (decimal.Decimal, error) {
	ctx = processor.WithCompensation(ctx)
	var err error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		var refund decimal.Decimal
		refund, err = conn.CancelReservation(ctx, target, code)
		if err == nil {
			return refund.Round(2), nil
		}
		if failure.IsClass(err, failure.ClassProviderRejection) || attempt == c.cfg.Attempts {
			break
		}
		logger.Warn("provider cancel failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		c.sleep(c.cfg.Backoff * time.Duration(attempt))
	}
	return decimal.Decimal{}, err
}

func (c *Coordinator) publish(ctx context.Context, eventType string, r domain.Reservation, payload any, logger *zap.Logger) {
	ev, err := events.New(eventType, r.PurchaseID, r.CustomerID, payload)
	if err == nil {
		err = c.publisher.Publish(ctx, ev)
	}
	if err != nil {
		logger.Warn("event not published", zap.String("type", eventType), zap.Error(err))
	}
}
