// Package processor executes a single provider call over a chosen protocol
// family: rate limiting, bounded retries decided by the retry policy, metrics
// and a tracing span per call.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/logging"
	"github.com/yourorg/travel-orchestrator/internal/metrics"
	"github.com/yourorg/travel-orchestrator/internal/policy"
	"github.com/yourorg/travel-orchestrator/internal/wire"
)

// Call is one provider operation bound to a descriptor.
type Call struct {
	Kind       domain.ProductKind
	ServiceID  int64
	Descriptor domain.ProtocolDescriptor
	Request    wire.Request
}

type Config struct {
	// ReadAttempts bounds attempts of ordinary calls.
	ReadAttempts int
	// CompensationAttempts bounds attempts of calls made while compensating.
	CompensationAttempts int
	// RateLimit is the per-service request rate; zero disables limiting.
	RateLimit float64
	RateBurst int
}

type compensationKey struct{}

// WithCompensation marks ctx as belonging to a compensation (cancel/refund)
// path, which the retry policy treats differently.
func WithCompensation(ctx context.Context) context.Context {
	return context.WithValue(ctx, compensationKey{}, true)
}

// IsCompensation reports whether ctx was marked by WithCompensation.
func IsCompensation(ctx context.Context) bool {
	v, _ := ctx.Value(compensationKey{}).(bool)
	return v
}

type Processor struct {
	clients  map[domain.ProtocolFamily]wire.Client
	policy   *policy.RetryPolicy
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config
	limiters sync.Map // service id -> *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewProcessor(clients []wire.Client, p *policy.RetryPolicy, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Processor {
	if len(clients) == 0 {
		panic("processor needs at least one wire client")
	}
	if p == nil {
		panic("retry policy cannot be nil")
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.ReadAttempts <= 0 {
		cfg.ReadAttempts = 1
	}
	if cfg.CompensationAttempts <= 0 {
		cfg.CompensationAttempts = 1
	}
	registry := make(map[domain.ProtocolFamily]wire.Client, len(clients))
	for _, c := range clients {
		registry[c.Family()] = c
	}
	return &Processor{
		clients: registry,
		policy:  p,
		metrics: m,
		logger:  logging.OrNop(logger).Named("processor"),
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

// Supports reports whether a client is registered for the family.
func (p *Processor) Supports(f domain.ProtocolFamily) bool {
	_, ok := p.clients[f]
	return ok
}

// Execute runs the call, retrying while the policy allows it.
func (p *Processor) Execute(ctx context.Context, call Call) (wire.Response, error) {
	family := call.Descriptor.Family
	op := call.Request.Op

	ctx, span := otel.Tracer("processor").Start(ctx, "Processor.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("service_id", call.ServiceID),
		attribute.String("kind", string(call.Kind)),
		attribute.String("op", string(op)),
		attribute.String("family", string(family)),
	)

	client, ok := p.clients[family]
	if !ok {
		err := failure.New(failure.ClassProtocolUnavailable, string(op), "no client for family %s", family)
		span.SetStatus(codes.Error, err.Error())
		return wire.Response{}, err
	}

	compensation := IsCompensation(ctx)
	maxAttempts := p.cfg.ReadAttempts
	if compensation {
		maxAttempts = p.cfg.CompensationAttempts
	}
	idempotent := op.ReadOnly() || (compensation && (op == domain.OpCancelReservation || op == domain.OpReleaseHold))
	limiter := p.limiter(call.ServiceID)

	for attempt := 1; ; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return wire.Response{}, &failure.Error{Class: failure.ClassNetwork, Op: string(op), Err: err}
			}
		}

		start := time.Now()
		resp, err := client.Call(ctx, call.Descriptor, call.Request)
		class := failure.ClassOf(err)
		result := "ok"
		if err != nil {
			result = string(class)
		}
		p.metrics.ObserveCall(string(call.Kind), string(op), string(family), result, time.Since(start))

		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return resp, nil
		}
		if fe, ok := failure.As(err); ok && fe.Provider == "" {
			fe.Provider = fmt.Sprintf("%s/%d", call.Kind, call.ServiceID)
		}

		decision := p.policy.ShouldRetry(policy.Input{
			Operation:    string(op),
			Failure:      class,
			Attempt:      attempt,
			MaxAttempts:  maxAttempts,
			Idempotent:   idempotent,
			Delivered:    failure.WasDelivered(err),
			Compensation: compensation,
		})
		if !decision.AllowRetry {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(class))
			return resp, err
		}
		p.logger.Info("retrying provider call",
			zap.Int64("service_id", call.ServiceID),
			zap.String("op", string(op)),
			zap.String("family", string(family)),
			zap.Int("attempt", attempt),
			zap.String("rule", decision.RuleID),
			zap.Error(err))
		if serr := p.sleep(ctx, decision.Backoff()); serr != nil {
			return resp, err
		}
	}
}

func (p *Processor) limiter(serviceID int64) *rate.Limiter {
	if p.cfg.RateLimit <= 0 {
		return nil
	}
	if v, ok := p.limiters.Load(serviceID); ok {
		return v.(*rate.Limiter)
	}
	burst := p.cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	v, _ := p.limiters.LoadOrStore(serviceID, rate.NewLimiter(rate.Limit(p.cfg.RateLimit), burst))
	return v.(*rate.Limiter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
