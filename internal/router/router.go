// Package router picks the protocol family for each provider call and falls
// back to the other family when the first one is unavailable.
package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/logging"
	"github.com/yourorg/travel-orchestrator/internal/processor"
	"github.com/yourorg/travel-orchestrator/internal/router/circuitbreaker"
	"github.com/yourorg/travel-orchestrator/internal/wire"
)

// Executor runs one call over one family. *processor.Processor implements it.
type Executor interface {
	Execute(ctx context.Context, call processor.Call) (wire.Response, error)
}

// Route is a call before the family is chosen.
type Route struct {
	Kind   domain.ProductKind
	Target catalog.Target
	// ResourceCapable is false when the product kind has no resource-HTTP
	// implementation of this operation.
	ResourceCapable bool
	Request         wire.Request
}

type Router struct {
	executor       Executor
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

func NewRouter(e Executor, cb *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Router {
	if e == nil {
		panic("executor cannot be nil")
	}
	if cb == nil {
		panic("circuit breaker cannot be nil")
	}
	return &Router{executor: e, circuitBreaker: cb, logger: logging.OrNop(logger).Named("router")}
}

// Candidates lists the descriptors usable for the route in the order they
// are tried. Resource-HTTP comes first unless the entry prefers legacy.
func Candidates(r Route) []domain.ProtocolDescriptor {
	t := r.Target
	op := r.Request.Op
	var resource, legacy *domain.ProtocolDescriptor
	if r.ResourceCapable && t.Resource != nil {
		if _, ok := t.Resource.Path(op); ok {
			resource = t.Resource
		}
	}
	if t.Legacy != nil {
		if _, ok := t.Legacy.Path(op); ok {
			legacy = t.Legacy
		}
	}
	order := []*domain.ProtocolDescriptor{resource, legacy}
	if t.Entry.PreferLegacy {
		order = []*domain.ProtocolDescriptor{legacy, resource}
	}
	var out []domain.ProtocolDescriptor
	for _, d := range order {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

// Execute tries each candidate family until one answers with something other
// than ProtocolUnavailable. It returns the family that served the call.
func (r *Router) Execute(ctx context.Context, route Route) (wire.Response, domain.ProtocolFamily, error) {
	op := route.Request.Op
	serviceID := route.Target.Entry.ID

	candidates := Candidates(route)
	if len(candidates) == 0 {
		if route.Target.Resource == nil && route.Target.Legacy == nil {
			return wire.Response{}, "", &failure.Error{
				Class: failure.ClassProtocolUnavailable, Op: string(op),
				Err: fmt.Errorf("service %d: %w", serviceID, failure.ErrNoProtocolConfigured),
			}
		}
		return wire.Response{}, "", failure.New(failure.ClassProtocolUnavailable, string(op),
			"service %d offers no protocol for %s", serviceID, op)
	}

	var lastErr error
	for _, d := range candidates {
		key := circuitbreaker.Key(serviceID, d.Family)
		if !r.circuitBreaker.AllowRequest(key) {
			lastErr = failure.New(failure.ClassProtocolUnavailable, string(op), "circuit open for %s", key)
			continue
		}

		path, _ := d.Path(op)
		req := route.Request
		req.Path = path
		resp, err := r.executor.Execute(ctx, processor.Call{
			Kind:       route.Kind,
			ServiceID:  serviceID,
			Descriptor: d,
			Request:    req,
		})

		switch failure.ClassOf(err) {
		case failure.ClassNone, failure.ClassProviderRejection, failure.ClassSchemaMismatch:
			r.circuitBreaker.RecordSuccess(key)
		case failure.ClassNetwork:
			r.circuitBreaker.RecordFailure(key)
		case failure.ClassProtocolUnavailable:
			r.logger.Debug("family unavailable, trying next",
				zap.Int64("service_id", serviceID), zap.String("op", string(op)), zap.String("family", string(d.Family)))
			lastErr = err
			continue
		}
		return resp, d.Family, err
	}
	return wire.Response{}, "", lastErr
}
