package orchestrator

import (
	stdcontext "context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/adapter"
	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/context"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/events"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/processor"
)

// compensate cancels every confirmed line concurrently. Cancelled lines are
// turned into failed outcomes with reason; lines that stay confirmed are
// returned as stuck compensations.
func (o *Orchestrator) compensate(ctx stdcontext.Context, cc context.CheckoutContext, results []lineResult, reason string, outcomes []domain.ReservationOutcome, logger *zap.Logger) []StuckCompensation {
	ctx = processor.WithCompensation(ctx)
	stuck := make([]*StuckCompensation, len(results))
	var wg sync.WaitGroup
	for i := range results {
		r := results[i]
		if !r.outcome.Success {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			code := r.outcome.ConfirmationCode
			lineLog := logger.With(zap.Int("line", i), zap.Int64("service_id", r.outcome.ServiceID), zap.String("confirmation_code", code))

			refund, err := o.cancelWithRetry(ctx, r.conn, r.target, code, lineLog)
			if err != nil {
				lineLog.Error("compensation stuck", zap.Error(err))
				o.metrics.Compensations.WithLabelValues("stuck").Inc()
				stuck[i] = &StuckCompensation{
					LineIndex: i, Kind: r.outcome.Kind, ServiceID: r.outcome.ServiceID,
					ConfirmationCode: code, Error: err.Error(),
				}
				outcomes[i].Warning = msgStuckCompensation
				return
			}
			lineLog.Info("reservation compensated", zap.String("refund", refund.StringFixed(2)))
			o.metrics.Compensations.WithLabelValues("cancelled").Inc()
			outcomes[i].Success = false
			outcomes[i].ConfirmationCode = ""
			outcomes[i].InvoiceURL = ""
			outcomes[i].Warning = ""
			outcomes[i].ErrorMessage = reason
			outcomes[i].FailureCode = string(failure.ClassPayment)
			outcomes[i].State = domain.StateFailed
		}()
	}
	wg.Wait()

	var out []StuckCompensation
	for _, s := range stuck {
		if s != nil {
			out = append(out, *s)
		}
	}
	if len(out) > 0 {
		o.publish(ctx, events.TypeCompensationStuck, cc, out, logger)
	}
	return out
}

// cancelWithRetry retries a compensation cancel with linear backoff. A
// provider rejection is final.
func (o *Orchestrator) cancelWithRetry(ctx stdcontext.Context, conn adapter.Connector, target catalog.Target, code string, logger *zap.Logger) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.CompensationAttempts; attempt++ {
		refund, err := conn.CancelReservation(ctx, target, code)
		if err == nil {
			return refund, nil
		}
		lastErr = err
		if failure.IsClass(err, failure.ClassProviderRejection) || attempt == o.cfg.CompensationAttempts {
			break
		}
		logger.Warn("compensation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if err := o.sleep(ctx, o.cfg.CompensationBackoff*time.Duration(attempt)); err != nil {
			return decimal.Decimal{}, err
		}
	}
	return decimal.Decimal{}, &failure.Error{
		Class:   failure.ClassStuckCompensation,
		Op:      string(domain.OpCancelReservation),
		Message: "reservation " + code + " could not be cancelled",
		Err:     lastErr,
	}
}
