package context

import (
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/domain"
)

// LineContext is derived by the orchestrator for each cart line.
type LineContext struct {
	TraceID    string
	SpanID     string
	CheckoutID string
	LineIndex  int
	LineID     string
	Kind       domain.ProductKind
	ServiceID  int64
	CustomerID int64
	Billing    domain.BillingInfo
	HoldTTL    time.Duration
	StartTime  time.Time
}

// DeriveLineContext creates a LineContext from the checkout-wide contexts.
func DeriveLineContext(tc TraceContext, cc CheckoutContext, index int, lineID string, line domain.CartLine) LineContext {
	return LineContext{
		TraceID:    tc.TraceID,
		SpanID:     tc.NewSpan(),
		CheckoutID: cc.CheckoutID,
		LineIndex:  index,
		LineID:     lineID,
		Kind:       line.Kind,
		ServiceID:  line.ServiceID,
		CustomerID: cc.CustomerID,
		Billing:    cc.Billing,
		HoldTTL:    cc.HoldTTL,
		StartTime:  time.Now(),
	}
}

// Fields are the log fields identifying the line.
func (lc LineContext) Fields() []zap.Field {
	return []zap.Field{
		zap.String("trace_id", lc.TraceID),
		zap.String("line_id", lc.LineID),
		zap.Int("line", lc.LineIndex),
		zap.String("kind", string(lc.Kind)),
		zap.Int64("service_id", lc.ServiceID),
	}
}
