// Package events publishes checkout lifecycle events to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/config"
	"github.com/yourorg/travel-orchestrator/internal/logging"
)

const (
	TypeCheckoutCompleted    = "checkout.completed"
	TypeCheckoutFailed       = "checkout.failed"
	TypeReservationCancelled = "reservation.cancelled"
	TypeCompensationStuck    = "compensation.stuck"
	TypeReconciliation       = "purchase.reconciliation"
)

// Event is the envelope written to every broker.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	CheckoutID string          `json:"checkout_id,omitempty"`
	CustomerID int64           `json:"customer_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with a fresh id. Payload is marshalled to JSON.
func New(eventType, checkoutID string, customerID int64, payload any) (Event, error) {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		CheckoutID: checkoutID,
		CustomerID: customerID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("events: marshal %s payload: %w", eventType, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Key partitions events of the same checkout together.
func (e Event) Key() string {
	if e.CheckoutID != "" {
		return e.CheckoutID
	}
	return e.ID
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Open returns the publisher selected by cfg.Driver.
func Open(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "log":
		return NewLogPublisher(logger), nil
	case "kafka":
		return NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger), nil
	case "amqp":
		return DialAMQP(cfg.AMQPURL, cfg.Exchange, logger)
	}
	return nil, fmt.Errorf("events: unsupported driver %q", cfg.Driver)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.OrNop(logger).Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info("event",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("checkout_id", ev.CheckoutID),
		zap.ByteString("payload", ev.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned by Publish after recording.
	Err error
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
