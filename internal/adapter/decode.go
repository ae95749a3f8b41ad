package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/logging"
)

// Every provider answer is decoded with a primary shape (flat, English field
// names) and then one alternate shape (wrapped in "resultado", Spanish field
// names). Scalars are loose in both: numbers may arrive as strings and
// booleans as "si"/"no", which is also what SOAP child elements produce.

type shape[T any] func(body []byte) (T, bool)

func jsonShape[S any, T any](convert func(S) (T, bool)) shape[T] {
	return func(body []byte) (T, bool) {
		var s S
		if err := json.Unmarshal(body, &s); err != nil {
			var zero T
			return zero, false
		}
		return convert(s)
	}
}

// decodeAs tries primary, then alternate, then reports a schema mismatch
// with the raw payload logged.
func decodeAs[T any](c *KindConnector, a answer, primary, alternate shape[T]) (T, error) {
	if v, ok := primary(a.body); ok {
		return v, nil
	}
	if v, ok := alternate(a.body); ok {
		c.logger.Debug("decoded alternate response shape",
			zap.Int64("service_id", a.serviceID), zap.String("op", string(a.op)), zap.String("family", string(a.family)))
		return v, nil
	}
	c.logger.Warn("provider payload matches no known shape",
		zap.Int64("service_id", a.serviceID),
		zap.String("op", string(a.op)),
		zap.String("family", string(a.family)),
		logging.Raw(a.body))
	var zero T
	return zero, &failure.Error{
		Class:     failure.ClassSchemaMismatch,
		Op:        string(a.op),
		Provider:  fmt.Sprintf("%s/%d", c.kind, a.serviceID),
		Message:   "unrecognised response shape",
		Raw:       a.body,
		Delivered: true,
	}
}

type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*s = ""
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(v))
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("expected scalar, got %c", b[0])
	default:
		*s = looseString(b)
	}
	return nil
}

type looseBool bool

func (v *looseBool) UnmarshalJSON(b []byte) error {
	var s looseString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToLower(string(s)) {
	case "true", "1", "si", "sí", "yes", "s":
		*v = true
	case "false", "0", "no", "n", "":
		*v = false
	default:
		return fmt.Errorf("not a boolean: %q", string(s))
	}
	return nil
}

type looseTime time.Time

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func (t *looseTime) UnmarshalJSON(b []byte) error {
	var s looseString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*t = looseTime{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, string(s)); err == nil {
			*t = looseTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("unrecognised time %q", string(s))
}

func (t looseTime) Time() time.Time { return time.Time(t) }

// list accepts either an array or a single object, as SOAP results with one
// repeated element collapse to an object.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []T
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = list[T]{one}
	return nil
}

// products

type productEN struct {
	ID        looseString     `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Available *looseBool      `json:"available"`
}

type productES struct {
	Codigo     looseString     `json:"codigo"`
	Nombre     string          `json:"nombre"`
	Precio     decimal.Decimal `json:"precio"`
	Moneda     string          `json:"moneda"`
	Disponible *looseBool      `json:"disponible"`
}

func productsShapes(kind domain.ProductKind) (shape[[]domain.Product], shape[[]domain.Product]) {
	primary := jsonShape(func(s struct {
		Products *list[productEN] `json:"products"`
	}) ([]domain.Product, bool) {
		if s.Products == nil {
			return nil, false
		}
		out := make([]domain.Product, 0, len(*s.Products))
		for _, p := range *s.Products {
			if p.ID == "" {
				return nil, false
			}
			out = append(out, domain.Product{
				ID: string(p.ID), Kind: kind, Title: p.Title, Price: p.Price.Round(2),
				Currency: p.Currency, Available: p.Available == nil || bool(*p.Available),
			})
		}
		return out, true
	})
	alternate := jsonShape(func(s struct {
		Resultado *list[productES] `json:"resultado"`
	}) ([]domain.Product, bool) {
		if s.Resultado == nil {
			return nil, false
		}
		out := make([]domain.Product, 0, len(*s.Resultado))
		for _, p := range *s.Resultado {
			if p.Codigo == "" {
				return nil, false
			}
			out = append(out, domain.Product{
				ID: string(p.Codigo), Kind: kind, Title: p.Nombre, Price: p.Precio.Round(2),
				Currency: p.Moneda, Available: p.Disponible == nil || bool(*p.Disponible),
			})
		}
		return out, true
	})
	return primary, alternate
}

// availability

var availabilityPrimary = jsonShape(func(s struct {
	Available *looseBool `json:"available"`
}) (bool, bool) {
	if s.Available == nil {
		return false, false
	}
	return bool(*s.Available), true
})

var availabilityAlternate = jsonShape(func(s struct {
	Resultado *struct {
		Disponible *looseBool `json:"disponible"`
	} `json:"resultado"`
}) (bool, bool) {
	if s.Resultado == nil || s.Resultado.Disponible == nil {
		return false, false
	}
	return bool(*s.Resultado.Disponible), true
})

// holds

type holdAnswer struct {
	id        string
	expiresAt time.Time
}

var holdPrimary = jsonShape(func(s struct {
	HoldID    looseString `json:"hold_id"`
	ExpiresAt looseTime   `json:"expires_at"`
}) (holdAnswer, bool) {
	return holdAnswer{id: string(s.HoldID), expiresAt: s.ExpiresAt.Time()}, s.HoldID != ""
})

var holdAlternate = jsonShape(func(s struct {
	Resultado *struct {
		ID     looseString `json:"id_prerreserva"`
		Expira looseTime   `json:"expira"`
	} `json:"resultado"`
}) (holdAnswer, bool) {
	if s.Resultado == nil || s.Resultado.ID == "" {
		return holdAnswer{}, false
	}
	return holdAnswer{id: string(s.Resultado.ID), expiresAt: s.Resultado.Expira.Time()}, true
})

// single identifiers: customer id, confirmation code, invoice url

func idShapes(english, spanish string) (shape[string], shape[string]) {
	primary := func(body []byte) (string, bool) { return scalarField(body, english) }
	alternate := func(body []byte) (string, bool) {
		var doc struct {
			Resultado json.RawMessage `json:"resultado"`
		}
		if err := json.Unmarshal(body, &doc); err != nil || len(doc.Resultado) == 0 {
			return "", false
		}
		return scalarField(doc.Resultado, spanish)
	}
	return primary, alternate
}

// scalarField reads one scalar member of a JSON object.
func scalarField(body []byte, key string) (string, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	raw, ok := doc[key]
	if !ok {
		return "", false
	}
	var v looseString
	if err := v.UnmarshalJSON(raw); err != nil || v == "" {
		return "", false
	}
	return string(v), true
}

var (
	customerPrimary, customerAlternate         = idShapes("customer_id", "id_cliente")
	confirmationPrimary, confirmationAlternate = idShapes("confirmation_code", "codigo_confirmacion")
	invoicePrimary, invoiceAlternate           = idShapes("invoice_url", "url_factura")
)

// reservation snapshots

type snapshotFields struct {
	Code       looseString
	Status     looseString
	Refund     decimal.NullDecimal
	From, To   looseTime
	Attributes map[string]any
}

func (f snapshotFields) snapshot() (domain.ReservationSnapshot, bool) {
	if f.Status == "" {
		return domain.ReservationSnapshot{}, false
	}
	snap := domain.ReservationSnapshot{
		ConfirmationCode: string(f.Code),
		Status:           string(f.Status),
		RefundAmount:     f.Refund,
	}
	if snap.RefundAmount.Valid {
		snap.RefundAmount.Decimal = snap.RefundAmount.Decimal.Round(2)
	}
	if !f.From.Time().IsZero() || !f.To.Time().IsZero() {
		snap.Dates = &domain.DateRange{From: f.From.Time(), To: f.To.Time()}
	}
	if len(f.Attributes) > 0 {
		attrs, err := structpb.NewStruct(f.Attributes)
		if err != nil {
			return domain.ReservationSnapshot{}, false
		}
		snap.Attributes = attrs
	}
	return snap, true
}

var snapshotPrimary = jsonShape(func(s struct {
	Code       looseString         `json:"confirmation_code"`
	Status     looseString         `json:"status"`
	Refund     decimal.NullDecimal `json:"refund_amount"`
	From       looseTime           `json:"from"`
	To         looseTime           `json:"to"`
	Attributes map[string]any      `json:"attributes"`
}) (domain.ReservationSnapshot, bool) {
	return snapshotFields{s.Code, s.Status, s.Refund, s.From, s.To, s.Attributes}.snapshot()
})

var snapshotAlternate = jsonShape(func(s struct {
	Resultado *struct {
		Code       looseString         `json:"codigo_confirmacion"`
		Status     looseString         `json:"estado"`
		Refund     decimal.NullDecimal `json:"monto_reembolso"`
		From       looseTime           `json:"desde"`
		To         looseTime           `json:"hasta"`
		Attributes map[string]any      `json:"atributos"`
	} `json:"resultado"`
}) (domain.ReservationSnapshot, bool) {
	r := s.Resultado
	if r == nil {
		return domain.ReservationSnapshot{}, false
	}
	return snapshotFields{r.Code, r.Status, r.Refund, r.From, r.To, r.Attributes}.snapshot()
})

// cancellations

var refundPrimary = jsonShape(func(s struct {
	Refund decimal.NullDecimal `json:"refund_amount"`
}) (decimal.Decimal, bool) {
	return s.Refund.Decimal.Round(2), s.Refund.Valid
})

var refundAlternate = jsonShape(func(s struct {
	Resultado *struct {
		Refund decimal.NullDecimal `json:"monto_reembolso"`
	} `json:"resultado"`
}) (decimal.Decimal, bool) {
	if s.Resultado == nil || !s.Resultado.Refund.Valid {
		return decimal.Decimal{}, false
	}
	return s.Resultado.Refund.Decimal.Round(2), true
})
