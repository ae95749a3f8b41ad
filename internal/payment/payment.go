// Package payment is the client of the external banking API used to charge
// customers and refund cancellations.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/logging"
	"github.com/yourorg/travel-orchestrator/internal/metrics"
	"github.com/yourorg/travel-orchestrator/internal/wire"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20

	DirectionDebit  = "debit"
	DirectionRefund = "refund"
)

type transferRequest struct {
	Origin      string      `json:"cuenta_origen"`
	Destination string      `json:"cuenta_destino"`
	Amount      json.Number `json:"monto"`
}

// Client talks to the bank. Transfers are single-shot: they are never
// retried because the bank offers no idempotency key.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func New(baseURL string, httpClient *http.Client, m *metrics.Metrics, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		metrics:    m,
		logger:     logging.OrNop(logger).Named("payment"),
	}
}

// Debit moves amount from the customer's account to the destination.
func (c *Client) Debit(ctx context.Context, origin, destination string, amount decimal.Decimal) error {
	return c.transfer(ctx, DirectionDebit, origin, destination, amount)
}

// Refund moves amount back. The caller passes the platform account as origin.
func (c *Client) Refund(ctx context.Context, origin, destination string, amount decimal.Decimal) error {
	return c.transfer(ctx, DirectionRefund, origin, destination, amount)
}

func (c *Client) transfer(ctx context.Context, direction, origin, destination string, amount decimal.Decimal) (err error) {
	defer func() { c.metrics.Transfer(direction, err) }()

	amount = amount.Round(2)
	if strings.TrimSpace(origin) == "" || strings.TrimSpace(destination) == "" {
		return failure.New(failure.ClassPayment, direction, "origin and destination accounts are required")
	}
	if !amount.IsPositive() {
		return failure.New(failure.ClassPayment, direction, "amount must be positive, got %s", amount.StringFixed(2))
	}

	body, err := json.Marshal(transferRequest{Origin: origin, Destination: destination, Amount: json.Number(amount.StringFixed(2))})
	if err != nil {
		return fmt.Errorf("payment: encode transfer: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Transacciones", bytes.NewReader(body))
	if err != nil {
		return &failure.Error{Class: failure.ClassPayment, Op: direction, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return paymentError(direction, wire.TransportError("", err))
	}
	defer resp.Body.Close()
	data, rerr := wire.ReadLimited(resp.Body, maxBodyBytes, "")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fe := &failure.Error{
			Class:      failure.ClassPayment,
			Op:         direction,
			StatusCode: resp.StatusCode,
			Raw:        data,
			Delivered:  true,
			Message:    bankMessage(data, resp.StatusCode),
		}
		c.logger.Warn("bank rejected transfer",
			zap.String("direction", direction),
			zap.String("amount", amount.StringFixed(2)),
			zap.Int("status", resp.StatusCode),
			zap.String("message", fe.Message))
		return fe
	}
	if rerr != nil {
		c.logger.Warn("transfer accepted but response unreadable", zap.String("direction", direction), zap.Error(rerr))
	}
	c.logger.Info("transfer completed",
		zap.String("direction", direction),
		zap.String("amount", amount.StringFixed(2)))
	return nil
}

// Balance returns the available balance of an account.
func (c *Client) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if strings.TrimSpace(account) == "" {
		return decimal.Decimal{}, failure.New(failure.ClassPayment, "balance", "account is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/Cuentas/"+url.PathEscape(account), nil)
	if err != nil {
		return decimal.Decimal{}, &failure.Error{Class: failure.ClassPayment, Op: "balance", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, paymentError("balance", wire.TransportError("", err))
	}
	defer resp.Body.Close()
	data, err := wire.ReadLimited(resp.Body, maxBodyBytes, "")
	if err != nil {
		return decimal.Decimal{}, paymentError("balance", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decimal.Decimal{}, &failure.Error{
			Class: failure.ClassPayment, Op: "balance", StatusCode: resp.StatusCode,
			Raw: data, Delivered: true, Message: bankMessage(data, resp.StatusCode),
		}
	}
	var out struct {
		Saldo decimal.NullDecimal `json:"saldo"`
	}
	if err := json.Unmarshal(data, &out); err != nil || !out.Saldo.Valid {
		c.logger.Warn("unexpected balance payload", logging.Raw(data))
		return decimal.Decimal{}, &failure.Error{
			Class: failure.ClassSchemaMismatch, Op: "balance", Raw: data, Delivered: true,
			Message: "balance response has no saldo",
		}
	}
	return out.Saldo.Decimal, nil
}

// paymentError reclassifies a transport failure as a payment failure while
// keeping whether the request reached the bank.
func paymentError(op string, err error) error {
	fe, ok := failure.As(err)
	if !ok {
		return &failure.Error{Class: failure.ClassPayment, Op: op, Err: err}
	}
	return &failure.Error{Class: failure.ClassPayment, Op: op, Delivered: fe.Delivered, Message: fe.Message, Err: fe.Err}
}

func bankMessage(body []byte, status int) string {
	var doc map[string]any
	if json.Unmarshal(body, &doc) == nil {
		for _, k := range []string{"mensaje", "message", "error"} {
			if s, ok := doc[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("bank answered HTTP %d", status)
}
