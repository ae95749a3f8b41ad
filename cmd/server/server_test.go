package main

import (
	"bytes"
	go_std_context "context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/cancellation"
	"github.com/yourorg/travel-orchestrator/internal/config"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/orchestrator"
)

const checkoutBody = `{
	"customer_id": 7,
	"bank_account": "ACC-7",
	"lines": [{"kind": "hotel", "service_id": 101, "product_id": "H55", "title": "Suite", "final_price": "360.00", "quantity": 1}],
	"billing": {"name": "Ana", "document": "0102030405", "email": "ana@example.com"}
}`

type fakeCheckout struct {
	res    orchestrator.CheckoutResult
	err    error
	called bool
	got    orchestrator.CheckoutRequest
}

func (f *fakeCheckout) ProcessCheckout(_ go_std_context.Context, req orchestrator.CheckoutRequest) (orchestrator.CheckoutResult, error) {
	f.called = true
	f.got = req
	return f.res, f.err
}

type fakeCancel struct {
	res          cancellation.Result
	err          error
	reservation  int64
	customer     int64
	refundTarget string
}

func (f *fakeCancel) CancelReservation(_ go_std_context.Context, reservationID, customerID int64, refundAccount string) (cancellation.Result, error) {
	f.reservation, f.customer, f.refundTarget = reservationID, customerID, refundAccount
	return f.res, f.err
}

func setupTestRouter(checkout checkoutService, cancel cancelService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return setupRouter(&app{logger: zap.NewNop(), registry: prometheus.NewRegistry(), checkout: checkout, cancel: cancel})
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCheckout_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		res    orchestrator.CheckoutResult
		err    error
		status int
	}{
		{"Completed", orchestrator.CheckoutResult{Success: true, Status: orchestrator.StatusCompleted}, nil, http.StatusOK},
		{"PaymentFailed", orchestrator.CheckoutResult{Status: orchestrator.StatusPaymentFailed}, nil, http.StatusPaymentRequired},
		{"NothingReserved", orchestrator.CheckoutResult{Status: orchestrator.StatusNothingReserved}, nil, http.StatusUnprocessableEntity},
		{"InvalidCheckout", orchestrator.CheckoutResult{}, failure.ErrInvalidCheckout, http.StatusBadRequest},
		{"Unexpected", orchestrator.CheckoutResult{}, errors.New("platform account is not configured"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeCheckout{res: tt.res, err: tt.err}
			w := post(t, setupTestRouter(svc, &fakeCancel{}), "/checkout", checkoutBody)
			assert.Equal(t, tt.status, w.Code)
			assert.True(t, svc.called)
		})
	}
}

func TestCheckout_BindsRequest(t *testing.T) {
	svc := &fakeCheckout{res: orchestrator.CheckoutResult{Success: true, Status: orchestrator.StatusCompleted, AmountCharged: decimal.RequireFromString("360")}}
	w := post(t, setupTestRouter(svc, &fakeCancel{}), "/checkout", checkoutBody)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, int64(7), svc.got.CustomerID)
	require.Len(t, svc.got.Lines, 1)
	assert.Equal(t, domain.KindHotel, svc.got.Lines[0].Kind)
	assert.Equal(t, "360.00", svc.got.Lines[0].FinalPrice.StringFixed(2))
	assert.Equal(t, "ana@example.com", svc.got.Billing.Email)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "COMPLETED", body["status"])
}

func TestCheckout_RejectsInvalidBodies(t *testing.T) {
	for name, body := range map[string]string{
		"Malformed":     `{"customer_id": 7,`,
		"MissingLines":  `{"customer_id": 7, "bank_account": "A", "billing": {"name": "A", "document": "1", "email": "a@b.co"}}`,
		"UnknownKind":   strings.Replace(checkoutBody, `"kind": "hotel"`, `"kind": "cruise"`, 1),
		"NonPositiveId": strings.Replace(checkoutBody, `"customer_id": 7`, `"customer_id": 0`, 1),
	} {
		t.Run(name, func(t *testing.T) {
			svc := &fakeCheckout{}
			w := post(t, setupTestRouter(svc, &fakeCancel{}), "/checkout", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, svc.called)
		})
	}
}

func TestCancel_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"Cancelled", nil, http.StatusOK},
		{"NotFound", failure.ErrReservationNotFound, http.StatusNotFound},
		{"NotOwner", failure.ErrNotOwner, http.StatusForbidden},
		{"RefundFailed", &failure.Error{Class: failure.ClassPayment, Op: "refund"}, http.StatusPaymentRequired},
		{"InvalidRequest", cancellation.ErrInvalidRequest, http.StatusBadRequest},
		{"ProviderDown", &failure.Error{Class: failure.ClassNetwork}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeCancel{err: tt.err, res: cancellation.Result{ReservationID: 501, RefundAmount: decimal.RequireFromString("150")}}
			w := post(t, setupTestRouter(&fakeCheckout{}, svc), "/reservations/501/cancel", `{"customer_id": 7, "refund_account": "242"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, int64(501), svc.reservation)
			assert.Equal(t, int64(7), svc.customer)
			assert.Equal(t, "242", svc.refundTarget)
		})
	}
}

func TestCancel_RejectsBadInput(t *testing.T) {
	svc := &fakeCancel{}
	r := setupTestRouter(&fakeCheckout{}, svc)

	assert.Equal(t, http.StatusBadRequest, post(t, r, "/reservations/abc/cancel", `{"customer_id": 7, "refund_account": "242"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, r, "/reservations/501/cancel", `{"customer_id": 7}`).Code)
	assert.Zero(t, svc.reservation)
}

func TestHealthAndMetrics(t *testing.T) {
	r := setupTestRouter(&fakeCheckout{}, &fakeCancel{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewApp_MemoryDriverEndToEnd(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		answers := map[string]string{
			"POST /holds":        `{"hold_id":"HLD-1"}`,
			"POST /customers":    `{"customer_id":"EXT-1"}`,
			"POST /reservations": `{"confirmation_code":"H55-OK"}`,
			"POST /invoices":     `{"invoice_url":"https://hotel.example/f/1"}`,
		}
		body, ok := answers[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	defer provider.Close()

	var debits [][]byte
	bank := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		debits = append(debits, data)
		_, _ = io.WriteString(w, `{"estado":"ok"}`)
	}))
	defer bank.Close()

	cfg := &config.Config{
		Bank:      config.BankConfig{URI: bank.URL, PlatformAccount: "100", TimeoutMs: 2000},
		Providers: config.ProvidersConfig{TimeoutMs: 2000, MaxMessageBytes: config.DefaultMaxBytes, ReadAttempts: 2},
		Checkout:  config.CheckoutConfig{Workers: 2, HoldTTLSeconds: 60, VATRate: 0.12, CompensationAttempts: 2},
		Breaker:   config.BreakerConfig{FailureThreshold: 5, ResetTimeoutMs: 1000},
		Store:     config.StoreConfig{Driver: "memory"},
		Events:    config.EventsConfig{Driver: "none"},
		Catalog: config.CatalogConfig{Services: []config.ServiceConfig{{
			ID: 101, Kind: "Hotel", Name: "Hotel Quito", Active: true,
			Descriptors: []config.DescriptorConfig{{
				Family:  "resource-http",
				BaseURL: provider.URL,
				Paths: map[string]string{
					"create_hold":         "/holds",
					"register_customer":   "/customers",
					"confirm_reservation": "/reservations",
					"generate_invoice":    "/invoices",
				},
			}},
		}}},
	}
	a, err := newApp(go_std_context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.close(go_std_context.Background())

	gin.SetMode(gin.TestMode)
	r := setupRouter(a)
	w := post(t, r, "/checkout", checkoutBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res orchestrator.CheckoutResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "H55-OK", res.Outcomes[0].ConfirmationCode)
	require.Len(t, debits, 1)
	assert.True(t, bytes.Contains(debits[0], []byte(`"monto":360.00`)))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `travel_checkout_total{status="COMPLETED"} 1`)
}
