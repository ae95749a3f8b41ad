package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/metrics"
)

func TestDebit_PostsTransfer(t *testing.T) {
	var got map[string]any
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/Transacciones", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		raw = string(data)
		assert.NoError(t, json.Unmarshal(data, &got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	m := metrics.NewNop()
	c := New(srv.URL+"/", srv.Client(), m, nil)
	err := c.Debit(context.Background(), "1001", "9000", decimal.RequireFromString("360"))
	require.NoError(t, err)

	assert.Equal(t, "1001", got["cuenta_origen"])
	assert.Equal(t, "9000", got["cuenta_destino"])
	assert.Contains(t, raw, `"monto":360.00`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentTransfers.WithLabelValues(DirectionDebit, "ok")))
}

func TestRefund_RejectedIsPaymentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"mensaje":"fondos insuficientes"}`)
	}))
	defer srv.Close()

	m := metrics.NewNop()
	c := New(srv.URL, srv.Client(), m, nil)
	err := c.Refund(context.Background(), "9000", "242", decimal.RequireFromString("150.00"))
	require.Error(t, err)
	assert.Equal(t, failure.ClassPayment, failure.ClassOf(err))
	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, "fondos insuficientes", fe.Message)
	assert.True(t, fe.Delivered)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentTransfers.WithLabelValues(DirectionRefund, "error")))
}

func TestDebit_UnreachableBank(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, nil, nil, nil)
	err := c.Debit(context.Background(), "1001", "9000", decimal.NewFromInt(10))
	assert.Equal(t, failure.ClassPayment, failure.ClassOf(err))
	assert.False(t, failure.WasDelivered(err))
}

func TestDebit_ValidatesInput(t *testing.T) {
	c := New("http://bank.invalid", nil, nil, nil)
	assert.Equal(t, failure.ClassPayment, failure.ClassOf(c.Debit(context.Background(), "", "9000", decimal.NewFromInt(1))))
	assert.Equal(t, failure.ClassPayment, failure.ClassOf(c.Debit(context.Background(), "1", "9000", decimal.Zero)))
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Cuentas/1001":
			_, _ = io.WriteString(w, `{"saldo":"512.40"}`)
		case "/Cuentas/1002":
			_, _ = io.WriteString(w, `{"balance":1}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, srv.Client(), nil, nil)

	bal, err := c.Balance(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "512.40", bal.StringFixed(2))

	_, err = c.Balance(context.Background(), "1002")
	assert.Equal(t, failure.ClassSchemaMismatch, failure.ClassOf(err))

	_, err = c.Balance(context.Background(), "404")
	assert.Equal(t, failure.ClassPayment, failure.ClassOf(err))
}
