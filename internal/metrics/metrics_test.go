package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Checkouts.WithLabelValues("success").Inc()
	m.ObserveCall("hotel", "create_hold", "resource-http", "ok", 120*time.Millisecond)
	m.Transfer("debit", nil)
	m.Transfer("refund", errors.New("rejected"))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["travel_checkout_total"])
	assert.True(t, names["travel_connector_calls_total"])
	assert.True(t, names["travel_connector_call_duration_seconds"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checkouts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentTransfers.WithLabelValues("refund", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectorCalls.WithLabelValues("hotel", "create_hold", "resource-http", "ok")))
}

func TestNew_NilRegistererIsHermetic(t *testing.T) {
	a := NewNop()
	b := NewNop()
	a.PlanRequests.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.PlanRequests))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PlanRequests))
}
