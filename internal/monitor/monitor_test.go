package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCheckout = `{
	"customer_id": 7,
	"bank_account": "ACC-7",
	"lines": [{"kind": "hotel", "service_id": 101, "product_id": "H55", "final_price": "360.00", "quantity": 1,
		"dates": {"from": "2026-11-03T00:00:00Z", "to": "2026-11-05T00:00:00Z"}}],
	"billing": {"name": "Ana", "document": "0102030405", "email": "ana@example.com"}
}`

func TestNewContractMonitor(t *testing.T) {
	schemaDir := t.TempDir()
	schemaFile := filepath.Join(schemaDir, "test_schema.json")
	require.NoError(t, os.WriteFile(schemaFile, []byte(`{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"properties": { "name": { "type": "string" } },
		"required": ["name"]
	}`), 0o644))

	t.Run("SuccessfulLoad", func(t *testing.T) {
		cm, err := NewContractMonitor(schemaFile)
		require.NoError(t, err)
		valid, errs, err := cm.Validate([]byte(`{"name":"x"}`))
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Empty(t, errs)
	})

	t.Run("SchemaFileNotFound", func(t *testing.T) {
		_, err := NewContractMonitor(filepath.Join(schemaDir, "missing.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error loading or compiling schema")
	})

	t.Run("InvalidSchemaSyntax", func(t *testing.T) {
		invalid := filepath.Join(schemaDir, "invalid_schema.json")
		require.NoError(t, os.WriteFile(invalid, []byte("{invalid_json"), 0o644))
		_, err := NewContractMonitor(invalid)
		assert.Error(t, err)
	})
}

func TestEmbedded(t *testing.T) {
	for _, name := range []string{SchemaCheckout, SchemaCancel} {
		cm, err := Embedded(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, cm.Name())
	}
	_, err := Embedded("refund")
	assert.Error(t, err)
	assert.Panics(t, func() { MustEmbedded("refund") })
}

func TestCheckoutSchema(t *testing.T) {
	cm := MustEmbedded(SchemaCheckout)

	tests := []struct {
		name          string
		payload       string
		expectValid   bool
		errorContains string
	}{
		{name: "Valid", payload: validCheckout, expectValid: true},
		{
			name:          "MissingLines",
			payload:       `{"customer_id": 7, "bank_account": "A", "billing": {"name": "Ana", "document": "1", "email": "a@b.co"}}`,
			errorContains: "lines is required",
		},
		{
			name:          "EmptyCart",
			payload:       strings.Replace(validCheckout, `"lines": [{`, `"lines": [], "x": [{`, 1),
			errorContains: "lines",
		},
		{
			name:          "UnknownKind",
			payload:       strings.Replace(validCheckout, `"kind": "hotel"`, `"kind": "cruise"`, 1),
			errorContains: "kind",
		},
		{
			name:          "ZeroQuantity",
			payload:       strings.Replace(validCheckout, `"quantity": 1`, `"quantity": 0`, 1),
			errorContains: "quantity",
		},
		{
			name:          "NegativePrice",
			payload:       strings.Replace(validCheckout, `"final_price": "360.00"`, `"final_price": -1`, 1),
			errorContains: "final_price",
		},
		{name: "NumericPrice", payload: strings.Replace(validCheckout, `"final_price": "360.00"`, `"final_price": 360`, 1), expectValid: true},
		{
			name:          "BadEmail",
			payload:       strings.Replace(validCheckout, `ana@example.com`, `not-an-email`, 1),
			errorContains: "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, errs, err := cm.Validate([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.expectValid, valid, errs)
			if tt.errorContains != "" {
				assert.Contains(t, FormatErrors(errs), tt.errorContains)
			}
		})
	}

	_, _, err := cm.Validate([]byte(`{"customer_id": 7,`))
	assert.Error(t, err, "malformed JSON")
}

func TestCancelSchema(t *testing.T) {
	cm := MustEmbedded(SchemaCancel)

	valid, _, err := cm.Validate([]byte(`{"customer_id": 7, "refund_account": "242"}`))
	require.NoError(t, err)
	assert.True(t, valid)

	valid, errs, err := cm.Validate([]byte(`{"customer_id": "7"}`))
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Contains(t, FormatErrors(errs), "refund_account is required")
}

func TestFormatErrors(t *testing.T) {
	assert.Equal(t, "", FormatErrors(nil))
	assert.Equal(t, "Validation errors: Error 1; Error 2", FormatErrors([]string{"Error 1", "Error 2"}))
}
