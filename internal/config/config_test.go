package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
bank:
  uri: http://bank.local/api
  platform_account: "0001"
providers:
  credentials:
    HotelSur: s3cret
checkout:
  workers: 2
catalog:
  services:
    - id: 101
      kind: Hotel
      name: Hotel Sur
      settlement_account: "900"
      active: true
      descriptors:
        - family: resource-http
          base_url: http://hotel.local
          credential_ref: HotelSur
          paths:
            create_hold: /holds
            fetch_reservation: /reservations/{id}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "http://bank.local/api", cfg.Bank.URI)
	assert.Equal(t, "0001", cfg.Bank.PlatformAccount)
	assert.Equal(t, 2, cfg.Checkout.Workers)
	assert.Equal(t, 300, cfg.Checkout.HoldTTLSeconds)
	assert.InDelta(t, 0.12, cfg.Checkout.VATRate, 1e-9)
	assert.Equal(t, 3, cfg.Checkout.CompensationAttempts)
	assert.EqualValues(t, DefaultMaxBytes, cfg.Providers.MaxMessageBytes)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.Providers.Credentials["hotelsur"])

	require.Len(t, cfg.Catalog.Services, 1)
	svc := cfg.Catalog.Services[0]
	assert.EqualValues(t, 101, svc.ID)
	require.Len(t, svc.Descriptors, 1)
	assert.Equal(t, "/reservations/{id}", svc.Descriptors[0].Paths["fetch_reservation"])
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TRAVEL_CHECKOUT_WORKERS", "8")
	t.Setenv("TRAVEL_BANK_PLATFORM_ACCOUNT", "0777")

	cfg, err := Load(writeConfig(t, sampleYAML), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Checkout.Workers)
	assert.Equal(t, "0777", cfg.Bank.PlatformAccount)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TRAVEL_BANK_URI=http://from-dotenv\nTRAVEL_BANK_PLATFORM_ACCOUNT=55\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("TRAVEL_BANK_URI")
		os.Unsetenv("TRAVEL_BANK_PLATFORM_ACCOUNT")
	})

	cfg, err := Load(filepath.Join(dir, "absent.yaml"), envFile)
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv", cfg.Bank.URI)
	assert.Equal(t, "55", cfg.Bank.PlatformAccount)
}

func TestLoad_ValidationErrors(t *testing.T) {
	body := `
bank:
  uri: ""
checkout:
  workers: 0
  vat_rate: 1.5
store:
  driver: oracle
`
	_, err := Load(writeConfig(t, body), filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bank.uri is required")
	assert.Contains(t, err.Error(), "checkout.workers must be at least 1")
	assert.Contains(t, err.Error(), "checkout.vat_rate")
	assert.Contains(t, err.Error(), `store.driver "oracle"`)
}

func TestPath(t *testing.T) {
	assert.Equal(t, DefaultPath, Path(func(string) string { return "" }))
	assert.Equal(t, "/etc/travel.yaml", Path(func(string) string { return "/etc/travel.yaml" }))
}
