package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "INR", cfg.Payments.Currency)
	assert.Equal(t, int64(100), cfg.Payments.MinAmount)
	assert.Equal(t, int64(99_999_999), cfg.Payments.MaxAmount)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Minute, cfg.Notifications.SweepInterval)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "razorpay.key_id is required")
	assert.Contains(t, err.Error(), "razorpay.webhook_secret is required")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PAYGW_RAZORPAY_KEY_ID", "rzp_test_123")
	t.Setenv("PAYGW_RAZORPAY_KEY_SECRET", "secret")
	t.Setenv("PAYGW_RAZORPAY_WEBHOOK_SECRET", "whsec")
	t.Setenv("PAYGW_HTTP_ADDR", ":9090")
	t.Setenv("PAYGW_PAYMENTS_MIN_AMOUNT", "50")
	t.Setenv("PAYGW_NOTIFICATIONS_SWEEP_INTERVAL", "30s")
	t.Setenv("PAYGW_STORAGE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "rzp_test_123", cfg.Razorpay.KeyID)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, int64(50), cfg.Payments.MinAmount)
	assert.Equal(t, 30*time.Second, cfg.Notifications.SweepInterval)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
razorpay:
  key_id: rzp_file
  key_secret: file_secret
  webhook_secret: file_whsec
payments:
  currency: USD
  min_amount: 50
  max_amount: 1000
kafka:
  brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rzp_file", cfg.Razorpay.KeyID)
	assert.Equal(t, "USD", cfg.Payments.Currency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateAmountBoundsAndDriver(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Razorpay = RazorpayConfig{KeyID: "k", KeySecret: "s", WebhookSecret: "w"}

	cfg.Payments.MinAmount = 500
	cfg.Payments.MaxAmount = 100
	assert.ErrorContains(t, cfg.Validate(), "amount bounds")

	cfg.Payments.MaxAmount = 1000
	cfg.Storage.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "not supported")
}
