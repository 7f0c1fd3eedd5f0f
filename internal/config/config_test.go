package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.EqualError(t, err, "DATABASE_URL is required")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/storefront")
	t.Setenv("RAZORPAY_KEY_SECRET", "s3cret")
	t.Setenv("RAZORPAY_BASE_URL", "http://gateway.local/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "storefront.events", cfg.KafkaTopic)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, time.Minute, cfg.ReaperInterval)
	assert.Equal(t, 2*time.Second, cfg.OutboxInterval)
	assert.Equal(t, 15*time.Minute, cfg.ReplayWindow)
	assert.Equal(t, "INR", cfg.Payment.Currency)
	assert.Equal(t, "s3cret", cfg.Payment.KeySecret)
	assert.Equal(t, "http://gateway.local", cfg.Payment.BaseURL)
	assert.Equal(t, cfg.RequestTimeout, cfg.Shipping.Timeout)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/storefront")
	t.Setenv("RESERVATION_TTL", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "RESERVATION_TTL")

	t.Setenv("RESERVATION_TTL", "")
	t.Setenv("REPLAY_WINDOW", "0s")
	_, err = Load()
	assert.ErrorContains(t, err, "REPLAY_WINDOW")

	t.Setenv("REPLAY_WINDOW", "")
	t.Setenv("REQUEST_TIMEOUT_MS", "-5")
	_, err = Load()
	assert.ErrorContains(t, err, "REQUEST_TIMEOUT_MS")
}
