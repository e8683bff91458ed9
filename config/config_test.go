package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Booking.PendingTTL)
	assert.False(t, cfg.GatewayEnabled())

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, "08:00", policy.Open.String())
	assert.Equal(t, "18:00", policy.Close.String())
	assert.Equal(t, 15, policy.BufferMinutes)
	assert.Equal(t, 10, policy.LatestLimit)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	// GIVEN: A .env file and one variable already in the environment
	// WHEN: Loading config
	// THEN: The file fills gaps, the environment wins

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GATEWAY_MERCHANT_ID=100\nGATEWAY_MERCHANT_KEY=abc\nPORT=9000\n"), 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("BOOKING_OPEN", "07:30")
	// Register cleanup for the keys godotenv sets, then leave them unset.
	t.Setenv("GATEWAY_MERCHANT_ID", "")
	t.Setenv("GATEWAY_MERCHANT_KEY", "")
	os.Unsetenv("GATEWAY_MERCHANT_ID")
	os.Unsetenv("GATEWAY_MERCHANT_KEY")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.App.Port)
	assert.True(t, cfg.GatewayEnabled())
	assert.Equal(t, "100", cfg.GatewayConfig().MerchantID)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, "07:30", policy.Open.String())
}

func TestPolicy_Invalid(t *testing.T) {
	t.Setenv("BOOKING_OPEN", "18:00")
	t.Setenv("BOOKING_CLOSE", "08:00")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	_, err = cfg.Policy()
	assert.Error(t, err)
}
