// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/gateway"
	"github.com/warp/booking-engine/generic"
)

type Config struct {
	App struct {
		Name     string `envconfig:"APP_NAME" default:"booking-engine"`
		Port     int    `envconfig:"PORT" default:"8080"`
		LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
		// CORSOrigins is a comma-separated allow list for the admin and patient UIs.
		CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
	}

	DB struct {
		Driver string `envconfig:"DB_DRIVER" default:"sqlite"`
		Path   string `envconfig:"DB_PATH" default:"./data/booking.db"`
	}

	Redis struct {
		// Addr empty keeps booking locks in-process.
		Addr     string        `envconfig:"REDIS_ADDR"`
		Password string        `envconfig:"REDIS_PASSWORD"`
		DB       int           `envconfig:"REDIS_DB" default:"0"`
		LockTTL  time.Duration `envconfig:"REDIS_LOCK_TTL" default:"30s"`
		LockWait time.Duration `envconfig:"REDIS_LOCK_WAIT" default:"5s"`
	}

	AMQP struct {
		// URL empty logs events instead of publishing them.
		URL      string `envconfig:"AMQP_URL"`
		Exchange string `envconfig:"AMQP_EXCHANGE" default:"booking.events"`
	}

	Gateway struct {
		MerchantID  string `envconfig:"GATEWAY_MERCHANT_ID"`
		MerchantKey string `envconfig:"GATEWAY_MERCHANT_KEY"`
		Passphrase  string `envconfig:"GATEWAY_PASSPHRASE"`
		Sandbox     bool   `envconfig:"GATEWAY_SANDBOX" default:"true"`
		ReturnURL   string `envconfig:"GATEWAY_RETURN_URL" default:"http://localhost:5173/verify"`
		CancelURL   string `envconfig:"GATEWAY_CANCEL_URL" default:"http://localhost:5173/verify"`
		NotifyURL   string `envconfig:"GATEWAY_NOTIFY_URL" default:"http://localhost:8080/api/gateway/notify"`
	}

	Booking struct {
		Open          string        `envconfig:"BOOKING_OPEN" default:"08:00"`
		Close         string        `envconfig:"BOOKING_CLOSE" default:"18:00"`
		BufferMinutes int           `envconfig:"BOOKING_BUFFER_MINUTES" default:"15"`
		PendingTTL    time.Duration `envconfig:"BOOKING_PENDING_TTL" default:"30m"`
		SweepInterval time.Duration `envconfig:"BOOKING_SWEEP_INTERVAL" default:"1m"`
		LatestLimit   int           `envconfig:"BOOKING_LATEST_LIMIT" default:"10"`
	}
}

// Load reads the optional dotenv files (default ".env"), then the environment.
// Variables already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}

// Policy converts the Booking section into service rules.
func (c *Config) Policy() (booking.Policy, error) {
	open, err := generic.ParseClock(c.Booking.Open)
	if err != nil {
		return booking.Policy{}, fmt.Errorf("BOOKING_OPEN: %w", err)
	}
	closing, err := generic.ParseClock(c.Booking.Close)
	if err != nil {
		return booking.Policy{}, fmt.Errorf("BOOKING_CLOSE: %w", err)
	}
	if closing <= open {
		return booking.Policy{}, fmt.Errorf("BOOKING_CLOSE %s must be after BOOKING_OPEN %s", closing, open)
	}
	if c.Booking.BufferMinutes < 0 {
		return booking.Policy{}, fmt.Errorf("BOOKING_BUFFER_MINUTES must not be negative")
	}
	return booking.Policy{
		Open:          open,
		Close:         closing,
		BufferMinutes: c.Booking.BufferMinutes,
		LatestLimit:   c.Booking.LatestLimit,
	}, nil
}

func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		MerchantID:  c.Gateway.MerchantID,
		MerchantKey: c.Gateway.MerchantKey,
		Passphrase:  c.Gateway.Passphrase,
		Sandbox:     c.Gateway.Sandbox,
		ReturnURL:   c.Gateway.ReturnURL,
		CancelURL:   c.Gateway.CancelURL,
		NotifyURL:   c.Gateway.NotifyURL,
	}
}

// GatewayEnabled reports whether merchant credentials are present.
func (c *Config) GatewayEnabled() bool {
	return c.Gateway.MerchantID != "" && c.Gateway.MerchantKey != ""
}
