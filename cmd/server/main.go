/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the booking engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Open the store (SQLite with migrations, or in-memory)
  3. Choose the booking lock (Redis when configured, else in-process)
  4. Choose the event publisher (RabbitMQ when configured, else log)
  5. Build the Service, router and pending-payment sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (overrides PORT)
  -db        SQLite database path, or "memory" (overrides DB_PATH)
  -scenario  Demo scenario to load at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close broker and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/booking.db"

  # Run in memory with demo data
  ./server -db=memory -scenario=busy-day

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/warp/booking-engine/api"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/config"
	"github.com/warp/booking-engine/events"
	"github.com/warp/booking-engine/gateway"
	"github.com/warp/booking-engine/lock"
	"github.com/warp/booking-engine/logging"
	"github.com/warp/booking-engine/metrics"
	"github.com/warp/booking-engine/store/memory"
	"github.com/warp/booking-engine/store/sqlite"
)

// store is what main needs from either backend.
type store interface {
	booking.Store
	api.Resetter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.App.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DB.Path, `SQLite database path, or "memory"`)
	scenario := flag.String("scenario", "", "Demo scenario to load at startup")
	flag.Parse()

	logger := logging.New(cfg.App.LogLevel).With("app", cfg.App.Name)
	if err := run(cfg, *port, *dbPath, *scenario, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, port int, dbPath, scenario string, logger *logging.Logger) error {
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	// Store
	st, closeStore, err := openStore(cfg.DB.Driver, dbPath)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("store ready", "driver", cfg.DB.Driver, "path", dbPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []booking.Option{
		booking.WithLogger(logger),
		booking.WithPolicy(policy),
		booking.WithMetrics(metrics.NewBookingMetrics(reg)),
	}

	// Lock
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		opts = append(opts, booking.WithLocker(lock.NewRedis(client,
			lock.WithTTL(cfg.Redis.LockTTL),
			lock.WithWait(cfg.Redis.LockWait),
			lock.WithLogger(logger),
		)))
		logger.Info("using redis booking locks", "addr", cfg.Redis.Addr)
	}

	// Events
	if cfg.AMQP.URL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.App.Name)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, booking.WithPublisher(pub))
		logger.Info("publishing events", "exchange", cfg.AMQP.Exchange)
	} else {
		opts = append(opts, booking.WithPublisher(events.NewLogPublisher(logger)))
	}

	// Gateway
	var verifier api.NotifyVerifier
	if cfg.GatewayEnabled() {
		hosted := gateway.New(cfg.GatewayConfig())
		opts = append(opts, booking.WithGateway(hosted))
		verifier = hosted
		logger.Info("hosted checkout enabled", "process_url", hosted.ProcessURL())
	} else {
		logger.Warn("hosted checkout disabled, GATEWAY_MERCHANT_ID/KEY not set")
	}

	svc := booking.NewService(st, opts...)
	handler := api.NewHandler(svc, st, verifier, logger)
	if scenario != "" {
		if err := handler.LoadScenarioByID(context.Background(), scenario); err != nil {
			return err
		}
	}

	router := api.NewRouter(handler, api.RouterConfig{CORSOrigins: cfg.App.CORSOrigins, Gatherer: reg})

	sweeper := api.NewPendingPaymentSweeper(svc, logger)
	sweeper.CheckInterval = cfg.Booking.SweepInterval
	sweeper.TTL = cfg.Booking.PendingTTL
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(driver, path string) (store, func(), error) {
	if driver == "memory" || path == "memory" {
		return memory.New(), func() {}, nil
	}
	if driver != "sqlite" {
		return nil, nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	s, err := sqlite.New(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	return s, func() { _ = s.Close() }, nil
}
