/*
scheduler.go - Pending-payment sweeper

PURPOSE:
  Periodically clears gateway payments that were initiated but never
  confirmed. A browser that abandons the hosted checkout leaves a
  PendingPayment behind; the sweeper expires it after the configured TTL.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates to Service.ExpireStalePayments, which follows failure
    callback rules except that it never cancels the appointment
  - A new checkout may overwrite a stale record at any time, so the sweep
    only tidies up; nothing depends on it running on time

CONFIGURATION:
  - CheckInterval: How often to sweep (BOOKING_SWEEP_INTERVAL, default 1m)
  - TTL:           Age after which a pending payment expires
                   (BOOKING_PENDING_TTL, default 30m)
  - Enabled:       Whether the sweeper runs (default: true)

USAGE:
  sweeper := NewPendingPaymentSweeper(svc, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - booking/service.go: ExpireStalePayments
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/booking-engine/logging"
)

// Expirer is the part of booking.Service the sweeper drives.
type Expirer interface {
	ExpireStalePayments(ctx context.Context, ttl time.Duration) (int, error)
}

// PendingPaymentSweeper expires abandoned gateway payments.
type PendingPaymentSweeper struct {
	Service       Expirer
	Logger        *logging.Logger
	CheckInterval time.Duration
	TTL           time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPendingPaymentSweeper creates a sweeper with default timings.
func NewPendingPaymentSweeper(svc Expirer, logger *logging.Logger) *PendingPaymentSweeper {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PendingPaymentSweeper{
		Service:       svc,
		Logger:        logger,
		CheckInterval: time.Minute,
		TTL:           30 * time.Minute,
		Enabled:       true,
	}
}

// Start begins sweeping. Calling Start twice is a no-op.
func (s *PendingPaymentSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("pending payment sweeper disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.Info("pending payment sweeper started", "interval", s.CheckInterval.String(), "ttl", s.TTL.String())
}

// Stop halts the sweeper and waits for an in-flight sweep to finish.
func (s *PendingPaymentSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("pending payment sweeper stopped")
}

func (s *PendingPaymentSweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and returns how many payments expired.
func (s *PendingPaymentSweeper) RunNow(ctx context.Context) int {
	n, err := s.Service.ExpireStalePayments(ctx, s.TTL)
	if err != nil {
		s.Logger.Warn("pending payment sweep failed", "expired", n, "error", err)
		return n
	}
	if n > 0 {
		s.Logger.Info("pending payments expired", "count", n)
	}
	return n
}
