// Package worker runs background maintenance for the circulation engine.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer is the slice of circulation.Engine the sweeper drives.
type Expirer interface {
	ExpireReservations(ctx context.Context, now time.Time) (int, error)
	Now() time.Time
}

// Sweeper lapses stale pending reservations on a fixed interval.
type Sweeper struct {
	engine   Expirer
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// NewSweeper returns a sweeper ticking every interval.  Each pass is bounded
// by a timeout of at most one interval.
func NewSweeper(engine Expirer, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := 30 * time.Second
	if interval < timeout {
		timeout = interval
	}
	return &Sweeper{engine: engine, interval: interval, timeout: timeout, log: log.Named("sweeper")}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("reservation sweeper disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("reservation sweeper started", zap.Duration("interval", s.interval))
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("reservation sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass and returns how many reservations lapsed.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	passCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.engine.ExpireReservations(passCtx, s.engine.Now())
	if err != nil {
		s.log.Warn("expire reservations failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.log.Info("reservations expired", zap.Int("count", n))
	}
	return n
}
