package postgres

import (
	"context"
	"sync"
	"time"

	"stockcore/pkg/logger"
)

// Sweeper periodically deletes expired idempotency records. It is an
// explicit component owned by the composition root, started and
// stopped with the process.
type Sweeper struct {
	store    *IdempotencyStore
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store *IdempotencyStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to shut it down.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := s.store.CleanupExpired(sweepCtx)
	if err != nil {
		logger.Error(ctx, "idempotency sweep failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info(ctx, "idempotency sweep", "removed", removed)
	}
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
