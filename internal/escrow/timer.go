package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairhold/fairhold/internal/metrics"
)

// Sweeper periodically scans for accounts whose end date has passed.
// A passed end date is advisory only: the sweeper logs and counts
// expired accounts but never moves the state machine. Funds only move
// on an explicit party action.
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		logger:   slog.Default(),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (s *Sweeper) WithLogger(l *slog.Logger) *Sweeper {
	s.logger = l
	return s
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) sweep(ctx context.Context) {
	accounts, err := s.store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	metrics.EscrowsPastEndDate.Set(float64(len(accounts)))
	for _, acc := range accounts {
		s.logger.Warn("escrow past end date",
			"escrow_id", acc.ID, "state", acc.State,
			"end_date", acc.EndDate.Format(time.RFC3339))
	}
}
