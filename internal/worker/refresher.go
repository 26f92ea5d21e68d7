package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
)

// Ranking is the part of the ranking engine the refresher drives
type Ranking interface {
	Refresh(ctx context.Context) ([]domain.TeamStanding, error)
	Invalidated() <-chan struct{}
}

// Refresher recomputes the leaderboard on an interval and whenever the
// ranking is invalidated, publishing each snapshot to the standings cache
type Refresher struct {
	ranking Ranking
	config  *config.RefreshConfig
	clock   clockwork.Clock
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewRefresher creates a new refresher
func NewRefresher(ranking Ranking, cfg *config.RefreshConfig, clock clockwork.Clock, logger *slog.Logger) *Refresher {
	return &Refresher{
		ranking: ranking,
		config:  cfg,
		clock:   clock,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background refresh loop
func (w *Refresher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("leaderboard refresher started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the loop and waits for an in-flight refresh
func (w *Refresher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.Info("leaderboard refresher stopped")
	return nil
}

func (w *Refresher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := w.clock.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.Chan():
			w.RunOnce(ctx)
		case <-w.ranking.Invalidated():
			w.RunOnce(ctx)
		}
	}
}

// IsRunning returns whether the loop is active
func (w *Refresher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce performs a single refresh
func (w *Refresher) RunOnce(ctx context.Context) {
	start := w.clock.Now()
	standings, err := w.ranking.Refresh(ctx)
	if err != nil {
		w.logger.Error("leaderboard refresh failed", "error", err)
		return
	}
	w.logger.Debug("leaderboard refreshed",
		"teams", len(standings),
		"duration", w.clock.Since(start),
	)
}
