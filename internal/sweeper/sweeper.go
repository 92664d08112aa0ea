// Package sweeper finalizes ended auctions on a schedule. It is the single
// authoritative trigger for finalization; clients calling finalize
// speculatively are tolerated because finalization is idempotent.
package sweeper

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sync/errgroup"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/models"
	"auction-engine/utils"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultWorkers  = 4
)

// Finalizer is the part of the engine the sweeper drives
type Finalizer interface {
	DueForFinalization(ctx context.Context) ([]string, error)
	Finalize(ctx context.Context, auctionID string) (models.FinalizationResult, error)
}

// Sweeper is an ifrit.Runner that periodically finalizes due auctions
type Sweeper struct {
	finalizer Finalizer
	clock     clock.Clock
	interval  time.Duration
	workers   int
}

// New creates a sweeper ticking every interval on clk with at most workers
// finalizations in flight.
func New(finalizer Finalizer, clk clock.Clock, interval time.Duration, workers int) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Sweeper{
		finalizer: finalizer,
		clock:     clk,
		interval:  interval,
		workers:   workers,
	}
}

// Run sweeps on every tick until signalled
func (s *Sweeper) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	utils.Info("sweeper started", map[string]any{
		"component": "sweeper",
		"interval":  s.interval.String(),
		"workers":   s.workers,
	})
	close(ready)

	for {
		select {
		case sig := <-signals:
			utils.Info("sweeper stopping", map[string]any{"component": "sweeper", "signal": sig.String()})
			return nil
		case <-ticker.C():
			finalized, err := s.Sweep(ctx)
			if err != nil {
				utils.Error("sweep failed", map[string]any{"component": "sweeper", "error": err.Error()})
			}
			if finalized > 0 {
				utils.Info("sweep finalized auctions", map[string]any{"component": "sweeper", "count": finalized})
			}
		}
	}
}

// Sweep finalizes every auction that is due and returns how many it
// finalized. A failing auction does not stop the others; the first
// failure is returned after all have been attempted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.finalizer.DueForFinalization(ctx)
	if err != nil {
		return 0, err
	}

	var (
		g         errgroup.Group
		finalized atomic.Int64
	)
	g.SetLimit(s.workers)

	for _, id := range due {
		id := id
		g.Go(func() error {
			if _, err := s.finalizer.Finalize(ctx, id); err != nil {
				// a clock adjustment can make a listed auction not ended yet
				if bidding.IsBenignFinalizeError(err) {
					return nil
				}
				utils.Warn("failed to finalize auction", map[string]any{
					"component":  "sweeper",
					"product_id": id,
					"error":      err.Error(),
				})
				return err
			}
			finalized.Add(1)
			return nil
		})
	}

	err = g.Wait()
	return int(finalized.Load()), err
}
