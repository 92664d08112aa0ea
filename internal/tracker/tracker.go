// Package tracker mirrors an auction's phase and countdown on the client side.
// It keeps a local clock corrected by the last measured server offset and
// refreshes auction data on a slower cadence than it ticks.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/shopspring/decimal"

	model "auction-engine/internal/models"
	"auction-engine/internal/timesource"
	"auction-engine/utils"
)

const (
	DefaultTickInterval   = time.Second
	DefaultResyncInterval = 15 * time.Second
)

type Config struct {
	AuctionID      string
	TickInterval   time.Duration
	ResyncInterval time.Duration
	// OnUpdate receives every recomputed snapshot. It runs on the tracker's
	// goroutine and must not block.
	OnUpdate func(Snapshot)
}

// Snapshot is the tracker's state at Now
type Snapshot struct {
	AuctionID     string
	Name          string
	Now           time.Time
	Phase         model.Phase
	Countdown     model.Countdown
	CanBid        bool
	StartTime     time.Time
	EndTime       time.Time
	Highest       decimal.Decimal
	HighestBidder string
	TotalBids     int
	MinNextBid    decimal.Decimal
	// MinInclusive reports whether MinNextBid itself may be bid
	MinInclusive  bool
	WinnerID      *string
	FinalPrice    *decimal.Decimal
	Finalized     bool
	Offset        time.Duration
	LastSync      time.Time
	Err           error
}

type Tracker struct {
	src   Source
	local clock.Clock
	clock *timesource.VirtualClock
	cfg   Config

	mu       sync.Mutex
	auction  AuctionInfo
	highest  HighestInfo
	lastSync time.Time
	lastErr  error
}

// New returns a tracker for cfg.AuctionID. local drives ticks; its reading is
// shifted by the server offset measured at each Sync.
func New(src Source, local clock.Clock, cfg Config) *Tracker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = DefaultResyncInterval
	}
	return &Tracker{
		src:     src,
		local:   local,
		clock:   timesource.NewVirtualClock(local, 0),
		cfg:     cfg,
		auction: AuctionInfo{ID: cfg.AuctionID},
	}
}

// Now is the tracker's estimate of the server's current time
func (t *Tracker) Now() time.Time {
	return t.clock.Now()
}

// Run syncs once, then ticks and resyncs until ctx is done
func (t *Tracker) Run(ctx context.Context) error {
	_ = t.Sync(ctx)

	ticker := t.local.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()
	resync := t.local.NewTicker(t.cfg.ResyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resync.C():
			_ = t.Sync(ctx)
		case <-ticker.C():
			t.Tick()
		}
	}
}

// Sync measures the server offset and refreshes auction and price data. Fetch
// failures keep the previous values; the joined error is returned and kept on
// the snapshot. Once the auction has ended without a known result, Sync asks
// the engine to finalize it and ignores any error from that call.
func (t *Tracker) Sync(ctx context.Context) error {
	var errs []error
	id := t.cfg.AuctionID

	before := t.local.Now()
	serverNow, err := t.src.ServerTime(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		after := t.local.Now()
		mid := before.Add(after.Sub(before) / 2)
		t.clock.SetOffset(serverNow.Sub(mid))
	}

	auction, auctionErr := t.src.Auction(ctx, id)
	if auctionErr != nil {
		errs = append(errs, auctionErr)
	}
	highest, highestErr := t.src.Highest(ctx, id)
	if highestErr != nil {
		errs = append(errs, highestErr)
	}

	t.mu.Lock()
	if auctionErr == nil {
		t.auction = auction
	}
	if highestErr == nil {
		t.highest = highest
	}
	current := t.auction
	t.mu.Unlock()

	if !current.Finalized && phaseOf(current, t.Now()) == model.PhaseEnded {
		t.finalize(ctx, id)
	}

	joined := errors.Join(errs...)
	t.mu.Lock()
	t.lastErr = joined
	if joined == nil {
		t.lastSync = t.Now()
	}
	t.mu.Unlock()

	if joined != nil {
		utils.Warn("tracker: sync failed, keeping last known values", map[string]any{
			"component":  "tracker",
			"product_id": id,
			"error":      joined.Error(),
		})
	}
	t.Tick()
	return joined
}

func (t *Tracker) finalize(ctx context.Context, id string) {
	res, err := t.src.Finalize(ctx, id)
	if err != nil {
		utils.Debug("tracker: speculative finalize failed", map[string]any{
			"component":  "tracker",
			"product_id": id,
			"error":      err.Error(),
		})
		return
	}

	t.mu.Lock()
	t.auction.WinnerID = res.WinnerID
	t.auction.FinalPrice = res.FinalPrice
	t.auction.Finalized = true
	t.mu.Unlock()
}

// Tick recomputes phase and countdown from the local clock without fetching
func (t *Tracker) Tick() Snapshot {
	snap := t.Snapshot()
	if t.cfg.OnUpdate != nil {
		t.cfg.OnUpdate(snap)
	}
	return snap
}

// Snapshot returns the state at Now
func (t *Tracker) Snapshot() Snapshot {
	now := t.Now()

	t.mu.Lock()
	a, h := t.auction, t.highest
	lastSync, lastErr := t.lastSync, t.lastErr
	t.mu.Unlock()

	phase := phaseOf(a, now)
	snap := Snapshot{
		AuctionID:     t.cfg.AuctionID,
		Name:          a.Name,
		Now:           now,
		Phase:         phase,
		CanBid:        phase == model.PhaseActive,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Highest:       h.Amount,
		HighestBidder: h.BidderID,
		TotalBids:     h.TotalBids,
		MinNextBid:    h.MinNextBid,
		MinInclusive:  h.MinNextBidInclusive,
		WinnerID:      a.WinnerID,
		FinalPrice:    a.FinalPrice,
		Finalized:     a.Finalized,
		Offset:        t.clock.Offset(),
		LastSync:      lastSync,
		Err:           lastErr,
	}
	if h.TotalBids == 0 && h.Amount.IsZero() {
		snap.Highest = a.StartPrice
	}
	if hasTimes(a) {
		if target, ok := model.Boundary(a.StartTime, a.EndTime, now); ok {
			snap.Countdown = model.CountdownUntil(target, now)
		}
	}
	return snap
}

func hasTimes(a AuctionInfo) bool {
	return !a.StartTime.IsZero() && !a.EndTime.IsZero()
}

// phaseOf treats an auction without usable times as not started
func phaseOf(a AuctionInfo, now time.Time) model.Phase {
	if !hasTimes(a) {
		return model.PhaseWaiting
	}
	return model.PhaseAt(a.StartTime, a.EndTime, now)
}
