// Command auctionwatch follows one auction from the client side, printing its
// phase and countdown against the server's clock.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"

	"auction-engine/internal/tracker"
	"auction-engine/utils"
)

func main() {
	var (
		baseURL  = flag.String("url", envOr("AUCTION_URL", "http://localhost:8080"), "engine base URL")
		auction  = flag.String("auction", "", "product ID to follow")
		userID   = flag.String("user", os.Getenv("AUCTION_USER_ID"), "sent as X-User-Id")
		tick     = flag.Duration("tick", tracker.DefaultTickInterval, "countdown refresh interval")
		resync   = flag.Duration("resync", tracker.DefaultResyncInterval, "server resync interval")
		logLevel = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()
	utils.SetLevel(*logLevel)

	if *auction == "" {
		utils.Fatal("missing -auction", map[string]any{"component": "auctionwatch"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var last tracker.Snapshot
	t := tracker.New(
		tracker.NewHTTPSource(nil, *baseURL, *userID),
		clock.NewClock(),
		tracker.Config{
			AuctionID:      *auction,
			TickInterval:   *tick,
			ResyncInterval: *resync,
			OnUpdate: func(s tracker.Snapshot) {
				report(last, s)
				last = s
			},
		},
	)

	if err := t.Run(ctx); err != nil {
		utils.Fatal("tracker stopped", map[string]any{"component": "auctionwatch", "error": err.Error()})
	}
}

// report logs state changes at info and every tick at debug
func report(prev, s tracker.Snapshot) {
	fields := map[string]any{
		"component":  "auctionwatch",
		"product_id": s.AuctionID,
		"phase":      string(s.Phase),
		"countdown":  s.Countdown.String(),
		"highest":    s.Highest.StringFixed(2),
		"total_bids": s.TotalBids,
		"offset":     s.Offset.Round(time.Millisecond).String(),
	}
	if s.Err != nil {
		fields["error"] = s.Err.Error()
	}

	switch {
	case s.Finalized && !prev.Finalized:
		if s.WinnerID != nil {
			fields["winner_id"] = *s.WinnerID
			fields["final_price"] = s.FinalPrice.StringFixed(2)
		}
		utils.Info("auction finalized", fields)
	case s.Phase != prev.Phase:
		utils.Info("auction phase changed", fields)
	case s.TotalBids != prev.TotalBids:
		fields["highest_bidder_id"] = s.HighestBidder
		fields["min_next_bid"] = s.MinNextBid.StringFixed(2)
		fields["min_next_bid_inclusive"] = s.MinInclusive
		utils.Info("new highest bid", fields)
	case s.Err != nil && prev.Err == nil:
		utils.Warn("sync failed, showing last known values", fields)
	default:
		utils.Debug("tick", fields)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
