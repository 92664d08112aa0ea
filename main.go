package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/grouper"
	"github.com/tedsuo/ifrit/http_server"
	"github.com/tedsuo/ifrit/sigmon"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/config"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/internal/sweeper"
	"auction-engine/internal/timesource"
	"auction-engine/utils"
)

func main() {
	if err := run(); err != nil {
		utils.Error("auction engine exited", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	utils.SetLevel(cfg.LogLevel)

	clk := buildClock(cfg)

	repo, closeRepo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	notifier, closeNotifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()

	biddingSvc := bidding.NewBiddingService(repo, clk, notifier, cfg.MinBidIncrement)

	if cfg.SeedDemo {
		if err := seedDemo(context.Background(), biddingSvc); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.RateLimit.Enabled {
		redisClient = config.NewRedisClient()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	router := server.SetupRouter(biddingSvc, cfg.RateLimit, redisClient)

	members := grouper.Members{
		{Name: "http", Runner: http_server.New(cfg.Addr(), router)},
		{Name: "sweeper", Runner: sweeper.New(biddingSvc, clk, cfg.SweepInterval, cfg.SweepWorkers)},
	}
	process := ifrit.Invoke(sigmon.New(grouper.NewOrdered(os.Interrupt, members)))

	utils.Info("auction engine started", map[string]any{
		"addr":          cfg.Addr(),
		"store":         cfg.StoreDriver,
		"notify":        cfg.NotifyDriver,
		"min_increment": biddingSvc.MinIncrement().String(),
		"virtual_now":   biddingSvc.Now().Format(time.RFC3339),
	})

	if err := <-process.Wait(); err != nil {
		return fmt.Errorf("process group: %w", err)
	}
	utils.Info("auction engine stopped", nil)
	return nil
}

// buildClock returns wall time, or a shifted clock when VIRTUAL_CLOCK_START
// or VIRTUAL_CLOCK_OFFSET is set.
func buildClock(cfg config.Config) clock.Clock {
	wall := clock.NewClock()
	if !cfg.VirtualClock() {
		return wall
	}

	var vc *timesource.VirtualClock
	if !cfg.VirtualClockStart.IsZero() {
		vc = timesource.StartingAt(wall, cfg.VirtualClockStart)
		vc.Shift(cfg.VirtualClockOffset)
	} else {
		vc = timesource.NewVirtualClock(wall, cfg.VirtualClockOffset)
	}
	utils.Info("using virtual clock", map[string]any{
		"virtual_now": vc.Now().UTC().Format(time.RFC3339),
		"offset":      vc.Offset().String(),
	})
	return vc
}

func openStore(cfg config.Config) (repository.AuctionDB, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreBolt:
		repo, err := repository.NewBoltRepo(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store %s: %w", cfg.BoltPath, err)
		}
		return repo, func() { _ = repo.Close() }, nil
	case config.StoreMySQL:
		db, err := repository.OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql store: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		repo, err := repository.NewMySQLRepo(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate mysql store: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return repository.NewMemoryRepo(), func() {}, nil
	}
}

func buildNotifier(cfg config.Config) (notify.Notifier, func(), error) {
	if cfg.NotifyDriver != config.NotifyAMQP {
		return notify.LogNotifier{}, func() {}, nil
	}
	n, err := notify.DialAMQP(cfg.RabbitMQURL, cfg.NotifyQueue)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return n, func() { _ = n.Close() }, nil
}

// seedDemo creates a small schedule around the engine's current time: one
// auction that already ended, one running, and a few upcoming.
func seedDemo(ctx context.Context, svc *bidding.BiddingService) error {
	now := svc.Now().Truncate(time.Second)

	demo := []struct {
		name     string
		desc     string
		category int
		price    int64
		start    time.Duration
		length   time.Duration
	}{
		{"Vintage camera", "Rangefinder, 1960s", 1, 1000, -10 * time.Minute, 5 * time.Minute},
		{"Mechanical keyboard", "Tactile switches", 2, 1500, -30 * time.Second, 5 * time.Minute},
		{"Desk lamp", "Brass, working", 3, 800, 2 * time.Minute, time.Minute},
		{"Road bike", "54cm frame", 1, 5000, 4 * time.Minute, 2 * time.Minute},
		{"Vinyl collection", "40 records", 2, 2500, 10 * time.Minute, time.Minute},
	}

	for _, d := range demo {
		start := now.Add(d.start)
		a, err := svc.CreateAuction(ctx, model.NewAuction{
			Name:        d.name,
			Description: d.desc,
			CategoryID:  d.category,
			SellerID:    "demo-seller",
			StartPrice:  decimal.NewFromInt(d.price),
			StartTime:   start,
			EndTime:     start.Add(d.length),
		})
		if err != nil {
			return fmt.Errorf("seed %q: %w", d.name, err)
		}
		utils.Debug("seeded demo auction", map[string]any{
			"product_id": a.ID,
			"name":       a.Name,
			"start_time": a.StartTime.Format(time.RFC3339),
		})
	}
	utils.Info("demo auctions seeded", map[string]any{"count": len(demo)})
	return nil
}
