package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/config"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/services/bidding/helpers"
)

var t0 = time.Date(2025, 10, 21, 3, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.AuctionFinalizedEvent
}

func (n *recordingNotifier) AuctionFinalized(_ context.Context, e notify.AuctionFinalizedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) Events() []notify.AuctionFinalizedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.AuctionFinalizedEvent(nil), n.events...)
}

// testEnv is a full engine behind the real router on a fake clock
type testEnv struct {
	Router   *gin.Engine
	Clock    *fakeclock.FakeClock
	Service  *bidding.BiddingService
	Notifier *recordingNotifier
}

type storeFactory struct {
	name string
	open func(t *testing.T) repository.AuctionDB
}

func stores() []storeFactory {
	return []storeFactory{
		{name: "memory", open: func(t *testing.T) repository.AuctionDB { return repository.NewMemoryRepo() }},
		{name: "bolt", open: func(t *testing.T) repository.AuctionDB {
			repo, err := repository.NewBoltRepo(filepath.Join(t.TempDir(), "auctions.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		}},
	}
}

// SetupTestEnv builds the engine on repo with the clock at now
func SetupTestEnv(t *testing.T, repo repository.AuctionDB, now time.Time) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := fakeclock.NewFakeClock(now)
	notifier := &recordingNotifier{}
	svc := bidding.NewBiddingService(repo, clk, notifier, decimal.Zero)
	return &testEnv{
		Router:   server.SetupRouter(svc, config.RateLimitConfig{}, nil),
		Clock:    clk,
		Service:  svc,
		Notifier: notifier,
	}
}

// SetupTestRouter initializes the router with in-memory repository for integration testing.
func SetupTestRouter(t *testing.T) *testEnv {
	return SetupTestEnv(t, repository.NewMemoryRepo(), t0.Add(-time.Minute))
}

// SeedAuction creates a one-minute auction starting at start through the service
func (e *testEnv) SeedAuction(t *testing.T, name string, start time.Time, startPrice int64) model.Auction {
	t.Helper()
	a, err := e.Service.CreateAuction(context.Background(), model.NewAuction{
		Name:       name,
		SellerID:   "seller",
		StartPrice: decimal.NewFromInt(startPrice),
		StartTime:  start,
		EndTime:    start.Add(time.Minute),
	})
	require.NoError(t, err)
	return a
}

// At moves the fake clock to t
func (e *testEnv) At(t time.Time) {
	e.Clock.Increment(t.Sub(e.Clock.Now()))
}

// Bid posts a bid and returns the parsed body and recorder
func (e *testEnv) Bid(t *testing.T, auctionID, userID string, amount int64) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	return ExecuteRequestAndParse(t, e.Router, "POST", "/bids/create", helpers.PlaceBidRequest{
		ProductID: auctionID,
		UserID:    userID,
		BidAmount: decimal.NewFromInt(amount),
	}, nil)
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any, headers map[string]string) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error
	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}
