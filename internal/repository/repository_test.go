package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
)

var base = time.Date(2025, 10, 21, 3, 0, 0, 0, time.UTC)

// Helper to create a new Auction starting offset minutes after base
func newAuction(id string, offset int, startPrice int64) model.Auction {
	start := base.Add(time.Duration(offset) * time.Minute)
	return model.Auction{
		ID:          id,
		Name:        fmt.Sprintf("Auction %s", id),
		Description: fmt.Sprintf("%s description", id),
		CategoryID:  1,
		SellerID:    "seller-1",
		StartPrice:  decimal.NewFromInt(startPrice),
		StartTime:   start,
		EndTime:     start.Add(time.Minute),
	}
}

// admitAtLeast accepts amount when it clears the highest by inc
func admitAtLeast(bidID, userID string, amount, inc int64) AdmitFunc {
	return func(_ model.Auction, highest model.HighestBid) (model.Bid, error) {
		amt := decimal.NewFromInt(amount)
		if amt.LessThan(highest.Amount.Add(decimal.NewFromInt(inc))) {
			return model.Bid{}, biddingerrors.ErrBidTooLow
		}
		return model.Bid{BidID: bidID, BidderID: userID, Amount: amt, CreatedAt: base}, nil
	}
}

func decideWinner(at time.Time) FinalizeFunc {
	return func(_ model.Auction, highest model.HighestBid) (model.FinalizationResult, error) {
		res := model.FinalizationResult{FinalizedAt: at}
		if highest.HasBids() {
			winner, price := highest.BidderID, highest.Amount
			res.WinnerID, res.FinalPrice = &winner, &price
		}
		return res, nil
	}
}

type storeFactory func(t *testing.T) AuctionDB

// stores returns every AuctionDB implementation under test. MySQL only runs
// when AUCTION_TEST_MYSQL_DSN points at a scratch database.
func stores() map[string]storeFactory {
	s := map[string]storeFactory{
		"memory": func(t *testing.T) AuctionDB { return NewMemoryRepo() },
		"bolt": func(t *testing.T) AuctionDB {
			repo, err := NewBoltRepo(filepath.Join(t.TempDir(), "auctions.db"))
			require.NoError(t, err)
			t.Cleanup(func() { repo.Close() })
			return repo
		},
	}
	if dsn := os.Getenv("AUCTION_TEST_MYSQL_DSN"); dsn != "" {
		s["mysql"] = func(t *testing.T) AuctionDB {
			db, err := OpenMySQL(dsn)
			require.NoError(t, err)
			repo, err := NewMySQLRepo(context.Background(), db)
			require.NoError(t, err)
			_, err = db.Exec(`DELETE FROM bids`)
			require.NoError(t, err)
			_, err = db.Exec(`DELETE FROM auctions`)
			require.NoError(t, err)
			t.Cleanup(func() { repo.Close() })
			return repo
		}
	}
	return s
}

func TestAuctionDB_CreateAuction(t *testing.T) {
	for name, newStore := range stores() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newStore(t)
			require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", 0, 1000)))

			sameSlot := newAuction("a2", 0, 1000)
			sameSlot.StartTime = sameSlot.StartTime.Add(300 * time.Millisecond)

			tests := []struct {
				name    string
				auction model.Auction
				wantErr error
			}{
				{name: "valid_auction", auction: newAuction("a3", 5, 2000)},
				{name: "duplicate_id", auction: newAuction("a1", 10, 1000), wantErr: biddingerrors.ErrInvalidAuction},
				{name: "empty_id", auction: newAuction("", 15, 1000), wantErr: biddingerrors.ErrInvalidAuction},
				{name: "slot_taken", auction: newAuction("a4", 0, 1000), wantErr: biddingerrors.ErrSlotTaken},
				{name: "slot_taken_sub_second", auction: sameSlot, wantErr: biddingerrors.ErrSlotTaken},
			}

			for _, tc := range tests {
				tc := tc
				t.Run(tc.name, func(t *testing.T) {
					err := repo.CreateAuction(ctx, tc.auction)
					if tc.wantErr != nil {
						require.ErrorIs(t, err, tc.wantErr)
						return
					}
					require.NoError(t, err)

					got, err := repo.GetAuction(ctx, tc.auction.ID)
					require.NoError(t, err)
					require.Equal(t, tc.auction.ID, got.ID)
					require.True(t, got.StartPrice.Equal(tc.auction.StartPrice))
					require.True(t, got.StartTime.Equal(tc.auction.StartTime))
					require.False(t, got.Finalized())
				})
			}

			taken, err := repo.SlotTaken(ctx, base)
			require.NoError(t, err)
			require.True(t, taken)

			taken, err = repo.SlotTaken(ctx, base.Add(time.Hour))
			require.NoError(t, err)
			require.False(t, taken)

			_, err = repo.GetAuction(ctx, "missing")
			require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
		})
	}
}

func TestAuctionDB_RecordBid(t *testing.T) {
	for name, newStore := range stores() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newStore(t)
			require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", 0, 1000)))

			highest, err := repo.GetHighestBid(ctx, "a1")
			require.NoError(t, err)
			require.False(t, highest.HasBids())
			require.True(t, highest.Amount.Equal(decimal.NewFromInt(1000)))

			bid, highest, err := repo.RecordBid(ctx, "a1", admitAtLeast("b1", "alice", 1500, 500))
			require.NoError(t, err)
			require.Equal(t, uint64(1), bid.Seq)
			require.Equal(t, "a1", bid.AuctionID)
			require.Equal(t, "alice", highest.BidderID)
			require.Equal(t, 1, highest.TotalBids)

			// rejected inside the critical section: nothing appended
			_, _, err = repo.RecordBid(ctx, "a1", admitAtLeast("b2", "bob", 1900, 500))
			require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)

			bid, highest, err = repo.RecordBid(ctx, "a1", admitAtLeast("b3", "bob", 2000, 500))
			require.NoError(t, err)
			require.Equal(t, uint64(2), bid.Seq)
			require.Equal(t, "bob", highest.BidderID)
			require.True(t, highest.Amount.Equal(decimal.NewFromInt(2000)))

			bids, err := repo.GetBidsByAuction(ctx, "a1")
			require.NoError(t, err)
			require.Len(t, bids, 2)
			require.Equal(t, "b1", bids[0].BidID)
			require.Equal(t, "b3", bids[1].BidID)

			_, _, err = repo.RecordBid(ctx, "missing", admitAtLeast("b4", "bob", 5000, 500))
			require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

			_, err = repo.GetBidsByAuction(ctx, "missing")
			require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
		})
	}
}

func TestAuctionDB_ConcurrentBidsAdmitOnce(t *testing.T) {
	for name, newStore := range stores() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newStore(t)
			require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", 0, 1000)))

			// every bidder offers exactly highest+inc against the same price
			var (
				wg       sync.WaitGroup
				accepted atomic.Int32
				rejected atomic.Int32
			)
			concurrentCount := 20
			for i := 0; i < concurrentCount; i++ {
				wg.Add(1)
				i := i
				go func() {
					defer wg.Done()
					_, _, err := repo.RecordBid(ctx, "a1", admitAtLeast(fmt.Sprintf("b-%d", i), fmt.Sprintf("user-%d", i), 1500, 500))
					switch {
					case err == nil:
						accepted.Add(1)
					case errors.Is(err, biddingerrors.ErrBidTooLow):
						rejected.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(1), accepted.Load())
			require.Equal(t, int32(concurrentCount-1), rejected.Load())

			bids, err := repo.GetBidsByAuction(ctx, "a1")
			require.NoError(t, err)
			require.Len(t, bids, 1)
		})
	}
}

func TestAuctionDB_FinalizeAuction(t *testing.T) {
	for name, newStore := range stores() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newStore(t)
			require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", 0, 1000)))
			require.NoError(t, repo.CreateAuction(ctx, newAuction("a2", 5, 1000)))

			_, _, err := repo.RecordBid(ctx, "a1", admitAtLeast("b1", "alice", 1500, 500))
			require.NoError(t, err)

			at := base.Add(2 * time.Minute)
			res, claimed, err := repo.FinalizeAuction(ctx, "a1", decideWinner(at))
			require.NoError(t, err)
			require.True(t, claimed)
			require.Equal(t, "a1", res.AuctionID)
			require.Equal(t, "alice", *res.WinnerID)
			require.True(t, res.FinalPrice.Equal(decimal.NewFromInt(1500)))

			// second call returns the frozen result without deciding again
			again, claimed, err := repo.FinalizeAuction(ctx, "a1", func(model.Auction, model.HighestBid) (model.FinalizationResult, error) {
				t.Fatal("decide called for a finalized auction")
				return model.FinalizationResult{}, nil
			})
			require.NoError(t, err)
			require.False(t, claimed)
			require.Equal(t, "alice", *again.WinnerID)
			require.True(t, again.FinalizedAt.Equal(at))

			got, err := repo.GetAuction(ctx, "a1")
			require.NoError(t, err)
			require.True(t, got.Finalized())

			// no bids: finalized without a winner
			res, claimed, err = repo.FinalizeAuction(ctx, "a2", decideWinner(at))
			require.NoError(t, err)
			require.True(t, claimed)
			require.Nil(t, res.WinnerID)
			require.Nil(t, res.FinalPrice)

			_, _, err = repo.FinalizeAuction(ctx, "missing", decideWinner(at))
			require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
		})
	}
}

func TestAuctionDB_ConcurrentFinalizeClaimsOnce(t *testing.T) {
	for name, newStore := range stores() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newStore(t)
			require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", 0, 1000)))
			_, _, err := repo.RecordBid(ctx, "a1", admitAtLeast("b1", "alice", 1500, 500))
			require.NoError(t, err)

			var (
				wg      sync.WaitGroup
				claims  atomic.Int32
				decided atomic.Int32
			)
			decide := decideWinner(base.Add(2 * time.Minute))
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, claimed, err := repo.FinalizeAuction(ctx, "a1", func(a model.Auction, h model.HighestBid) (model.FinalizationResult, error) {
						decided.Add(1)
						return decide(a, h)
					})
					if err != nil {
						t.Errorf("finalize: %v", err)
						return
					}
					if claimed {
						claims.Add(1)
					}
					if res.WinnerID == nil || *res.WinnerID != "alice" {
						t.Errorf("unexpected winner in %+v", res)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(1), claims.Load())
			require.Equal(t, int32(1), decided.Load())
		})
	}
}

func TestAuctionDB_ListAndUserIndex(t *testing.T) {
	for name, newStore := range stores() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newStore(t)

			a1, a2, a3 := newAuction("a1", 0, 1000), newAuction("a2", 5, 1000), newAuction("a3", 10, 1000)
			a3.CategoryID = 2
			for _, a := range []model.Auction{a3, a1, a2} {
				require.NoError(t, repo.CreateAuction(ctx, a))
			}

			_, _, err := repo.RecordBid(ctx, "a2", admitAtLeast("b1", "alice", 1500, 500))
			require.NoError(t, err)
			_, _, err = repo.RecordBid(ctx, "a1", admitAtLeast("b2", "alice", 1500, 500))
			require.NoError(t, err)
			_, _, err = repo.RecordBid(ctx, "a1", admitAtLeast("b3", "alice", 2000, 500))
			require.NoError(t, err)

			tests := []struct {
				name    string
				filter  model.AuctionFilter
				wantIDs []string
			}{
				{name: "all_by_start", filter: model.AuctionFilter{}, wantIDs: []string{"a1", "a2", "a3"}},
				{name: "category", filter: model.AuctionFilter{CategoryID: 2}, wantIDs: []string{"a3"}},
				{name: "starts_after", filter: model.AuctionFilter{StartsAfter: base}, wantIDs: []string{"a2", "a3"}},
				{name: "active_at", filter: model.AuctionFilter{ActiveAt: base.Add(5*time.Minute + time.Second)}, wantIDs: []string{"a2"}},
				{name: "limit", filter: model.AuctionFilter{Limit: 2}, wantIDs: []string{"a1", "a2"}},
				{name: "newest_first", filter: model.AuctionFilter{NewestFirst: true}, wantIDs: []string{"a3", "a2", "a1"}},
			}

			for _, tc := range tests {
				tc := tc
				t.Run(tc.name, func(t *testing.T) {
					auctions, err := repo.ListAuctions(ctx, tc.filter)
					require.NoError(t, err)
					ids := make([]string, 0, len(auctions))
					for _, a := range auctions {
						ids = append(ids, a.ID)
					}
					require.Equal(t, tc.wantIDs, ids)
				})
			}

			auctions, err := repo.GetAuctionsByUser(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, auctions, 2)
			require.Equal(t, "a1", auctions[0].ID)
			require.Equal(t, "a2", auctions[1].ID)

			_, err = repo.GetAuctionsByUser(ctx, "nobody")
			require.ErrorIs(t, err, biddingerrors.ErrUserNoBids)
		})
	}
}

// Concurrent bids on distinct auctions must not lose writes
func TestMemoryRepo_ConcurrentAuctions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	for i := 0; i < 10; i++ {
		require.NoError(t, repo.CreateAuction(ctx, newAuction(fmt.Sprintf("a%d", i), i, 1000)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			wg.Add(1)
			i, j := i, j
			go func() {
				defer wg.Done()
				// increasing amounts per auction; order decides which ones clear
				_, _, _ = repo.RecordBid(ctx, fmt.Sprintf("a%d", i),
					admitAtLeast(fmt.Sprintf("b-%d-%d", i, j), fmt.Sprintf("user-%d", j), int64(1000+(j+1)*500), 0))
			}()
		}
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		bids, err := repo.GetBidsByAuction(ctx, fmt.Sprintf("a%d", i))
		require.NoError(t, err)
		require.NotEmpty(t, bids)

		// the ledger is strictly increasing and seqs are dense
		for k := 1; k < len(bids); k++ {
			require.True(t, bids[k].Amount.GreaterThanOrEqual(bids[k-1].Amount))
			require.Equal(t, bids[k-1].Seq+1, bids[k].Seq)
		}
		highest, err := repo.GetHighestBid(ctx, fmt.Sprintf("a%d", i))
		require.NoError(t, err)
		require.True(t, highest.Amount.Equal(bids[len(bids)-1].Amount))
		require.Equal(t, len(bids), highest.TotalBids)
	}
}

func TestSlotKey(t *testing.T) {
	t.Parallel()

	local := time.FixedZone("UTC+3", 3*60*60)
	require.Equal(t, SlotKey(base), SlotKey(base.Add(999*time.Millisecond)))
	require.Equal(t, SlotKey(base), SlotKey(base.In(local)))
	require.NotEqual(t, SlotKey(base), SlotKey(base.Add(time.Second)))
}
