package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
)

var (
	auctionsBucket     = []byte("auctions")
	slotsBucket        = []byte("slots")
	highestBucket      = []byte("highest")
	bidsBucket         = []byte("bids")          // nested: one bucket per auction, keyed by seq
	userAuctionsBucket = []byte("user_auctions") // nested: one bucket per user, keyed by auction id
)

// BoltRepo is an AuctionDB stored in a single BoltDB file. Bolt runs one
// read-write transaction at a time, which serializes bid admission and
// finalization across all auctions.
type BoltRepo struct {
	db *bolt.DB
}

// NewBoltRepo opens (or creates) a BoltDB database at path and ensures the
// top-level buckets exist.
func NewBoltRepo(path string) (*BoltRepo, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{auctionsBucket, slotsBucket, highestBucket, bidsBucket, userAuctionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}

	return &BoltRepo{db: db}, nil
}

// Close releases the database file lock
func (r *BoltRepo) Close() error {
	return r.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func loadAuction(tx *bolt.Tx, auctionID string) (model.Auction, error) {
	var a model.Auction
	found, err := getJSON(tx.Bucket(auctionsBucket), []byte(auctionID), &a)
	if err != nil {
		return model.Auction{}, err
	}
	if !found {
		return model.Auction{}, biddingerrors.ErrAuctionNotFound
	}
	return a, nil
}

func loadHighest(tx *bolt.Tx, a model.Auction) (model.HighestBid, error) {
	h := model.HighestOf(a, nil)
	if _, err := getJSON(tx.Bucket(highestBucket), []byte(a.ID), &h); err != nil {
		return model.HighestBid{}, err
	}
	return h, nil
}

// CreateAuction stores a new auction, rejecting a taken start slot
func (r *BoltRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	if auction.ID == "" {
		return fmt.Errorf("create auction: %w - empty id", biddingerrors.ErrInvalidAuction)
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		auctions := tx.Bucket(auctionsBucket)
		if auctions.Get([]byte(auction.ID)) != nil {
			return fmt.Errorf("create auction %s: %w - duplicate id", auction.ID, biddingerrors.ErrInvalidAuction)
		}

		slots := tx.Bucket(slotsBucket)
		slot := itob(uint64(SlotKey(auction.StartTime)))
		if slots.Get(slot) != nil {
			return fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrSlotTaken)
		}

		if err := putJSON(auctions, []byte(auction.ID), auction); err != nil {
			return err
		}
		return slots.Put(slot, []byte(auction.ID))
	})
}

// GetAuction returns a single auction
func (r *BoltRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	var a model.Auction
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		a, err = loadAuction(tx, auctionID)
		return err
	})
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns the auctions matching filter
func (r *BoltRepo) ListAuctions(_ context.Context, filter model.AuctionFilter) ([]model.Auction, error) {
	var auctions []model.Auction
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(auctionsBucket).ForEach(func(_, v []byte) error {
			var a model.Auction
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			auctions = append(auctions, a)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	return filter.Apply(auctions), nil
}

// SlotTaken reports whether an auction already starts at start
func (r *BoltRepo) SlotTaken(_ context.Context, start time.Time) (bool, error) {
	taken := false
	err := r.db.View(func(tx *bolt.Tx) error {
		taken = tx.Bucket(slotsBucket).Get(itob(uint64(SlotKey(start)))) != nil
		return nil
	})
	return taken, err
}

// RecordBid runs admit and appends its bid in one read-write transaction
func (r *BoltRepo) RecordBid(_ context.Context, auctionID string, admit AdmitFunc) (model.Bid, model.HighestBid, error) {
	var (
		bid     model.Bid
		highest model.HighestBid
	)

	err := r.db.Update(func(tx *bolt.Tx) error {
		a, err := loadAuction(tx, auctionID)
		if err != nil {
			return fmt.Errorf("record bid for auction %s: %w", auctionID, err)
		}
		highest, err = loadHighest(tx, a)
		if err != nil {
			return err
		}

		bid, err = admit(a, highest)
		if err != nil {
			return err
		}

		ledger, err := tx.Bucket(bidsBucket).CreateBucketIfNotExists([]byte(auctionID))
		if err != nil {
			return err
		}
		seq, err := ledger.NextSequence()
		if err != nil {
			return err
		}
		bid.AuctionID = auctionID
		bid.Seq = seq
		if err := putJSON(ledger, itob(seq), bid); err != nil {
			return err
		}

		highest.TotalBids++
		if highest.TotalBids == 1 || bid.Amount.GreaterThan(highest.Amount) {
			highest.Amount = bid.Amount
			highest.BidderID = bid.BidderID
			highest.BidID = bid.BidID
		}
		if err := putJSON(tx.Bucket(highestBucket), []byte(auctionID), highest); err != nil {
			return err
		}

		users, err := tx.Bucket(userAuctionsBucket).CreateBucketIfNotExists([]byte(bid.BidderID))
		if err != nil {
			return err
		}
		return users.Put([]byte(auctionID), itob(uint64(bid.CreatedAt.UnixNano())))
	})
	if err != nil {
		return model.Bid{}, model.HighestBid{}, err
	}
	return bid, highest, nil
}

// GetBidsByAuction returns all bids for an auction in ledger order
func (r *BoltRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	bids := []model.Bid{}
	err := r.db.View(func(tx *bolt.Tx) error {
		if _, err := loadAuction(tx, auctionID); err != nil {
			return err
		}
		ledger := tx.Bucket(bidsBucket).Bucket([]byte(auctionID))
		if ledger == nil {
			return nil
		}
		// keys are big-endian seqs, so ForEach walks insertion order
		return ledger.ForEach(func(_, v []byte) error {
			var b model.Bid
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			bids = append(bids, b)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetHighestBid returns the current highest bid, or the start price
func (r *BoltRepo) GetHighestBid(_ context.Context, auctionID string) (model.HighestBid, error) {
	var h model.HighestBid
	err := r.db.View(func(tx *bolt.Tx) error {
		a, err := loadAuction(tx, auctionID)
		if err != nil {
			return err
		}
		h, err = loadHighest(tx, a)
		return err
	})
	if err != nil {
		return model.HighestBid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, err)
	}
	return h, nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *BoltRepo) GetAuctionsByUser(_ context.Context, userID string) ([]model.Auction, error) {
	var auctions []model.Auction
	err := r.db.View(func(tx *bolt.Tx) error {
		users := tx.Bucket(userAuctionsBucket).Bucket([]byte(userID))
		if users == nil {
			return nil
		}
		return users.ForEach(func(k, _ []byte) error {
			a, err := loadAuction(tx, string(k))
			if err != nil {
				return err
			}
			auctions = append(auctions, a)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, err)
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	sort.SliceStable(auctions, func(i, j int) bool { return auctions[i].StartTime.Before(auctions[j].StartTime) })
	return auctions, nil
}

// FinalizeAuction claims the auction's finalization in one read-write
// transaction. An already finalized auction returns its stored result and
// claimed == false without writing.
func (r *BoltRepo) FinalizeAuction(_ context.Context, auctionID string, decide FinalizeFunc) (model.FinalizationResult, bool, error) {
	var (
		res     model.FinalizationResult
		claimed bool
	)

	err := r.db.Update(func(tx *bolt.Tx) error {
		a, err := loadAuction(tx, auctionID)
		if err != nil {
			return fmt.Errorf("finalize auction %s: %w", auctionID, err)
		}
		if a.Finalized() {
			res = a.Result()
			return nil
		}

		highest, err := loadHighest(tx, a)
		if err != nil {
			return err
		}
		res, err = decide(a, highest)
		if err != nil {
			return err
		}
		res.AuctionID = auctionID
		applyFinalization(&a, res)
		claimed = true
		return putJSON(tx.Bucket(auctionsBucket), []byte(auctionID), a)
	})
	if err != nil {
		return model.FinalizationResult{}, false, err
	}
	return res, claimed, nil
}
