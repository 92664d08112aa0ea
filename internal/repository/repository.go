package repository

//go:generate mockgen -destination=mock_repository.go -package=repository auction-engine/internal/repository AuctionDB

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
)

// AdmitFunc decides, inside the store's critical section, whether a bid may be
// appended given the auction and its current highest bid. It returns the bid
// to append; Seq is assigned by the store.
type AdmitFunc func(auction model.Auction, highest model.HighestBid) (model.Bid, error)

// FinalizeFunc computes the finalization of an auction that has not been
// finalized yet, inside the store's critical section.
type FinalizeFunc func(auction model.Auction, highest model.HighestBid) (model.FinalizationResult, error)

// AuctionDB defines the auction and bid ledger storage for the auction system.
// RecordBid and FinalizeAuction are atomic per auction: concurrent callers are
// linearized and see each other's writes.
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, filter model.AuctionFilter) ([]model.Auction, error)
	SlotTaken(ctx context.Context, start time.Time) (bool, error)
	RecordBid(ctx context.Context, auctionID string, admit AdmitFunc) (model.Bid, model.HighestBid, error)
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetHighestBid(ctx context.Context, auctionID string) (model.HighestBid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
	FinalizeAuction(ctx context.Context, auctionID string, decide FinalizeFunc) (model.FinalizationResult, bool, error)
}

// SlotKey normalizes a start time to the second-precision UTC slot it occupies
func SlotKey(start time.Time) int64 {
	return start.UTC().Truncate(time.Second).Unix()
}

// applyFinalization freezes res onto the auction
func applyFinalization(a *model.Auction, res model.FinalizationResult) {
	at := res.FinalizedAt
	a.WinnerID = res.WinnerID
	a.FinalPrice = res.FinalPrice
	a.FinalizedAt = &at
}

// auctionLedger is the append-only bid ledger of one auction
type auctionLedger struct {
	mu      sync.Mutex
	auction model.Auction
	bids    []model.Bid
	highest model.HighestBid
	nextSeq uint64
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB.
// The map lock guards the indexes; each ledger has its own lock so bids on
// different auctions do not contend.
type MemoryRepo struct {
	mu           sync.RWMutex
	ledgers      map[string]*auctionLedger // key: auctionID
	slots        map[int64]string          // key: start slot -> auctionID
	userAuctions map[string][]string       // key: userID -> auctionIDs the user has bid on
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		ledgers:      make(map[string]*auctionLedger),
		slots:        make(map[int64]string),
		userAuctions: make(map[string][]string),
	}
}

// CreateAuction stores a new auction, rejecting a taken start slot
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	if auction.ID == "" {
		return fmt.Errorf("create auction: %w - empty id", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ledgers[auction.ID]; ok {
		return fmt.Errorf("create auction %s: %w - duplicate id", auction.ID, biddingerrors.ErrInvalidAuction)
	}
	slot := SlotKey(auction.StartTime)
	if _, taken := r.slots[slot]; taken {
		return fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrSlotTaken)
	}

	r.ledgers[auction.ID] = &auctionLedger{
		auction: auction,
		highest: model.HighestOf(auction, nil),
		nextSeq: 1,
	}
	r.slots[slot] = auction.ID
	return nil
}

func (r *MemoryRepo) ledger(auctionID string) (*auctionLedger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[auctionID]
	return l, ok
}

// GetAuction returns a single auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	l, ok := r.ledger(auctionID)
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.auction, nil
}

// ListAuctions returns the auctions matching filter
func (r *MemoryRepo) ListAuctions(_ context.Context, filter model.AuctionFilter) ([]model.Auction, error) {
	r.mu.RLock()
	ledgers := make([]*auctionLedger, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		ledgers = append(ledgers, l)
	}
	r.mu.RUnlock()

	auctions := make([]model.Auction, 0, len(ledgers))
	for _, l := range ledgers {
		l.mu.Lock()
		auctions = append(auctions, l.auction)
		l.mu.Unlock()
	}
	return filter.Apply(auctions), nil
}

// SlotTaken reports whether an auction already starts at start
func (r *MemoryRepo) SlotTaken(_ context.Context, start time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, taken := r.slots[SlotKey(start)]
	return taken, nil
}

// RecordBid runs admit and appends its bid under the auction's ledger lock
func (r *MemoryRepo) RecordBid(_ context.Context, auctionID string, admit AdmitFunc) (model.Bid, model.HighestBid, error) {
	l, ok := r.ledger(auctionID)
	if !ok {
		return model.Bid{}, model.HighestBid{}, fmt.Errorf("record bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	l.mu.Lock()
	bid, err := admit(l.auction, l.highest)
	if err != nil {
		l.mu.Unlock()
		return model.Bid{}, model.HighestBid{}, err
	}

	bid.AuctionID = auctionID
	bid.Seq = l.nextSeq
	l.nextSeq++
	l.bids = append(l.bids, bid)

	l.highest.TotalBids = len(l.bids)
	if len(l.bids) == 1 || bid.Amount.GreaterThan(l.highest.Amount) {
		l.highest.Amount = bid.Amount
		l.highest.BidderID = bid.BidderID
		l.highest.BidID = bid.BidID
	}
	highest := l.highest
	l.mu.Unlock()

	r.indexUser(bid.BidderID, auctionID)
	return bid, highest, nil
}

func (r *MemoryRepo) indexUser(userID, auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.userAuctions[userID] {
		if id == auctionID {
			return
		}
	}
	r.userAuctions[userID] = append(r.userAuctions[userID], auctionID)
}

// GetBidsByAuction returns all bids for an auction in ledger order
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	l, ok := r.ledger(auctionID)
	if !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Bid{}, l.bids...), nil
}

// GetHighestBid returns the current highest bid, or the start price
func (r *MemoryRepo) GetHighestBid(_ context.Context, auctionID string) (model.HighestBid, error) {
	l, ok := r.ledger(auctionID)
	if !ok {
		return model.HighestBid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highest, nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	r.mu.RLock()
	ids := append([]string(nil), r.userAuctions[userID]...)
	r.mu.RUnlock()

	if len(ids) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}

	auctions := make([]model.Auction, 0, len(ids))
	for _, id := range ids {
		a, err := r.GetAuction(ctx, id)
		if err != nil {
			continue
		}
		auctions = append(auctions, a)
	}
	sort.SliceStable(auctions, func(i, j int) bool { return auctions[i].StartTime.Before(auctions[j].StartTime) })
	return auctions, nil
}

// FinalizeAuction claims the auction's finalization. The first caller runs
// decide and stores its result; later callers get the stored result and
// claimed == false.
func (r *MemoryRepo) FinalizeAuction(_ context.Context, auctionID string, decide FinalizeFunc) (model.FinalizationResult, bool, error) {
	l, ok := r.ledger(auctionID)
	if !ok {
		return model.FinalizationResult{}, false, fmt.Errorf("finalize auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.auction.Finalized() {
		return l.auction.Result(), false, nil
	}

	res, err := decide(l.auction, l.highest)
	if err != nil {
		return model.FinalizationResult{}, false, err
	}
	res.AuctionID = auctionID
	applyFinalization(&l.auction, res)
	return res, true, nil
}
