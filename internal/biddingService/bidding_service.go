package bidding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/shopspring/decimal"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"
	"auction-engine/internal/timesource"
	"auction-engine/utils"
)

const (
	DefaultUpcomingLimit = 60
	MaxUpcomingLimit     = 500
	DefaultWinnersLimit  = 20
	defaultAuctionLength = time.Minute
)

// ClockInfo reports the engine's logical time next to the wall time behind it
type ClockInfo struct {
	VirtualTime time.Time
	RealTime    time.Time
}

// NextRefresh is the next whole virtual minute and the whole seconds left
// until it, between 1 and 60.
func (c ClockInfo) NextRefresh() (time.Time, int) {
	return c.VirtualTime.Truncate(time.Minute).Add(time.Minute), 60 - c.VirtualTime.Second()
}

// BiddingService defines the business logic for auction bidding. Phase
// decisions and finalization eligibility read the same injected clock.
type BiddingService struct {
	repo         repository.AuctionDB
	clock        clock.Clock
	notifier     notify.Notifier
	minIncrement decimal.Decimal
}

// NewBiddingService creates a new BiddingService instance. A nil notifier logs
// finalizations; a non-positive minIncrement falls back to the default.
func NewBiddingService(repo repository.AuctionDB, clk clock.Clock, notifier notify.Notifier, minIncrement decimal.Decimal) *BiddingService {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if !minIncrement.IsPositive() {
		minIncrement = models.DefaultMinIncrement
	}
	return &BiddingService{
		repo:         repo,
		clock:        clk,
		notifier:     notifier,
		minIncrement: minIncrement,
	}
}

// Now returns the engine's logical current time
func (s *BiddingService) Now() time.Time {
	return s.clock.Now().UTC()
}

// MinIncrement returns the minimum raise between consecutive bids
func (s *BiddingService) MinIncrement() decimal.Decimal {
	return s.minIncrement
}

// ClockInfo returns the logical and wall time
func (s *BiddingService) ClockInfo() ClockInfo {
	return ClockInfo{
		VirtualTime: s.Now(),
		RealTime:    timesource.RealNow(s.clock).UTC(),
	}
}

// MinimumNextBid is the lowest amount the next bid may have. Before the first
// bid anything above the start price is accepted, so the floor is exclusive.
func (s *BiddingService) MinimumNextBid(h models.HighestBid) (amount decimal.Decimal, inclusive bool) {
	if !h.HasBids() {
		return h.Amount, false
	}
	return h.Amount.Add(s.minIncrement), true
}

// CreateAuction validates and stores a seller's auction
func (s *BiddingService) CreateAuction(ctx context.Context, in models.NewAuction) (models.Auction, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.SellerID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - missing seller", biddingerrors.ErrMissingIdentity)
	}
	if in.Name == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty name", biddingerrors.ErrInvalidAuction)
	}
	if in.StartTime.IsZero() {
		return models.Auction{}, fmt.Errorf("service: %w - missing start_time", biddingerrors.ErrInvalidAuction)
	}
	if in.StartPrice.IsNegative() {
		return models.Auction{}, fmt.Errorf("service: %w - negative start price", biddingerrors.ErrInvalidAuction)
	}
	if in.EndTime.IsZero() {
		in.EndTime = in.StartTime.Add(defaultAuctionLength)
	}
	if !in.EndTime.After(in.StartTime) {
		return models.Auction{}, fmt.Errorf("service: %w - end_time must be after start_time", biddingerrors.ErrInvalidAuction)
	}

	auction := models.Auction{
		ID:          utils.GenerateID(),
		Name:        in.Name,
		Description: in.Description,
		CategoryID:  in.CategoryID,
		SellerID:    in.SellerID,
		StartPrice:  in.StartPrice,
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
	}
	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction for seller %s: %w", in.SellerID, err)
	}
	return auction, nil
}

// CheckSlot reports whether start is still free for a new auction
func (s *BiddingService) CheckSlot(ctx context.Context, start time.Time) (bool, error) {
	if start.IsZero() {
		return false, fmt.Errorf("service: %w - missing start_time", biddingerrors.ErrInvalidAuction)
	}
	taken, err := s.repo.SlotTaken(ctx, start)
	if err != nil {
		return false, fmt.Errorf("service: failed to check slot %s: %w", start.UTC().Format(time.RFC3339), err)
	}
	return !taken, nil
}

// GetAuctionView returns an auction with its phase, price and countdown at the current time
func (s *BiddingService) GetAuctionView(ctx context.Context, auctionID string) (models.AuctionView, error) {
	if auctionID == "" {
		return models.AuctionView{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.AuctionView{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	highest, err := s.repo.GetHighestBid(ctx, auctionID)
	if err != nil {
		return models.AuctionView{}, fmt.Errorf("service: failed to get highest bid for auction %s: %w", auctionID, err)
	}
	return s.view(auction, highest, s.Now()), nil
}

func (s *BiddingService) view(a models.Auction, h models.HighestBid, now time.Time) models.AuctionView {
	return models.AuctionView{
		Auction:     a,
		Phase:       a.PhaseAt(now),
		Highest:     h,
		CurrentTime: now,
		Remaining:   a.RemainingAt(now),
	}
}

// PlaceBid validates and records a user's bid. Phase and increment checks run
// inside the store's per-auction critical section, so of two racing bids
// only those valid against the actual winner of the race are admitted.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (models.BidResult, error) {
	if auctionID == "" || bidderID == "" {
		return models.BidResult{}, fmt.Errorf("service: %w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	bidID := utils.GenerateID()
	bid, highest, err := s.repo.RecordBid(ctx, auctionID, func(a models.Auction, h models.HighestBid) (models.Bid, error) {
		now := s.Now()
		if phase := a.PhaseAt(now); phase != models.PhaseActive {
			return models.Bid{}, fmt.Errorf("%w - auction is %s", biddingerrors.ErrAuctionNotActive, phase)
		}
		if !amount.IsPositive() {
			return models.Bid{}, fmt.Errorf("%w - non-positive bid amount", biddingerrors.ErrInvalidBid)
		}

		floor, inclusive := s.MinimumNextBid(h)
		if amount.LessThan(floor) || (!inclusive && amount.Equal(floor)) {
			if inclusive {
				return models.Bid{}, fmt.Errorf("%w - bid must be at least %s", biddingerrors.ErrBidTooLow, floor.StringFixed(2))
			}
			return models.Bid{}, fmt.Errorf("%w - bid must exceed the start price %s", biddingerrors.ErrBidTooLow, floor.StringFixed(2))
		}

		return models.Bid{
			BidID:     bidID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}, nil
	})
	if err != nil {
		return models.BidResult{}, fmt.Errorf("service: failed to record bid for auction %s by user %s: %w", auctionID, bidderID, err)
	}

	return models.BidResult{Bid: bid, Highest: highest}, nil
}

// GetBidsForAuction returns all bids for an auction in admission order
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	return bids, nil
}

// GetHighest returns the current price of an auction. With no bids it is the
// start price with an empty bidder and a zero count.
func (s *BiddingService) GetHighest(ctx context.Context, auctionID string) (models.HighestBid, error) {
	if auctionID == "" {
		return models.HighestBid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	highest, err := s.repo.GetHighestBid(ctx, auctionID)
	if err != nil {
		return models.HighestBid{}, fmt.Errorf("service: failed to get highest bid for auction %s: %w", auctionID, err)
	}

	return highest, nil
}

// Finalize freezes the winner of an ended auction. Repeated and concurrent
// calls return the stored result; only the call that claims the
// finalization notifies.
func (s *BiddingService) Finalize(ctx context.Context, auctionID string) (models.FinalizationResult, error) {
	if auctionID == "" {
		return models.FinalizationResult{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	var (
		closed  models.Auction
		highest models.HighestBid
	)
	res, claimed, err := s.repo.FinalizeAuction(ctx, auctionID, func(a models.Auction, h models.HighestBid) (models.FinalizationResult, error) {
		now := s.Now()
		if phase := a.PhaseAt(now); phase != models.PhaseEnded {
			return models.FinalizationResult{}, fmt.Errorf("%w - auction is %s", biddingerrors.ErrAuctionNotEnded, phase)
		}

		closed, highest = a, h
		res := models.FinalizationResult{FinalizedAt: now}
		if h.HasBids() {
			winner, price := h.BidderID, h.Amount
			res.WinnerID = &winner
			res.FinalPrice = &price
		}
		return res, nil
	})
	if err != nil {
		return models.FinalizationResult{}, fmt.Errorf("service: failed to finalize auction %s: %w", auctionID, err)
	}

	if claimed {
		s.notify(ctx, notify.NewAuctionFinalizedEvent(closed, highest, res))
	}
	return res, nil
}

// notify delivers the finalization event. The auction is already closed, so
// failures are logged and not returned.
func (s *BiddingService) notify(ctx context.Context, event notify.AuctionFinalizedEvent) {
	if err := s.notifier.AuctionFinalized(context.WithoutCancel(ctx), event); err != nil {
		utils.Error("failed to notify auction finalization", map[string]any{
			"component":  "bidding",
			"product_id": event.AuctionID,
			"error":      err.Error(),
		})
	}
}

// ListUpcoming returns waiting auctions ordered by start time along with the
// time the listing was computed at.
func (s *BiddingService) ListUpcoming(ctx context.Context, categoryID, limit int) ([]models.Auction, time.Time, error) {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	if limit > MaxUpcomingLimit {
		limit = MaxUpcomingLimit
	}

	now := s.Now()
	auctions, err := s.repo.ListAuctions(ctx, models.AuctionFilter{
		CategoryID:  categoryID,
		StartsAfter: now,
		Limit:       limit,
	})
	if err != nil {
		return nil, now, fmt.Errorf("service: failed to list upcoming auctions: %w", err)
	}
	return auctions, now, nil
}

// BiddingNow returns the active auction that closes first. ok is false when
// nothing is open.
func (s *BiddingService) BiddingNow(ctx context.Context) (view models.AuctionView, ok bool, err error) {
	now := s.Now()
	active, err := s.repo.ListAuctions(ctx, models.AuctionFilter{ActiveAt: now})
	if err != nil {
		return models.AuctionView{}, false, fmt.Errorf("service: failed to list active auctions: %w", err)
	}
	if len(active) == 0 {
		return models.AuctionView{CurrentTime: now}, false, nil
	}

	next := active[0]
	for _, a := range active[1:] {
		if a.EndTime.Before(next.EndTime) {
			next = a
		}
	}

	highest, err := s.repo.GetHighestBid(ctx, next.ID)
	if err != nil {
		return models.AuctionView{}, false, fmt.Errorf("service: failed to get highest bid for auction %s: %w", next.ID, err)
	}
	return s.view(next, highest, now), true, nil
}

// ListCategories returns the distinct non-zero category ids of all auctions
// in ascending order
func (s *BiddingService) ListCategories(ctx context.Context) ([]int, error) {
	auctions, err := s.repo.ListAuctions(ctx, models.AuctionFilter{})
	if err != nil {
		return nil, fmt.Errorf("service: failed to list categories: %w", err)
	}
	seen := make(map[int]struct{})
	categories := make([]int, 0)
	for _, a := range auctions {
		if a.CategoryID == 0 {
			continue
		}
		if _, ok := seen[a.CategoryID]; ok {
			continue
		}
		seen[a.CategoryID] = struct{}{}
		categories = append(categories, a.CategoryID)
	}
	sort.Ints(categories)
	return categories, nil
}

// ListWinners returns finalized auctions that sold, most recently ended first
func (s *BiddingService) ListWinners(ctx context.Context, limit int) ([]models.Auction, error) {
	if limit <= 0 {
		limit = DefaultWinnersLimit
	}
	finalized := true
	auctions, err := s.repo.ListAuctions(ctx, models.AuctionFilter{
		Finalized:   &finalized,
		WithWinner:  true,
		NewestFirst: true,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to list winners: %w", err)
	}
	return auctions, nil
}

// GetAuctionsByUser returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByUser(ctx context.Context, userID string) ([]models.Auction, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", userID, err)
	}

	return auctions, nil
}

// DueForFinalization returns the ids of ended auctions that are not finalized yet
func (s *BiddingService) DueForFinalization(ctx context.Context) ([]string, error) {
	notFinalized := false
	auctions, err := s.repo.ListAuctions(ctx, models.AuctionFilter{
		EndedBy:   s.Now(),
		Finalized: &notFinalized,
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions due for finalization: %w", err)
	}

	ids := make([]string, 0, len(auctions))
	for _, a := range auctions {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// IsBenignFinalizeError reports errors speculative finalize callers may ignore
func IsBenignFinalizeError(err error) bool {
	return errors.Is(err, biddingerrors.ErrAuctionNotEnded)
}
