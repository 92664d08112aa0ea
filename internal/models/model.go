package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// amounts travel as JSON numbers, the client does arithmetic on them
	decimal.MarshalJSONWithoutQuotes = true
}

// DefaultMinIncrement is the amount a new bid must exceed the current highest by
var DefaultMinIncrement = decimal.NewFromInt(500)

// User represents a participant in the auction
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Auction represents a time-boxed listing open for bidding.
// Phase is not stored, see PhaseAt.
type Auction struct {
	ID          string           `json:"product_id"`
	Name        string           `json:"product_name"`
	Description string           `json:"product_desc"`
	CategoryID  int              `json:"product_cat_id"`
	SellerID    string           `json:"seller_id"`
	StartPrice  decimal.Decimal  `json:"start_price"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     time.Time        `json:"end_time"`
	WinnerID    *string          `json:"winner_id"`
	FinalPrice  *decimal.Decimal `json:"final_price"`
	FinalizedAt *time.Time       `json:"finalized_at"`
}

// Finalized reports whether the winner has been frozen
func (a Auction) Finalized() bool {
	return a.FinalizedAt != nil
}

// PhaseAt returns the auction phase at now
func (a Auction) PhaseAt(now time.Time) Phase {
	return PhaseAt(a.StartTime, a.EndTime, now)
}

// Result returns the frozen finalization of a finalized auction
func (a Auction) Result() FinalizationResult {
	res := FinalizationResult{
		AuctionID:  a.ID,
		WinnerID:   a.WinnerID,
		FinalPrice: a.FinalPrice,
	}
	if a.FinalizedAt != nil {
		res.FinalizedAt = *a.FinalizedAt
	}
	return res
}

// NewAuction carries the seller-supplied fields of an auction
type NewAuction struct {
	Name        string
	Description string
	CategoryID  int
	SellerID    string
	StartPrice  decimal.Decimal
	StartTime   time.Time
	EndTime     time.Time
}

// AuctionFilter narrows ListAuctions. Zero values match everything.
type AuctionFilter struct {
	CategoryID  int
	StartsAfter time.Time // start_time > StartsAfter
	ActiveAt    time.Time // start_time <= ActiveAt < end_time
	EndedBy     time.Time // end_time <= EndedBy
	Finalized   *bool
	WithWinner  bool
	NewestFirst bool // order by end_time desc instead of start_time asc
	Limit       int
}

// Match reports whether a satisfies the filter
func (f AuctionFilter) Match(a Auction) bool {
	if f.CategoryID != 0 && a.CategoryID != f.CategoryID {
		return false
	}
	if !f.StartsAfter.IsZero() && !a.StartTime.After(f.StartsAfter) {
		return false
	}
	if !f.ActiveAt.IsZero() && a.PhaseAt(f.ActiveAt) != PhaseActive {
		return false
	}
	if !f.EndedBy.IsZero() && a.EndTime.After(f.EndedBy) {
		return false
	}
	if f.Finalized != nil && a.Finalized() != *f.Finalized {
		return false
	}
	if f.WithWinner && a.WinnerID == nil {
		return false
	}
	return true
}

// Apply filters, orders and truncates auctions
func (f AuctionFilter) Apply(auctions []Auction) []Auction {
	out := make([]Auction, 0, len(auctions))
	for _, a := range auctions {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.NewestFirst {
			return out[i].EndTime.After(out[j].EndTime)
		}
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Bid represents a user's bid on an auction
type Bid struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"product_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"bid_amount"`
	Seq       uint64          `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

// HighestBid is the current price of an auction. With no bids Amount is the
// start price and BidderID is empty.
type HighestBid struct {
	AuctionID string
	Amount    decimal.Decimal
	BidderID  string
	BidID     string
	TotalBids int
}

// HasBids reports whether any bid has been admitted
func (h HighestBid) HasBids() bool {
	return h.TotalBids > 0
}

// HighestOf picks the highest bid of a ledger. Ties go to the earliest insertion.
func HighestOf(a Auction, bids []Bid) HighestBid {
	h := HighestBid{AuctionID: a.ID, Amount: a.StartPrice, TotalBids: len(bids)}
	if len(bids) == 0 {
		return h
	}
	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(winning.Amount) || (b.Amount.Equal(winning.Amount) && b.Seq < winning.Seq) {
			winning = b
		}
	}
	h.Amount = winning.Amount
	h.BidderID = winning.BidderID
	h.BidID = winning.BidID
	return h
}

// BidResult is returned by an admitted bid
type BidResult struct {
	Bid     Bid
	Highest HighestBid
}

// FinalizationResult is the frozen outcome of an auction
type FinalizationResult struct {
	AuctionID   string           `json:"product_id"`
	WinnerID    *string          `json:"winner_id"`
	FinalPrice  *decimal.Decimal `json:"final_price"`
	FinalizedAt time.Time        `json:"finalized_at"`
}

// AuctionView is an auction as observed at a point in time
type AuctionView struct {
	Auction     Auction
	Phase       Phase
	Highest     HighestBid
	CurrentTime time.Time
	Remaining   Countdown
}
