package helpers

import (
	"time"

	"github.com/shopspring/decimal"

	model "auction-engine/internal/models"
)

// Request/Response DTOs

// PlaceBidRequest is the body of POST /bids/create. user_id may be omitted
// when the caller identifies itself with the X-User-Id header.
type PlaceBidRequest struct {
	ProductID string          `json:"product_id" binding:"required"`
	UserID    string          `json:"user_id"`
	BidAmount decimal.Decimal `json:"bid_amount"`
}

type BidResponse struct {
	BidID     string          `json:"bid_id"`
	ProductID string          `json:"product_id"`
	UserID    string          `json:"user_id"`
	BidAmount decimal.Decimal `json:"bid_amount"`
	Seq       uint64          `json:"seq"`
	CreatedAt string          `json:"created_at"`
}

type PlaceBidResponse struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	NewPrice  decimal.Decimal `json:"new_price"`
	TotalBids int             `json:"total_bids"`
	Data      BidResponse     `json:"data"`
}

type BidsResponse struct {
	TotalBids int           `json:"total_bids"`
	Bids      []BidResponse `json:"bids"`
}

type HighestBidResponse struct {
	ProductID  string          `json:"product_id"`
	HighestBid decimal.Decimal `json:"highest_bid"`
	TotalBids  int             `json:"total_bids"`
	UserID     *string         `json:"user_id,omitempty"`
	MinNextBid decimal.Decimal `json:"min_next_bid"`

	// false while there are no bids: the next bid must exceed min_next_bid
	MinNextBidInclusive bool   `json:"min_next_bid_inclusive"`
	Message             string `json:"message,omitempty"`
}

// AuctionResponse is an auction as seen at current_time
type AuctionResponse struct {
	ProductID     string           `json:"product_id"`
	ProductName   string           `json:"product_name"`
	ProductDesc   string           `json:"product_desc"`
	CategoryID    int              `json:"product_cat_id"`
	SellerID      string           `json:"seller_id"`
	StartPrice    decimal.Decimal  `json:"start_price"`
	StartTime     string           `json:"start_time"`
	EndTime       string           `json:"end_time"`
	Phase         model.Phase      `json:"phase"`
	CurrentTime   string           `json:"current_time"`
	HighestBid    decimal.Decimal  `json:"highest_bid"`
	HighestBidder *string          `json:"highest_bidder_id"`
	TotalBids     int              `json:"total_bids"`
	TimeRemaining model.Countdown  `json:"time_remaining"`
	WinnerID      *string          `json:"winner_id"`
	FinalPrice    *decimal.Decimal `json:"final_price"`
	FinalizedAt   *string          `json:"finalized_at"`
}

// AuctionSummary is a listing entry
type AuctionSummary struct {
	ProductID   string           `json:"product_id"`
	ProductName string           `json:"product_name"`
	ProductDesc string           `json:"product_desc"`
	CategoryID  int              `json:"product_cat_id"`
	StartPrice  decimal.Decimal  `json:"start_price"`
	StartTime   string           `json:"start_time"`
	EndTime     string           `json:"end_time"`
	WinnerID    *string          `json:"winner_id,omitempty"`
	FinalPrice  *decimal.Decimal `json:"final_price,omitempty"`
}

type ListResponse struct {
	Items       []AuctionSummary `json:"items"`
	CurrentTime string           `json:"current_time,omitempty"`
}

type BiddingNowResponse struct {
	BiddingNow           *AuctionResponse `json:"bidding_now"`
	TimeRemainingSeconds int64            `json:"time_remaining_seconds"`
	CurrentTime          string           `json:"current_time"`
}

type FinalizeResponse struct {
	ProductID   string           `json:"product_id"`
	WinnerID    *string          `json:"winner_id"`
	FinalPrice  *decimal.Decimal `json:"final_price"`
	FinalizedAt string           `json:"finalized_at"`
}

type VirtualTimeResponse struct {
	VirtualTime string `json:"virtual_time"`
	RealTime    string `json:"real_time"`
	Hour        int    `json:"hour"`
	Minute      int    `json:"minute"`
	Seconds     int    `json:"seconds"`
}

// NextRefreshResponse tells clients when the virtual clock crosses the next minute
type NextRefreshResponse struct {
	VirtualNow    string `json:"virtual_now"`
	NextRefreshAt string `json:"next_refresh_at"`
	SecondsLeft   int    `json:"seconds_left"`
}

// CategoriesResponse lists the category ids in use
type CategoriesResponse struct {
	Items []int `json:"items"`
}

// CreateAuctionRequest is the seller form. Times accept RFC 3339 or
// "YYYY-MM-DD HH:MM:SS" (UTC); end_time defaults to one minute after start.
type CreateAuctionRequest struct {
	ProductName string          `json:"product_name" binding:"required"`
	ProductDesc string          `json:"product_desc"`
	CategoryID  int             `json:"product_cat_id"`
	StartPrice  decimal.Decimal `json:"start_price"`
	StartTime   string          `json:"start_time" binding:"required"`
	EndTime     string          `json:"end_time"`
}

type CreateAuctionResponse struct {
	OK        bool   `json:"ok"`
	ProductID string `json:"product_id"`
	Message   string `json:"message"`
}

type CheckSlotResponse struct {
	Available bool   `json:"available"`
	StartTime string `json:"start_time"`
}

// Mapping helpers

func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FormatClockTime keeps sub-second precision for clock sync readers
func FormatClockTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

func ToBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:     b.BidID,
		ProductID: b.AuctionID,
		UserID:    b.BidderID,
		BidAmount: b.Amount,
		Seq:       b.Seq,
		CreatedAt: FormatTime(b.CreatedAt),
	}
}

func ToBidsResponse(bids []model.Bid) BidsResponse {
	out := BidsResponse{TotalBids: len(bids), Bids: make([]BidResponse, 0, len(bids))}
	for _, b := range bids {
		out.Bids = append(out.Bids, ToBidResponse(b))
	}
	return out
}

func ToAuctionResponse(v model.AuctionView) AuctionResponse {
	a := v.Auction
	resp := AuctionResponse{
		ProductID:     a.ID,
		ProductName:   a.Name,
		ProductDesc:   a.Description,
		CategoryID:    a.CategoryID,
		SellerID:      a.SellerID,
		StartPrice:    a.StartPrice,
		StartTime:     FormatTime(a.StartTime),
		EndTime:       FormatTime(a.EndTime),
		Phase:         v.Phase,
		CurrentTime:   FormatTime(v.CurrentTime),
		HighestBid:    v.Highest.Amount,
		TotalBids:     v.Highest.TotalBids,
		TimeRemaining: v.Remaining,
		WinnerID:      a.WinnerID,
		FinalPrice:    a.FinalPrice,
		FinalizedAt:   formatTimePtr(a.FinalizedAt),
	}
	if v.Highest.HasBids() {
		bidder := v.Highest.BidderID
		resp.HighestBidder = &bidder
	}
	return resp
}

func ToAuctionSummaries(auctions []model.Auction) []AuctionSummary {
	out := make([]AuctionSummary, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, AuctionSummary{
			ProductID:   a.ID,
			ProductName: a.Name,
			ProductDesc: a.Description,
			CategoryID:  a.CategoryID,
			StartPrice:  a.StartPrice,
			StartTime:   FormatTime(a.StartTime),
			EndTime:     FormatTime(a.EndTime),
			WinnerID:    a.WinnerID,
			FinalPrice:  a.FinalPrice,
		})
	}
	return out
}

func ToFinalizeResponse(res model.FinalizationResult) FinalizeResponse {
	return FinalizeResponse{
		ProductID:   res.AuctionID,
		WinnerID:    res.WinnerID,
		FinalPrice:  res.FinalPrice,
		FinalizedAt: FormatTime(res.FinalizedAt),
	}
}
