package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"auction-engine/internal/biddingerrors"
	bidding "auction-engine/internal/biddingService"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"
)

//go:generate mockgen -destination=mock_bidding_service.go -package=handler auction-engine/services/bidding/handler BiddingServiceInterface

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.BidResult, error)
	GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetHighest(ctx context.Context, auctionID string) (model.HighestBid, error)
	MinimumNextBid(h model.HighestBid) (decimal.Decimal, bool)
	GetAuctionView(ctx context.Context, auctionID string) (model.AuctionView, error)
	Finalize(ctx context.Context, auctionID string) (model.FinalizationResult, error)
	ListUpcoming(ctx context.Context, categoryID, limit int) ([]model.Auction, time.Time, error)
	BiddingNow(ctx context.Context) (model.AuctionView, bool, error)
	ListWinners(ctx context.Context, limit int) ([]model.Auction, error)
	ListCategories(ctx context.Context) ([]int, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
	CheckSlot(ctx context.Context, start time.Time) (bool, error)
	CreateAuction(ctx context.Context, in model.NewAuction) (model.Auction, error)
	ClockInfo() bidding.ClockInfo
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// RecordBidHandler handles POST /bids/create
func (h *BiddingHandler) RecordBidHandler(c *gin.Context) {
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "RecordBidHandler", err)
		return
	}

	userID := helpers.CallerID(c, req.UserID)
	if userID == "" {
		helpers.WriteServiceError(c, "RecordBidHandler", biddingerrors.ErrMissingIdentity, map[string]any{
			"product_id": req.ProductID,
		})
		return
	}

	res, err := h.service.PlaceBid(c.Request.Context(), req.ProductID, userID, req.BidAmount)
	if err != nil {
		helpers.WriteServiceError(c, "RecordBidHandler", err, map[string]any{
			"product_id": req.ProductID,
			"user_id":    userID,
			"amount":     req.BidAmount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.PlaceBidResponse{
		Status:    "success",
		Message:   "Bid placed successfully",
		NewPrice:  res.Highest.Amount,
		TotalBids: res.Highest.TotalBids,
		Data:      helpers.ToBidResponse(res.Bid),
	})
	helpers.LogSuccess("RecordBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     res.Bid.BidID,
		"product_id": res.Bid.AuctionID,
		"user_id":    userID,
		"amount":     res.Bid.Amount.String(),
		"total_bids": res.Highest.TotalBids,
	})
}

// GetBidsByAuctionHandler handles GET /bids/product/:id/bids
func (h *BiddingHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("id")
	bids, err := h.service.GetBidsForAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, "GetBidsByAuctionHandler", err, map[string]any{"product_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidsResponse(bids))
	helpers.LogSuccess("GetBidsByAuctionHandler", "bids retrieved successfully", map[string]any{
		"product_id": auctionID,
		"count":      len(bids),
	})
}

// GetHighestBidHandler handles GET /bids/:id/highest
func (h *BiddingHandler) GetHighestBidHandler(c *gin.Context) {
	auctionID := c.Param("id")
	highest, err := h.service.GetHighest(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, "GetHighestBidHandler", err, map[string]any{"product_id": auctionID})
		return
	}

	minNext, inclusive := h.service.MinimumNextBid(highest)
	resp := helpers.HighestBidResponse{
		ProductID:           auctionID,
		HighestBid:          highest.Amount,
		TotalBids:           highest.TotalBids,
		MinNextBid:          minNext,
		MinNextBidInclusive: inclusive,
	}
	if highest.HasBids() {
		bidder := highest.BidderID
		resp.UserID = &bidder
	} else {
		resp.Message = "No bids yet."
	}

	utils.JSONResponse(c, http.StatusOK, resp)
	utils.Debug("GetHighestBidHandler: highest bid retrieved", map[string]any{
		"product_id": auctionID,
		"amount":     highest.Amount.String(),
		"total_bids": highest.TotalBids,
	})
}

// GetAuctionsByUserHandler handles GET /users/:user_id/products
func (h *BiddingHandler) GetAuctionsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	auctions, err := h.service.GetAuctionsByUser(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		helpers.WriteServiceError(c, "GetAuctionsByUserHandler", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ListResponse{Items: helpers.ToAuctionSummaries(auctions)})
	helpers.LogSuccess("GetAuctionsByUserHandler", "products retrieved successfully", map[string]any{
		"user_id":        userID,
		"products_count": len(auctions),
	})
}

// FinalizeHandler handles POST /products/finalize/:id. Repeated calls return
// the stored result.
func (h *BiddingHandler) FinalizeHandler(c *gin.Context) {
	auctionID := c.Param("id")
	res, err := h.service.Finalize(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, "FinalizeHandler", err, map[string]any{"product_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToFinalizeResponse(res))
	fields := map[string]any{"product_id": auctionID}
	if res.WinnerID != nil {
		fields["winner_id"] = *res.WinnerID
		fields["final_price"] = res.FinalPrice.String()
	}
	helpers.LogSuccess("FinalizeHandler", "auction finalized", fields)
}

func requireCaller(c *gin.Context, handlerName string) (string, bool) {
	userID := c.GetHeader(helpers.UserIDHeader)
	if userID == "" {
		helpers.WriteServiceError(c, handlerName, fmt.Errorf("handler: %w", biddingerrors.ErrMissingIdentity), nil)
		return "", false
	}
	return userID, true
}
