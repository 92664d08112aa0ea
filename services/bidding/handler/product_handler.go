package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"auction-engine/internal/biddingerrors"
	bidding "auction-engine/internal/biddingService"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"
)

// GetAuctionHandler handles GET /products/:id and GET /bids/product/:id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("id")
	view, err := h.service.GetAuctionView(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, "GetAuctionHandler", err, map[string]any{"product_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(view))
	utils.Debug("GetAuctionHandler: auction retrieved", map[string]any{
		"product_id": auctionID,
		"phase":      view.Phase,
	})
}

// UpcomingHandler handles GET /products/upcoming?category=&limit=
func (h *BiddingHandler) UpcomingHandler(c *gin.Context) {
	category := helpers.QueryInt(c, "category", 0)
	limit := helpers.QueryInt(c, "limit", bidding.DefaultUpcomingLimit)

	auctions, now, err := h.service.ListUpcoming(c.Request.Context(), category, limit)
	if err != nil {
		helpers.WriteServiceError(c, "UpcomingHandler", err, map[string]any{"category": category})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ListResponse{
		Items:       helpers.ToAuctionSummaries(auctions),
		CurrentTime: helpers.FormatTime(now),
	})
}

// BiddingNowHandler handles GET /products/bidding-now
func (h *BiddingHandler) BiddingNowHandler(c *gin.Context) {
	view, ok, err := h.service.BiddingNow(c.Request.Context())
	if err != nil {
		helpers.WriteServiceError(c, "BiddingNowHandler", err, nil)
		return
	}

	resp := helpers.BiddingNowResponse{CurrentTime: helpers.FormatTime(view.CurrentTime)}
	if ok {
		auction := helpers.ToAuctionResponse(view)
		resp.BiddingNow = &auction
		resp.TimeRemainingSeconds = view.Remaining.TotalSeconds()
	}
	utils.JSONResponse(c, http.StatusOK, resp)
}

// VirtualTimeHandler handles GET /products/time/virtual. seconds is the
// second of the minute clients align their countdown ticks to.
func (h *BiddingHandler) VirtualTimeHandler(c *gin.Context) {
	info := h.service.ClockInfo()
	utils.JSONResponse(c, http.StatusOK, helpers.VirtualTimeResponse{
		VirtualTime: helpers.FormatClockTime(info.VirtualTime),
		RealTime:    helpers.FormatClockTime(info.RealTime),
		Hour:        info.VirtualTime.Hour(),
		Minute:      info.VirtualTime.Minute(),
		Seconds:     info.VirtualTime.Second(),
	})
}

// NextRefreshHandler handles GET /products/time/next-refresh
func (h *BiddingHandler) NextRefreshHandler(c *gin.Context) {
	info := h.service.ClockInfo()
	at, left := info.NextRefresh()
	utils.JSONResponse(c, http.StatusOK, helpers.NextRefreshResponse{
		VirtualNow:    helpers.FormatClockTime(info.VirtualTime),
		NextRefreshAt: helpers.FormatTime(at),
		SecondsLeft:   left,
	})
}

// CategoriesHandler handles GET /products/categories
func (h *BiddingHandler) CategoriesHandler(c *gin.Context) {
	categories, err := h.service.ListCategories(c.Request.Context())
	if err != nil {
		helpers.WriteServiceError(c, "CategoriesHandler", err, nil)
		return
	}
	utils.JSONResponse(c, http.StatusOK, helpers.CategoriesResponse{Items: categories})
}

// WinnersHandler handles GET /products/winners?limit=
func (h *BiddingHandler) WinnersHandler(c *gin.Context) {
	limit := helpers.QueryInt(c, "limit", bidding.DefaultWinnersLimit)
	auctions, err := h.service.ListWinners(c.Request.Context(), limit)
	if err != nil {
		helpers.WriteServiceError(c, "WinnersHandler", err, nil)
		return
	}
	utils.JSONResponse(c, http.StatusOK, helpers.ListResponse{Items: helpers.ToAuctionSummaries(auctions)})
}

// CheckSlotHandler handles GET /api/seller/products/check-slot?start_time=
func (h *BiddingHandler) CheckSlotHandler(c *gin.Context) {
	if _, ok := requireCaller(c, "CheckSlotHandler"); !ok {
		return
	}

	raw := c.Query("start_time")
	start, err := model.ParseTimestamp(raw)
	if err != nil {
		helpers.WriteServiceError(c, "CheckSlotHandler",
			fmt.Errorf("handler: %w - start_time %q: %v", biddingerrors.ErrInvalidAuction, raw, err), nil)
		return
	}

	available, err := h.service.CheckSlot(c.Request.Context(), start)
	if err != nil {
		helpers.WriteServiceError(c, "CheckSlotHandler", err, map[string]any{"start_time": raw})
		return
	}
	utils.JSONResponse(c, http.StatusOK, helpers.CheckSlotResponse{
		Available: available,
		StartTime: helpers.FormatTime(start),
	})
}

// CreateAuctionHandler handles POST /api/seller/products
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	sellerID, ok := requireCaller(c, "CreateAuctionHandler")
	if !ok {
		return
	}

	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	in, err := toNewAuction(req, sellerID)
	if err != nil {
		helpers.WriteServiceError(c, "CreateAuctionHandler", err, map[string]any{"seller_id": sellerID})
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), in)
	if err != nil {
		helpers.WriteServiceError(c, "CreateAuctionHandler", err, map[string]any{
			"seller_id":  sellerID,
			"start_time": req.StartTime,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.CreateAuctionResponse{
		OK:        true,
		ProductID: auction.ID,
		Message:   "Product created successfully",
	})
	helpers.LogSuccess("CreateAuctionHandler", "product created", map[string]any{
		"product_id": auction.ID,
		"seller_id":  sellerID,
		"start_time": helpers.FormatTime(auction.StartTime),
	})
}

func toNewAuction(req helpers.CreateAuctionRequest, sellerID string) (model.NewAuction, error) {
	start, err := model.ParseTimestamp(req.StartTime)
	if err != nil {
		return model.NewAuction{}, fmt.Errorf("handler: %w - start_time %q: %v", biddingerrors.ErrInvalidAuction, req.StartTime, err)
	}
	in := model.NewAuction{
		Name:        req.ProductName,
		Description: req.ProductDesc,
		CategoryID:  req.CategoryID,
		SellerID:    sellerID,
		StartPrice:  req.StartPrice,
		StartTime:   start,
	}
	if strings.TrimSpace(req.EndTime) != "" {
		end, err := model.ParseTimestamp(req.EndTime)
		if err != nil {
			return model.NewAuction{}, fmt.Errorf("handler: %w - end_time %q: %v", biddingerrors.ErrInvalidAuction, req.EndTime, err)
		}
		in.EndTime = end
	}
	return in, nil
}
