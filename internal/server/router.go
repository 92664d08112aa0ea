package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"auction-engine/internal/config"
	handler "auction-engine/services/bidding/handler"
	"auction-engine/utils"
)

// SetupRouter configures all Gin routes for the application. Bid submission
// sits behind the token bucket; rdb may be nil.
func SetupRouter(biddingService handler.BiddingServiceInterface, rateLimit config.RateLimitConfig, rdb *redis.Client) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService)

	router.GET("/health", func(c *gin.Context) {
		utils.JSONResponse(c, http.StatusOK, gin.H{"status": "ok"})
	})

	bids := router.Group("/bids")
	{
		bids.POST("/create", TokenBucketMiddleware(rateLimit, rdb), biddingHandler.RecordBidHandler)
		bids.GET("/product/:id", biddingHandler.GetAuctionHandler)
		bids.GET("/product/:id/bids", biddingHandler.GetBidsByAuctionHandler)
		bids.GET("/:id/highest", biddingHandler.GetHighestBidHandler)
	}

	products := router.Group("/products")
	{
		products.GET("/upcoming", biddingHandler.UpcomingHandler)
		products.GET("/bidding-now", biddingHandler.BiddingNowHandler)
		products.GET("/winners", biddingHandler.WinnersHandler)
		products.GET("/categories", biddingHandler.CategoriesHandler)
		products.GET("/time/virtual", biddingHandler.VirtualTimeHandler)
		products.GET("/time/next-refresh", biddingHandler.NextRefreshHandler)
		products.POST("/finalize/:id", biddingHandler.FinalizeHandler)
		products.GET("/:id", biddingHandler.GetAuctionHandler)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/products", biddingHandler.GetAuctionsByUserHandler)
	}

	seller := router.Group("/api/seller/products")
	{
		seller.GET("/check-slot", biddingHandler.CheckSlotHandler)
		seller.POST("", biddingHandler.CreateAuctionHandler)
	}

	return router
}
