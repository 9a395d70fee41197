package routes

import (
	"metals_scanner/controllers"
	"metals_scanner/services"
	"metals_scanner/services/scanner"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, orchestrator *scanner.Orchestrator,
	cache *services.PriceCache, ledger *services.QuotaLedger, clock *services.MarketClock, metals []string) {

	// Initialize controllers
	scanController := controllers.NewScanController(db, orchestrator)
	listingController := controllers.NewListingController(db)
	priceController := controllers.NewPriceController(cache, ledger, clock, metals)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Scan routes
		scan := api.Group("/scan")
		{
			scan.POST("", scanController.TriggerScan)
			scan.GET("/status", scanController.GetScanStatus)
			scan.GET("/runs", scanController.GetScanRuns)
		}

		// Listing routes
		api.GET("/listings", listingController.GetListings)

		// Deal routes
		deals := api.Group("/deals")
		{
			deals.GET("", listingController.GetDeals)
			deals.GET("/summary", listingController.GetDealsSummary)
		}

		// Price and quota routes
		api.GET("/prices", priceController.GetPrices)
		api.GET("/rate-limits", priceController.GetRateLimits)
	}

	// WebSocket endpoint for scan and price events
	router.GET("/ws", func(c *gin.Context) {
		if services.GlobalRealtimeHub == nil {
			c.JSON(503, gin.H{"error": "Realtime hub not ready"})
			return
		}
		services.GlobalRealtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
}
