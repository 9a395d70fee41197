package controllers

import (
	"net/http"
	"time"

	"metals_scanner/services"

	"github.com/gin-gonic/gin"
)

// PriceController handles spot-price and quota reporting
type PriceController struct {
	cache  *services.PriceCache
	ledger *services.QuotaLedger
	clock  *services.MarketClock
	metals []string
}

// NewPriceController creates a new price controller
func NewPriceController(cache *services.PriceCache, ledger *services.QuotaLedger, clock *services.MarketClock, metals []string) *PriceController {
	return &PriceController{cache: cache, ledger: ledger, clock: clock, metals: metals}
}

// GetPrices returns cached spot prices. It never triggers upstream calls.
// GET /api/v1/prices
func (pc *PriceController) GetPrices(c *gin.Context) {
	prices, err := pc.cache.CachedPrices(pc.metals)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch prices"})
		return
	}

	regime := pc.clock.Regime(time.Now())
	c.JSON(http.StatusOK, gin.H{
		"prices":      prices,
		"regime":      regime,
		"ttl_minutes": int(pc.cache.TTL(regime).Minutes()),
	})
}

// GetRateLimits reports quota usage per tracked API
// GET /api/v1/rate-limits
func (pc *PriceController) GetRateLimits(c *gin.Context) {
	statuses, err := pc.ledger.Statuses()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rate limits"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": statuses})
}
