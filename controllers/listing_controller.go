package controllers

import (
	"net/http"
	"strconv"

	"metals_scanner/models"
	"metals_scanner/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ListingController handles listing and deal queries
type ListingController struct {
	db    *gorm.DB
	store *services.GormStore
}

// NewListingController creates a new listing controller
func NewListingController(db *gorm.DB) *ListingController {
	return &ListingController{db: db, store: services.NewGormStore(db)}
}

// GetListings returns scanned listings with optional filters
// GET /api/v1/listings
func (lc *ListingController) GetListings(c *gin.Context) {
	metalType := c.Query("metal_type")
	source := c.Query("source")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := lc.db.Model(&models.Listing{})
	if metalType != "" {
		query = query.Where("metal_type = ?", metalType)
	}
	if source != "" {
		query = query.Where("source = ?", source)
	}

	var total int64
	query.Count(&total)

	var listings []models.Listing
	if err := query.Order("spread_percentage DESC NULLS LAST, fetched_at DESC").
		Limit(limit).Offset(offset).Find(&listings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch listings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": listings,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetDeals returns listings priced below melt value, best spread first
// GET /api/v1/deals
func (lc *ListingController) GetDeals(c *gin.Context) {
	metalType := c.Query("metal_type")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	q := services.DealsQuery{MetalType: metalType, MaxResults: limit}
	if raw := c.Query("min_spread"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid min_spread"})
			return
		}
		q.Threshold = parsed
	}
	if raw := c.Query("min_weight"); raw != "" {
		minWeight, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid min_weight"})
			return
		}
		q.MinWeight = minWeight
	}

	deals, err := lc.store.Deals(q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch deals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  deals,
		"count": len(deals),
	})
}

// GetDealsSummary aggregates current deals per metal
// GET /api/v1/deals/summary
func (lc *ListingController) GetDealsSummary(c *gin.Context) {
	type metalSummary struct {
		MetalType  string          `json:"metal_type"`
		DealCount  int64           `json:"deal_count"`
		BestSpread decimal.Decimal `json:"best_spread"`
		AvgSpread  decimal.Decimal `json:"avg_spread"`
	}

	var summaries []metalSummary
	err := lc.db.Model(&models.Listing{}).
		Select("metal_type, COUNT(*) as deal_count, MAX(spread_percentage) as best_spread, ROUND(AVG(spread_percentage), 2) as avg_spread").
		Where("spread_percentage IS NOT NULL AND spread_percentage > 0").
		Group("metal_type").
		Order("best_spread DESC").
		Scan(&summaries).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build deals summary"})
		return
	}

	var totalListings int64
	lc.db.Model(&models.Listing{}).Count(&totalListings)

	c.JSON(http.StatusOK, gin.H{
		"metals":         summaries,
		"total_listings": totalListings,
	})
}
