package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MetalUnknown is the sentinel category for listings whose metal type
// could not be resolved from the title.
const MetalUnknown = "unknown"

// Listing represents a marketplace listing keyed by (source, external_id)
type Listing struct {
	ID                     uint                `gorm:"primaryKey" json:"id"`
	Source                 string              `gorm:"uniqueIndex:idx_source_external;not null" json:"source"`
	ExternalID             string              `gorm:"uniqueIndex:idx_source_external;not null" json:"external_id"`
	Title                  string              `gorm:"not null" json:"title"`
	Price                  decimal.Decimal     `gorm:"type:decimal(15,2)" json:"price"`
	MetalType              string              `gorm:"index:idx_metal_spread" json:"metal_type"`
	WeightOz               decimal.NullDecimal `gorm:"type:decimal(12,4)" json:"weight_oz"`
	WeightExtractionFailed bool                `json:"weight_extraction_failed"`
	SpreadPercentage       decimal.NullDecimal `gorm:"type:decimal(10,2);index:idx_metal_spread" json:"spread_percentage"`
	URL                    string              `json:"url"`
	FetchedAt              time.Time           `gorm:"index" json:"fetched_at"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// SpotPrice is one fetched reference price. Rows are append-only; the
// current price for a metal is the most recently fetched row.
type SpotPrice struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	MetalType  string          `gorm:"index:idx_metal_fetched;not null" json:"metal_type"`
	PricePerOz decimal.Decimal `gorm:"type:decimal(15,4)" json:"price_per_oz"`
	FetchedAt  time.Time       `gorm:"index:idx_metal_fetched" json:"fetched_at"`
}

// MergeListing applies an incoming re-sighting onto an existing listing row.
// Price, spread, title, URL, metal type and fetch time always reflect the
// latest sighting. Weight follows the never-downgrade rule: a known weight
// is kept when the new extraction failed, and the failure flag stays false
// in that case because the weight is still known.
func MergeListing(existing, incoming *Listing) {
	existing.Title = incoming.Title
	existing.Price = incoming.Price
	existing.MetalType = incoming.MetalType
	existing.SpreadPercentage = incoming.SpreadPercentage
	existing.URL = incoming.URL
	existing.FetchedAt = incoming.FetchedAt

	if incoming.WeightOz.Valid {
		existing.WeightOz = incoming.WeightOz
		existing.WeightExtractionFailed = false
		return
	}
	if existing.WeightOz.Valid {
		// Known weight survives a failed re-extraction.
		return
	}
	existing.WeightExtractionFailed = incoming.WeightExtractionFailed
}

// MigrateListingModels runs database migrations for listing models
func MigrateListingModels(db *gorm.DB) error {
	return db.AutoMigrate(&Listing{}, &SpotPrice{})
}
