package services

import (
	"errors"
	"fmt"
	"time"

	"metals_scanner/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QuotaStore is the persistence surface of the quota ledger.
type QuotaStore interface {
	QuotaCounter(apiName string) (*models.QuotaCounter, error)
	QuotaCounters() ([]models.QuotaCounter, error)
	SaveQuotaCounter(counter *models.QuotaCounter) error
}

// PriceStore is the persistence surface of the price cache.
type PriceStore interface {
	LatestSpotPrice(metalType string) (*models.SpotPrice, error)
	InsertSpotPrice(price *models.SpotPrice) error
}

// GormStore is the gorm-backed store used in production. Within a process
// only the active scan run writes through it; the API layer only reads.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// QuotaCounter looks up the counter for one API. Returns nil when no counter
// is configured for the API.
func (s *GormStore) QuotaCounter(apiName string) (*models.QuotaCounter, error) {
	var counter models.QuotaCounter
	err := s.db.Where("api_name = ?", apiName).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load quota counter %s: %w", apiName, err)
	}
	return &counter, nil
}

// QuotaCounters returns all configured counters.
func (s *GormStore) QuotaCounters() ([]models.QuotaCounter, error) {
	var counters []models.QuotaCounter
	if err := s.db.Order("api_name").Find(&counters).Error; err != nil {
		return nil, fmt.Errorf("load quota counters: %w", err)
	}
	return counters, nil
}

// SaveQuotaCounter persists counter state, creating the row if needed.
func (s *GormStore) SaveQuotaCounter(counter *models.QuotaCounter) error {
	if err := s.db.Save(counter).Error; err != nil {
		return fmt.Errorf("save quota counter %s: %w", counter.APIName, err)
	}
	return nil
}

// LatestSpotPrice returns the most recently fetched quote for a metal, or
// nil when none has ever been stored.
func (s *GormStore) LatestSpotPrice(metalType string) (*models.SpotPrice, error) {
	var price models.SpotPrice
	err := s.db.Where("metal_type = ?", metalType).
		Order("fetched_at DESC").
		First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest spot price for %s: %w", metalType, err)
	}
	return &price, nil
}

// InsertSpotPrice appends a quote. History is never overwritten.
func (s *GormStore) InsertSpotPrice(price *models.SpotPrice) error {
	if err := s.db.Create(price).Error; err != nil {
		return fmt.Errorf("insert spot price for %s: %w", price.MetalType, err)
	}
	return nil
}

// DeleteSpotPricesBefore removes quote history older than the cutoff.
func (s *GormStore) DeleteSpotPricesBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("fetched_at < ?", cutoff).Delete(&models.SpotPrice{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup spot prices: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UpsertListing inserts a listing on first sighting and merges it on
// re-sighting, keyed by (source, external_id). The merge follows the
// never-downgrade-weight rule in models.MergeListing. Each call is its own
// write, so a mid-run crash leaves previously committed listings intact.
func (s *GormStore) UpsertListing(incoming *models.Listing) error {
	var existing models.Listing
	err := s.db.Where("source = ? AND external_id = ?", incoming.Source, incoming.ExternalID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.Create(incoming).Error; err != nil {
			return fmt.Errorf("create listing %s/%s: %w", incoming.Source, incoming.ExternalID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load listing %s/%s: %w", incoming.Source, incoming.ExternalID, err)
	}

	models.MergeListing(&existing, incoming)
	if err := s.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("update listing %s/%s: %w", incoming.Source, incoming.ExternalID, err)
	}
	return nil
}

// CreateScanRun persists a new run row.
func (s *GormStore) CreateScanRun(run *models.ScanRun) error {
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("create scan run: %w", err)
	}
	return nil
}

// UpdateScanRun persists run progress/completion.
func (s *GormStore) UpdateScanRun(run *models.ScanRun) error {
	if err := s.db.Save(run).Error; err != nil {
		return fmt.Errorf("update scan run %d: %w", run.ID, err)
	}
	return nil
}

// ReclaimStaleScanRuns closes running rows older than the staleness timeout.
// A crashed process can leave a run in the running state; reclaiming at boot
// keeps the single-flight invariant from wedging the scanner forever.
func (s *GormStore) ReclaimStaleScanRuns(olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	res := s.db.Model(&models.ScanRun{}).
		Where("status = ? AND started_at < ?", models.ScanStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":      models.ScanStatusCompleted,
			"finished_at": now,
			"errors":      models.ErrorList{"run abandoned by a previous process, reclaimed at startup"},
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale scan runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RecentScanRuns returns the newest runs first.
func (s *GormStore) RecentScanRuns(limit int) ([]models.ScanRun, error) {
	var runs []models.ScanRun
	if err := s.db.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("load scan runs: %w", err)
	}
	return runs, nil
}

// DealsQuery filters listings for the deals endpoints.
type DealsQuery struct {
	Threshold  decimal.Decimal
	MetalType  string
	MinWeight  decimal.Decimal
	MaxResults int
}

// Deals returns listings whose spread meets the threshold, best first.
func (s *GormStore) Deals(q DealsQuery) ([]models.Listing, error) {
	query := s.db.Where("spread_percentage > ? AND weight_oz IS NOT NULL", q.Threshold)
	if q.MetalType != "" && q.MetalType != "all" {
		query = query.Where("metal_type = ?", q.MetalType)
	}
	if q.MinWeight.IsPositive() {
		query = query.Where("weight_oz >= ?", q.MinWeight)
	}
	limit := q.MaxResults
	if limit <= 0 {
		limit = 100
	}

	var listings []models.Listing
	if err := query.Order("spread_percentage DESC").Limit(limit).Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("load deals: %w", err)
	}
	return listings, nil
}
