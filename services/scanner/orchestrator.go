package scanner

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"metals_scanner/models"
	"metals_scanner/services"

	"github.com/shopspring/decimal"
)

// Store is what the orchestrator needs from the persistence layer.
type Store interface {
	CreateScanRun(run *models.ScanRun) error
	UpdateScanRun(run *models.ScanRun) error
	UpsertListing(listing *models.Listing) error
}

// PriceProvider supplies the current spot price per troy ounce for a metal.
type PriceProvider interface {
	SpotPrice(metalType string) (decimal.Decimal, error)
}

// RawListing is one marketplace result before classification.
type RawListing struct {
	ExternalID string
	Title      string
	Price      decimal.Decimal
	URL        string
}

// ListingSource fetches raw listings from one marketplace.
type ListingSource interface {
	Name() string
	Fetch(searchTerms []string, maxResults int) ([]RawListing, error)
}

// TriggerResult reports whether an on-demand scan was started.
type TriggerResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	RunID    uint   `json:"run_id,omitempty"`
}

// Number of best deals sent to the archive per run
const archivedDealsPerRun = 10

// Orchestrator runs marketplace scans: it fetches listings from every
// configured source, classifies and prices them, and persists the results
// as a scan run. At most one scan runs per process at a time.
type Orchestrator struct {
	store       Store
	prices      PriceProvider
	sources     []ListingSource
	metals      []string
	keywords    map[string][]string
	searchTerms []string
	maxResults  int

	mu        sync.Mutex
	isRunning bool

	now func() time.Time
}

// NewOrchestrator creates a scan orchestrator.
func NewOrchestrator(store Store, prices PriceProvider, sources []ListingSource, metals []string, keywords map[string][]string, searchTerms []string, maxResults int) *Orchestrator {
	return &Orchestrator{
		store:       store,
		prices:      prices,
		sources:     sources,
		metals:      metals,
		keywords:    keywords,
		searchTerms: searchTerms,
		maxResults:  maxResults,
		now:         time.Now,
	}
}

// IsRunning reports whether a scan is currently executing.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isRunning
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isRunning {
		return false
	}
	o.isRunning = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.isRunning = false
	o.mu.Unlock()
}

// TriggerScan starts a scan in the background. When a scan is already in
// progress the request is rejected instead of queued.
func (o *Orchestrator) TriggerScan() TriggerResult {
	if !o.begin() {
		return TriggerResult{Accepted: false, Reason: "scan already in progress"}
	}

	run := &models.ScanRun{Status: models.ScanStatusRunning, StartedAt: o.now().UTC()}
	if err := o.store.CreateScanRun(run); err != nil {
		o.end()
		log.Printf("Failed to create scan run: %v", err)
		return TriggerResult{Accepted: false, Reason: "failed to create scan run"}
	}

	go func() {
		defer o.end()
		o.execute(run)
	}()

	return TriggerResult{Accepted: true, RunID: run.ID}
}

// RunScan executes a scan synchronously. Used by the scheduler.
func (o *Orchestrator) RunScan() error {
	if !o.begin() {
		return fmt.Errorf("scan already in progress")
	}
	defer o.end()

	run := &models.ScanRun{Status: models.ScanStatusRunning, StartedAt: o.now().UTC()}
	if err := o.store.CreateScanRun(run); err != nil {
		return fmt.Errorf("failed to create scan run: %w", err)
	}
	o.execute(run)
	return nil
}

// execute performs the scan for an already-created run record. Errors from
// individual sources or listings are collected on the run instead of
// aborting it.
func (o *Orchestrator) execute(run *models.ScanRun) {
	log.Printf("Scan run %d started", run.ID)
	services.PublishEvent(services.EventScanStarted, map[string]interface{}{
		"run_id":     run.ID,
		"started_at": run.StartedAt,
	})

	var errs []string

	// Resolve spot prices once per run. A metal without a price is
	// recorded as a warning and its listings keep a null spread.
	spotPrices := make(map[string]decimal.Decimal)
	for _, metal := range o.metals {
		price, err := o.prices.SpotPrice(metal)
		if err != nil {
			errs = append(errs, fmt.Sprintf("no spot price for %s: %v", metal, err))
			log.Printf("Scan run %d: no spot price for %s: %v", run.ID, metal, err)
			continue
		}
		spotPrices[metal] = price
	}

	seen := make(map[string]bool)
	listingsFound := 0
	dealsFound := 0
	var deals []models.Listing

	for _, source := range o.sources {
		items, err := source.Fetch(o.searchTerms, o.maxResults)
		if err != nil {
			errs = append(errs, fmt.Sprintf("source %s: %v", source.Name(), err))
			log.Printf("Scan run %d: source %s failed: %v", run.ID, source.Name(), err)
		}

		for _, item := range items {
			key := source.Name() + ":" + item.ExternalID
			if seen[key] {
				continue
			}
			seen[key] = true

			listing := o.buildListing(source.Name(), item, spotPrices)
			if err := o.store.UpsertListing(&listing); err != nil {
				errs = append(errs, fmt.Sprintf("listing %s: %v", key, err))
				continue
			}
			listingsFound++
			if listing.SpreadPercentage.Valid && listing.SpreadPercentage.Decimal.IsPositive() {
				dealsFound++
				deals = append(deals, listing)
			}
		}
	}

	finishedAt := o.now().UTC()
	run.Status = models.ScanStatusCompleted
	run.FinishedAt = &finishedAt
	run.ListingsFound = listingsFound
	run.DealsFound = dealsFound
	run.Errors = errs
	if err := o.store.UpdateScanRun(run); err != nil {
		log.Printf("Failed to finalize scan run %d: %v", run.ID, err)
	}

	sort.Slice(deals, func(i, j int) bool {
		return deals[i].SpreadPercentage.Decimal.GreaterThan(deals[j].SpreadPercentage.Decimal)
	})
	if len(deals) > archivedDealsPerRun {
		deals = deals[:archivedDealsPerRun]
	}
	services.ArchiveCompletedRun(run, deals)

	services.PublishEvent(services.EventScanCompleted, map[string]interface{}{
		"run_id":         run.ID,
		"listings_found": listingsFound,
		"deals_found":    dealsFound,
		"errors":         len(errs),
		"duration":       run.Duration().String(),
	})
	log.Printf("Scan run %d completed: %d listings, %d deals, %d errors",
		run.ID, listingsFound, dealsFound, len(errs))
}

// buildListing classifies one raw listing and computes its spread against
// the run's spot-price table.
func (o *Orchestrator) buildListing(sourceName string, item RawListing, spotPrices map[string]decimal.Decimal) models.Listing {
	listing := models.Listing{
		Source:     sourceName,
		ExternalID: item.ExternalID,
		Title:      item.Title,
		Price:      item.Price,
		URL:        item.URL,
		FetchedAt:  o.now().UTC(),
	}

	listing.MetalType = ResolveMetalType(item.Title, o.metals, o.keywords)

	weight, ok := ParseWeight(item.Title)
	if ok {
		listing.WeightOz = decimal.NullDecimal{Decimal: weight, Valid: true}
	} else {
		listing.WeightExtractionFailed = true
	}

	spot, hasSpot := spotPrices[listing.MetalType]
	if ok && hasSpot && spot.IsPositive() {
		listing.SpreadPercentage = decimal.NullDecimal{
			Decimal: ComputeSpread(spot, weight, item.Price),
			Valid:   true,
		}
	}
	return listing
}

// ComputeSpread returns the discount of an asking price against melt value,
// as a percentage rounded to two decimal places. Positive means the listing
// is below spot.
func ComputeSpread(spotPerOz, weightOz, price decimal.Decimal) decimal.Decimal {
	spotValue := spotPerOz.Mul(weightOz)
	return spotValue.Sub(price).Div(spotValue).Mul(decimal.NewFromInt(100)).Round(2)
}
