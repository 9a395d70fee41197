package scanner

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"metals_scanner/models"

	"github.com/shopspring/decimal"
)

type fakeStore struct {
	mu       sync.Mutex
	runs     []*models.ScanRun
	listings map[string]models.Listing
	nextID   uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{listings: make(map[string]models.Listing)}
}

func (s *fakeStore) CreateScanRun(run *models.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	run.ID = s.nextID
	copied := *run
	s.runs = append(s.runs, &copied)
	return nil
}

func (s *fakeStore) UpdateScanRun(run *models.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.runs {
		if r.ID == run.ID {
			copied := *run
			s.runs[i] = &copied
			return nil
		}
	}
	return fmt.Errorf("run %d not found", run.ID)
}

func (s *fakeStore) UpsertListing(listing *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := listing.Source + ":" + listing.ExternalID
	if existing, ok := s.listings[key]; ok {
		merged := existing
		models.MergeListing(&merged, listing)
		s.listings[key] = merged
		return nil
	}
	s.listings[key] = *listing
	return nil
}

func (s *fakeStore) lastRun(t *testing.T) *models.ScanRun {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		t.Fatal("no scan runs recorded")
	}
	return s.runs[len(s.runs)-1]
}

type fakePrices struct {
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func (p *fakePrices) SpotPrice(metalType string) (decimal.Decimal, error) {
	if err, ok := p.errs[metalType]; ok {
		return decimal.Zero, err
	}
	price, ok := p.prices[metalType]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", metalType)
	}
	return price, nil
}

type fakeSource struct {
	name  string
	items []RawListing
	err   error
	calls int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(searchTerms []string, maxResults int) ([]RawListing, error) {
	s.calls++
	return s.items, s.err
}

func newTestOrchestrator(store Store, prices PriceProvider, sources ...ListingSource) *Orchestrator {
	return NewOrchestrator(store, prices, sources,
		[]string{"gold", "silver"}, testKeywords,
		[]string{"gold bullion"}, 100)
}

func TestComputeSpread(t *testing.T) {
	// 1 oz at $2050 against $2150 spot is a 4.65% discount.
	spread := ComputeSpread(
		decimal.NewFromFloat(2150.00),
		decimal.NewFromInt(1),
		decimal.NewFromFloat(2050.00),
	)
	if !spread.Equal(decimal.NewFromFloat(4.65)) {
		t.Errorf("spread = %s, want 4.65", spread)
	}

	// Above-spot listings get a negative spread.
	spread = ComputeSpread(
		decimal.NewFromFloat(2000),
		decimal.NewFromInt(1),
		decimal.NewFromFloat(2100),
	)
	if !spread.IsNegative() {
		t.Errorf("spread = %s, want negative", spread)
	}
}

func TestRunScanPersistsListingsAndDeals(t *testing.T) {
	store := newFakeStore()
	prices := &fakePrices{prices: map[string]decimal.Decimal{
		"gold":   decimal.NewFromFloat(2150.00),
		"silver": decimal.NewFromFloat(25.00),
	}}
	source := &fakeSource{name: "ebay", items: []RawListing{
		{ExternalID: "1", Title: "1 oz Gold Eagle", Price: decimal.NewFromFloat(2050.00), URL: "http://x/1"},
		{ExternalID: "2", Title: "1 oz Gold Eagle premium", Price: decimal.NewFromFloat(2300.00), URL: "http://x/2"},
		{ExternalID: "3", Title: "Silver round, weight unknown", Price: decimal.NewFromFloat(30.00), URL: "http://x/3"},
	}}

	orch := newTestOrchestrator(store, prices, source)
	if err := orch.RunScan(); err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	run := store.lastRun(t)
	if run.Status != models.ScanStatusCompleted {
		t.Errorf("status = %q, want %q", run.Status, models.ScanStatusCompleted)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if run.ListingsFound != 3 {
		t.Errorf("ListingsFound = %d, want 3", run.ListingsFound)
	}
	if run.DealsFound != 1 {
		t.Errorf("DealsFound = %d, want 1", run.DealsFound)
	}
	if len(run.Errors) != 0 {
		t.Errorf("unexpected errors: %v", run.Errors)
	}

	deal := store.listings["ebay:1"]
	if !deal.SpreadPercentage.Valid {
		t.Fatal("deal spread not set")
	}
	if !deal.SpreadPercentage.Decimal.Equal(decimal.NewFromFloat(4.65)) {
		t.Errorf("spread = %s, want 4.65", deal.SpreadPercentage.Decimal)
	}

	noWeight := store.listings["ebay:3"]
	if !noWeight.WeightExtractionFailed {
		t.Error("expected weight extraction flagged as failed")
	}
	if noWeight.SpreadPercentage.Valid {
		t.Error("listing without weight must keep a null spread")
	}
}

func TestRunScanIsolatesSourceFailures(t *testing.T) {
	store := newFakeStore()
	prices := &fakePrices{prices: map[string]decimal.Decimal{
		"gold":   decimal.NewFromFloat(2000),
		"silver": decimal.NewFromFloat(25),
	}}
	broken := &fakeSource{name: "broken", err: fmt.Errorf("connection refused")}
	working := &fakeSource{name: "ebay", items: []RawListing{
		{ExternalID: "1", Title: "1 oz Gold Bar", Price: decimal.NewFromFloat(1900), URL: "http://x/1"},
	}}

	orch := newTestOrchestrator(store, prices, broken, working)
	if err := orch.RunScan(); err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	run := store.lastRun(t)
	if run.Status != models.ScanStatusCompleted {
		t.Errorf("status = %q, want completed despite source failure", run.Status)
	}
	if run.ListingsFound != 1 {
		t.Errorf("ListingsFound = %d, want 1", run.ListingsFound)
	}
	if len(run.Errors) != 1 {
		t.Fatalf("errors = %v, want one source error", run.Errors)
	}
}

func TestRunScanRecordsMissingSpotPriceAsWarning(t *testing.T) {
	store := newFakeStore()
	prices := &fakePrices{
		prices: map[string]decimal.Decimal{"silver": decimal.NewFromFloat(25)},
		errs:   map[string]error{"gold": fmt.Errorf("quota exceeded")},
	}
	source := &fakeSource{name: "ebay", items: []RawListing{
		{ExternalID: "1", Title: "1 oz Gold Eagle", Price: decimal.NewFromFloat(2000), URL: "http://x/1"},
	}}

	orch := newTestOrchestrator(store, prices, source)
	if err := orch.RunScan(); err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	run := store.lastRun(t)
	if len(run.Errors) != 1 {
		t.Fatalf("errors = %v, want one price warning", run.Errors)
	}
	listing := store.listings["ebay:1"]
	if !listing.WeightOz.Valid {
		t.Error("weight should still be parsed")
	}
	if listing.SpreadPercentage.Valid {
		t.Error("spread must stay null without a spot price")
	}
}

func TestRunScanDeduplicatesByExternalID(t *testing.T) {
	store := newFakeStore()
	prices := &fakePrices{prices: map[string]decimal.Decimal{
		"gold":   decimal.NewFromFloat(2000),
		"silver": decimal.NewFromFloat(25),
	}}
	source := &fakeSource{name: "ebay", items: []RawListing{
		{ExternalID: "1", Title: "1 oz Gold Eagle", Price: decimal.NewFromFloat(1900), URL: "http://x/1"},
		{ExternalID: "1", Title: "1 oz Gold Eagle", Price: decimal.NewFromFloat(1900), URL: "http://x/1"},
	}}

	orch := newTestOrchestrator(store, prices, source)
	if err := orch.RunScan(); err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	if got := store.lastRun(t).ListingsFound; got != 1 {
		t.Errorf("ListingsFound = %d, want 1 after dedup", got)
	}
}

func TestTriggerScanRejectsConcurrentRuns(t *testing.T) {
	store := newFakeStore()
	prices := &fakePrices{prices: map[string]decimal.Decimal{}}
	release := make(chan struct{})
	slow := &slowSource{
		started:  make(chan struct{}),
		release:  release,
		release2: make(chan struct{}),
	}

	orch := newTestOrchestrator(store, prices, slow)

	first := orch.TriggerScan()
	if !first.Accepted {
		t.Fatalf("first scan rejected: %s", first.Reason)
	}

	<-slow.started
	second := orch.TriggerScan()
	if second.Accepted {
		t.Error("second scan accepted while first still running")
	}
	if second.Reason != "scan already in progress" {
		t.Errorf("reason = %q", second.Reason)
	}

	close(release)
	waitUntil(t, func() bool { return !orch.IsRunning() })

	third := orch.TriggerScan()
	if !third.Accepted {
		t.Errorf("scan rejected after previous run finished: %s", third.Reason)
	}
	close(slow.release2)
	waitUntil(t, func() bool { return !orch.IsRunning() })
}

type slowSource struct {
	started  chan struct{}
	release  chan struct{}
	release2 chan struct{}
	calls    int
	mu       sync.Mutex
}

func (s *slowSource) Name() string { return "slow" }

func (s *slowSource) Fetch(searchTerms []string, maxResults int) ([]RawListing, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if call == 1 {
		close(s.started)
		<-s.release
	} else {
		<-s.release2
	}
	return nil, nil
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
