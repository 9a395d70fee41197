package scheduler

import (
	"log"
	"time"

	"metals_scanner/services"
	"metals_scanner/services/scanner"

	"github.com/go-co-op/gocron"
)

// Spot prices older than this are purged by the weekly cleanup job
const spotPriceRetention = 7 * 24 * time.Hour

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron         *gocron.Scheduler
	store        *services.GormStore
	orchestrator *scanner.Orchestrator
	scanEvery    time.Duration
	autoScan     bool
}

// NewScheduler creates a new scheduler instance
func NewScheduler(store *services.GormStore, orchestrator *scanner.Orchestrator, scanIntervalHours int, autoScan bool) *Scheduler {
	return &Scheduler{
		cron:         gocron.NewScheduler(time.UTC),
		store:        store,
		orchestrator: orchestrator,
		scanEvery:    time.Duration(scanIntervalHours) * time.Hour,
		autoScan:     autoScan,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	if s.autoScan {
		s.cron.Every(s.scanEvery).Do(func() {
			s.runScheduledScan()
		})
		log.Printf("Auto-scan enabled every %s", s.scanEvery)
	} else {
		log.Println("Auto-scan disabled, scans run on demand only")
	}

	// Cleanup old spot prices weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.cleanupOldSpotPrices()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runScheduledScan executes one full marketplace scan. A scan already in
// progress (manual or scheduled) makes this cycle a no-op.
func (s *Scheduler) runScheduledScan() {
	log.Println("Running scheduled scan...")
	if err := s.orchestrator.RunScan(); err != nil {
		log.Printf("Scheduled scan skipped: %v", err)
	}
}

// cleanupOldSpotPrices purges spot-price rows past the retention window.
// The latest row per metal stays eligible for stale fallback until then.
func (s *Scheduler) cleanupOldSpotPrices() {
	log.Println("Cleaning up old spot prices...")
	cutoff := time.Now().UTC().Add(-spotPriceRetention)
	deleted, err := s.store.DeleteSpotPricesBefore(cutoff)
	if err != nil {
		log.Printf("Error cleaning up spot prices: %v", err)
		return
	}
	log.Printf("Deleted %d spot price rows older than %s", deleted, cutoff.Format(time.RFC3339))
}
