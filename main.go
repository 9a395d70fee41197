package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"metals_scanner/config"
	"metals_scanner/models"
	"metals_scanner/routes"
	"metals_scanner/scheduler"
	"metals_scanner/services"
	"metals_scanner/services/pricing"
	"metals_scanner/services/scanner"
	"metals_scanner/services/sources"

	"github.com/gin-gonic/gin"
)

// Scan-run rows still marked running after this long at boot are treated as
// abandoned by a crashed process.
const staleRunThreshold = 30 * time.Minute

// dbInitialized tracks whether database has been successfully initialized
// so the /ready endpoint can check it across goroutines
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  Metals Scanner API - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up; the database is initialized in background
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server immediately so the platform knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database and setup routes in background
	var jobScheduler *scheduler.Scheduler
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		store := services.NewGormStore(db)

		// Recover scan runs abandoned by a crashed process
		if reclaimed, err := store.ReclaimStaleScanRuns(staleRunThreshold); err != nil {
			log.Printf("Warning: Could not reclaim stale scan runs: %v", err)
		} else if reclaimed > 0 {
			log.Printf("Reclaimed %d stale scan runs", reclaimed)
		}

		// Initialize global services
		initializeGlobalServices(cfg)

		// Quota ledger with configured budgets
		ledger := services.NewQuotaLedger(store, cfg.CallSpacing)
		if err := ledger.Ensure(sources.EbayAPIName, models.ScopeDaily, cfg.EbayDailyLimit); err != nil {
			log.Printf("Warning: Could not seed eBay quota counter: %v", err)
		}
		if err := ledger.Ensure(services.PricingAPIName, models.ScopeMonthly, cfg.MetalsMonthlyLimit); err != nil {
			log.Printf("Warning: Could not seed pricing quota counter: %v", err)
		}

		// Market clock and TTL-regime price cache
		clock, err := services.NewMarketClock(cfg.MarketTimezone, cfg.MarketOpen, cfg.MarketClose)
		if err != nil {
			log.Printf("ERROR: Market clock setup failed: %v", err)
			return
		}
		cache := services.NewPriceCache(store, ledger, clock, map[services.Regime]int{
			services.RegimeMarketHours: cfg.CacheMarketHours,
			services.RegimeOffHours:    cfg.CacheOffHours,
			services.RegimeWeekend:     cfg.CacheWeekend,
		})

		// Upstream clients and scan orchestrator
		metalsClient := pricing.NewMetalsAPIClient(cfg.MetalsAPIKey, cfg.APITimeout, cfg.APIRetryAttempts)
		spotService := pricing.NewSpotService(cache, metalsClient, cfg.MetalSymbols)
		ebaySource := sources.NewEbaySource(cfg.EbayAPIKey, ledger, cfg.APITimeout, cfg.APIRetryAttempts)

		orchestrator := scanner.NewOrchestrator(store, spotService,
			[]scanner.ListingSource{ebaySource},
			cfg.Metals, cfg.MetalKeywords, cfg.SearchTerms, cfg.MaxResultsPerSearch)

		// Mark database as ready
		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		// Setup all API routes
		routes.SetupRoutes(router, db, orchestrator, cache, ledger, clock, cfg.Metals)

		// Start background scheduler
		jobScheduler = scheduler.NewScheduler(store, orchestrator, cfg.ScanIntervalHours, cfg.EnableAutoScan)
		go jobScheduler.Start()

		log.Println("Application fully initialized with database")
	}()

	// Graceful shutdown
	gracefulShutdown(server, jobScheduler)
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateQuotaModels(db); err != nil {
		return err
	}
	if err := models.MigrateListingModels(db); err != nil {
		return err
	}
	if err := models.MigrateScanModels(db); err != nil {
		return err
	}
	return nil
}

// initializeGlobalServices initializes global service instances
func initializeGlobalServices(cfg *config.Config) {
	// API call log (local SQLite file)
	if err := services.InitCallLog(cfg.CallLogPath); err != nil {
		log.Printf("Warning: Failed to initialize call log: %v", err)
	}

	// MongoDB scan archive if configured
	if err := services.InitScanArchive(cfg.MongoURI); err != nil {
		log.Printf("MongoDB not configured or failed to connect: %v", err)
	}

	// WebSocket hub for scan and price events
	services.InitRealtimeHub()

	log.Println("Global services initialized")
}

// setupHealthEndpoints sets up health check endpoints
func setupHealthEndpoints(router *gin.Engine) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Metals Scanner API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first
	if jobScheduler != nil {
		jobScheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if services.GlobalRealtimeHub != nil {
		services.GlobalRealtimeHub.Shutdown()
	}
	if services.GlobalScanArchive != nil {
		services.GlobalScanArchive.Close()
	}
	if services.GlobalCallLog != nil {
		services.GlobalCallLog.Close()
	}

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
