package controllers

import (
	"net/http"
	"strconv"

	"metals_scanner/models"
	"metals_scanner/services"
	"metals_scanner/services/scanner"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ScanController handles scan orchestration requests
type ScanController struct {
	db           *gorm.DB
	store        *services.GormStore
	orchestrator *scanner.Orchestrator
}

// NewScanController creates a new scan controller
func NewScanController(db *gorm.DB, orchestrator *scanner.Orchestrator) *ScanController {
	return &ScanController{db: db, store: services.NewGormStore(db), orchestrator: orchestrator}
}

// TriggerScan starts an on-demand scan
// POST /api/v1/scan
func (sc *ScanController) TriggerScan(c *gin.Context) {
	result := sc.orchestrator.TriggerScan()
	if !result.Accepted {
		c.JSON(http.StatusConflict, gin.H{"error": result.Reason})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Scan started",
		"run_id":  result.RunID,
	})
}

// GetScanStatus reports whether a scan is running plus the latest run
// GET /api/v1/scan/status
func (sc *ScanController) GetScanStatus(c *gin.Context) {
	var latest models.ScanRun
	var latestPtr *models.ScanRun
	err := sc.db.Order("started_at DESC").First(&latest).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch scan status"})
		return
	}
	if err == nil {
		latestPtr = &latest
	}

	c.JSON(http.StatusOK, gin.H{
		"running":    sc.orchestrator.IsRunning(),
		"latest_run": latestPtr,
	})
}

// GetScanRuns returns recent scan runs, newest first
// GET /api/v1/scan/runs
func (sc *ScanController) GetScanRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	runs, err := sc.store.RecentScanRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch scan runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  runs,
		"count": len(runs),
	})
}
