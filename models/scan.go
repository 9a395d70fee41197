package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Scan run states
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
)

// ErrorList stores the accumulated warnings/errors of a scan run as JSON
type ErrorList []string

// Value implements driver.Valuer
func (e ErrorList) Value() (driver.Value, error) {
	if e == nil {
		e = ErrorList{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (e *ErrorList) Scan(value interface{}) error {
	if value == nil {
		*e = ErrorList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		return fmt.Errorf("unsupported type %T for ErrorList", value)
	}
}

// ScanRun records one orchestrator invocation. At most one row is in the
// running state process-wide at any time.
type ScanRun struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Status        string     `gorm:"index;not null" json:"status"` // running, completed
	StartedAt     time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	ListingsFound int        `json:"listings_found"`
	DealsFound    int        `json:"deals_found"`
	Errors        ErrorList  `gorm:"type:text" json:"errors"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Duration returns the run duration, zero while the run is still going.
func (r *ScanRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// MigrateScanModels runs database migrations for scan run models
func MigrateScanModels(db *gorm.DB) error {
	return db.AutoMigrate(&ScanRun{})
}
