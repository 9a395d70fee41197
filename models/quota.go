package models

import (
	"time"

	"gorm.io/gorm"
)

// Quota scopes supported by the ledger
const (
	ScopeDaily   = "daily"
	ScopeMonthly = "monthly"
)

// QuotaCounter tracks the call budget for one upstream API
type QuotaCounter struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	APIName    string     `gorm:"uniqueIndex;not null" json:"api_name"`
	Scope      string     `gorm:"not null" json:"scope"` // daily, monthly
	Limit      int        `gorm:"column:max_calls" json:"limit"`
	Used       int        `json:"used"`
	ResetAt    time.Time  `gorm:"not null" json:"reset_at"`
	LastCallAt *time.Time `json:"last_call_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ResetIfDue applies the lazy reset rule: once now has reached ResetAt the
// counter is zeroed and ResetAt advances to the next period boundary.
// Returns true when a reset was applied; the caller is responsible for
// persisting the change.
func (c *QuotaCounter) ResetIfDue(now time.Time) bool {
	if now.Before(c.ResetAt) {
		return false
	}
	c.Used = 0
	c.ResetAt = NextReset(c.Scope, now)
	return true
}

// Remaining returns how many calls are left in the current period.
func (c *QuotaCounter) Remaining() int {
	remaining := c.Limit - c.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NextReset returns the next period boundary strictly after now:
// midnight UTC of the next day for daily scopes, first of the next
// month (midnight UTC) for monthly scopes.
func NextReset(scope string, now time.Time) time.Time {
	now = now.UTC()
	if scope == ScopeMonthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// MigrateQuotaModels runs database migrations for quota models
func MigrateQuotaModels(db *gorm.DB) error {
	return db.AutoMigrate(&QuotaCounter{})
}
