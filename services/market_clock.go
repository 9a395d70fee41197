package services

import (
	"fmt"
	"time"

	"metals_scanner/config"
)

// Regime is the cache-TTL bucket selected by the trading-hours rule.
type Regime string

const (
	RegimeMarketHours Regime = "market_hours"
	RegimeOffHours    Regime = "off_hours"
	RegimeWeekend     Regime = "weekend"
)

// MarketClock maps wall-clock time to a caching regime. It is a pure
// function of the configured timezone and open/close window; it never
// consults the process-local timezone.
type MarketClock struct {
	location  *time.Location
	openMins  int // minutes since local midnight
	closeMins int
}

// NewMarketClock builds a clock for a trading window like ("America/New_York",
// "09:30", "16:00").
func NewMarketClock(timezone, open, close string) (*MarketClock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone: %w", err)
	}
	oh, om, err := config.ParseClock(open)
	if err != nil {
		return nil, fmt.Errorf("market open: %w", err)
	}
	ch, cm, err := config.ParseClock(close)
	if err != nil {
		return nil, fmt.Errorf("market close: %w", err)
	}
	clock := &MarketClock{
		location:  loc,
		openMins:  oh*60 + om,
		closeMins: ch*60 + cm,
	}
	if clock.openMins >= clock.closeMins {
		return nil, fmt.Errorf("market open %s must be before close %s", open, close)
	}
	return clock, nil
}

// Regime classifies an instant. Saturday and Sunday are always weekend.
// The trading window is half-open, [open, close): exactly at open counts as
// market hours, exactly at close counts as off hours.
func (m *MarketClock) Regime(now time.Time) Regime {
	local := now.In(m.location)

	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return RegimeWeekend
	}

	mins := local.Hour()*60 + local.Minute()
	if mins >= m.openMins && mins < m.closeMins {
		return RegimeMarketHours
	}
	return RegimeOffHours
}
