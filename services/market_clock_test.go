package services

import (
	"testing"
	"time"
)

func newNYClock(t *testing.T) *MarketClock {
	t.Helper()
	clock, err := NewMarketClock("America/New_York", "09:30", "16:00")
	if err != nil {
		t.Fatalf("NewMarketClock: %v", err)
	}
	return clock
}

func TestRegimeBoundaries(t *testing.T) {
	clock := newNYClock(t)
	ny, _ := time.LoadLocation("America/New_York")

	tests := []struct {
		name string
		at   time.Time
		want Regime
	}{
		// 2026-08-24 is a Monday
		{"mid session", time.Date(2026, 8, 24, 12, 0, 0, 0, ny), RegimeMarketHours},
		{"exactly at open", time.Date(2026, 8, 24, 9, 30, 0, 0, ny), RegimeMarketHours},
		{"minute before open", time.Date(2026, 8, 24, 9, 29, 0, 0, ny), RegimeOffHours},
		{"exactly at close", time.Date(2026, 8, 24, 16, 0, 0, 0, ny), RegimeOffHours},
		{"minute before close", time.Date(2026, 8, 24, 15, 59, 0, 0, ny), RegimeMarketHours},
		{"weekday evening", time.Date(2026, 8, 24, 21, 0, 0, 0, ny), RegimeOffHours},
		{"saturday during trading hours", time.Date(2026, 8, 22, 12, 0, 0, 0, ny), RegimeWeekend},
		{"sunday morning", time.Date(2026, 8, 23, 7, 0, 0, 0, ny), RegimeWeekend},
	}

	for _, tt := range tests {
		if got := clock.Regime(tt.at); got != tt.want {
			t.Errorf("%s: Regime = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRegimeConvertsToMarketTimezone(t *testing.T) {
	clock := newNYClock(t)

	// 15:00 UTC on a Monday in August is 11:00 in New York.
	at := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	if got := clock.Regime(at); got != RegimeMarketHours {
		t.Errorf("Regime = %q, want %q", got, RegimeMarketHours)
	}

	// 02:00 UTC Saturday is 22:00 Friday in New York: off-hours, not weekend.
	at = time.Date(2026, 8, 22, 2, 0, 0, 0, time.UTC)
	if got := clock.Regime(at); got != RegimeOffHours {
		t.Errorf("Regime = %q, want %q", got, RegimeOffHours)
	}
}

func TestNewMarketClockRejectsBadConfig(t *testing.T) {
	if _, err := NewMarketClock("Not/AZone", "09:30", "16:00"); err == nil {
		t.Error("expected error for unknown timezone")
	}
	if _, err := NewMarketClock("UTC", "16:00", "09:30"); err == nil {
		t.Error("expected error when open is after close")
	}
	if _, err := NewMarketClock("UTC", "9h30", "16:00"); err == nil {
		t.Error("expected error for malformed clock value")
	}
}
