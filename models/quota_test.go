package models

import (
	"testing"
	"time"
)

func TestNextReset(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		now   time.Time
		want  time.Time
	}{
		{
			name:  "daily mid-day",
			scope: ScopeDaily,
			now:   time.Date(2024, 3, 14, 15, 42, 0, 0, time.UTC),
			want:  time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "daily at midnight advances a full day",
			scope: ScopeDaily,
			now:   time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "monthly mid-month",
			scope: ScopeMonthly,
			now:   time.Date(2024, 3, 14, 15, 42, 0, 0, time.UTC),
			want:  time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "monthly december rolls to january",
			scope: ScopeMonthly,
			now:   time.Date(2024, 12, 20, 8, 0, 0, 0, time.UTC),
			want:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextReset(tt.scope, tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("NextReset(%s, %v) = %v, want %v", tt.scope, tt.now, got, tt.want)
			}
		})
	}
}

func TestResetIfDue(t *testing.T) {
	resetAt := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	counter := &QuotaCounter{
		APIName: "metals-api",
		Scope:   ScopeDaily,
		Limit:   50,
		Used:    50,
		ResetAt: resetAt,
	}

	// Before the boundary nothing changes.
	if counter.ResetIfDue(resetAt.Add(-time.Second)) {
		t.Fatal("reset applied before reset_at")
	}
	if counter.Used != 50 {
		t.Fatalf("used changed to %d without a reset", counter.Used)
	}

	// At the boundary the counter resets exactly once.
	if !counter.ResetIfDue(resetAt) {
		t.Fatal("reset not applied at reset_at")
	}
	if counter.Used != 0 {
		t.Fatalf("used = %d after reset, want 0", counter.Used)
	}
	want := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
	if !counter.ResetAt.Equal(want) {
		t.Fatalf("reset_at = %v, want %v", counter.ResetAt, want)
	}

	// A second check at the same instant is a no-op.
	if counter.ResetIfDue(resetAt) {
		t.Fatal("reset applied twice for the same instant")
	}
}

func TestRemaining(t *testing.T) {
	counter := &QuotaCounter{Limit: 10, Used: 7}
	if got := counter.Remaining(); got != 3 {
		t.Errorf("Remaining() = %d, want 3", got)
	}

	counter.Used = 12
	if got := counter.Remaining(); got != 0 {
		t.Errorf("Remaining() with overdrawn counter = %d, want 0", got)
	}
}
