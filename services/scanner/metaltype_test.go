package scanner

import (
	"testing"

	"metals_scanner/models"
)

var testKeywords = map[string][]string{
	"gold":   {"gold", "xau"},
	"silver": {"silver", "xag"},
}

func TestResolveMetalType(t *testing.T) {
	metals := []string{"gold", "silver"}

	tests := []struct {
		title string
		want  string
	}{
		{"1 oz Gold American Eagle", "gold"},
		{"10 oz SILVER bar", "silver"},
		{"XAU bullion round", "gold"},
		{"Copper bullion bar 1 lb", models.MetalUnknown},
		{"", models.MetalUnknown},
		// First configured metal wins when a title mentions several.
		{"Gold and Silver proof set", "gold"},
	}

	for _, tt := range tests {
		if got := ResolveMetalType(tt.title, metals, testKeywords); got != tt.want {
			t.Errorf("ResolveMetalType(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestResolveMetalTypeRespectsMetalOrder(t *testing.T) {
	title := "Gold and Silver proof set"
	if got := ResolveMetalType(title, []string{"silver", "gold"}, testKeywords); got != "silver" {
		t.Errorf("got %q, want silver when silver is configured first", got)
	}
}
