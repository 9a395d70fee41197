package scanner

import (
	"strings"

	"metals_scanner/models"
)

// ResolveMetalType classifies a listing title by keyword match. Metals are
// checked in the configured order so the first configured metal wins when a
// title mentions several. Returns models.MetalUnknown when nothing matches.
func ResolveMetalType(title string, metals []string, keywords map[string][]string) string {
	lower := strings.ToLower(title)
	for _, metal := range metals {
		for _, kw := range keywords[metal] {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				return metal
			}
		}
	}
	return models.MetalUnknown
}
