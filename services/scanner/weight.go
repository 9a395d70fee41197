package scanner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Conversion factor from grams to troy ounces
const gramsPerTroyOunce = 0.0321507

// Weight bounds in troy ounces; values outside are treated as parse noise
var (
	minWeightOz = decimal.NewFromFloat(0)
	maxWeightOz = decimal.NewFromInt(1000)
)

// weightRule pairs a title pattern with a conversion to troy ounces.
// Rules are tried in order; the first match wins, so the fractional-ounce
// rule must run before the decimal-ounce rule ("1/10 oz" is 0.1 oz, not 10).
type weightRule struct {
	pattern *regexp.Regexp
	convert func(matches []string) (decimal.Decimal, bool)
}

var weightRules = []weightRule{
	{
		// Fractional ounces: "1/10 oz", "1/2 troy oz"
		pattern: regexp.MustCompile(`(?i)\b(\d+)\s*/\s*(\d+)\s*(?:troy\s*)?(?:oz|ounce|ounces)\b`),
		convert: func(m []string) (decimal.Decimal, bool) {
			num, err1 := strconv.ParseInt(m[1], 10, 64)
			den, err2 := strconv.ParseInt(m[2], 10, 64)
			if err1 != nil || err2 != nil || den == 0 {
				return decimal.Zero, false
			}
			return decimal.NewFromInt(num).Div(decimal.NewFromInt(den)), true
		},
	},
	{
		// Decimal or whole ounces: "1 oz", "2.5 troy ounces", ".5oz".
		// Leading-dot forms need their own alternative: \b cannot sit
		// before a dot, so a single \b(\d*\.?\d+) drops the fraction.
		pattern: regexp.MustCompile(`(?i)(\d+(?:\.\d+)?|\.\d+)\s*(?:troy\s*)?(?:oz|ounce|ounces)\b`),
		convert: func(m []string) (decimal.Decimal, bool) {
			d, err := decimal.NewFromString(m[1])
			if err != nil {
				return decimal.Zero, false
			}
			return d, true
		},
	},
	{
		// Grams: "10 gram", "31.1g", ".5 grams". The boundary after the
		// unit keeps purity marks like "585 gold" from matching.
		pattern: regexp.MustCompile(`(?i)(\d+(?:\.\d+)?|\.\d+)\s*(?:g|gram|grams)\b`),
		convert: func(m []string) (decimal.Decimal, bool) {
			d, err := decimal.NewFromString(m[1])
			if err != nil {
				return decimal.Zero, false
			}
			return d.Mul(decimal.NewFromFloat(gramsPerTroyOunce)), true
		},
	},
}

// ParseWeight extracts a weight in troy ounces from a listing title.
// Returns false when no weight can be recognized or the parsed value is
// implausible (non-positive or over 1000 oz).
func ParseWeight(title string) (decimal.Decimal, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return decimal.Zero, false
	}

	for _, rule := range weightRules {
		matches := rule.pattern.FindStringSubmatch(title)
		if matches == nil {
			continue
		}
		weight, ok := rule.convert(matches)
		if !ok {
			continue
		}
		if weight.LessThanOrEqual(minWeightOz) || weight.GreaterThan(maxWeightOz) {
			return decimal.Zero, false
		}
		return weight.Round(4), true
	}
	return decimal.Zero, false
}
