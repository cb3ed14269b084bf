package recovery

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit suffixes stripped from entity states before number parsing. Order
// matters: "l/min" must go before the bare "l".
var unitSuffixes = []string{"m³", "m3", "kwh", "l/min", "l"}

// NormalizeCounter parses an entity state into a plain integer counter.
//
// States can carry unit suffixes and either thousands/decimal convention
// ("1,234.5" vs "1.234,5"). The convention is disambiguated by separator
// counts and positions; strings with three or more mixed separators degrade
// to stripping all separators. A single comma with no dot is taken as a
// decimal comma. Fractions are truncated.
func NormalizeCounter(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "unknown" || s == "unavailable" || s == "none" {
		return 0, fmt.Errorf("no usable state %q", raw)
	}

	for _, unit := range unitSuffixes {
		s = strings.ReplaceAll(s, unit, "")
	}

	// Keep digits, separators and sign only.
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	s = b.String()

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 1 || commas > 1 || (dots == 1 && commas == 1):
		switch {
		case commas > dots:
			// Likely 1,000,000.00 (US thousands)
			s = strings.ReplaceAll(s, ",", "")
		case dots > commas:
			// Likely 1.000.000,00 (EU thousands)
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		case dots == 1 && commas == 1:
			if strings.Index(s, ".") < strings.Index(s, ",") {
				// Dot first: 1.000,50 (EU)
				s = strings.ReplaceAll(s, ".", "")
				s = strings.ReplaceAll(s, ",", ".")
			} else {
				// Comma first: 1,000.50 (US)
				s = strings.ReplaceAll(s, ",", "")
			}
		default:
			// Mixed beyond recognition, strip all separators.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", "")
		}
	case commas == 1 && dots == 0:
		// Single comma is a decimal comma.
		s = strings.ReplaceAll(s, ",", ".")
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("no digits in state %q", raw)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse state %q: %w", raw, err)
	}
	return int(f), nil
}
