package recovery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/darkrain-nl/s0pcm-bridge/internal/hass"
)

// Keyword allow/deny lists for the fuzzy entity scan. The scan is biased
// toward false negatives: an id must look like a pulse/water meter reading
// and must not look like a derived cost or an unrelated utility.
var (
	fuzzyAllow = []string{"total", "water", "meter", "pulse", "verbruik"}
	fuzzyDeny  = []string{"cost", "price", "energy", "kwh", "gas", "power"}
)

// sanitizeName lowercases a display name and replaces spaces, matching how
// the home-automation platform derives entity ids from names.
func sanitizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// findTotal searches the entity list for a usable total for one channel.
// Exact id patterns are tried first, then a keyword-guarded fuzzy scan.
func findTotal(baseTopic string, id int, name string, entities []hass.Entity) (int, bool) {
	patterns := make([]string, 0, 5)
	if name != "" {
		sanitized := sanitizeName(name)
		patterns = append(patterns,
			fmt.Sprintf("sensor.%s_%s_total", baseTopic, sanitized),
			fmt.Sprintf("sensor.%s_total", sanitized),
		)
	}
	patterns = append(patterns,
		fmt.Sprintf("sensor.%s_%d_total", baseTopic, id),
		fmt.Sprintf("sensor.s0pcm_reader_%d_total", id),
		fmt.Sprintf("sensor.%d_total", id),
	)

	for _, pattern := range patterns {
		for _, e := range entities {
			if e.EntityID != pattern {
				continue
			}
			if v, err := NormalizeCounter(e.State); err == nil {
				return v, true
			}
		}
	}

	return fuzzyScan(baseTopic, id, entities)
}

// fuzzyScan looks for any entity that plausibly carries this channel's
// total: the id must contain the base topic or the platform default prefix,
// reference the channel index as a distinct token, include at least one
// allow-listed keyword and no deny-listed one.
func fuzzyScan(baseTopic string, id int, entities []hass.Entity) (int, bool) {
	indexToken := regexp.MustCompile(fmt.Sprintf(`(^|[._])%d([._]|$)`, id))

	for _, e := range entities {
		eid := strings.ToLower(e.EntityID)

		if !strings.Contains(eid, strings.ToLower(baseTopic)) && !strings.Contains(eid, "s0pcm") {
			continue
		}
		if !indexToken.MatchString(eid) {
			continue
		}

		denied := false
		for _, kw := range fuzzyDeny {
			if strings.Contains(eid, kw) {
				denied = true
				break
			}
		}
		if denied {
			continue
		}

		allowed := false
		for _, kw := range fuzzyAllow {
			if strings.Contains(eid, kw) {
				allowed = true
				break
			}
		}
		if !allowed {
			continue
		}

		if v, err := NormalizeCounter(e.State); err == nil {
			return v, true
		}
	}
	return 0, false
}
