package meter

import (
	"go.uber.org/zap"

	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
)

// EventKind classifies a notable observation made while applying a telegram.
type EventKind int

const (
	// EventReset means the device counter dropped to zero, the signature of
	// a device power-cycle. Informational, not an anomaly.
	EventReset EventKind = iota
	// EventAnomaly means the device counter decreased to a nonzero value,
	// which a restart alone does not explain (possible corruption).
	EventAnomaly
)

// Event reports a counter reset or anomaly observed for one channel.
type Event struct {
	Channel  int
	Kind     EventKind
	Previous int // stored pulsecount before the telegram
	Current  int // pulsecount read from the telegram
}

// ApplyTelegram folds one decoded telegram into the accounting state and
// returns the reset/anomaly events it observed.
//
// The day rollover is applied at most once per telegram: when the shared
// accounting date differs from today, every known channel moves today into
// yesterday and the shared date advances, before any counter is touched.
//
// Each channel then gets the delta rule: an increased counter adds the
// difference to total and today; a decreased counter is treated as a device
// restart and the whole new reading counts as fresh pulses; an unchanged
// counter is a no-op.
//
// One snapshot is taken and the publish event flagged once per telegram,
// regardless of how many channels it touched.
func (c *Coordinator) ApplyTelegram(counts map[int]int, today Date) []Event {
	var events []Event

	c.mu.Lock()
	if c.state.Date != today {
		logging.Debug("Day rollover",
			zap.String("from", c.state.Date.String()),
			zap.String("to", today.String()),
		)
		for _, m := range c.state.Meters {
			m.Yesterday = m.Today
			m.Today = 0
		}
		c.state.Date = today
	}

	for ch, pulsecount := range counts {
		m := c.state.Ensure(ch)

		switch {
		case pulsecount > m.Pulsecount:
			delta := pulsecount - m.Pulsecount
			m.Total += delta
			m.Today += delta
			m.Pulsecount = pulsecount

		case pulsecount < m.Pulsecount:
			kind := EventAnomaly
			if pulsecount == 0 {
				kind = EventReset
			}
			events = append(events, Event{
				Channel:  ch,
				Kind:     kind,
				Previous: m.Pulsecount,
				Current:  pulsecount,
			})
			// The whole new reading counts as fresh pulses. For a drop to
			// zero that is exact; for other drops it is the self-healing
			// guess that keeps totals advancing without operator action.
			m.Total += pulsecount
			m.Today += pulsecount
			m.Pulsecount = pulsecount

		default:
			// Unchanged counter, delta 0.
		}
	}

	c.snapshot = c.state.Clone()
	c.mu.Unlock()

	c.SignalPublish()
	return events
}
