package meter

import (
	"fmt"
	"time"
)

// MaxChannels is the highest channel index supported by the S0PCM hardware
// family (S0PCM-5). The two-channel variant uses indexes 1..2.
const MaxChannels = 5

// Date is one calendar day in local time, the accounting day boundary.
// The zero value is "no date".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Today returns the calendar date of the given instant in local time.
func Today(now time.Time) Date {
	y, m, d := now.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses an ISO formatted date ("2006-01-02").
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Today(t), nil
}

// String formats the date as ISO ("2006-01-02").
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Meter is the accounting record for a single pulse channel.
//
// Total and Today always advance by the same delta within one accounting
// day; Yesterday is Today's value at the last rollover; Pulsecount is the
// last raw lifetime counter seen from the device.
type Meter struct {
	Name       string // optional display name, "" when unset
	Total      int
	Today      int
	Yesterday  int
	Pulsecount int
	Enabled    bool
}

// NewMeter returns a zeroed, enabled meter record.
func NewMeter() *Meter {
	return &Meter{Enabled: true}
}

// DisplayName returns the topic identifier for the meter: its name if set,
// otherwise the string form of its channel index.
func (m *Meter) DisplayName(id int) string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("%d", id)
}

// State is the complete application state: one shared accounting date plus
// the per-channel meter records. All channels share the same date.
type State struct {
	Date   Date
	Meters map[int]*Meter
}

// NewState returns an empty state dated to the given day.
func NewState(date Date) State {
	return State{Date: date, Meters: make(map[int]*Meter)}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{Date: s.Date, Meters: make(map[int]*Meter, len(s.Meters))}
	for id, m := range s.Meters {
		cp := *m
		out.Meters[id] = &cp
	}
	return out
}

// Ensure returns the meter for the given channel, creating a zeroed record
// on first sight.
func (s *State) Ensure(id int) *Meter {
	if s.Meters == nil {
		s.Meters = make(map[int]*Meter)
	}
	m, ok := s.Meters[id]
	if !ok {
		m = NewMeter()
		s.Meters[id] = m
	}
	return m
}
