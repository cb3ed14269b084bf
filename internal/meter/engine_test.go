package meter

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) Date {
	return Date{Year: y, Month: m, Day: d}
}

func TestApplyTelegramDeltaRules(t *testing.T) {
	today := date(2026, time.March, 1)

	tests := []struct {
		name       string
		setup      func(c *Coordinator)
		counts     map[int]int
		wantEvents int
		wantKind   EventKind
		verify     func(t *testing.T, s State)
	}{
		{
			name:   "first sight counts whole reading",
			counts: map[int]int{1: 100},
			verify: func(t *testing.T, s State) {
				m := s.Meters[1]
				if m.Total != 100 || m.Today != 100 || m.Pulsecount != 100 {
					t.Errorf("meter = %+v, want total/today/pulsecount 100", m)
				}
			},
		},
		{
			name: "increase adds delta",
			setup: func(c *Coordinator) {
				c.ApplyTelegram(map[int]int{1: 100}, today)
			},
			counts: map[int]int{1: 105},
			verify: func(t *testing.T, s State) {
				m := s.Meters[1]
				if m.Total != 105 || m.Today != 105 || m.Pulsecount != 105 {
					t.Errorf("meter = %+v, want 105 across the board", m)
				}
			},
		},
		{
			name: "unchanged counter is a no-op",
			setup: func(c *Coordinator) {
				c.ApplyTelegram(map[int]int{1: 100}, today)
			},
			counts: map[int]int{1: 100},
			verify: func(t *testing.T, s State) {
				if m := s.Meters[1]; m.Total != 100 {
					t.Errorf("total = %d, want 100", m.Total)
				}
			},
		},
		{
			name: "drop to zero is a reset event",
			setup: func(c *Coordinator) {
				c.ApplyTelegram(map[int]int{1: 100}, today)
			},
			counts:     map[int]int{1: 0},
			wantEvents: 1,
			wantKind:   EventReset,
			verify: func(t *testing.T, s State) {
				m := s.Meters[1]
				if m.Total != 100 {
					t.Errorf("total = %d, want preserved 100", m.Total)
				}
				if m.Pulsecount != 0 {
					t.Errorf("pulsecount = %d, want 0", m.Pulsecount)
				}
			},
		},
		{
			name: "drop to nonzero is an anomaly and counts as fresh pulses",
			setup: func(c *Coordinator) {
				c.ApplyTelegram(map[int]int{1: 100}, today)
			},
			counts:     map[int]int{1: 40},
			wantEvents: 1,
			wantKind:   EventAnomaly,
			verify: func(t *testing.T, s State) {
				m := s.Meters[1]
				if m.Total != 140 || m.Today != 140 {
					t.Errorf("meter = %+v, want total/today 140", m)
				}
				if m.Pulsecount != 40 {
					t.Errorf("pulsecount = %d, want 40", m.Pulsecount)
				}
			},
		},
		{
			name: "reapplying the same telegram is idempotent",
			setup: func(c *Coordinator) {
				c.ApplyTelegram(map[int]int{1: 100, 2: 50}, today)
				c.ApplyTelegram(map[int]int{1: 100, 2: 50}, today)
			},
			counts: map[int]int{1: 100, 2: 50},
			verify: func(t *testing.T, s State) {
				if s.Meters[1].Total != 100 || s.Meters[2].Total != 50 {
					t.Errorf("totals = %d/%d, want 100/50",
						s.Meters[1].Total, s.Meters[2].Total)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator()
			c.Mutate(func(s *State) { s.Date = today })
			if tt.setup != nil {
				tt.setup(c)
			}

			events := c.ApplyTelegram(tt.counts, today)

			if len(events) != tt.wantEvents {
				t.Fatalf("events = %d, want %d", len(events), tt.wantEvents)
			}
			if tt.wantEvents > 0 && events[0].Kind != tt.wantKind {
				t.Errorf("event kind = %v, want %v", events[0].Kind, tt.wantKind)
			}
			if tt.verify != nil {
				tt.verify(t, c.Snapshot())
			}
		})
	}
}

func TestApplyTelegramDayRollover(t *testing.T) {
	day1 := date(2026, time.March, 1)
	day2 := date(2026, time.March, 2)

	c := NewCoordinator()
	c.Mutate(func(s *State) { s.Date = day1 })
	c.ApplyTelegram(map[int]int{1: 100, 2: 200}, day1)
	c.ApplyTelegram(map[int]int{1: 110, 2: 220}, day1)

	// Next telegram arrives on the new day. Every channel shifts exactly
	// once before its delta is applied.
	c.ApplyTelegram(map[int]int{1: 115, 2: 225}, day2)

	s := c.Snapshot()
	if s.Date != day2 {
		t.Errorf("date = %v, want %v", s.Date, day2)
	}
	m1, m2 := s.Meters[1], s.Meters[2]
	if m1.Yesterday != 110 {
		t.Errorf("channel 1 yesterday = %d, want 110", m1.Yesterday)
	}
	if m1.Today != 5 {
		t.Errorf("channel 1 today = %d, want 5", m1.Today)
	}
	if m2.Yesterday != 220 {
		t.Errorf("channel 2 yesterday = %d, want 220", m2.Yesterday)
	}
	if m2.Today != 5 {
		t.Errorf("channel 2 today = %d, want 5", m2.Today)
	}
	if m1.Total != 115 || m2.Total != 225 {
		t.Errorf("totals = %d/%d, want 115/225", m1.Total, m2.Total)
	}

	// Same day again, no second shift.
	c.ApplyTelegram(map[int]int{1: 115, 2: 225}, day2)
	s = c.Snapshot()
	if s.Meters[1].Yesterday != 110 || s.Meters[1].Today != 5 {
		t.Errorf("second telegram on same day shifted again: %+v", s.Meters[1])
	}
}

func TestApplyTelegramRolloverCoversAllChannels(t *testing.T) {
	day1 := date(2026, time.March, 1)
	day2 := date(2026, time.March, 2)

	c := NewCoordinator()
	c.Mutate(func(s *State) { s.Date = day1 })
	c.ApplyTelegram(map[int]int{1: 10, 2: 20}, day1)

	// Telegram on the new day only mentions channel 1; channel 2 must still
	// roll over because the date is shared.
	c.ApplyTelegram(map[int]int{1: 12}, day2)

	s := c.Snapshot()
	if s.Meters[2].Yesterday != 20 || s.Meters[2].Today != 0 {
		t.Errorf("channel 2 = %+v, want yesterday 20 today 0", s.Meters[2])
	}
}

func TestSnapshotIsolation(t *testing.T) {
	today := date(2026, time.March, 1)
	c := NewCoordinator()
	c.Mutate(func(s *State) { s.Date = today })
	c.ApplyTelegram(map[int]int{1: 100}, today)

	snap := c.Snapshot()
	snap.Meters[1].Total = 999999
	snap.Ensure(4).Total = 7

	if got := c.Snapshot().Meters[1].Total; got != 100 {
		t.Errorf("shared state total = %d after snapshot mutation, want 100", got)
	}
	if _, ok := c.Snapshot().Meters[4]; ok {
		t.Error("channel 4 leaked into shared state through a snapshot")
	}
}
