package recovery

import (
	"context"
	"testing"

	"github.com/darkrain-nl/s0pcm-bridge/internal/config"
	"github.com/darkrain-nl/s0pcm-bridge/internal/hass"
	"github.com/darkrain-nl/s0pcm-bridge/internal/meter"
)

type fakeMessage struct {
	topic   string
	payload string
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return true }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m fakeMessage) Ack()              {}

type fakeStates struct {
	entities []hass.Entity
}

func (f *fakeStates) Available() bool { return true }
func (f *fakeStates) States(ctx context.Context) ([]hass.Entity, error) {
	return f.entities, nil
}

func newTestReconciler() (*Reconciler, *meter.Coordinator) {
	co := meter.NewCoordinator()
	return New(co, config.Default(), nil, nil), co
}

func (r *Reconciler) feed(topic, payload string) {
	r.onMessage(nil, fakeMessage{topic: topic, payload: payload})
}

func TestMergeNumericIdentifiers(t *testing.T) {
	r, co := newTestReconciler()

	r.feed("s0pcmreader/1/total", "1000")
	r.feed("s0pcmreader/1/today", "5")
	r.feed("s0pcmreader/1/pulsecount", "1000")
	r.feed("s0pcmreader/date", "2026-03-01")

	// All-zero identifiers carry no information and must not create a meter.
	r.feed("s0pcmreader/3/total", "0")

	r.Merge()

	s := co.Snapshot()
	m := s.Meters[1]
	if m == nil {
		t.Fatal("channel 1 not recovered")
	}
	if m.Total != 1000 || m.Today != 5 || m.Pulsecount != 1000 {
		t.Errorf("channel 1 = %+v, want total/pulsecount 1000 today 5", m)
	}
	if m.Yesterday != 0 {
		t.Errorf("yesterday = %d, want untouched 0", m.Yesterday)
	}
	if _, ok := s.Meters[3]; ok {
		t.Error("all-zero channel 3 was created")
	}
	if got := s.Date.String(); got != "2026-03-01" {
		t.Errorf("date = %s, want 2026-03-01", got)
	}
}

func TestMergeNameIndirect(t *testing.T) {
	r, co := newTestReconciler()

	r.feed("homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_2_total/config",
		`{"unique_id":"s0pcm_s0pcmreader_2_total","state_topic":"s0pcmreader/watermeter/total"}`)
	r.feed("s0pcmreader/watermeter/total", "2000")
	r.feed("s0pcmreader/watermeter/yesterday", "12")

	r.Merge()

	s := co.Snapshot()
	m := s.Meters[2]
	if m == nil {
		t.Fatal("channel 2 not recovered through its name")
	}
	if m.Name != "watermeter" {
		t.Errorf("name = %q, want %q", m.Name, "watermeter")
	}
	if m.Total != 2000 || m.Yesterday != 12 {
		t.Errorf("channel 2 = %+v, want total 2000 yesterday 12", m)
	}
}

func TestMergeNameValuesTakePerFieldMaximum(t *testing.T) {
	r, co := newTestReconciler()

	// Numeric and name-addressed values for the same channel; the larger
	// one must win per field.
	r.feed("s0pcmreader/1/total", "500")
	r.feed("s0pcmreader/1/today", "3")
	r.feed("homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_1_total/config",
		`{"unique_id":"s0pcm_s0pcmreader_1_total","state_topic":"s0pcmreader/water/total"}`)
	r.feed("s0pcmreader/water/total", "800")
	r.feed("s0pcmreader/water/today", "1")

	r.Merge()

	m := co.Snapshot().Meters[1]
	if m.Total != 800 {
		t.Errorf("total = %d, want name value 800", m.Total)
	}
	if m.Today != 3 {
		t.Errorf("today = %d, want numeric value 3", m.Today)
	}
}

func TestCollectDiscoveryRejectsUnusableNames(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "index string as name",
			payload: `{"unique_id":"s0pcm_s0pcmreader_2_total","state_topic":"s0pcmreader/2/total"}`,
		},
		{
			name:    "literal none",
			payload: `{"unique_id":"s0pcm_s0pcmreader_2_total","state_topic":"s0pcmreader/None/total"}`,
		},
		{
			name:    "foreign unique id",
			payload: `{"unique_id":"other_device_2_total","state_topic":"s0pcmreader/water/total"}`,
		},
		{
			name:    "malformed json",
			payload: `{not json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestReconciler()
			r.collectDiscovery(tt.payload)
			if len(r.names) != 0 {
				t.Errorf("names = %v, want none", r.names)
			}
		})
	}
}

func TestFallbackFillsMissingTotals(t *testing.T) {
	r, co := newTestReconciler()

	r.feed("s0pcmreader/1/total", "1000")
	r.feed("homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_2_total/config",
		`{"unique_id":"s0pcm_s0pcmreader_2_total","state_topic":"s0pcmreader/watermeter/total"}`)
	r.Merge()

	r.states = &fakeStates{entities: []hass.Entity{
		{EntityID: "sensor.s0pcmreader_watermeter_total", State: "4242"},
		{EntityID: "sensor.s0pcmreader_1_total", State: "999999"},
	}}

	if err := r.fallback(context.Background()); err != nil {
		t.Fatalf("fallback() error = %v", err)
	}

	s := co.Snapshot()
	if got := s.Meters[2].Total; got != 4242 {
		t.Errorf("channel 2 total = %d, want 4242 from the states API", got)
	}
	// Channel 1 already had a total; the API must not override it.
	if got := s.Meters[1].Total; got != 1000 {
		t.Errorf("channel 1 total = %d, want 1000 untouched", got)
	}
}
