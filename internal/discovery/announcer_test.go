package discovery

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/darkrain-nl/s0pcm-bridge/internal/config"
)

type recordingPublisher struct {
	messages []struct{ topic, payload string }
}

func (p *recordingPublisher) PublishRetained(topic, payload string) error {
	p.messages = append(p.messages, struct{ topic, payload string }{topic, payload})
	return nil
}

func (p *recordingPublisher) last(topic string) (string, bool) {
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].topic == topic {
			return p.messages[i].payload, true
		}
	}
	return "", false
}

func newTestAnnouncer() (*Announcer, *recordingPublisher) {
	pub := &recordingPublisher{}
	cfg := config.Default()
	return NewAnnouncer(pub, &cfg.MQTT, "v1.0.0"), pub
}

func TestAnnounceGlobal(t *testing.T) {
	a, pub := newTestAnnouncer()

	if err := a.AnnounceGlobal(); err != nil {
		t.Fatalf("AnnounceGlobal() error = %v", err)
	}

	payload, ok := pub.last("homeassistant/binary_sensor/s0pcmreader/s0pcm_s0pcmreader_status/config")
	if !ok {
		t.Fatal("status entity not announced")
	}
	var status struct {
		DeviceClass string `json:"device_class"`
		StateTopic  string `json:"state_topic"`
		PayloadOn   string `json:"payload_on"`
		Device      struct {
			SWVersion string `json:"sw_version"`
		} `json:"device"`
	}
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if status.DeviceClass != "connectivity" || status.StateTopic != "s0pcmreader/status" {
		t.Errorf("status payload = %+v", status)
	}
	if status.PayloadOn != "online" {
		t.Errorf("payload_on = %q, want online", status.PayloadOn)
	}
	if status.Device.SWVersion != "v1.0.0" {
		t.Errorf("sw_version = %q, want v1.0.0", status.Device.SWVersion)
	}

	for _, diag := range []string{"version", "firmware", "startup_time", "port", "error"} {
		topic := "homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_" + diag + "/config"
		if p, ok := pub.last(topic); !ok || p == "" {
			t.Errorf("diagnostic entity %q missing", diag)
		}
	}

	// Legacy ids must be cleared, not announced.
	for _, legacy := range []string{"info", "uptime"} {
		topic := "homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_" + legacy + "/config"
		if p, ok := pub.last(topic); !ok || p != "" {
			t.Errorf("legacy entity %q = %q, want cleared", legacy, p)
		}
	}
}

func TestAnnounceMeter(t *testing.T) {
	tests := []struct {
		name         string
		channelName  string
		wantInstance string
	}{
		{name: "unnamed channel uses index", channelName: "", wantInstance: "2"},
		{name: "named channel uses name", channelName: "watermeter", wantInstance: "watermeter"},
		{name: "literal none falls back to index", channelName: "None", wantInstance: "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, pub := newTestAnnouncer()

			instance, err := a.AnnounceMeter(2, tt.channelName)
			if err != nil {
				t.Fatalf("AnnounceMeter() error = %v", err)
			}
			if instance != tt.wantInstance {
				t.Errorf("instance = %q, want %q", instance, tt.wantInstance)
			}

			payload, ok := pub.last("homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_2_total/config")
			if !ok || payload == "" {
				t.Fatal("total sensor not announced")
			}
			var total struct {
				StateTopic string `json:"state_topic"`
				StateClass string `json:"state_class"`
			}
			if err := json.Unmarshal([]byte(payload), &total); err != nil {
				t.Fatal(err)
			}
			if want := "s0pcmreader/" + tt.wantInstance + "/total"; total.StateTopic != want {
				t.Errorf("state_topic = %q, want %q", total.StateTopic, want)
			}
			if total.StateClass != "total_increasing" {
				t.Errorf("state_class = %q, want total_increasing", total.StateClass)
			}

			// Config entities always address the channel by index so renames
			// keep working.
			textPayload, ok := pub.last("homeassistant/text/s0pcmreader/s0pcm_s0pcmreader_2_name_config/config")
			if !ok || textPayload == "" {
				t.Fatal("name text entity not announced")
			}
			if !strings.Contains(textPayload, `"command_topic":"s0pcmreader/2/name/set"`) {
				t.Errorf("text command topic wrong: %s", textPayload)
			}
			numPayload, ok := pub.last("homeassistant/number/s0pcmreader/s0pcm_s0pcmreader_2_total_config/config")
			if !ok || numPayload == "" {
				t.Fatal("total correction number entity not announced")
			}
			if !strings.Contains(numPayload, `"command_topic":"s0pcmreader/2/total/set"`) {
				t.Errorf("number command topic wrong: %s", numPayload)
			}
		})
	}
}

func TestAnnounceMeterYesterdayIsMeasurement(t *testing.T) {
	a, pub := newTestAnnouncer()
	if _, err := a.AnnounceMeter(1, ""); err != nil {
		t.Fatal(err)
	}

	payload, ok := pub.last("homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_1_yesterday/config")
	if !ok {
		t.Fatal("yesterday sensor not announced")
	}
	if !strings.Contains(payload, `"state_class":"measurement"`) {
		t.Errorf("yesterday state_class wrong: %s", payload)
	}
}

func TestCleanupMeter(t *testing.T) {
	a, pub := newTestAnnouncer()

	if err := a.CleanupMeter(3); err != nil {
		t.Fatalf("CleanupMeter() error = %v", err)
	}

	wantTopics := []string{
		"homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_3_total/config",
		"homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_3_today/config",
		"homeassistant/sensor/s0pcmreader/s0pcm_s0pcmreader_3_yesterday/config",
		"homeassistant/text/s0pcmreader/s0pcm_s0pcmreader_3_name_config/config",
		"homeassistant/number/s0pcmreader/s0pcm_s0pcmreader_3_total_config/config",
	}
	for _, topic := range wantTopics {
		payload, ok := pub.last(topic)
		if !ok {
			t.Errorf("cleanup did not touch %q", topic)
			continue
		}
		if payload != "" {
			t.Errorf("cleanup payload for %q = %q, want empty", topic, payload)
		}
	}
}

func TestDiscoveryDisabled(t *testing.T) {
	pub := &recordingPublisher{}
	cfg := config.Default()
	cfg.MQTT.Discovery = false
	a := NewAnnouncer(pub, &cfg.MQTT, "v1.0.0")

	if err := a.AnnounceGlobal(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AnnounceMeter(1, "x"); err != nil {
		t.Fatal(err)
	}
	if err := a.CleanupMeter(1); err != nil {
		t.Fatal(err)
	}
	if len(pub.messages) != 0 {
		t.Errorf("published %d messages with discovery disabled", len(pub.messages))
	}
}
