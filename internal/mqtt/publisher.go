package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
	"github.com/darkrain-nl/s0pcm-bridge/internal/meter"
)

// publishLoop is the level-triggered publisher. One initial cycle pushes the
// recovered state out; afterwards it wakes on the publish signal only.
func (w *Worker) publishLoop(ctx context.Context) {
	w.publishCycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.co.PublishSignal():
			w.publishCycle()
		}
	}
}

// publishCycle pushes everything that changed since the last cycle: discovery
// drift, diagnostics, measurements and the error text. The snapshot is taken
// once; the lock is never held while publishing.
func (w *Worker) publishCycle() {
	snapshot := w.co.Snapshot()
	errMsg := w.co.ErrorString()

	if !w.globalSent {
		if err := w.announcer.AnnounceGlobal(); err == nil {
			// Purge every possible channel first so ghosts from earlier
			// runs disappear before the live ones are announced.
			for id := 1; id <= meter.MaxChannels; id++ {
				_ = w.announcer.CleanupMeter(id)
			}
			w.globalSent = true
		}
	}

	for _, id := range sortedChannels(&snapshot) {
		if !w.cfg.S0PCM.Included(id) {
			continue
		}
		m := snapshot.Meters[id]
		instance := m.DisplayName(id)
		if w.discovered[id] != instance {
			if name, err := w.announcer.AnnounceMeter(id, m.Name); err == nil && name != "" {
				w.discovered[id] = name
			}
		}
	}

	w.publishDiagnostics()
	w.publishMeasurements(&snapshot)

	errToPublish := errMsg
	if errToPublish == "" {
		errToPublish = "No Error"
	}
	if w.lastError != errToPublish {
		w.publishValue(w.cfg.MQTT.BaseTopic+"/error", errToPublish, w.cfg.MQTT.Retain)
		w.lastError = errToPublish
	}

	w.prev = &snapshot
}

// diagnosticsInfo is the combined payload on the info topic.
type diagnosticsInfo struct {
	Version     string `json:"version"`
	Firmware    string `json:"firmware"`
	StartupTime string `json:"startup_time"`
	Port        string `json:"port"`
}

func (w *Worker) publishDiagnostics() {
	info := diagnosticsInfo{
		Version:     w.version,
		Firmware:    w.co.Firmware(),
		StartupTime: w.co.StartupTime(),
		Port:        w.cfg.Serial.Port,
	}

	entries := []struct{ key, value string }{
		{"version", info.Version},
		{"firmware", info.Firmware},
		{"startup_time", info.StartupTime},
		{"port", info.Port},
	}
	for _, e := range entries {
		if w.lastDiag[e.key] != e.value {
			w.publishValue(w.cfg.MQTT.BaseTopic+"/"+e.key, e.value, w.cfg.MQTT.Retain)
			w.lastDiag[e.key] = e.value
		}
	}

	payload, err := json.Marshal(info)
	if err != nil {
		return
	}
	if w.lastInfo != string(payload) {
		w.publishValue(w.cfg.MQTT.BaseTopic+"/info", string(payload), w.cfg.MQTT.Retain)
		w.lastInfo = string(payload)
	}
}

// publishMeasurements diffs the snapshot against the previously published
// one. The per-index counter topics are always retained, they are the
// durable state; display topics follow the configured retain flag.
func (w *Worker) publishMeasurements(snapshot *meter.State) {
	base := w.cfg.MQTT.BaseTopic

	if w.prev == nil || snapshot.Date != w.prev.Date {
		w.publishValue(base+"/date", snapshot.Date.String(), true)
	}

	for _, id := range sortedChannels(snapshot) {
		m := snapshot.Meters[id]
		if !m.Enabled || !w.cfg.S0PCM.Included(id) {
			continue
		}

		var pm *meter.Meter
		if w.prev != nil {
			pm = w.prev.Meters[id]
		}

		counters := []struct {
			field string
			cur   int
		}{
			{"total", m.Total},
			{"today", m.Today},
			{"yesterday", m.Yesterday},
			{"pulsecount", m.Pulsecount},
		}
		for _, c := range counters {
			if pm == nil || counterValue(pm, c.field) != c.cur {
				w.publishValue(fmt.Sprintf("%s/%d/%s", base, id, c.field), strconv.Itoa(c.cur), true)
			}
		}

		instance := m.DisplayName(id)
		nameChanged := pm == nil || pm.Name != m.Name
		for _, c := range counters[:3] {
			if pm == nil || counterValue(pm, c.field) != c.cur || nameChanged {
				w.publishValue(fmt.Sprintf("%s/%s/%s", base, instance, c.field), strconv.Itoa(c.cur), w.cfg.MQTT.Retain)
			}
		}

		if nameChanged {
			w.publishValue(fmt.Sprintf("%s/%d/name", base, id), m.Name, true)
		}
	}
}

func (w *Worker) publishValue(topic, value string, retain bool) {
	token := w.client.Publish(topic, 0, retain, value)
	token.Wait()
	if err := token.Error(); err != nil {
		w.co.SetError(meter.ErrorMQTT, fmt.Sprintf("MQTT publish failed for %s: %v", topic, err))
		return
	}
	logging.LogPublish(topic, value)
}

func counterValue(m *meter.Meter, field string) int {
	switch field {
	case "total":
		return m.Total
	case "today":
		return m.Today
	case "yesterday":
		return m.Yesterday
	default:
		return m.Pulsecount
	}
}

func sortedChannels(s *meter.State) []int {
	ids := make([]int, 0, len(s.Meters))
	for id := range s.Meters {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
