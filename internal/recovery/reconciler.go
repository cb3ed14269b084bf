package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/darkrain-nl/s0pcm-bridge/internal/config"
	"github.com/darkrain-nl/s0pcm-bridge/internal/hass"
	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
	"github.com/darkrain-nl/s0pcm-bridge/internal/meter"
)

// Counter field suffixes collected from retained messages.
var counterFields = []string{"total", "today", "yesterday", "pulsecount"}

// BusClient is the subset of the MQTT client the reconciler uses. During
// recovery the reconciler's own handler takes over the matched topics; the
// subscriptions are removed again before normal operation starts.
type BusClient interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// StatesFetcher is the read-only entity state source used as fallback.
type StatesFetcher interface {
	Available() bool
	States(ctx context.Context) ([]hass.Entity, error)
}

// Reconciler rebuilds the shared state from retained messages and, for
// channels still without a total, from the states API. It runs exactly once
// and releases the coordinator's recovery gate when done.
type Reconciler struct {
	co     *meter.Coordinator
	cfg    *config.Config
	bus    BusClient
	states StatesFetcher

	discoveryID *regexp.Regexp

	mu     sync.Mutex
	fields map[string]map[string]int // topic identifier -> field -> value
	names  map[int]string            // channel index -> discovered name
	date   meter.Date
}

// New creates a reconciler. states may be nil when no fallback API is
// available.
func New(co *meter.Coordinator, cfg *config.Config, bus BusClient, states StatesFetcher) *Reconciler {
	return &Reconciler{
		co:          co,
		cfg:         cfg,
		bus:         bus,
		states:      states,
		discoveryID: regexp.MustCompile(`s0pcm_` + regexp.QuoteMeta(cfg.MQTT.BaseTopic) + `_(\d+)`),
		fields:      make(map[string]map[string]int),
		names:       make(map[int]string),
	}
}

// Run executes the recovery protocol: subscribe, collect for the configured
// window, merge, fall back, publish, release the gate. The gate is released
// even on early context cancellation so the serial reader is never wedged.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.co.RecoveryComplete()

	base := r.cfg.MQTT.BaseTopic
	topics := []string{
		base + "/+/total",
		base + "/+/today",
		base + "/+/yesterday",
		base + "/+/pulsecount",
		base + "/date",
		r.cfg.MQTT.DiscoveryPrefix + "/sensor/" + base + "/#",
	}

	logging.Info("Recovery: collecting retained messages",
		zap.Int("window_seconds", r.cfg.MQTT.RecoveryWindow),
	)

	for _, t := range topics {
		if token := r.bus.Subscribe(t, 0, r.onMessage); token.Wait() && token.Error() != nil {
			return fmt.Errorf("recovery subscribe %q failed: %w", t, token.Error())
		}
	}

	window := time.Duration(r.cfg.MQTT.RecoveryWindow) * time.Second
	select {
	case <-time.After(window):
	case <-ctx.Done():
	}

	if token := r.bus.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
		logging.Warn("Recovery unsubscribe failed", zap.Error(token.Error()))
	}

	r.Merge()

	if err := r.fallback(ctx); err != nil {
		logging.Warn("Recovery fallback failed", zap.Error(err))
	}

	r.logSummary()
	r.co.SignalPublish()
	logging.Info("State recovery complete")
	return ctx.Err()
}

// onMessage collects one retained message into the working set.
func (r *Reconciler) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := string(msg.Payload())

	if strings.HasPrefix(topic, r.cfg.MQTT.DiscoveryPrefix+"/") {
		if strings.HasSuffix(topic, "/config") {
			r.collectDiscovery(payload)
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if topic == r.cfg.MQTT.BaseTopic+"/date" {
		if d, err := meter.ParseDate(payload); err == nil {
			r.date = d
		}
		return
	}

	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return
	}
	field := parts[len(parts)-1]
	if !isCounterField(field) {
		return
	}
	identifier := parts[len(parts)-2]

	// Accept float-formatted payloads but store integers.
	f, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		return
	}
	if r.fields[identifier] == nil {
		r.fields[identifier] = make(map[string]int)
	}
	r.fields[identifier][field] = int(f)
}

// collectDiscovery derives the name->index mapping from one retained
// discovery payload. The unique id carries the channel index; the first
// path segment of the state topic is the candidate name. Candidates equal
// to the index's own string form or the literal "none" are rejected.
func (r *Reconciler) collectDiscovery(payload string) {
	var cfg struct {
		UniqueID   string `json:"unique_id"`
		StateTopic string `json:"state_topic"`
	}
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return
	}

	m := r.discoveryID.FindStringSubmatch(cfg.UniqueID)
	if m == nil {
		return
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}

	namePart := strings.TrimPrefix(cfg.StateTopic, r.cfg.MQTT.BaseTopic+"/")
	name := strings.SplitN(namePart, "/", 2)[0]
	if name == "" || name == strconv.Itoa(id) || strings.EqualFold(name, "none") {
		return
	}

	r.mu.Lock()
	r.names[id] = name
	r.mu.Unlock()
	logging.Debug("Recovery: mapped channel name",
		zap.Int("channel", id),
		zap.String("name", name),
	)
}

// Merge folds the working set into the shared state in two passes: numeric
// identifiers first (overwriting only fields actually present), then
// name-indirect values via the discovered name map, taking the per-field
// maximum to guard against stale smaller duplicates. Exported for tests;
// Run calls it once.
func (r *Reconciler) Merge() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.co.Mutate(func(s *meter.State) {
		if !r.date.IsZero() {
			s.Date = r.date
		}

		// Pass 1: numeric identifiers with at least one nonzero field.
		for idStr, data := range r.fields {
			id, err := strconv.Atoi(idStr)
			if err != nil {
				continue
			}
			if !anyPositive(data) {
				continue
			}
			m := s.Ensure(id)
			applyPresent(m, data)
		}

		// Pass 2: names, folding in values published under the name topic.
		for id, name := range r.names {
			m := s.Ensure(id)
			m.Name = name
			if data, ok := r.fields[name]; ok {
				m.Total = max(m.Total, data["total"])
				m.Today = max(m.Today, data["today"])
				m.Yesterday = max(m.Yesterday, data["yesterday"])
				m.Pulsecount = max(m.Pulsecount, data["pulsecount"])
			}
		}
	})
}

// fallback queries the states API once for channels whose total is still
// zero. The lock is never held across the HTTP call.
func (r *Reconciler) fallback(ctx context.Context) error {
	if r.states == nil || !r.states.Available() {
		return nil
	}

	type missing struct {
		id   int
		name string
	}
	var wanted []missing
	snapshot := r.co.Snapshot()
	for id, m := range snapshot.Meters {
		if m.Total == 0 {
			wanted = append(wanted, missing{id: id, name: m.Name})
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	logging.Info("Recovery: querying states API for missing totals",
		zap.Int("channels", len(wanted)),
	)
	entities, err := r.states.States(ctx)
	if err != nil {
		return err
	}

	found := make(map[int]int)
	for _, w := range wanted {
		if v, ok := findTotal(r.cfg.MQTT.BaseTopic, w.id, w.name, entities); ok {
			found[w.id] = v
			logging.Info("Recovery: recovered total from states API",
				zap.Int("channel", w.id),
				zap.Int("total", v),
			)
		}
	}
	if len(found) == 0 {
		return nil
	}

	r.co.Mutate(func(s *meter.State) {
		for id, v := range found {
			s.Ensure(id).Total = v
		}
	})
	return nil
}

func (r *Reconciler) logSummary() {
	snapshot := r.co.Snapshot()
	for id, m := range snapshot.Meters {
		logging.Info("Recovered channel",
			zap.Int("channel", id),
			zap.Int("total", m.Total),
			zap.Int("today", m.Today),
			zap.Int("yesterday", m.Yesterday),
			zap.Int("pulsecount", m.Pulsecount),
		)
	}
}

func isCounterField(field string) bool {
	for _, f := range counterFields {
		if f == field {
			return true
		}
	}
	return false
}

func anyPositive(data map[string]int) bool {
	for _, v := range data {
		if v > 0 {
			return true
		}
	}
	return false
}

func applyPresent(m *meter.Meter, data map[string]int) {
	if v, ok := data["total"]; ok {
		m.Total = v
	}
	if v, ok := data["today"]; ok {
		m.Today = v
	}
	if v, ok := data["yesterday"]; ok {
		m.Yesterday = v
	}
	if v, ok := data["pulsecount"]; ok {
		m.Pulsecount = v
	}
}
