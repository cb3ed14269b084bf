package discovery

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/darkrain-nl/s0pcm-bridge/internal/config"
	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
)

// Publisher publishes one retained message. The live MQTT worker satisfies
// this; tests use a recording fake.
type Publisher interface {
	PublishRetained(topic, payload string) error
}

// deviceInfo is the discovery "device" block. The full block goes out with
// the global entities; per-channel entities link back by identifier only.
type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name,omitempty"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// entity is one discovery config payload. Fields not used by a particular
// entity type are omitted from the JSON.
type entity struct {
	Name           string     `json:"name"`
	UniqueID       string     `json:"unique_id"`
	Device         deviceInfo `json:"device"`
	DeviceClass    string     `json:"device_class,omitempty"`
	EntityCategory string     `json:"entity_category,omitempty"`
	StateTopic     string     `json:"state_topic"`
	CommandTopic   string     `json:"command_topic,omitempty"`
	PayloadOn      string     `json:"payload_on,omitempty"`
	PayloadOff     string     `json:"payload_off,omitempty"`
	StateClass     string     `json:"state_class,omitempty"`
	ValueTemplate  string     `json:"value_template,omitempty"`
	ForceUpdate    bool       `json:"force_update,omitempty"`
	Icon           string     `json:"icon,omitempty"`
	Min            *int       `json:"min,omitempty"`
	Max            *int       `json:"max,omitempty"`
	Step           *int       `json:"step,omitempty"`
	Mode           string     `json:"mode,omitempty"`
}

// Announcer publishes discovery payloads for one bridge instance. A nil
// method receiver is never used; when discovery is disabled every method is
// a no-op.
type Announcer struct {
	pub     Publisher
	enabled bool
	base    string
	prefix  string
	online  string
	offline string
	version string
}

// NewAnnouncer builds an announcer from the MQTT configuration and the
// running binary's version string.
func NewAnnouncer(pub Publisher, cfg *config.MQTTConfig, version string) *Announcer {
	return &Announcer{
		pub:     pub,
		enabled: cfg.Discovery,
		base:    cfg.BaseTopic,
		prefix:  cfg.DiscoveryPrefix,
		online:  cfg.Online,
		offline: cfg.Offline,
		version: version,
	}
}

func (a *Announcer) device() deviceInfo {
	return deviceInfo{
		Identifiers:  []string{a.base},
		Name:         "S0PCM Reader",
		Model:        "S0PCM",
		Manufacturer: "SmartMeterDashboard",
		SWVersion:    a.version,
	}
}

// deviceRef links a per-channel entity to the global device.
func (a *Announcer) deviceRef() deviceInfo {
	return deviceInfo{Identifiers: []string{a.base}}
}

func (a *Announcer) configTopic(component, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", a.prefix, component, a.base, uniqueID)
}

func (a *Announcer) publish(component string, e entity) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode discovery payload %q: %w", e.UniqueID, err)
	}
	return a.pub.PublishRetained(a.configTopic(component, e.UniqueID), string(payload))
}

// clearThenPublish forces the platform to re-read an entity definition by
// deleting it before republishing.
func (a *Announcer) clearThenPublish(component string, e entity) error {
	if err := a.pub.PublishRetained(a.configTopic(component, e.UniqueID), ""); err != nil {
		return err
	}
	return a.publish(component, e)
}

// AnnounceGlobal publishes the bridge-level entities: the connectivity
// binary sensor, the error sensor and the diagnostics sensors. Legacy
// entity ids from earlier releases are cleared.
func (a *Announcer) AnnounceGlobal() error {
	if !a.enabled {
		return nil
	}

	status := entity{
		Name:           "S0PCM Reader Status",
		UniqueID:       fmt.Sprintf("s0pcm_%s_status", a.base),
		Device:         a.device(),
		DeviceClass:    "connectivity",
		EntityCategory: "diagnostic",
		StateTopic:     a.base + "/status",
		PayloadOn:      a.online,
		PayloadOff:     a.offline,
	}
	if err := a.publish("binary_sensor", status); err != nil {
		return err
	}

	for _, legacy := range []string{"info", "uptime"} {
		topic := a.configTopic("sensor", fmt.Sprintf("s0pcm_%s_%s", a.base, legacy))
		if err := a.pub.PublishRetained(topic, ""); err != nil {
			return err
		}
	}

	errSensor := entity{
		Name:           "S0PCM Reader Error",
		UniqueID:       fmt.Sprintf("s0pcm_%s_error", a.base),
		Device:         a.device(),
		EntityCategory: "diagnostic",
		StateTopic:     a.base + "/error",
		Icon:           "mdi:alert-circle",
	}
	if err := a.publish("sensor", errSensor); err != nil {
		return err
	}

	diagnostics := []struct {
		id    string
		name  string
		icon  string
		class string
	}{
		{id: "version", name: "App Version", icon: "mdi:information-outline"},
		{id: "firmware", name: "S0PCM Firmware", icon: "mdi:chip"},
		{id: "startup_time", name: "Startup Time", icon: "mdi:clock-outline", class: "timestamp"},
		{id: "port", name: "Serial Port", icon: "mdi:serial-port"},
	}
	for _, diag := range diagnostics {
		e := entity{
			Name:           "S0PCM Reader " + diag.name,
			UniqueID:       fmt.Sprintf("s0pcm_%s_%s", a.base, diag.id),
			Device:         a.device(),
			DeviceClass:    diag.class,
			EntityCategory: "diagnostic",
			StateTopic:     a.base + "/" + diag.id,
			ValueTemplate:  "{{ value }}",
			ForceUpdate:    true,
			Icon:           diag.icon,
		}
		if err := a.publish("sensor", e); err != nil {
			return err
		}
	}

	logging.Info("Sent global MQTT discovery messages")
	return nil
}

// AnnounceMeter publishes the entities for one channel: the three counter
// sensors plus the name text entity and the total correction number entity.
// It returns the instance name used in the state topics.
func (a *Announcer) AnnounceMeter(id int, name string) (string, error) {
	if !a.enabled {
		return "", nil
	}

	instance := strconv.Itoa(id)
	if name != "" && !strings.EqualFold(name, "none") {
		instance = name
	}

	for _, field := range []string{"total", "today", "yesterday"} {
		stateClass := "total_increasing"
		if field == "yesterday" {
			stateClass = "measurement"
		}
		sensor := entity{
			Name:       fmt.Sprintf("%s %s%s", instance, strings.ToUpper(field[:1]), field[1:]),
			UniqueID:   fmt.Sprintf("s0pcm_%s_%d_%s", a.base, id, field),
			Device:     a.deviceRef(),
			StateClass: stateClass,
			StateTopic: fmt.Sprintf("%s/%s/%s", a.base, instance, field),
		}
		if err := a.clearThenPublish("sensor", sensor); err != nil {
			return "", err
		}
	}

	minVal, maxVal, step := 0, 2147483647, 1
	text := entity{
		Name:           instance + " Name",
		UniqueID:       fmt.Sprintf("s0pcm_%s_%d_name_config", a.base, id),
		Device:         a.deviceRef(),
		EntityCategory: "config",
		CommandTopic:   fmt.Sprintf("%s/%d/name/set", a.base, id),
		StateTopic:     fmt.Sprintf("%s/%d/name", a.base, id),
		Icon:           "mdi:tag-text-outline",
	}
	if err := a.clearThenPublish("text", text); err != nil {
		return "", err
	}

	number := entity{
		Name:           instance + " Total Correction",
		UniqueID:       fmt.Sprintf("s0pcm_%s_%d_total_config", a.base, id),
		Device:         a.deviceRef(),
		EntityCategory: "config",
		CommandTopic:   fmt.Sprintf("%s/%d/total/set", a.base, id),
		StateTopic:     fmt.Sprintf("%s/%d/total", a.base, id),
		Min:            &minVal,
		Max:            &maxVal,
		Step:           &step,
		Mode:           "box",
		Icon:           "mdi:counter",
	}
	if err := a.clearThenPublish("number", number); err != nil {
		return "", err
	}

	logging.Info("Sent channel discovery",
		zap.Int("channel", id),
		zap.String("instance", instance),
	)
	return instance, nil
}

// CleanupMeter removes all retained discovery configs for one channel,
// purging ghost entities left behind by earlier runs.
func (a *Announcer) CleanupMeter(id int) error {
	if !a.enabled {
		return nil
	}

	for _, field := range []string{"total", "today", "yesterday"} {
		topic := a.configTopic("sensor", fmt.Sprintf("s0pcm_%s_%d_%s", a.base, id, field))
		if err := a.pub.PublishRetained(topic, ""); err != nil {
			return err
		}
	}
	for component, suffix := range map[string]string{"text": "name_config", "number": "total_config"} {
		topic := a.configTopic(component, fmt.Sprintf("s0pcm_%s_%d_%s", a.base, id, suffix))
		if err := a.pub.PublishRetained(topic, ""); err != nil {
			return err
		}
	}

	logging.Debug("Cleared channel discovery", zap.Int("channel", id))
	return nil
}
