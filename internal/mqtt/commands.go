package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
	"github.com/darkrain-nl/s0pcm-bridge/internal/meter"
)

// commandTarget extracts the channel identifier from a command topic
// (base/<identifier>/<field>/set) and resolves it to a channel index.
func (w *Worker) commandTarget(topic string) (int, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return 0, false
	}
	return w.co.ResolveMeter(parts[len(parts)-3])
}

// handleTotalSet applies an operator total correction. Float payloads are
// accepted and truncated; everything else is rejected with a reported error.
func (w *Worker) handleTotalSet(_ paho.Client, msg paho.Message) {
	logging.Debug("MQTT command received",
		zap.String("topic", msg.Topic()),
		zap.ByteString("payload", msg.Payload()),
	)

	id, ok := w.commandTarget(msg.Topic())
	if !ok {
		w.co.SetError(meter.ErrorMQTT, fmt.Sprintf("Ignored set command for unknown meter: %s", msg.Topic()))
		return
	}

	payload := strings.TrimSpace(string(msg.Payload()))
	f, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		w.co.SetError(meter.ErrorMQTT, fmt.Sprintf("Ignored invalid payload for set command on meter %d: %s", id, payload))
		return
	}
	newTotal := int(f)

	logging.Info("Applying total correction",
		zap.Int("channel", id),
		zap.Int("total", newTotal),
	)
	w.co.Mutate(func(s *meter.State) {
		s.Ensure(id).Total = newTotal
	})
	w.co.SignalPublish()
}

// handleNameSet renames a channel. An empty payload clears the name so the
// channel falls back to its index. The publish loop notices the changed
// display name and re-announces the channel's entities.
func (w *Worker) handleNameSet(_ paho.Client, msg paho.Message) {
	logging.Debug("MQTT command received",
		zap.String("topic", msg.Topic()),
		zap.ByteString("payload", msg.Payload()),
	)

	id, ok := w.commandTarget(msg.Topic())
	if !ok {
		w.co.SetError(meter.ErrorMQTT, fmt.Sprintf("Ignored name/set command for unknown meter: %s", msg.Topic()))
		return
	}

	newName := strings.TrimSpace(string(msg.Payload()))
	logging.Info("Renaming channel",
		zap.Int("channel", id),
		zap.String("name", newName),
	)
	w.co.Mutate(func(s *meter.State) {
		s.Ensure(id).Name = newName
	})
	w.co.SignalPublish()
}
