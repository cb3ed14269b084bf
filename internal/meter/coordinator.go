package meter

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
)

// ErrorCategory identifies which worker an error belongs to. Each category
// holds at most one active message; the two are merged into one published
// string.
type ErrorCategory string

const (
	ErrorSerial ErrorCategory = "serial"
	ErrorMQTT   ErrorCategory = "mqtt"
)

// Coordinator owns the lock-protected application state, the snapshot handed
// to the publisher, the startup recovery gate, the level-triggered publish
// signal, and the error aggregator. It is passed explicitly to every
// component; there is no package-level instance.
type Coordinator struct {
	mu       sync.Mutex
	state    State
	snapshot State

	serialErr string
	mqttErr   string
	mergedErr string

	recoveryOnce sync.Once
	recoveryDone chan struct{}

	// publishCh has capacity 1: multiple triggers before the publisher
	// wakes coalesce into one wake carrying the latest snapshot.
	publishCh chan struct{}

	firmware    string
	startupTime string
}

// NewCoordinator returns a coordinator with an empty state dated today.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		state:        NewState(Today(time.Now())),
		snapshot:     NewState(Today(time.Now())),
		recoveryDone: make(chan struct{}),
		publishCh:    make(chan struct{}, 1),
		startupTime:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Mutate runs fn on the state under the lock and refreshes the publisher
// snapshot afterwards. fn must not block.
func (c *Coordinator) Mutate(fn func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.snapshot = c.state.Clone()
}

// Snapshot returns a deep copy of the last published snapshot. The caller
// may hold it across blocking I/O.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// ResolveMeter maps a topic identifier (numeric index or case-insensitive
// display name) to a channel index. Returns 0, false when unknown.
func (c *Coordinator) ResolveMeter(identifier string) (int, bool) {
	if id, err := strconv.Atoi(identifier); err == nil && id > 0 {
		return id, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, m := range c.state.Meters {
		if m.Name != "" && strings.EqualFold(m.Name, identifier) {
			return id, true
		}
	}
	return 0, false
}

// SignalPublish flags the publish-needed event. The signal is
// level-triggered, not queued: signalling an already-flagged event is a
// no-op.
func (c *Coordinator) SignalPublish() {
	select {
	case c.publishCh <- struct{}{}:
	default:
	}
}

// PublishSignal returns the channel the publisher waits on. Receiving from
// it clears the event.
func (c *Coordinator) PublishSignal() <-chan struct{} {
	return c.publishCh
}

// RecoveryComplete releases the startup gate. Flagged once, never reset.
func (c *Coordinator) RecoveryComplete() {
	c.recoveryOnce.Do(func() { close(c.recoveryDone) })
}

// AwaitRecovery blocks until the recovery gate is released or the context is
// cancelled.
func (c *Coordinator) AwaitRecovery(ctx context.Context) error {
	select {
	case <-c.recoveryDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recovered reports whether the recovery gate has been released.
func (c *Coordinator) Recovered() bool {
	select {
	case <-c.recoveryDone:
		return true
	default:
		return false
	}
}

// SetError sets or clears (empty message) the active error for a category.
// When the merged error string actually changes it is recomputed and the
// publish event is re-flagged.
func (c *Coordinator) SetError(category ErrorCategory, message string) {
	c.mu.Lock()
	var changed bool
	switch category {
	case ErrorSerial:
		changed = c.serialErr != message
		c.serialErr = message
	case ErrorMQTT:
		changed = c.mqttErr != message
		c.mqttErr = message
	}
	if changed {
		var parts []string
		if c.serialErr != "" {
			parts = append(parts, c.serialErr)
		}
		if c.mqttErr != "" {
			parts = append(parts, c.mqttErr)
		}
		c.mergedErr = strings.Join(parts, " | ")
	}
	c.mu.Unlock()

	if changed {
		if message != "" {
			logging.Error("Worker error",
				zap.String("category", string(category)),
				zap.String("message", message),
			)
		}
		c.SignalPublish()
	}
}

// ClearError clears the active error for a category.
func (c *Coordinator) ClearError(category ErrorCategory) {
	c.SetError(category, "")
}

// ErrorString returns the merged error string, or "" when both categories
// are clear.
func (c *Coordinator) ErrorString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergedErr
}

// SetFirmware records the firmware identification from the device header
// telegram.
func (c *Coordinator) SetFirmware(fw string) {
	c.mu.Lock()
	c.firmware = fw
	c.mu.Unlock()
}

// Firmware returns the recorded firmware identification, or "" when no
// header has been seen.
func (c *Coordinator) Firmware() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firmware
}

// StartupTime returns the process start time in RFC3339 UTC.
func (c *Coordinator) StartupTime() string {
	return c.startupTime
}
