package serialreader

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/darkrain-nl/s0pcm-bridge/internal/config"
	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
	"github.com/darkrain-nl/s0pcm-bridge/internal/meter"
	"github.com/darkrain-nl/s0pcm-bridge/internal/protocol"
)

// Reader owns the serial port and drives telegram processing.
type Reader struct {
	co  *meter.Coordinator
	cfg *config.SerialConfig
}

// New builds a reader for the given port configuration.
func New(co *meter.Coordinator, cfg *config.SerialConfig) *Reader {
	return &Reader{co: co, cfg: cfg}
}

// Run blocks until the context is cancelled. The recovery gate is awaited
// first; the port open/read cycle retries forever after that.
func (r *Reader) Run(ctx context.Context) error {
	logging.Info("Serial: waiting for state recovery")
	if err := r.co.AwaitRecovery(ctx); err != nil {
		return err
	}
	logging.Info("Serial: recovery complete, starting read loop")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Duration(r.cfg.ConnectRetry) * time.Second
	bo.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		port, err := r.open()
		if err != nil {
			r.co.SetError(meter.ErrorSerial, fmt.Sprintf("Serialport connection failed: %v", err))
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		bo.Reset()
		r.readLoop(ctx, port)
		_ = port.Close()
	}
}

func (r *Reader) open() (serial.Port, error) {
	logging.Debug("Opening serial port", zap.String("port", r.cfg.Port))

	mode := &serial.Mode{
		BaudRate: r.cfg.Baudrate,
		DataBits: r.cfg.DataBits,
		Parity:   parityMode(r.cfg.Parity),
		StopBits: stopBitsMode(r.cfg.StopBits),
	}
	port, err := serial.Open(r.cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", r.cfg.Port, err)
	}
	if err := port.SetReadTimeout(time.Duration(r.cfg.ReadTimeout) * time.Second); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", r.cfg.Port, err)
	}
	return port, nil
}

// readLoop reads until timeout, read error or cancellation. A zero-byte read
// is the library's timeout signal; the device emits a telegram every 10
// seconds, so a full timeout window of silence means the port is dead.
func (r *Reader) readLoop(ctx context.Context, port serial.Port) {
	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = port.Close()
		case <-closed:
		}
	}()
	defer close(closed)

	var pending []byte
	buf := make([]byte, 256)

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				r.co.SetError(meter.ErrorSerial, fmt.Sprintf("Serialport read error: %v", err))
			}
			return
		}
		if n == 0 {
			r.co.SetError(meter.ErrorSerial, "Serialport read timeout: Failed to read any data")
			return
		}

		pending = append(pending, buf[:n]...)
		for {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := string(bytes.TrimRight(pending[:idx], "\r"))
			pending = pending[idx+1:]
			r.processLine(line)
		}
	}
}

func (r *Reader) processLine(line string) {
	kind := protocol.Classify(line)
	logging.LogTelegram(kind.String(), line)

	switch kind {
	case protocol.KindHeader:
		r.co.SetFirmware(protocol.ParseHeader(line))

	case protocol.KindData:
		counts, err := protocol.ParseTelegram(line)
		if err != nil {
			r.co.SetError(meter.ErrorSerial, fmt.Sprintf("Invalid Packet: %v. Packet: '%s'", err, line))
			return
		}

		events := r.co.ApplyTelegram(counts, meter.Today(time.Now()))
		if len(events) == 0 {
			r.co.ClearError(meter.ErrorSerial)
			return
		}
		for _, ev := range events {
			r.reportEvent(ev)
		}

	case protocol.KindEmpty:
		logging.Warn("Empty packet received, this can happen during start-up")

	default:
		r.co.SetError(meter.ErrorSerial, fmt.Sprintf("Invalid Packet: '%s'", line))
	}
}

func (r *Reader) reportEvent(ev meter.Event) {
	switch ev.Kind {
	case meter.EventReset:
		logging.Warn("Device counter reset",
			zap.Int("channel", ev.Channel),
			zap.Int("previous", ev.Previous),
		)
		r.co.SetError(meter.ErrorSerial,
			fmt.Sprintf("S0PCM Reset detected for meter %d: Pulsecounters cleared.", ev.Channel))
	case meter.EventAnomaly:
		r.co.SetError(meter.ErrorSerial,
			fmt.Sprintf("Pulsecount anomaly detected for meter %d: Stored pulsecount '%d' is higher than read '%d'.",
				ev.Channel, ev.Previous, ev.Current))
	}
}

func parityMode(s string) serial.Parity {
	switch s {
	case "even":
		return serial.EvenParity
	case "odd":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func stopBitsMode(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
