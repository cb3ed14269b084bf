package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/darkrain-nl/s0pcm-bridge/internal/config"
	"github.com/darkrain-nl/s0pcm-bridge/internal/discovery"
	"github.com/darkrain-nl/s0pcm-bridge/internal/logging"
	"github.com/darkrain-nl/s0pcm-bridge/internal/meter"
	"github.com/darkrain-nl/s0pcm-bridge/internal/recovery"
)

const (
	defaultClientID = "s0pcm-bridge"
	connectTimeout  = 10 * time.Second
	keepAlive       = 60 * time.Second
)

// Worker runs the broker side of the bridge: connect, recover, announce,
// subscribe, publish. One Worker per process.
type Worker struct {
	co      *meter.Coordinator
	cfg     *config.Config
	states  recovery.StatesFetcher
	version string

	client    paho.Client
	announcer *discovery.Announcer

	// Publish-side bookkeeping, only touched from the publish loop.
	globalSent bool
	discovered map[int]string
	lastDiag   map[string]string
	lastInfo   string
	lastError  string
	prev       *meter.State
}

// NewWorker builds a worker. states may be nil when no fallback entity
// source is available.
func NewWorker(co *meter.Coordinator, cfg *config.Config, states recovery.StatesFetcher, version string) *Worker {
	w := &Worker{
		co:         co,
		cfg:        cfg,
		states:     states,
		version:    version,
		discovered: make(map[int]string),
		lastDiag:   make(map[string]string),
	}
	w.announcer = discovery.NewAnnouncer(w, &cfg.MQTT, version)
	return w
}

// PublishRetained publishes one retained message at QoS 0.
func (w *Worker) PublishRetained(topic, payload string) error {
	token := w.client.Publish(topic, 0, true, payload)
	token.Wait()
	return token.Error()
}

// Run connects to the broker, performs startup recovery, then serves the
// publish loop until the context is cancelled. Reconnection after a broken
// connection is delegated to the client's auto-reconnect; the connect loop
// here only covers the initial connection.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.connect(ctx); err != nil {
		return err
	}

	rec := recovery.New(w.co, w.cfg, w.client, w.states)
	if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
		// Recovery failures leave the state at zero; the bridge keeps
		// running and the operator can correct totals over MQTT.
		w.co.SetError(meter.ErrorMQTT, fmt.Sprintf("State recovery failed: %v", err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.publishLoop(ctx)
	w.shutdown()
	return ctx.Err()
}

// connect tries the broker until one connection succeeds or the context is
// cancelled. When TLS is enabled the first failure falls back to plain TCP
// once, leaving an error message for the operator; further failures retry
// with exponential backoff.
func (w *Worker) connect(ctx context.Context) error {
	useTLS := w.cfg.MQTT.TLS
	fellBack := false

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Duration(w.cfg.MQTT.ConnectRetry) * time.Second
	bo.MaxElapsedTime = 0

	for {
		client, err := w.newClient(useTLS)
		if err == nil {
			logging.Debug("Connecting to MQTT broker",
				zap.String("host", w.cfg.MQTT.Host),
				zap.Bool("tls", useTLS),
			)
			token := client.Connect()
			select {
			case <-token.Done():
				err = token.Error()
			case <-ctx.Done():
				return ctx.Err()
			}
			if err == nil {
				w.client = client
				return nil
			}
		}

		if useTLS && !fellBack {
			w.co.SetError(meter.ErrorMQTT, fmt.Sprintf("MQTT TLS failed: %v. Falling back to plain.", err))
			useTLS = false
			fellBack = true
			continue
		}

		w.co.SetError(meter.ErrorMQTT, fmt.Sprintf("MQTT connection failed: %v", err))
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) newClient(useTLS bool) (paho.Client, error) {
	mc := w.cfg.MQTT

	scheme, port := "tcp", mc.Port
	if useTLS {
		scheme, port = "ssl", mc.TLSPort
	}
	clientID := mc.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mc.Host, port)).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetWill(mc.BaseTopic+"/status", mc.LastWill, 0, mc.Retain).
		SetOnConnectHandler(w.onConnect).
		SetConnectionLostHandler(w.onConnectionLost)

	if mc.Username != "" {
		opts.SetUsername(mc.Username)
		opts.SetPassword(mc.Password)
	}

	if useTLS {
		tc, err := w.tlsConfig()
		if err != nil {
			w.co.SetError(meter.ErrorMQTT, err.Error())
			return nil, err
		}
		opts.SetTLSConfig(tc)
	}

	return paho.NewClient(opts), nil
}

func (w *Worker) tlsConfig() (*tls.Config, error) {
	mc := w.cfg.MQTT
	tc := &tls.Config{}

	if mc.TLSCA == "" || !mc.TLSCheckPeer {
		tc.InsecureSkipVerify = true
	}
	if mc.TLSCA != "" {
		pem, err := os.ReadFile(mc.TLSCA)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS CA file %q: %w", mc.TLSCA, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in TLS CA file %q", mc.TLSCA)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// onConnect fires on every (re)connection: announce availability, restore
// the command subscriptions and wake the publish loop so anything missed
// while offline goes out again.
func (w *Worker) onConnect(client paho.Client) {
	logging.Info("MQTT successfully connected to broker")

	mc := w.cfg.MQTT
	client.Publish(mc.BaseTopic+"/status", 0, mc.Retain, mc.Online)

	client.Subscribe(mc.BaseTopic+"/+/total/set", 0, w.handleTotalSet)
	client.Subscribe(mc.BaseTopic+"/+/name/set", 0, w.handleNameSet)

	w.co.ClearError(meter.ErrorMQTT)
	w.co.SignalPublish()
}

func (w *Worker) onConnectionLost(_ paho.Client, err error) {
	w.co.SetError(meter.ErrorMQTT, fmt.Sprintf("MQTT connection lost: %v", err))
}

// shutdown announces unavailability and closes the connection. Called once
// on context cancellation.
func (w *Worker) shutdown() {
	if w.client == nil || !w.client.IsConnected() {
		return
	}
	mc := w.cfg.MQTT
	token := w.client.Publish(mc.BaseTopic+"/status", 0, mc.Retain, mc.Offline)
	token.WaitTimeout(2 * time.Second)
	w.client.Disconnect(250)
	logging.Info("MQTT disconnected")
}
