package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFile = "configuration.yaml"

// Load reads configuration.yaml from the given directory on top of the
// defaults. A missing file is not an error; a malformed one is.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dir, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// A relative CA path is resolved against the config directory.
	if cfg.MQTT.TLSCA != "" && !filepath.IsAbs(cfg.MQTT.TLSCA) {
		cfg.MQTT.TLSCA = filepath.Join(dir, cfg.MQTT.TLSCA)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Serial.Parity {
	case "none", "even", "odd":
	default:
		return fmt.Errorf("invalid serial parity %q (use none, even or odd)", c.Serial.Parity)
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		return fmt.Errorf("invalid serial stopbits %d (use 1 or 2)", c.Serial.StopBits)
	}
	if c.MQTT.BaseTopic == "" {
		return fmt.Errorf("mqtt base_topic must not be empty")
	}
	for _, id := range c.S0PCM.Include {
		if id < 1 || id > 5 {
			return fmt.Errorf("invalid channel index %d in s0pcm include (valid: 1..5)", id)
		}
	}
	return nil
}

// BrokerService is MQTT broker connection info discovered from the Home
// Assistant Supervisor services API.
type BrokerService struct {
	Host     string
	Port     int
	Username string
	Password string
}

// ApplyBrokerDiscovery fills in broker connection settings from service
// discovery. Values from the configuration file win.
func (c *Config) ApplyBrokerDiscovery(svc BrokerService) {
	if svc.Host == "" {
		return
	}
	c.MQTT.Host = svc.Host
	if svc.Port != 0 {
		c.MQTT.Port = svc.Port
	}
	if c.MQTT.Username == "" {
		c.MQTT.Username = svc.Username
		c.MQTT.Password = svc.Password
	}
}
