package config

// Config represents the entire configuration file (configuration.yaml in the
// --config directory). Every field has a default; a missing file is not an
// error.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Serial SerialConfig `yaml:"serial"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	S0PCM  S0PCMConfig  `yaml:"s0pcm"`
}

// LogConfig controls logging verbosity.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SerialConfig describes the S0PCM serial port. The defaults match the
// module's fixed line settings (9600 baud, 7 data bits, even parity).
type SerialConfig struct {
	Port         string `yaml:"port"`
	Baudrate     int    `yaml:"baudrate"`
	DataBits     int    `yaml:"databits"`
	Parity       string `yaml:"parity"`   // none, even, odd
	StopBits     int    `yaml:"stopbits"` // 1 or 2
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds; a zero-length read closes and reopens the port
	ConnectRetry int    `yaml:"connect_retry"` // seconds between reconnect attempts
}

// MQTTConfig describes the broker connection and topic layout.
type MQTTConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	TLSPort         int    `yaml:"tls_port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	BaseTopic       string `yaml:"base_topic"`
	ClientID        string `yaml:"client_id"`
	Retain          bool   `yaml:"retain"`
	ConnectRetry    int    `yaml:"connect_retry"` // seconds between reconnect attempts
	Online          string `yaml:"online"`
	Offline         string `yaml:"offline"`
	LastWill        string `yaml:"lastwill"`
	Discovery       bool   `yaml:"discovery"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TLS             bool   `yaml:"tls"`
	TLSCA           string `yaml:"tls_ca"`
	TLSCheckPeer    bool   `yaml:"tls_check_peer"`
	RecoveryWindow  int    `yaml:"recovery_window"` // seconds to collect retained messages at startup
}

// S0PCMConfig holds meter-level publishing preferences.
type S0PCMConfig struct {
	// Include restricts publishing to the listed channel indexes.
	// Empty means all channels.
	Include []int `yaml:"include"`
}

// Included reports whether the given channel may be published.
func (c *S0PCMConfig) Included(id int) bool {
	if len(c.Include) == 0 {
		return true
	}
	for _, inc := range c.Include {
		if inc == id {
			return true
		}
	}
	return false
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Serial: SerialConfig{
			Port:         "/dev/ttyACM0",
			Baudrate:     9600,
			DataBits:     7,
			Parity:       "even",
			StopBits:     1,
			ReadTimeout:  120,
			ConnectRetry: 5,
		},
		MQTT: MQTTConfig{
			Host:            "127.0.0.1",
			Port:            1883,
			TLSPort:         8883,
			BaseTopic:       "s0pcmreader",
			Retain:          true,
			ConnectRetry:    5,
			Online:          "online",
			Offline:         "offline",
			LastWill:        "offline",
			Discovery:       true,
			DiscoveryPrefix: "homeassistant",
			RecoveryWindow:  3,
		},
	}
}
