package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// Broker transports
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Well-known broker ports used when broker.port is left at 0
const (
	DefaultMQTTPort = 1883
	DefaultNATSPort = 4222
)

// Payload formats accepted by broker.format
var validFormats = []string{"text", "json", "msgpack"}

// Config is the complete process configuration. It is captured once at startup
// and passed explicitly to every component; nothing reads the environment later.
type Config struct {
	Source   SourceConfig   `yaml:"source"   json:"source"`
	Broker   BrokerConfig   `yaml:"broker"   json:"broker"`
	Throttle ThrottleConfig `yaml:"throttle" json:"throttle"`
	Log      LogConfig      `yaml:"log"      json:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"  json:"metrics"`
}

// SourceConfig describes the ffmpeg invocation
type SourceConfig struct {
	Binary      string        `yaml:"binary"       json:"binary"`
	GlobalArgs  []string      `yaml:"global_args"  json:"global_args"`
	Input       []string      `yaml:"input"        json:"input"` // single element = URL, otherwise raw ffmpeg input args
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// BrokerConfig describes the publish target
type BrokerConfig struct {
	Transport      string        `yaml:"transport"       json:"transport"`
	Host           string        `yaml:"host"            json:"host"`
	Port           int           `yaml:"port"            json:"port"` // 0 = transport default
	Topic          string        `yaml:"topic"           json:"topic"`
	ClientID       string        `yaml:"client_id"       json:"client_id,omitempty"`
	Username       string        `yaml:"username"        json:"username,omitempty"`
	Password       string        `yaml:"password"        json:"password,omitempty"`
	Token          string        `yaml:"token,omitempty" json:"token,omitempty"` // NATS only
	QoS            int           `yaml:"qos"             json:"qos"`
	Retain         bool          `yaml:"retain"          json:"retain"`
	Format         string        `yaml:"format"          json:"format"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout" json:"publish_timeout"`
	TLS            TLSConfig     `yaml:"tls"             json:"tls"`
}

// TLSConfig secures the broker connection. CAFiles are trusted in addition to the
// system pool; CertFile and KeyFile present a client certificate.
type TLSConfig struct {
	Enabled            bool     `yaml:"enabled"              json:"enabled"`
	CAFiles            []string `yaml:"ca_files,omitempty"   json:"ca_files,omitempty"`
	CertFile           string   `yaml:"cert_file"            json:"cert_file,omitempty"`
	KeyFile            string   `yaml:"key_file"             json:"key_file,omitempty"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	MinVersion         string   `yaml:"min_version"          json:"min_version,omitempty"` // "1.2" (default) or "1.3"
}

// ThrottleConfig enables rate-limited, window-averaged publishing.
// Interval is in seconds; 0 publishes every reading.
type ThrottleConfig struct {
	Interval float64 `yaml:"interval" json:"interval"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"  json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig controls the Prometheus/health HTTP endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `yaml:"port" json:"port"`
	Path string `yaml:"path" json:"path"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Binary:      "ffmpeg",
			GlobalArgs:  []string{"-hide_banner", "-nostats"},
			Input:       []string{"-f", "lavfi", "-i", "anoisesrc=a=0.1:c=white"},
			StopTimeout: 5 * time.Second,
		},
		Broker: BrokerConfig{
			Transport:      TransportMQTT,
			Host:           "mqtt.local",
			Topic:          "tests/vol2mqtt",
			Format:         "text",
			ConnectTimeout: 5 * time.Second,
			PublishTimeout: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// EffectivePort returns the configured port or the well-known port of the transport
func (b BrokerConfig) EffectivePort() int {
	if b.Port != 0 {
		return b.Port
	}
	if b.Transport == TransportNATS {
		return DefaultNATSPort
	}
	return DefaultMQTTPort
}

// Address returns host:port of the broker
func (b BrokerConfig) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.EffectivePort()))
}

// URL returns the broker URL in the scheme expected by the transport client
func (b BrokerConfig) URL() string {
	switch {
	case b.Transport == TransportNATS && b.TLS.Enabled:
		return "tls://" + b.Address()
	case b.Transport == TransportNATS:
		return "nats://" + b.Address()
	case b.TLS.Enabled:
		return "ssl://" + b.Address()
	default:
		return "tcp://" + b.Address()
	}
}

// Validate checks the configuration and returns an invalid-config error describing
// the first problem found
func (c *Config) Validate() error {
	if err := c.Source.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if c.Throttle.Interval < 0 {
		return invalid("throttle.interval cannot be negative")
	}
	if err := c.Log.validate(); err != nil {
		return err
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid(fmt.Sprintf("metrics.port out of range: %d", c.Metrics.Port))
	}
	if c.Metrics.Port > 0 && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path must start with /")
	}
	return nil
}

func (s SourceConfig) validate() error {
	if strings.TrimSpace(s.Binary) == "" {
		return invalid("source.binary is required")
	}
	if len(s.Input) == 0 {
		return invalid("source.input is required")
	}
	for i, arg := range s.Input {
		if arg == "" {
			return invalid(fmt.Sprintf("source.input[%d] is empty", i))
		}
	}
	if s.StopTimeout < 0 {
		return invalid("source.stop_timeout cannot be negative")
	}
	return nil
}

func (b BrokerConfig) validate() error {
	switch b.Transport {
	case TransportMQTT, TransportNATS:
	default:
		return invalid(fmt.Sprintf("broker.transport must be %q or %q, got %q", TransportMQTT, TransportNATS, b.Transport))
	}

	if b.Host == "" {
		return invalid("broker.host is required")
	}
	if b.Port < 0 || b.Port > 65535 {
		return invalid(fmt.Sprintf("broker.port out of range: %d", b.Port))
	}

	if b.Topic == "" {
		return invalid("broker.topic is required")
	}
	wildcards := "+#"
	if b.Transport == TransportNATS {
		wildcards = "*> \t"
	}
	if strings.ContainsAny(b.Topic, wildcards) {
		return invalid(fmt.Sprintf("broker.topic %q is not a valid %s publish topic", b.Topic, b.Transport))
	}

	if b.Token != "" && b.Transport != TransportNATS {
		return invalid("broker.token is only supported by the nats transport")
	}
	if b.Token != "" && b.Username != "" {
		return invalid("broker.token and broker.username cannot be combined")
	}

	if b.QoS < 0 || b.QoS > 2 {
		return invalid(fmt.Sprintf("broker.qos must be 0, 1 or 2, got %d", b.QoS))
	}
	if !contains(validFormats, strings.ToLower(strings.TrimSpace(b.Format))) {
		return invalid(fmt.Sprintf("broker.format must be one of %s, got %q", strings.Join(validFormats, ", "), b.Format))
	}
	if b.ConnectTimeout <= 0 {
		return invalid("broker.connect_timeout must be positive")
	}
	if b.PublishTimeout <= 0 {
		return invalid("broker.publish_timeout must be positive")
	}
	return b.TLS.validate()
}

func (t TLSConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		return invalid("broker.tls.cert_file and broker.tls.key_file must be set together")
	}
	switch t.MinVersion {
	case "", "1.2", "1.3":
	default:
		return invalid(fmt.Sprintf("broker.tls.min_version must be \"1.2\" or \"1.3\", got %q", t.MinVersion))
	}
	return nil
}

func (l LogConfig) validate() error {
	if !contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(l.Level)) {
		return invalid(fmt.Sprintf("invalid log level: %s", l.Level))
	}
	if !contains([]string{"json", "text"}, strings.ToLower(l.Format)) {
		return invalid(fmt.Sprintf("invalid log format: %s", l.Format))
	}
	return nil
}

// String returns the configuration as YAML, in the same shape the loader reads,
// with secrets redacted
func (c *Config) String() string {
	redacted := *c
	if redacted.Broker.Password != "" {
		redacted.Broker.Password = "[REDACTED]"
	}
	if redacted.Broker.Token != "" {
		redacted.Broker.Token = "[REDACTED]"
	}
	data, err := yaml.Marshal(redacted)
	if err != nil {
		return fmt.Sprintf("<unprintable config: %v>", err)
	}
	return string(data)
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "validation")
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
