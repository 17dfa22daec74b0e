package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// DefaultEnvPrefix is the prefix of every environment override
const DefaultEnvPrefix = "VOL2MQTT"

// Loader handles configuration loading with layers and overrides.
// Precedence: defaults < file layers (in order) < environment.
type Loader struct {
	layers    []string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers, applies environment overrides
// and validates the result
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.loadYAML(path, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadYAML decodes a YAML (or JSON) file on top of cfg. Keys absent from the
// file keep their current value.
func (l *Loader) loadYAML(path string, cfg *Config) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// applyEnvOverrides applies PREFIX_SECTION_KEY environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strVars := map[string]*string{
		"SOURCE_BINARY":    &cfg.Source.Binary,
		"BROKER_TRANSPORT": &cfg.Broker.Transport,
		"BROKER_HOST":      &cfg.Broker.Host,
		"BROKER_TOPIC":     &cfg.Broker.Topic,
		"BROKER_CLIENT_ID": &cfg.Broker.ClientID,
		"BROKER_USERNAME":  &cfg.Broker.Username,
		"BROKER_PASSWORD":  &cfg.Broker.Password,
		"BROKER_TOKEN":     &cfg.Broker.Token,
		"BROKER_FORMAT":    &cfg.Broker.Format,
		"LOG_LEVEL":        &cfg.Log.Level,
		"LOG_FORMAT":       &cfg.Log.Format,
		"METRICS_PATH":     &cfg.Metrics.Path,

		"BROKER_TLS_CERT_FILE":   &cfg.Broker.TLS.CertFile,
		"BROKER_TLS_KEY_FILE":    &cfg.Broker.TLS.KeyFile,
		"BROKER_TLS_MIN_VERSION": &cfg.Broker.TLS.MinVersion,
	}
	for key, dst := range strVars {
		if val, ok := l.env(key); ok {
			if err := validateEnvVar(key, val); err != nil {
				return envError(key, err)
			}
			*dst = val
		}
	}

	intVars := map[string]*int{
		"BROKER_PORT":  &cfg.Broker.Port,
		"BROKER_QOS":   &cfg.Broker.QoS,
		"METRICS_PORT": &cfg.Metrics.Port,
	}
	for key, dst := range intVars {
		if val, ok := l.env(key); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				return envError(key, err)
			}
			*dst = n
		}
	}

	durVars := map[string]*time.Duration{
		"SOURCE_STOP_TIMEOUT":    &cfg.Source.StopTimeout,
		"BROKER_CONNECT_TIMEOUT": &cfg.Broker.ConnectTimeout,
		"BROKER_PUBLISH_TIMEOUT": &cfg.Broker.PublishTimeout,
	}
	for key, dst := range durVars {
		if val, ok := l.env(key); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				return envError(key, err)
			}
			*dst = d
		}
	}

	boolVars := map[string]*bool{
		"BROKER_RETAIN":                   &cfg.Broker.Retain,
		"BROKER_TLS_ENABLED":              &cfg.Broker.TLS.Enabled,
		"BROKER_TLS_INSECURE_SKIP_VERIFY": &cfg.Broker.TLS.InsecureSkipVerify,
	}
	for key, dst := range boolVars {
		if val, ok := l.env(key); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return envError(key, err)
			}
			*dst = b
		}
	}

	if val, ok := l.env("THROTTLE_INTERVAL"); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return envError("THROTTLE_INTERVAL", err)
		}
		cfg.Throttle.Interval = f
	}

	if val, ok := l.env("SOURCE_INPUT"); ok {
		if err := validateEnvVar("SOURCE_INPUT", val); err != nil {
			return envError("SOURCE_INPUT", err)
		}
		cfg.Source.Input = splitInput(val)
	}
	if val, ok := l.env("SOURCE_GLOBAL_ARGS"); ok {
		cfg.Source.GlobalArgs = splitList(val)
	}
	if val, ok := l.env("BROKER_TLS_CA_FILES"); ok {
		cfg.Broker.TLS.CAFiles = splitList(val)
	}

	return nil
}

func (l *Loader) env(key string) (string, bool) {
	val, ok := l.lookupEnv(l.envPrefix + "_" + key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func envError(key string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, DefaultEnvPrefix, key, err),
		"Loader", "applyEnvOverrides", "parse environment")
}

// splitInput reads a URL or path as a single element. Only a value starting with
// "-" is a comma-separated list of raw ffmpeg input arguments, so URLs keep their commas.
func splitInput(val string) []string {
	val = strings.TrimSpace(val)
	if !strings.HasPrefix(val, "-") {
		return []string{val}
	}
	return splitList(val)
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
