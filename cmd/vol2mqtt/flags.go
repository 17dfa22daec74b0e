package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ldotlopez/vol2mqtt/config"
)

// CLIConfig holds command-line configuration. Empty or negative values mean the
// flag was not given and the configuration file or environment decides.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool

	// Input replaces source.input when non-empty
	Input []string
}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("VOL2MQTT_CONFIG", ""),
		"Path to YAML or JSON configuration file (env: VOL2MQTT_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("VOL2MQTT_CONFIG", ""),
		"Path to YAML or JSON configuration file (env: VOL2MQTT_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: VOL2MQTT_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: VOL2MQTT_LOG_FORMAT)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port", -1,
		"Metrics and health port, 0 to disable (env: VOL2MQTT_METRICS_PORT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("VOL2MQTT_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: VOL2MQTT_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Input = fs.Args()

	if cfg.ShowHelp {
		fs.Usage()
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

// applyOverrides copies the flags that were given onto cfg
func (c *CLIConfig) applyOverrides(cfg *config.Config) {
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}
	if c.MetricsPort >= 0 {
		cfg.Metrics.Port = c.MetricsPort
	}
	if len(c.Input) > 0 {
		cfg.Source.Input = append([]string(nil), c.Input...)
	}
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - publish ffmpeg audio levels to MQTT or NATS

Usage: %s [options] [input...]

A single input is passed to ffmpeg as -i <input>; several are passed verbatim as
ffmpeg input arguments.

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Publish the levels of an RTSP camera
  %s rtsp://camera.local/stream

  # Capture from ALSA with a config file
  %s --config=/etc/vol2mqtt.yaml -- -f alsa -i default

  # Run with environment variables
  export VOL2MQTT_BROKER_HOST=broker.local
  export VOL2MQTT_BROKER_TOPIC=home/livingroom/volume
  %s

  # Validate configuration only
  %s --config=/etc/vol2mqtt.yaml --validate

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
