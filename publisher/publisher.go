// Package publisher forwards readings to a message broker over MQTT or NATS.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ldotlopez/vol2mqtt/config"
	"github.com/ldotlopez/vol2mqtt/errors"
	"github.com/ldotlopez/vol2mqtt/metric"
	"github.com/ldotlopez/vol2mqtt/reading"
)

// Publisher sends readings to the configured topic over one long-lived connection
type Publisher interface {
	Publish(ctx context.Context, r reading.Reading) error
	Close(ctx context.Context) error
}

// LossNotifier is implemented by publishers that report a connection dropped by the
// broker. The channel receives at most one error.
type LossNotifier interface {
	Lost() <-chan error
}

// Option configures a publisher
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metric.Metrics
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records publishes and connection state in m. nil disables metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(transport string, opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "publisher", "transport", transport)
	return o
}

// New creates the publisher selected by cfg.Transport and connects it. An
// unreachable broker is a fatal error.
func New(ctx context.Context, cfg config.BrokerConfig, opts ...Option) (Publisher, error) {
	switch cfg.Transport {
	case config.TransportMQTT, "":
		p, err := NewMQTT(cfg, opts...)
		if err != nil {
			return nil, err
		}
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		return p, nil
	case config.TransportNATS:
		p, err := NewNATS(cfg, opts...)
		if err != nil {
			return nil, err
		}
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown transport %q", errors.ErrInvalidConfig, cfg.Transport),
			"publisher", "New", "select transport")
	}
}

// DefaultClientID returns a client id unique to this process, short enough for
// MQTT 3.1 brokers
func DefaultClientID() string {
	return "vol2mqtt-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
