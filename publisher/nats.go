package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ldotlopez/vol2mqtt/config"
	"github.com/ldotlopez/vol2mqtt/errors"
	"github.com/ldotlopez/vol2mqtt/metric"
	"github.com/ldotlopez/vol2mqtt/natsclient"
	"github.com/ldotlopez/vol2mqtt/pkg/tlsutil"
	"github.com/ldotlopez/vol2mqtt/reading"
)

// NATS publishes readings as core NATS messages. The topic is used as the subject.
type NATS struct {
	client         *natsclient.Client
	subject        string
	format         reading.Format
	connectTimeout time.Duration

	logger  *slog.Logger
	metrics *metric.Metrics

	lost     chan error
	lostOnce sync.Once
}

// NewNATS creates a NATS publisher for cfg without connecting
func NewNATS(cfg config.BrokerConfig, opts ...Option) (*NATS, error) {
	o := buildOptions(config.TransportNATS, opts)

	format, err := reading.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty subject", errors.ErrInvalidConfig),
			"NATS", "NewNATS", "validate subject")
	}

	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS, cfg.Host)
	if err != nil {
		return nil, err
	}

	name := cfg.ClientID
	if name == "" {
		name = DefaultClientID()
	}

	p := &NATS{
		subject:        cfg.Topic,
		format:         format,
		connectTimeout: orDefault(cfg.ConnectTimeout, 5*time.Second),
		logger:         o.logger,
		metrics:        o.metrics,
		lost:           make(chan error, 1),
	}

	clientOpts := []natsclient.ClientOption{
		natsclient.WithName(name),
		natsclient.WithTimeout(p.connectTimeout),
		natsclient.WithFlushTimeout(orDefault(cfg.PublishTimeout, 2*time.Second)),
		natsclient.WithDrainTimeout(orDefault(cfg.PublishTimeout, 2*time.Second)),
		natsclient.WithLogger(natsclient.NewSlogLogger(o.logger)),
		natsclient.WithConnectionLostCallback(p.onConnectionLost),
		natsclient.WithTLSConfig(tlsConfig),
	}
	if cfg.Username != "" {
		clientOpts = append(clientOpts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		clientOpts = append(clientOpts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(cfg.URL(), clientOpts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "NATS", "NewNATS", "create client")
	}
	p.client = client
	return p, nil
}

// Connect opens the connection to the server
func (p *NATS) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	if err := p.client.Connect(ctx); err != nil {
		p.metrics.RecordBrokerStatus(config.TransportNATS, false)
		return errors.WrapFatal(err, "NATS", "Connect", "connect to server")
	}
	p.metrics.RecordBrokerStatus(config.TransportNATS, true)
	return nil
}

// Publish encodes r and sends it on the configured subject
func (p *NATS) Publish(ctx context.Context, r reading.Reading) error {
	start := time.Now()
	err := p.publish(ctx, r)
	p.metrics.RecordPublish(config.TransportNATS, p.subject, time.Since(start), err)
	return err
}

func (p *NATS) publish(ctx context.Context, r reading.Reading) error {
	payload, err := reading.Encode(r, p.format)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.subject, payload); err != nil {
		return errors.WrapFatal(err, "NATS", "Publish", "publish reading")
	}
	p.logger.Debug("Published reading", "subject", p.subject, "payload_size", len(payload), "value", r.Value)
	return nil
}

// Lost returns a channel that receives an error if the server closes the connection
func (p *NATS) Lost() <-chan error {
	return p.lost
}

// Close drains and closes the connection
func (p *NATS) Close(ctx context.Context) error {
	err := p.client.Close(ctx)
	p.metrics.RecordBrokerStatus(config.TransportNATS, false)
	return err
}

func (p *NATS) onConnectionLost(err error) {
	p.metrics.RecordBrokerStatus(config.TransportNATS, false)
	p.logger.Error("NATS connection lost", "error", err)

	p.lostOnce.Do(func() {
		p.lost <- errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"NATS", "onConnectionLost", "server connection")
	})
}
