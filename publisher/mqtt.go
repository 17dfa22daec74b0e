package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ldotlopez/vol2mqtt/config"
	"github.com/ldotlopez/vol2mqtt/errors"
	"github.com/ldotlopez/vol2mqtt/metric"
	"github.com/ldotlopez/vol2mqtt/pkg/tlsutil"
	"github.com/ldotlopez/vol2mqtt/reading"
)

// MQTT publishes readings with paho. Automatic reconnection is disabled: a lost
// connection is reported on Lost and every later Publish fails.
type MQTT struct {
	client         mqtt.Client
	broker         string
	clientID       string
	topic          string
	qos            byte
	retain         bool
	format         reading.Format
	connectTimeout time.Duration
	publishTimeout time.Duration

	logger  *slog.Logger
	metrics *metric.Metrics

	connected atomic.Bool
	lost      chan error
	lostOnce  sync.Once
	closeOnce sync.Once
}

// newMQTTClient is replaced in tests
var newMQTTClient = mqtt.NewClient

// NewMQTT creates an MQTT publisher for cfg without connecting
func NewMQTT(cfg config.BrokerConfig, opts ...Option) (*MQTT, error) {
	o := buildOptions(config.TransportMQTT, opts)

	format, err := reading.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, cfg.QoS),
			"MQTT", "NewMQTT", "validate qos")
	}
	if cfg.Topic == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty topic", errors.ErrInvalidConfig),
			"MQTT", "NewMQTT", "validate topic")
	}

	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS, cfg.Host)
	if err != nil {
		return nil, err
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}

	p := &MQTT{
		broker:         cfg.URL(),
		clientID:       clientID,
		topic:          cfg.Topic,
		qos:            byte(cfg.QoS),
		retain:         cfg.Retain,
		format:         format,
		connectTimeout: orDefault(cfg.ConnectTimeout, 5*time.Second),
		publishTimeout: orDefault(cfg.PublishTimeout, 2*time.Second),
		logger:         o.logger,
		metrics:        o.metrics,
		lost:           make(chan error, 1),
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(p.broker)
	clientOpts.SetClientID(clientID)
	clientOpts.SetCleanSession(true)
	clientOpts.SetOrderMatters(true)
	clientOpts.SetAutoReconnect(false)
	clientOpts.SetConnectRetry(false)
	clientOpts.SetConnectTimeout(p.connectTimeout)
	clientOpts.SetWriteTimeout(p.publishTimeout)
	if cfg.Username != "" {
		clientOpts.SetUsername(cfg.Username)
		clientOpts.SetPassword(cfg.Password)
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}
	clientOpts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = newMQTTClient(clientOpts)
	return p, nil
}

// Connect opens the broker connection
func (p *MQTT) Connect(ctx context.Context) error {
	p.logger.Info("Connecting to MQTT broker", "broker", p.broker, "client_id", p.clientID)

	token := p.client.Connect()
	if err := waitToken(ctx, token, p.connectTimeout); err != nil {
		p.metrics.RecordBrokerStatus(config.TransportMQTT, false)
		if errors.Is(err, errors.ErrPublishTimeout) {
			err = fmt.Errorf("%w: %s", errors.ErrConnectionTimeout, p.broker)
		}
		return errors.WrapFatal(fmt.Errorf("%w: %s: %v", errors.ErrNotConnected, p.broker, err),
			"MQTT", "Connect", "connect to broker")
	}

	p.connected.Store(true)
	p.metrics.RecordBrokerStatus(config.TransportMQTT, true)
	p.logger.Info("MQTT connection established", "broker", p.broker)
	return nil
}

// Publish encodes r and sends it to the configured topic, waiting for the broker
// acknowledgement the QoS level requires
func (p *MQTT) Publish(ctx context.Context, r reading.Reading) error {
	start := time.Now()
	err := p.publish(ctx, r)
	p.metrics.RecordPublish(config.TransportMQTT, p.topic, time.Since(start), err)
	return err
}

func (p *MQTT) publish(ctx context.Context, r reading.Reading) error {
	if !p.connected.Load() || !p.client.IsConnectionOpen() {
		return errors.WrapFatal(errors.ErrNotConnected, "MQTT", "Publish", "check connection")
	}

	payload, err := reading.Encode(r, p.format)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic, p.qos, p.retain, payload)
	if err := waitToken(ctx, token, p.publishTimeout); err != nil {
		return errors.WrapFatal(err, "MQTT", "Publish", "publish reading")
	}

	p.logger.Debug("Published reading", "topic", p.topic, "payload_size", len(payload), "value", r.Value)
	return nil
}

// Lost returns a channel that receives an error if the broker drops the connection
func (p *MQTT) Lost() <-chan error {
	return p.lost
}

// Close disconnects from the broker, allowing in-flight messages 250ms to complete
func (p *MQTT) Close(_ context.Context) error {
	p.closeOnce.Do(func() {
		wasConnected := p.connected.Swap(false)
		if wasConnected && p.client.IsConnected() {
			p.client.Disconnect(250)
			p.logger.Info("MQTT disconnected")
		}
		p.metrics.RecordBrokerStatus(config.TransportMQTT, false)
	})
	return nil
}

func (p *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.metrics.RecordBrokerStatus(config.TransportMQTT, false)
	p.logger.Error("MQTT connection lost", "broker", p.broker, "error", err)

	p.lostOnce.Do(func() {
		p.lost <- errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"MQTT", "onConnectionLost", "broker connection")
	})
}

// waitToken waits for token completion, bounded by timeout and ctx
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", errors.ErrPublishTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
