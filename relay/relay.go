// Package relay runs the read-parse-publish loop that forwards audio levels from the
// source process to the broker.
package relay

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ldotlopez/vol2mqtt/astats"
	"github.com/ldotlopez/vol2mqtt/errors"
	"github.com/ldotlopez/vol2mqtt/health"
	"github.com/ldotlopez/vol2mqtt/metric"
	"github.com/ldotlopez/vol2mqtt/publisher"
	"github.com/ldotlopez/vol2mqtt/reading"
	"github.com/ldotlopez/vol2mqtt/source"
	"github.com/ldotlopez/vol2mqtt/throttle"
)

// Health component names
const (
	HealthSource = "source"
	HealthBroker = "broker"
)

// starter is implemented by line sources that must be started with the run context,
// such as *source.Process
type starter interface {
	Start(ctx context.Context) error
}

// Option configures a Relay
type Option func(*Relay)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records line, reading and source metrics in m
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithHealth reports source and broker health to monitor
func WithHealth(monitor *health.Monitor) Option {
	return func(r *Relay) {
		r.health = monitor
	}
}

// WithThrottle publishes the mean of the last interval of stream time at most once per
// interval instead of every reading. Zero disables throttling.
func WithThrottle(interval time.Duration) Option {
	return func(r *Relay) {
		if interval <= 0 {
			r.gate, r.window = nil, nil
			return
		}
		r.gate = throttle.NewGate(interval)
		r.window = throttle.NewWindow(interval.Seconds())
	}
}

// Relay forwards every RMS level line read from a source to a publisher
type Relay struct {
	lines  source.Lines
	pub    publisher.Publisher
	logger *slog.Logger

	metrics *metric.Metrics
	health  *health.Monitor

	gate   *throttle.Gate
	window *throttle.Window

	pts float64
}

// New creates a Relay reading from lines and publishing through pub
func New(lines source.Lines, pub publisher.Publisher, opts ...Option) *Relay {
	r := &Relay{
		lines:  lines,
		pub:    pub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "relay")
	return r
}

// Run processes lines until the source ends, a publish fails, the broker drops the
// connection or ctx is cancelled. Cancellation is a clean stop and returns nil; every
// other outcome is a fatal error.
//
// Run blocks in Lines.Next. A source that implements Start(ctx) is started with ctx so
// that cancellation terminates it and unblocks the read.
func (r *Relay) Run(ctx context.Context) error {
	if s, ok := r.lines.(starter); ok {
		if err := s.Start(ctx); err != nil && !stderrors.Is(err, errors.ErrAlreadyStarted) {
			if ctx.Err() != nil {
				r.logger.Info("Relay stopped before the source started", "reason", ctx.Err())
				return nil
			}
			r.setHealth(HealthSource, err)
			return errors.WrapFatal(err, "Relay", "Run", "start source")
		}
	}
	r.metrics.RecordSourceStarted()
	r.setHealth(HealthSource, nil)
	r.setHealth(HealthBroker, nil)

	var lost <-chan error
	if n, ok := r.pub.(publisher.LossNotifier); ok {
		lost = n.Lost()
	}

	if r.gate != nil {
		r.logger.Info("Relay started", "throttle_interval", r.gate.Interval())
	} else {
		r.logger.Info("Relay started")
	}

	for {
		line, err := r.lines.Next()

		if ctx.Err() != nil {
			r.logger.Info("Relay stopped", "reason", ctx.Err())
			return nil
		}
		if err != nil {
			return r.sourceEnded(err)
		}

		select {
		case lostErr := <-lost:
			r.setHealth(HealthBroker, lostErr)
			return lostErr
		default:
		}

		if err := r.handleLine(ctx, line); err != nil {
			if ctx.Err() != nil {
				r.logger.Info("Relay stopped", "reason", ctx.Err())
				return nil
			}
			r.setHealth(HealthBroker, err)
			return err
		}
	}
}

// handleLine parses one line and publishes the reading it carries, if any. Only
// publish failures are returned.
func (r *Relay) handleLine(ctx context.Context, line string) error {
	r.metrics.RecordLine()

	ev, err := astats.Parse(line)
	switch {
	case stderrors.Is(err, astats.ErrNoMatch):
		r.logger.Debug("Discarded line", "line", line)
		return nil
	case err != nil:
		r.metrics.RecordParseFailure()
		r.logger.Warn("Skipping malformed level line", "line", line, "error", err)
		return nil
	}

	switch ev.Kind {
	case astats.KindPTS:
		r.pts = ev.Value
		r.metrics.RecordPTS(ev.Value)
		return nil
	case astats.KindLevel:
		r.metrics.RecordReading(ev.Value)
		return r.publishLevel(ctx, ev.Value)
	default:
		return nil
	}
}

func (r *Relay) publishLevel(ctx context.Context, value float64) error {
	if r.gate != nil {
		r.window.Push(r.pts, value)
		if !r.gate.Allow() {
			r.metrics.RecordThrottled()
			r.logger.Debug("Throttled reading", "value", value, "pts", r.pts)
			return nil
		}
		value, _ = r.window.Mean()
	}

	rd := reading.New(value, r.pts)
	if err := r.pub.Publish(ctx, rd); err != nil {
		return err
	}
	r.logger.Debug("Published level", "value", rd.Value, "pts", rd.PTS)
	return nil
}

// sourceEnded converts the end of the line stream into the fatal error Run returns
func (r *Relay) sourceEnded(err error) error {
	var exitErr *source.ExitError
	if stderrors.As(err, &exitErr) {
		r.metrics.RecordSourceExit(exitErr.Code)
		if exitErr.Code != 0 {
			r.logger.Warn("Source process failed", "code", exitErr.Code)
		}
	} else {
		r.metrics.RecordSourceExit(-1)
	}

	if !stderrors.Is(err, errors.ErrSourceExited) {
		err = fmt.Errorf("%w: %v", errors.ErrSourceExited, err)
	}
	r.setHealth(HealthSource, err)
	return errors.WrapFatal(err, "Relay", "Run", "read source")
}

func (r *Relay) setHealth(component string, err error) {
	r.metrics.RecordHealthStatus(component, err == nil)
	if r.health == nil {
		return
	}
	r.health.UpdateError(component, err)
}
