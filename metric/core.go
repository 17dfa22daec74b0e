package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every vol2mqtt metric
const Namespace = "vol2mqtt"

// Metrics contains the relay metrics. All Record methods are safe on a nil
// receiver, which is how metrics are switched off.
type Metrics struct {
	// Source
	LinesRead     prometheus.Counter
	SourceUp      prometheus.Gauge
	SourceExit    prometheus.Gauge
	ParseFailures prometheus.Counter

	// Readings
	ReadingsParsed    prometheus.Counter
	ReadingsThrottled prometheus.Counter
	LastLevel         prometheus.Gauge
	LastPTS           prometheus.Gauge

	// Broker
	ReadingsPublished *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec
	BrokerConnected   *prometheus.GaugeVec

	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "lines_total",
			Help:      "Total number of log lines read from the source process",
		}),

		SourceUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "up",
			Help:      "Source process status (0=not running, 1=running)",
		}),

		SourceExit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "exit_code",
			Help:      "Exit code of the source process, -1 while running or when killed by a signal",
		}),

		ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "parse_failures_total",
			Help:      "Total number of level lines with a malformed value",
		}),

		ReadingsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "readings",
			Name:      "parsed_total",
			Help:      "Total number of RMS level readings parsed",
		}),

		ReadingsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "readings",
			Name:      "throttled_total",
			Help:      "Total number of readings folded into the window instead of being published",
		}),

		LastLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "readings",
			Name:      "level_dbfs",
			Help:      "Last RMS level read, in dBFS",
		}),

		LastPTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "readings",
			Name:      "pts_seconds",
			Help:      "Last presentation timestamp seen on the stream",
		}),

		ReadingsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "published_total",
			Help:      "Total number of readings published",
		}, []string{"transport", "topic"}),

		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "publish_errors_total",
			Help:      "Total number of failed publishes",
		}, []string{"transport"}),

		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing one reading",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"transport"}),

		BrokerConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "Broker connection status (0=disconnected, 1=connected)",
		}, []string{"transport"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.LinesRead,
		c.SourceUp,
		c.SourceExit,
		c.ParseFailures,
		c.ReadingsParsed,
		c.ReadingsThrottled,
		c.LastLevel,
		c.LastPTS,
		c.ReadingsPublished,
		c.PublishErrors,
		c.PublishDuration,
		c.BrokerConnected,
		c.HealthCheckStatus,
	}
}

// RecordLine counts one line read from the source
func (c *Metrics) RecordLine() {
	if c == nil {
		return
	}
	c.LinesRead.Inc()
}

// RecordSourceStarted marks the source process as running
func (c *Metrics) RecordSourceStarted() {
	if c == nil {
		return
	}
	c.SourceUp.Set(1)
	c.SourceExit.Set(-1)
}

// RecordSourceExit marks the source process as gone with the given exit code
func (c *Metrics) RecordSourceExit(code int) {
	if c == nil {
		return
	}
	c.SourceUp.Set(0)
	c.SourceExit.Set(float64(code))
}

// RecordParseFailure counts a malformed level line
func (c *Metrics) RecordParseFailure() {
	if c == nil {
		return
	}
	c.ParseFailures.Inc()
}

// RecordReading counts a parsed reading and remembers its level
func (c *Metrics) RecordReading(level float64) {
	if c == nil {
		return
	}
	c.ReadingsParsed.Inc()
	c.LastLevel.Set(level)
}

// RecordPTS remembers the stream position
func (c *Metrics) RecordPTS(pts float64) {
	if c == nil {
		return
	}
	c.LastPTS.Set(pts)
}

// RecordThrottled counts a reading that was not published because of the throttle
func (c *Metrics) RecordThrottled() {
	if c == nil {
		return
	}
	c.ReadingsThrottled.Inc()
}

// RecordPublish records the outcome and duration of one publish
func (c *Metrics) RecordPublish(transport, topic string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.PublishDuration.WithLabelValues(transport).Observe(duration.Seconds())
	if err != nil {
		c.PublishErrors.WithLabelValues(transport).Inc()
		return
	}
	c.ReadingsPublished.WithLabelValues(transport, topic).Inc()
}

// RecordBrokerStatus updates the broker connection gauge
func (c *Metrics) RecordBrokerStatus(transport string, connected bool) {
	if c == nil {
		return
	}
	c.BrokerConnected.WithLabelValues(transport).Set(boolToFloat(connected))
}

// RecordHealthStatus updates the health gauge of a component
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(boolToFloat(healthy))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
