// Package metric provides Prometheus metrics for the relay and the HTTP server that
// exposes them.
//
// NewMetricsRegistry creates a private Prometheus registry holding the relay metrics
// (Metrics) plus the Go runtime and process collectors. Additional metrics can be
// registered through the MetricsRegistrar interface.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, monitor.Handler("vol2mqtt"), logger)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(ctx)
//
//	m := registry.CoreMetrics()
//	m.RecordReading(-23.4)
//	m.RecordPublish("mqtt", "home/volume", time.Millisecond, nil)
//
// A nil *Metrics is valid: every Record method is a no-op on it, so components built
// without a registry run without metrics.
//
// # Exposed Metrics
//
//	vol2mqtt_source_lines_total
//	vol2mqtt_source_up
//	vol2mqtt_source_exit_code
//	vol2mqtt_source_parse_failures_total
//	vol2mqtt_readings_parsed_total
//	vol2mqtt_readings_throttled_total
//	vol2mqtt_readings_level_dbfs
//	vol2mqtt_readings_pts_seconds
//	vol2mqtt_broker_published_total{transport,topic}
//	vol2mqtt_broker_publish_errors_total{transport}
//	vol2mqtt_broker_publish_duration_seconds{transport}
//	vol2mqtt_broker_connected{transport}
//	vol2mqtt_health_status{component}
package metric
