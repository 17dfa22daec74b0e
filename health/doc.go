// Package health provides thread-safe health tracking for the components of a running
// relay.
//
// Two components report into a Monitor: "source" (the ffmpeg process) and "broker"
// (the MQTT or NATS connection). The metrics server exposes the aggregate as JSON on
// /health so orchestrators can check the process.
//
// # Health States
//
//   - Healthy: component operating normally
//   - Degraded: operating, but not delivering (for example waiting for the first reading)
//   - Unhealthy: the component has failed; the process is about to exit
//
// # Basic Usage
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("broker", "connected")
//	monitor.UpdateError("source", err)
//
//	status := monitor.AggregateHealth("vol2mqtt")
//	if status.IsUnhealthy() {
//	    ...
//	}
//
//	mux.Handle("/health", monitor.Handler("vol2mqtt"))
//
// Error messages passed through FromError or UpdateError are sanitized: URLs, paths,
// IP addresses, ports and credentials are replaced with placeholders.
package health
