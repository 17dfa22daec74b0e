// Package vol2mqtt publishes the loudness of an audio stream to a message broker.
//
// vol2mqtt runs ffmpeg with the astats and ametadata filters on any input ffmpeg
// can open (a file, an RTSP camera, an ALSA device, an internet radio stream) and
// forwards every overall RMS level it reports, in dBFS, to an MQTT topic or a
// NATS subject.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         ffmpeg (source)             │  -af astats=metadata=1:reset=1,
//	│   log stream on stderr              │      ametadata=print:key=...RMS_level
//	└─────────────────────────────────────┘
//	           ↓ one line at a time
//	┌─────────────────────────────────────┐
//	│         astats.Parse                │  level lines, frame pts lines,
//	│                                     │  everything else discarded
//	└─────────────────────────────────────┘
//	           ↓ reading.Reading
//	┌─────────────────────────────────────┐
//	│  throttle (optional)                │  window mean, one publish
//	│                                     │  per interval
//	└─────────────────────────────────────┘
//	           ↓
//	┌─────────────────────────────────────┐
//	│         publisher                   │  MQTT (paho) or NATS,
//	│   one long-lived connection         │  text, json or msgpack
//	└─────────────────────────────────────┘
//
// The loop in package relay is single-threaded: it blocks reading the next line,
// parses it and publishes synchronously before reading again, so readings reach
// the broker in the order ffmpeg printed them.
//
// # Failure model
//
// vol2mqtt does not reconnect or restart anything itself. When ffmpeg exits, the
// broker is unreachable, a publish fails or the broker drops the connection the
// process exits with status 1 and the service manager is expected to start it
// again. SIGINT and SIGTERM stop it cleanly with status 0.
//
// # Packages
//
//   - source: builds the ffmpeg command line and runs it, exposing stderr as lines
//   - astats: recognises RMS level and timestamp lines
//   - reading: the published value and its payload encodings
//   - publisher: MQTT and NATS transports
//   - natsclient: NATS connection management used by the NATS transport
//   - throttle: sliding window mean and rate gate
//   - relay: the read-parse-publish loop
//   - config: configuration structure, YAML loading and environment overrides
//   - pkg/tlsutil: client TLS for the broker connection
//   - errors: error classification shared by every package
//   - metric, health: Prometheus metrics and the /health endpoint
//   - cmd/vol2mqtt: the binary
package vol2mqtt
