// Package config provides configuration loading and validation for vol2mqtt.
//
// Configuration is captured once at process start into a Config value and passed
// explicitly to the source, publisher and relay. There is no runtime reconfiguration.
//
// # Layers
//
// Loader merges, in increasing precedence:
//
//  1. Default() values
//  2. YAML (or JSON) files added with AddLayer / LoadFile
//  3. VOL2MQTT_* environment variables
//
// Positional command-line arguments override source.input after loading (see cmd/vol2mqtt).
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/vol2mqtt/config.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// # File Format
//
//	source:
//	  input: ["http://radio.example/stream.mp3"]
//	broker:
//	  transport: mqtt
//	  host: mqtt.local
//	  port: 1883
//	  topic: home/livingroom/volume
//	throttle:
//	  interval: 1.0
//	log:
//	  level: debug
//
// # Environment Variables
//
//	VOL2MQTT_SOURCE_INPUT        URL, or comma-separated raw ffmpeg input arguments starting with "-"
//	VOL2MQTT_SOURCE_BINARY       ffmpeg executable
//	VOL2MQTT_BROKER_TRANSPORT    mqtt | nats
//	VOL2MQTT_BROKER_HOST         broker host
//	VOL2MQTT_BROKER_PORT         broker port (0 = 1883 for mqtt, 4222 for nats)
//	VOL2MQTT_BROKER_TOPIC        topic or subject
//	VOL2MQTT_BROKER_FORMAT       text | json | msgpack
//	VOL2MQTT_BROKER_TOKEN        nats token auth
//	VOL2MQTT_BROKER_TLS_ENABLED  ssl:// for mqtt, tls:// for nats
//	VOL2MQTT_BROKER_TLS_CA_FILES comma-separated extra CA bundles
//	VOL2MQTT_THROTTLE_INTERVAL   seconds, 0 publishes every reading
//	VOL2MQTT_METRICS_PORT        0 disables the metrics endpoint
package config
