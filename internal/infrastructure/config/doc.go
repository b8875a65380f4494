// Package config loads and validates brokerpilot's configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// BROKERPILOT_* environment variables, with a Validate pass at the end.
// Sections cover the seed broker pool and category, the Monitor cadences,
// the Offline Queue bound, MQTT client options, the admin API, and the
// optional InfluxDB and audit sinks.
//
// Sensitive values (the JWT secret, MQTT and InfluxDB credentials) should
// come from environment variables rather than the file:
//
//	BROKERPILOT_JWT_SECRET, BROKERPILOT_MQTT_PASSWORD, BROKERPILOT_INFLUXDB_TOKEN
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
