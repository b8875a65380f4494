// Package influxdb provides InfluxDB connectivity for brokerpilot.
//
// It wraps the official influxdb-client-go v2 library with brokerpilot-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series export of broker monitoring data: the
// latency, bandwidth, connection-count, and score readings the Monitor
// collects for each candidate broker, tagged by broker URI and session
// category.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "brokerpilot",
//	    Bucket: "metrics",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteBrokerMetric("mqtt://a:1883", "sensor", 12.5, 1024, 3, 0.8)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency monitoring data.
package influxdb
