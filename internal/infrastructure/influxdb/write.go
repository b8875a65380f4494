package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteBrokerMetric records one broker measurement round: latency,
// bandwidth, connection count and the resulting registry score, tagged by
// broker URI and session category. Satisfies monitor.MetricsWriter.
//
// The write is non-blocking; influxdb-client-go batches and flushes
// asynchronously in the background.
func (c *Client) WriteBrokerMetric(uri, category string, latencyMS, bandwidthBPS, connectionCount, score float64) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := write.NewPoint(
		"broker_metrics",
		map[string]string{
			"broker_uri": uri,
			"category":   category,
		},
		map[string]interface{}{
			"latency_ms":       latencyMS,
			"bandwidth_bps":    bandwidthBPS,
			"connection_count": connectionCount,
			"score":            score,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
	return nil
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for ad hoc measurements that don't fit WriteBrokerMetric.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g. delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
