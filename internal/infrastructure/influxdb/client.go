package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/brokerpilot/core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize         = 100
	defaultFlushIntervalSecs = 10
	millisecondsPerFlushTick = 1000
)

// Client is the time-series export sink for broker measurements. The
// Monitor hands it one sample per successful metric update; writes are
// batched and flushed asynchronously by the underlying influxdb-client-go
// write API, so a slow or absent InfluxDB never stalls a measurement tick.
//
// All methods are safe for concurrent use.
type Client struct {
	inner    influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect builds a client from the influxdb configuration section and
// verifies the server answers a ping. Returns ErrDisabled when the section
// is disabled, so callers can treat "no InfluxDB" as a normal condition.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushIntervalSecs
	}

	inner := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)). //nolint:gosec // clamped positive above
			SetFlushInterval(uint(flush)*millisecondsPerFlushTick)) //nolint:gosec // clamped positive above

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pingServer(ctx, inner); err != nil {
		inner.Close()
		return nil, err
	}

	c := &Client{
		inner:     inner,
		writeAPI:  inner.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}

	// The non-blocking write API reports failures on a channel; drain it
	// into the user's callback for the client's lifetime.
	go c.drainWriteErrors(c.writeAPI.Errors())

	return c, nil
}

func pingServer(ctx context.Context, inner influxdb2.Client) error {
	healthy, err := inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}
	return nil
}

func (c *Client) drainWriteErrors(errCh <-chan error) {
	for err := range errCh {
		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
}

// SetOnError registers a callback for asynchronous write failures.
func (c *Client) SetOnError(cb func(err error)) {
	c.mu.Lock()
	c.onError = cb
	c.mu.Unlock()
}

// IsConnected reports the last known connection state. HealthCheck
// performs an active ping when freshness matters.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck pings the server with a bounded deadline.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pingServer(checkCtx, c.inner); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush blocks until all buffered points have been handed to the server.
// No-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending points and shuts the client down.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.inner.Close()
	return nil
}
