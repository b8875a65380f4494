package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brokerpilot/core/internal/mqttclient"
	"github.com/brokerpilot/core/internal/registry"
)

// Default cadences and limits: a 20s tick housing three independently
// gated measurement classes at 5s/10s/15s.
const (
	DefaultTickInterval        = 20 * time.Second
	DefaultLatencyInterval     = 5 * time.Second
	DefaultBandwidthInterval   = 10 * time.Second
	DefaultConnectionInterval  = 15 * time.Second
	DefaultConnectTimeout      = 5 * time.Second
	DefaultMeasureTimeout      = 10 * time.Second
	DefaultMaxConcurrentProbes = 4

	defaultClientIDPrefix = "brokerpilot-monitor"
)

const (
	latencyTopic         = "test/latency"
	bandwidthTopic       = "test/bandwidth"
	connectionCountTopic = "$SYS/brokers/+/stats/connections/count"

	bandwidthMessageCount = 10
	bandwidthMessageSize  = 1024
)

var errProbeTimeout = errors.New("monitor: probe timed out")

// Logger is the narrow logging surface the Monitor needs; *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MetricsWriter is implemented by an optional time-series export sink.
// A write failure is logged and never affects Registry state or Monitor
// control flow.
type MetricsWriter interface {
	WriteBrokerMetric(uri, category string, latencyMS, bandwidthBPS, connectionCount, score float64) error
}

// Config configures a Monitor. Zero-valued fields are replaced by their
// documented defaults in New.
type Config struct {
	// Category is passed through to MetricsWriter as a tag; it is not used
	// for scoring (the Registry already carries its own weight profile).
	Category string

	TickInterval       time.Duration
	LatencyInterval    time.Duration
	BandwidthInterval  time.Duration
	ConnectionInterval time.Duration

	ConnectTimeout time.Duration
	MeasureTimeout time.Duration

	// MaxConcurrentProbes bounds the number of brokers probed in parallel
	// within one measurement class.
	MaxConcurrentProbes int

	// ClientIDPrefix and PersistenceDir are forwarded to every ephemeral
	// probe client; PersistenceDir may be empty (in-memory persistence).
	ClientIDPrefix string
	PersistenceDir string
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.LatencyInterval <= 0 {
		c.LatencyInterval = DefaultLatencyInterval
	}
	if c.BandwidthInterval <= 0 {
		c.BandwidthInterval = DefaultBandwidthInterval
	}
	if c.ConnectionInterval <= 0 {
		c.ConnectionInterval = DefaultConnectionInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MeasureTimeout <= 0 {
		c.MeasureTimeout = DefaultMeasureTimeout
	}
	if c.MaxConcurrentProbes <= 0 {
		c.MaxConcurrentProbes = DefaultMaxConcurrentProbes
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = defaultClientIDPrefix
	}
	return c
}

// Monitor is the background measurement worker. The zero value is not
// usable; construct with New.
type Monitor struct {
	cfg      Config
	registry *registry.Registry
	factory  mqttclient.Factory

	logger   Logger
	loggerMu sync.RWMutex

	metrics MetricsWriter

	callbackMu       sync.RWMutex
	onMetricsUpdated func(uri string, latencyMS, bandwidthBPS, connectionCount float64)
	onBrokerSwitch   func(bestURI string)

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	lastRunMu      sync.Mutex
	lastLatency    map[string]time.Time
	lastBandwidth  map[string]time.Time
	lastConnection map[string]time.Time
}

// New creates a Monitor over reg, using factory to construct ephemeral
// probe clients. It is not started until Start is called.
func New(reg *registry.Registry, factory mqttclient.Factory, cfg Config) *Monitor {
	return &Monitor{
		cfg:            cfg.withDefaults(),
		registry:       reg,
		factory:        factory,
		done:           make(chan struct{}),
		lastLatency:    make(map[string]time.Time),
		lastBandwidth:  make(map[string]time.Time),
		lastConnection: make(map[string]time.Time),
	}
}

// SetLogger sets the logger used for probe failures and export errors.
func (m *Monitor) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// SetMetricsWriter sets the optional time-series export sink. Must be
// called before Start; there is no synchronization with a running tick.
func (m *Monitor) SetMetricsWriter(w MetricsWriter) {
	m.metrics = w
}

// OnMetricsUpdated registers the informational callback fired after every
// successful metric update.
func (m *Monitor) OnMetricsUpdated(fn func(uri string, latencyMS, bandwidthBPS, connectionCount float64)) {
	m.callbackMu.Lock()
	m.onMetricsUpdated = fn
	m.callbackMu.Unlock()
}

// OnBrokerSwitch registers the callback fired when a metric update causes
// the Registry to report ShouldSwitch().
func (m *Monitor) OnBrokerSwitch(fn func(bestURI string)) {
	m.callbackMu.Lock()
	m.onBrokerSwitch = fn
	m.callbackMu.Unlock()
}

// Start launches the tick loop in a background goroutine. ctx cancellation
// stops the loop the same way Stop does.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop requests shutdown and blocks until the worker has joined. Measurements
// already in flight run to completion or time-out; none are abandoned.
// Safe to call multiple times and safe to call even if Start was never
// called.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.tick(ctx)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs the three measurement classes in sequence, checking the stop
// flag between classes so shutdown latency stays bounded by the longest
// single in-flight measurement rather than the whole tick.
func (m *Monitor) tick(ctx context.Context) {
	uris := m.registry.URIs()
	if len(uris) == 0 {
		return
	}

	if m.stopping() {
		return
	}
	m.runClass(ctx, m.due(m.lastLatency, m.cfg.LatencyInterval, uris), m.measureLatency)

	if m.stopping() {
		return
	}
	m.runClass(ctx, m.due(m.lastBandwidth, m.cfg.BandwidthInterval, uris), m.measureBandwidth)

	if m.stopping() {
		return
	}
	m.runClass(ctx, m.due(m.lastConnection, m.cfg.ConnectionInterval, uris), m.measureConnectionCount)
}

// due returns the subset of uris whose class hasn't run within interval,
// stamping them as run-now so a single tick never re-selects a broker for
// the same class twice.
func (m *Monitor) due(last map[string]time.Time, interval time.Duration, uris []string) []string {
	m.lastRunMu.Lock()
	defer m.lastRunMu.Unlock()

	now := time.Now()
	var out []string
	for _, u := range uris {
		if t, ok := last[u]; !ok || now.Sub(t) >= interval {
			last[u] = now
			out = append(out, u)
		}
	}
	return out
}

// runClass fans out probe across uris bounded by MaxConcurrentProbes,
// joining every launched probe before returning — no in-flight measurement
// is ever abandoned, only gated from starting.
func (m *Monitor) runClass(ctx context.Context, uris []string, probe func(context.Context, string) error) {
	if len(uris) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrentProbes)

	for _, uri := range uris {
		uri := uri
		g.Go(func() error {
			if m.stopping() {
				return nil
			}
			if err := probe(gctx, uri); err != nil {
				m.logError("broker probe failed", err, "uri", uri)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) stopping() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// measureLatency performs a self-loop publish/subscribe RTT on the
// configured latency topic.
func (m *Monitor) measureLatency(ctx context.Context, uri string) error {
	client, err := m.newEphemeralClient(uri, "latency")
	if err != nil {
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("creating latency probe client for %s: %w", uri, err)
	}
	defer client.Disconnect(time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("connecting to %s for latency probe: %w", uri, err)
	}

	arrived := make(chan time.Time, 1)
	subToken := client.Subscribe(latencyTopic, 1, func(_ string, _ []byte) {
		select {
		case arrived <- time.Now():
		default:
		}
	})
	if !subToken.WaitTimeout(m.cfg.ConnectTimeout) {
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("subscribing to %s on %s: %w", latencyTopic, uri, errProbeTimeout)
	}
	if err := subToken.Error(); err != nil {
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("subscribing to %s on %s: %w", latencyTopic, uri, err)
	}

	sentAt := time.Now()
	payload := []byte(strconv.FormatInt(sentAt.UnixNano(), 10))
	pubToken := client.Publish(latencyTopic, payload, 1, false)
	if !pubToken.WaitTimeout(m.cfg.MeasureTimeout) {
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("publishing latency probe to %s: %w", uri, errProbeTimeout)
	}
	if err := pubToken.Error(); err != nil {
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("publishing latency probe to %s: %w", uri, err)
	}

	select {
	case recvAt := <-arrived:
		latencyMS := float64(recvAt.Sub(sentAt).Nanoseconds()) / 1e6
		m.merge(uri, func(b *registry.Broker) { b.LatencyMS = latencyMS })
		return nil
	case <-time.After(m.cfg.MeasureTimeout):
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("latency probe to %s: %w", uri, errProbeTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// measureBandwidth sends a burst of fixed-size messages at QoS 1 and times
// from first send to the last delivery acknowledgement.
func (m *Monitor) measureBandwidth(ctx context.Context, uri string) error {
	client, err := m.newEphemeralClient(uri, "bandwidth")
	if err != nil {
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("creating bandwidth probe client for %s: %w", uri, err)
	}
	defer client.Disconnect(time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		m.registry.MarkUnavailable(uri)
		return fmt.Errorf("connecting to %s for bandwidth probe: %w", uri, err)
	}

	payload := make([]byte, bandwidthMessageSize)
	start := time.Now()
	var lastAckAt time.Time

	for i := 0; i < bandwidthMessageCount; i++ {
		token := client.Publish(bandwidthTopic, payload, 1, false)
		if !token.WaitTimeout(m.cfg.MeasureTimeout) {
			m.registry.MarkUnavailable(uri)
			return fmt.Errorf("bandwidth probe message %d to %s: %w", i, uri, errProbeTimeout)
		}
		if err := token.Error(); err != nil {
			m.registry.MarkUnavailable(uri)
			return fmt.Errorf("bandwidth probe message %d to %s: %w", i, uri, err)
		}
		lastAckAt = time.Now()
	}

	elapsed := lastAckAt.Sub(start).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}
	bandwidthBPS := float64(bandwidthMessageCount*bandwidthMessageSize) / elapsed
	m.merge(uri, func(b *registry.Broker) { b.BandwidthBPS = bandwidthBPS })
	return nil
}

// measureConnectionCount reads the broker's own reported client count via
// its $SYS topic. This metric is best-effort: brokers that don't expose
// $SYS topics leave the count at 0 and are not marked unavailable.
func (m *Monitor) measureConnectionCount(ctx context.Context, uri string) error {
	client, err := m.newEphemeralClient(uri, "sysstats")
	if err != nil {
		m.logError("connection-count probe: creating client failed", err, "uri", uri)
		return nil
	}
	defer client.Disconnect(time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		m.logError("connection-count probe: connect failed", err, "uri", uri)
		return nil
	}

	arrived := make(chan []byte, 1)
	token := client.Subscribe(connectionCountTopic, 0, func(_ string, payload []byte) {
		select {
		case arrived <- payload:
		default:
		}
	})
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		m.logError("connection-count probe: subscribe timed out", errProbeTimeout, "uri", uri)
		m.merge(uri, func(b *registry.Broker) { b.ConnectionCount = 0 })
		return nil
	}
	if err := token.Error(); err != nil {
		m.logError("connection-count probe: subscribe failed", err, "uri", uri)
		m.merge(uri, func(b *registry.Broker) { b.ConnectionCount = 0 })
		return nil
	}

	select {
	case payload := <-arrived:
		count, perr := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if perr != nil {
			m.logError("connection-count probe: unreadable $SYS payload", perr, "uri", uri)
			count = 0
		}
		m.merge(uri, func(b *registry.Broker) { b.ConnectionCount = count })
		return nil
	case <-time.After(m.cfg.MeasureTimeout):
		m.merge(uri, func(b *registry.Broker) { b.ConnectionCount = 0 })
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newEphemeralClient builds a fresh, uniquely-identified probe client. Each
// measurement gets its own client so a probe failure on one class never
// disturbs another class's in-flight connection.
func (m *Monitor) newEphemeralClient(uri, kind string) (mqttclient.Client, error) {
	clientID := fmt.Sprintf("%s-%s-%s", m.cfg.ClientIDPrefix, kind, uuid.NewString())
	return m.factory(uri, mqttclient.Options{
		ClientID:       clientID,
		CleanSession:   true,
		ConnectTimeout: m.cfg.ConnectTimeout,
		PersistenceDir: m.cfg.PersistenceDir,
	})
}

// merge folds one measured component into uri's existing record, preserving
// the other two metrics, recomputes the score, marks the broker available,
// and fires the registered callbacks plus the optional metrics export.
func (m *Monitor) merge(uri string, set func(*registry.Broker)) {
	cur, ok := brokerByURI(m.registry.All(), uri)
	if !ok {
		cur = registry.Broker{URI: uri}
	}
	set(&cur)

	m.registry.UpdateMetrics(uri, cur.LatencyMS, cur.BandwidthBPS, cur.ConnectionCount)
	m.registry.MarkAvailable(uri)

	updated, ok := brokerByURI(m.registry.All(), uri)
	if !ok {
		return
	}

	m.callbackMu.RLock()
	onMetrics := m.onMetricsUpdated
	onSwitch := m.onBrokerSwitch
	m.callbackMu.RUnlock()

	if onMetrics != nil {
		onMetrics(uri, updated.LatencyMS, updated.BandwidthBPS, updated.ConnectionCount)
	}

	if m.registry.ShouldSwitch() {
		if best, ok := m.registry.Best(); ok && onSwitch != nil {
			onSwitch(best.URI)
		}
	}

	if m.metrics != nil {
		if err := m.metrics.WriteBrokerMetric(uri, m.cfg.Category, updated.LatencyMS, updated.BandwidthBPS, updated.ConnectionCount, updated.Score); err != nil {
			m.logError("writing broker metric point", err, "uri", uri)
		}
	}
}

func brokerByURI(all []registry.Broker, uri string) (registry.Broker, bool) {
	for _, b := range all {
		if b.URI == uri {
			return b, true
		}
	}
	return registry.Broker{}, false
}

func (m *Monitor) logError(msg string, err error, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()
	if logger == nil {
		return
	}
	args := append([]any{"error", err}, keysAndValues...)
	logger.Error(msg, args...)
}
