package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brokerpilot/core/internal/monitor"
	"github.com/brokerpilot/core/internal/mqttclient"
	"github.com/brokerpilot/core/internal/queue"
	"github.com/brokerpilot/core/internal/registry"
)

// Default timeouts and backoff, per the fall-through algorithm.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultExhaustedBackoff  = 5 * time.Second

	defaultClientIDPrefix = "brokerpilot"
)

// Logger is the narrow logging surface the Manager needs; *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder is the optional audit sink the Manager reports broker lifecycle
// events to. A nil Recorder (the default) makes every call a no-op.
type Recorder interface {
	RecordSwap(oldURI, newURI, trigger string)
	RecordUnavailable(uri, reason string)
	RecordQueueDrop(topic string)
}

// Config configures a Manager. Zero-valued fields are replaced by their
// documented defaults in New.
type Config struct {
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	ExhaustedBackoff  time.Duration

	ClientIDPrefix string
	PersistenceDir string

	QueueCapacity int

	Monitor monitor.Config
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.ExhaustedBackoff <= 0 {
		c.ExhaustedBackoff = DefaultExhaustedBackoff
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = defaultClientIDPrefix
	}
	return c
}

// Manager is the application-facing orchestrator: it owns the single active
// MQTT client, drives the connection state machine, and flushes the
// Offline Queue on every (re)connect. The zero value is not usable;
// construct with New.
type Manager struct {
	cfg     Config
	factory mqttclient.Factory

	registry *registry.Registry
	offline  *queue.Queue
	monitor  *monitor.Monitor

	// connMu is the connection mutex: it serializes state-machine
	// transitions and mutation of the active client slot. It is never held
	// across a blocking MQTT call; the per-broker connect attempt inside
	// the fall-through loop also runs with it released.
	connMu       sync.Mutex
	state        State
	client       mqttclient.Client
	isConnecting bool
	generation   int
	monitoring   bool

	connectOpts mqttclient.Options

	loggerMu sync.RWMutex
	logger   Logger

	recorderMu sync.RWMutex
	recorder   Recorder

	callbackMu         sync.RWMutex
	onConnectionLost   []func(err error)
	onConnected        []func(uri string)
	onMessageArrived   []func(topic string, payload []byte)
	onDeliveryComplete []func(topic string, err error)
}

// New creates a Manager over a freshly constructed Registry scored for
// category, using factory to build the live and ephemeral probe MQTT
// clients. The Manager is idle until Connect is called.
func New(category string, factory mqttclient.Factory, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	reg := registry.New(category)

	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		registry: reg,
		offline:  queue.New(cfg.QueueCapacity),
	}

	mon := monitor.New(reg, factory, cfg.Monitor)
	mon.OnBrokerSwitch(m.handleBrokerSwitch)
	m.monitor = mon

	return m
}

// SetLogger sets the logger used for fall-through, swap, and queue-overflow
// diagnostics. Forwarded to the embedded Monitor as well.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
	m.monitor.SetLogger(logger)
}

// SetRecorder sets the optional audit sink for swap, unavailable, and
// queue-drop events.
func (m *Manager) SetRecorder(r Recorder) {
	m.recorderMu.Lock()
	m.recorder = r
	m.recorderMu.Unlock()
}

// SetMetricsWriter forwards to the embedded Monitor's optional time-series
// export sink. Must be called before StartMonitoring.
func (m *Manager) SetMetricsWriter(w monitor.MetricsWriter) {
	m.monitor.SetMetricsWriter(w)
}

// OnMetricsUpdated registers the informational callback fired by the
// embedded Monitor after every successful metric update.
func (m *Manager) OnMetricsUpdated(fn func(uri string, latencyMS, bandwidthBPS, connectionCount float64)) {
	m.monitor.OnMetricsUpdated(fn)
}

// OnConnectionLost registers a callback fired when the active client
// reports an unsolicited disconnect. Delivered on the underlying client's
// own callback goroutine. Multiple registrations all fire, in order.
func (m *Manager) OnConnectionLost(fn func(err error)) {
	m.callbackMu.Lock()
	m.onConnectionLost = append(m.onConnectionLost, fn)
	m.callbackMu.Unlock()
}

// OnConnected registers a callback fired every time the Manager commits
// to a new active broker (initial connect, fall-through, or swap).
// Multiple registrations all fire, in order.
func (m *Manager) OnConnected(fn func(uri string)) {
	m.callbackMu.Lock()
	m.onConnected = append(m.onConnected, fn)
	m.callbackMu.Unlock()
}

// OnMessageArrived registers a callback fired for every message delivered
// on a topic subscribed to via Subscribe.
func (m *Manager) OnMessageArrived(fn func(topic string, payload []byte)) {
	m.callbackMu.Lock()
	m.onMessageArrived = append(m.onMessageArrived, fn)
	m.callbackMu.Unlock()
}

// OnDeliveryComplete registers a callback fired when a Publish's
// underlying token settles, successfully or not.
func (m *Manager) OnDeliveryComplete(fn func(topic string, err error)) {
	m.callbackMu.Lock()
	m.onDeliveryComplete = append(m.onDeliveryComplete, fn)
	m.callbackMu.Unlock()
}

// AddBroker adds a candidate broker. Safe before or after Connect.
func (m *Manager) AddBroker(uri string) { m.registry.Add(uri) }

// RemoveBroker removes a candidate broker. Safe before or after Connect.
func (m *Manager) RemoveBroker(uri string) { m.registry.Remove(uri) }

// SetBrokers replaces the full candidate list. Safe before or after Connect.
func (m *Manager) SetBrokers(uris []string) { m.registry.SetBrokers(uris) }

// MarkBrokerUnavailable forces uri out of the candidate pool for future
// fall-through and swap decisions, without touching any live connection to
// it. Intended for manual admin-API overrides; the Monitor will mark it
// available again on its own once measurements resume, unless RestoreBroker
// is called first.
func (m *Manager) MarkBrokerUnavailable(uri string) {
	m.registry.MarkUnavailable(uri)
	m.recorderRef().RecordUnavailable(uri, "manual override")
}

// RestoreBroker clears a manual or measured unavailability on uri,
// recomputing its score from the last recorded metrics.
func (m *Manager) RestoreBroker(uri string) {
	m.registry.MarkAvailable(uri)
}

// SetConnectOptions sets the options forwarded verbatim to the underlying
// MQTT client on every (re)connect. ClientID and PersistenceDir are
// overridden from Config on each attempt; the rest (credentials, TLS,
// keep-alive) are taken from opts as given.
func (m *Manager) SetConnectOptions(opts mqttclient.Options) {
	m.connMu.Lock()
	m.connectOpts = opts
	m.connMu.Unlock()
}

// Connect makes one synchronous fall-through attempt across every
// available registered broker, in registration order. It returns true on
// the first success and flushes the Offline Queue; it returns false only
// after every candidate has been tried and failed. Idempotent: if already
// connected, returns true without retrying; if a connect or swap is
// already in flight, returns false immediately.
func (m *Manager) Connect() bool {
	m.connMu.Lock()
	if m.state.Kind == Connected {
		m.connMu.Unlock()
		return true
	}
	if m.isConnecting {
		m.connMu.Unlock()
		return false
	}
	m.isConnecting = true
	gen := m.generation
	m.connMu.Unlock()

	ok := m.fallThrough("initial-connect", gen, m.availableSnapshot())

	m.connMu.Lock()
	m.isConnecting = false
	m.connMu.Unlock()
	return ok
}

// Disconnect tears down the active client, if any, with a bounded wait, and
// returns the Manager to Idle. Any in-flight reconnect attempt observes the
// generation bump and discards its result instead of reviving the session.
// Safe to call when not connected.
func (m *Manager) Disconnect() {
	m.connMu.Lock()
	client := m.client
	m.client = nil
	m.state = State{Kind: Idle}
	m.generation++
	m.connMu.Unlock()

	if client != nil {
		client.Disconnect(m.cfg.DisconnectTimeout)
	}
}

// IsConnected reports whether the Manager currently holds an active,
// committed broker connection.
func (m *Manager) IsConnected() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.state.Kind == Connected
}

// State returns a snapshot of the connection state machine.
func (m *Manager) State() State {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.state
}

// Publish forwards payload to the active client and returns its delivery
// token. If the Manager is disconnected, or the forward itself fails, the
// publish is appended to the Offline Queue instead and nil is returned;
// publish never returns an error to the caller.
func (m *Manager) Publish(topic string, payload []byte, qos byte, retained bool) mqttclient.Token {
	return m.publish(queue.Message{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
}

// PublishMessage is the pre-built-message equivalent of Publish.
func (m *Manager) PublishMessage(msg queue.Message) mqttclient.Token {
	return m.publish(msg)
}

func (m *Manager) publish(msg queue.Message) mqttclient.Token {
	m.connMu.Lock()
	client := m.client
	connected := m.state.Kind == Connected
	m.connMu.Unlock()

	if !connected || client == nil {
		m.enqueue(msg)
		return nil
	}

	token, ok := m.forwardPublish(client, msg)
	if !ok {
		m.enqueue(msg)
		return nil
	}

	go m.watchDelivery(msg.Topic, token)
	return token
}

// forwardPublish calls client.Publish, recovering from a panic so a
// misbehaving client implementation degrades to "queue it" instead of
// taking the caller down with it.
func (m *Manager) forwardPublish(client mqttclient.Client, msg queue.Message) (token mqttclient.Token, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("publish forward panicked", fmt.Errorf("%v", r), "topic", msg.Topic)
			ok = false
		}
	}()
	token = client.Publish(msg.Topic, msg.Payload, msg.QoS, msg.Retained)
	return token, true
}

func (m *Manager) watchDelivery(topic string, token mqttclient.Token) {
	token.WaitTimeout(m.cfg.ConnectTimeout)
	err := token.Error()

	m.callbackMu.RLock()
	fns := m.onDeliveryComplete
	m.callbackMu.RUnlock()
	for _, fn := range fns {
		fn(topic, err)
	}
}

func (m *Manager) enqueue(msg queue.Message) {
	dropped := m.offline.Enqueue(msg)
	if dropped {
		m.logWarn("offline queue overflow, dropped oldest entry", nil, "topic", msg.Topic)
		m.recorderRef().RecordQueueDrop(msg.Topic)
	}
}

// Subscribe forwards to the active client. Fails fast with ErrNotConnected
// if the Manager is disconnected; subscriptions are not queued or replayed.
func (m *Manager) Subscribe(topic string, qos byte) error {
	m.connMu.Lock()
	client := m.client
	connected := m.state.Kind == Connected
	m.connMu.Unlock()

	if !connected || client == nil {
		return ErrNotConnected
	}

	token := client.Subscribe(topic, qos, m.dispatchMessage)
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribing to %s: timed out", topic)
	}
	return token.Error()
}

// Unsubscribe forwards to the active client. Fails fast with
// ErrNotConnected if the Manager is disconnected.
func (m *Manager) Unsubscribe(topic string) error {
	m.connMu.Lock()
	client := m.client
	connected := m.state.Kind == Connected
	m.connMu.Unlock()

	if !connected || client == nil {
		return ErrNotConnected
	}

	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		return fmt.Errorf("unsubscribing from %s: timed out", topic)
	}
	return token.Error()
}

func (m *Manager) dispatchMessage(topic string, payload []byte) {
	m.callbackMu.RLock()
	fns := m.onMessageArrived
	m.callbackMu.RUnlock()
	for _, fn := range fns {
		fn(topic, payload)
	}
}

// GetBrokerStats returns an ordered snapshot of every registered broker.
func (m *Manager) GetBrokerStats() []registry.Broker { return m.registry.All() }

// GetCurrentBrokerURI returns the registry's current broker URI, if any.
func (m *Manager) GetCurrentBrokerURI() (string, bool) { return m.registry.CurrentURI() }

// GetQueuedMessageCount returns the number of publishes buffered in the
// Offline Queue.
func (m *Manager) GetQueuedMessageCount() int { return m.offline.Len() }

// StartMonitoring launches the embedded Monitor's background tick loop.
// ctx cancellation stops it the same way StopMonitoring does.
func (m *Manager) StartMonitoring(ctx context.Context) {
	m.connMu.Lock()
	if m.monitoring {
		m.connMu.Unlock()
		return
	}
	m.monitoring = true
	m.connMu.Unlock()

	m.monitor.Start(ctx)
}

// StopMonitoring requests the embedded Monitor to shut down and blocks
// until it has joined. Safe to call even if monitoring was never started.
func (m *Manager) StopMonitoring() {
	m.connMu.Lock()
	m.monitoring = false
	m.connMu.Unlock()

	m.monitor.Stop()
}

// IsMonitoring reports whether the embedded Monitor's tick loop is running.
func (m *Manager) IsMonitoring() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.monitoring
}

// handleBrokerSwitch is the Monitor's on_broker_switch callback. It tears
// down the active client and re-enters the fall-through algorithm starting
// from newURI. A swap already in flight makes this call a no-op; two
// overlapping swaps never race for the client slot.
func (m *Manager) handleBrokerSwitch(newURI string) {
	m.connMu.Lock()
	if m.isConnecting {
		m.connMu.Unlock()
		return
	}
	if m.state.Kind == Connected && m.state.URI == newURI {
		m.connMu.Unlock()
		return
	}
	m.isConnecting = true
	gen := m.generation
	oldURI := ""
	if m.state.Kind == Connected {
		oldURI = m.state.URI
	}
	old := m.client
	m.client = nil
	m.state = State{Kind: Reconnecting, URI: oldURI, Index: 0}
	m.connMu.Unlock()

	if old != nil {
		old.Disconnect(m.cfg.DisconnectTimeout)
	}

	go func() {
		defer func() {
			m.connMu.Lock()
			m.isConnecting = false
			m.connMu.Unlock()
		}()

		if m.fallThrough("score-swap", gen, m.orderedFromBest(newURI)) {
			m.recorderRef().RecordSwap(oldURI, newURI, "score-swap")
			return
		}
		m.reconnectLoop("score-swap", gen)
	}()
}

// handleConnectionLost is wired as the active client's ConnectionLostNotifier
// callback. It fires the user's callback and starts a reconnect attempt,
// guarded so a connection-lost racing a swap never launches a second
// fall-through loop.
func (m *Manager) handleConnectionLost(uri string, err error) {
	m.connMu.Lock()
	if m.state.Kind != Connected || m.state.URI != uri {
		m.connMu.Unlock()
		return
	}
	m.state = State{Kind: Reconnecting, URI: uri, Index: 0}
	m.client = nil
	m.connMu.Unlock()

	m.callbackMu.RLock()
	fns := m.onConnectionLost
	m.callbackMu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}

	m.startReconnect("connection-lost")
}

// startReconnect launches a background fall-through retry loop, re-entrant
// guarded: if a connect or swap is already in flight, this is a no-op.
func (m *Manager) startReconnect(trigger string) {
	m.connMu.Lock()
	if m.isConnecting {
		m.connMu.Unlock()
		return
	}
	m.isConnecting = true
	gen := m.generation
	m.connMu.Unlock()

	go func() {
		defer func() {
			m.connMu.Lock()
			m.isConnecting = false
			m.connMu.Unlock()
		}()
		m.reconnectLoop(trigger, gen)
	}()
}

// reconnectLoop repeats the fall-through algorithm, backing off
// ExhaustedBackoff between passes, until it succeeds or Disconnect bumps
// the generation out from under it.
func (m *Manager) reconnectLoop(trigger string, gen int) {
	for {
		if m.generationStale(gen) {
			return
		}
		if m.fallThrough(trigger, gen, m.availableSnapshot()) {
			return
		}
		time.Sleep(m.cfg.ExhaustedBackoff)
	}
}

func (m *Manager) generationStale(gen int) bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.generation != gen
}

// fallThrough is the one-pass connect algorithm shared by Connect, the
// reconnect loop, and swap: try each candidate in order, marking failures
// unavailable in the Registry and advancing, until one succeeds or the
// list is exhausted.
func (m *Manager) fallThrough(trigger string, gen int, candidates []string) bool {
	if len(candidates) == 0 {
		m.logWarn("no available brokers to connect to", ErrNoBrokersConfigured)
		return false
	}

	for i, uri := range candidates {
		if m.generationStale(gen) {
			return false
		}

		m.connMu.Lock()
		m.state = State{Kind: stateKindFor(trigger), URI: m.state.URI, Index: i}
		m.connMu.Unlock()

		client, err := m.tryConnectToBroker(uri)
		if err != nil {
			m.logWarn("broker connect attempt failed", err, "uri", uri, "trigger", trigger)
			m.registry.MarkUnavailable(uri)
			m.recorderRef().RecordUnavailable(uri, err.Error())
			continue
		}

		if m.generationStale(gen) {
			client.Disconnect(m.cfg.DisconnectTimeout)
			return false
		}

		m.connMu.Lock()
		m.client = client
		m.state = State{Kind: Connected, URI: uri}
		m.connMu.Unlock()

		m.registry.MarkAvailable(uri)
		m.registry.SetCurrent(uri)
		m.flushQueue(client)
		m.fireConnected(uri)
		return true
	}

	m.connMu.Lock()
	if !m.generationStaleLocked(gen) {
		m.state = State{Kind: Idle}
	}
	m.connMu.Unlock()
	return false
}

func (m *Manager) generationStaleLocked(gen int) bool {
	return m.generation != gen
}

func stateKindFor(trigger string) Kind {
	if trigger == "initial-connect" {
		return Connecting
	}
	return Reconnecting
}

// tryConnectToBroker builds a fresh client bound to uri, attaches this
// Manager's connection-lost handler, and attempts the connect with
// ConnectTimeout.
func (m *Manager) tryConnectToBroker(uri string) (mqttclient.Client, error) {
	m.connMu.Lock()
	opts := m.connectOpts
	m.connMu.Unlock()

	opts.ClientID = m.cfg.ClientIDPrefix
	opts.PersistenceDir = m.cfg.PersistenceDir
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = m.cfg.ConnectTimeout
	}

	client, err := m.factory(uri, opts)
	if err != nil {
		return nil, fmt.Errorf("constructing client for %s: %w", uri, err)
	}

	if notifier, ok := client.(mqttclient.ConnectionLostNotifier); ok {
		notifier.OnConnectionLost(func(err error) { m.handleConnectionLost(uri, err) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", uri, err)
	}
	return client, nil
}

// flushQueue drains the Offline Queue into client, stopping at the first
// publish failure and leaving the remainder buffered for the next
// (re)connect.
func (m *Manager) flushQueue(client mqttclient.Client) {
	err := m.offline.FlushTo(func(msg queue.Message) error {
		token := client.Publish(msg.Topic, msg.Payload, msg.QoS, msg.Retained)
		if !token.WaitTimeout(m.cfg.ConnectTimeout) {
			return fmt.Errorf("flushing queued publish to %s: timed out", msg.Topic)
		}
		return token.Error()
	})
	if err != nil {
		m.logWarn("offline queue flush stopped on publish error", err)
	}
}

func (m *Manager) fireConnected(uri string) {
	m.callbackMu.RLock()
	fns := m.onConnected
	m.callbackMu.RUnlock()
	for _, fn := range fns {
		fn(uri)
	}
}

// availableSnapshot returns the registered brokers currently marked
// available, in registration order.
func (m *Manager) availableSnapshot() []string {
	all := m.registry.All()
	out := make([]string, 0, len(all))
	for _, b := range all {
		if b.Available {
			out = append(out, b.URI)
		}
	}
	return out
}

// orderedFromBest returns the available brokers with bestURI moved to the
// front, preserving relative order otherwise. This is the fall-through
// order a swap uses: best-scored first, then registration order.
func (m *Manager) orderedFromBest(bestURI string) []string {
	all := m.availableSnapshot()
	out := make([]string, 0, len(all))
	out = append(out, bestURI)
	for _, u := range all {
		if u != bestURI {
			out = append(out, u)
		}
	}
	return out
}

func (m *Manager) recorderRef() Recorder {
	m.recorderMu.RLock()
	r := m.recorder
	m.recorderMu.RUnlock()
	if r == nil {
		return noopRecorder{}
	}
	return r
}

func (m *Manager) logWarn(msg string, err error, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()
	if logger == nil {
		return
	}
	args := keysAndValues
	if err != nil {
		args = append([]any{"error", err}, keysAndValues...)
	}
	logger.Warn(msg, args...)
}

func (m *Manager) logError(msg string, err error, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()
	if logger == nil {
		return
	}
	args := append([]any{"error", err}, keysAndValues...)
	logger.Error(msg, args...)
}

type noopRecorder struct{}

func (noopRecorder) RecordSwap(string, string, string) {}
func (noopRecorder) RecordUnavailable(string, string)  {}
func (noopRecorder) RecordQueueDrop(string)            {}
