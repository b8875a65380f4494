package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brokerpilot/core/internal/monitor"
	"github.com/brokerpilot/core/internal/mqttclient"
	"github.com/brokerpilot/core/internal/mqttclient/fakemqtt"
	"github.com/brokerpilot/core/internal/queue"
)

// scriptedFactory builds fakemqtt clients keyed by URI, letting tests pin
// ConnectErr per broker before Connect is exercised.
type scriptedFactory struct {
	mu      sync.Mutex
	clients map[string]*fakemqtt.Client
}

func newScriptedFactory() *scriptedFactory {
	return &scriptedFactory{clients: make(map[string]*fakemqtt.Client)}
}

func (f *scriptedFactory) set(uri string, configure func(*fakemqtt.Client)) {
	c := fakemqtt.New()
	configure(c)
	f.mu.Lock()
	f.clients[uri] = c
	f.mu.Unlock()
}

func (f *scriptedFactory) factory() mqttclient.Factory {
	return func(uri string, _ mqttclient.Options) (mqttclient.Client, error) {
		f.mu.Lock()
		c, ok := f.clients[uri]
		f.mu.Unlock()
		if !ok {
			c = fakemqtt.New()
		}
		return c, nil
	}
}

func (f *scriptedFactory) clientFor(uri string) *fakemqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[uri]
}

func testConfig() Config {
	return Config{
		ConnectTimeout:    50 * time.Millisecond,
		DisconnectTimeout: 50 * time.Millisecond,
		ExhaustedBackoff:  5 * time.Millisecond,
		QueueCapacity:     10,
		Monitor: monitor.Config{
			TickInterval: time.Hour,
		},
	}
}

func TestConnect_FallsThroughToFirstReachableBroker(t *testing.T) {
	f := newScriptedFactory()
	f.set("mqtt://a:1883", func(c *fakemqtt.Client) { c.ConnectErr = context.DeadlineExceeded })
	f.set("mqtt://b:1883", func(c *fakemqtt.Client) {})

	m := New("sensor", f.factory(), testConfig())
	m.SetBrokers([]string{"mqtt://a:1883", "mqtt://b:1883", "mqtt://c:1883"})

	if !m.Connect() {
		t.Fatal("Connect() = false, want true")
	}

	uri, ok := m.GetCurrentBrokerURI()
	if !ok || uri != "mqtt://b:1883" {
		t.Fatalf("current broker = %q,%v want mqtt://b:1883", uri, ok)
	}

	stats := m.GetBrokerStats()
	for _, b := range stats {
		if b.URI == "mqtt://a:1883" && b.Available {
			t.Error("broker a should be marked unavailable after a failed connect")
		}
	}

	if m.GetQueuedMessageCount() != 0 {
		t.Errorf("queue should be empty after a clean connect, got %d", m.GetQueuedMessageCount())
	}
}

func TestConnect_AllBrokersUnreachableReturnsFalse(t *testing.T) {
	f := newScriptedFactory()
	f.set("mqtt://a:1883", func(c *fakemqtt.Client) { c.ConnectErr = context.DeadlineExceeded })
	f.set("mqtt://b:1883", func(c *fakemqtt.Client) { c.ConnectErr = context.DeadlineExceeded })

	m := New("sensor", f.factory(), testConfig())
	m.SetBrokers([]string{"mqtt://a:1883", "mqtt://b:1883"})

	if m.Connect() {
		t.Fatal("Connect() = true, want false when every broker is unreachable")
	}
	if m.IsConnected() {
		t.Error("IsConnected() = true after every broker failed")
	}
}

func TestPublish_WhileDisconnectedEnqueues(t *testing.T) {
	m := New("sensor", newScriptedFactory().factory(), testConfig())

	tok := m.Publish("t", []byte("p1"), 1, false)
	if tok != nil {
		t.Error("Publish() while disconnected should return a nil token")
	}
	if m.GetQueuedMessageCount() != 1 {
		t.Fatalf("queued count = %d, want 1", m.GetQueuedMessageCount())
	}
}

func TestPublish_WhileConnectedForwardsImmediately(t *testing.T) {
	f := newScriptedFactory()
	f.set("mqtt://a:1883", func(c *fakemqtt.Client) {})
	m := New("sensor", f.factory(), testConfig())
	m.AddBroker("mqtt://a:1883")

	if !m.Connect() {
		t.Fatal("Connect() failed")
	}

	tok := m.Publish("t", []byte("hello"), 1, false)
	if tok == nil {
		t.Fatal("Publish() while connected returned a nil token")
	}

	client := f.clientFor("mqtt://a:1883")
	pubs := client.Published()
	if len(pubs) != 1 || string(pubs[0].Payload) != "hello" {
		t.Fatalf("Published() = %+v, want one publish of %q", pubs, "hello")
	}
	if m.GetQueuedMessageCount() != 0 {
		t.Error("a forwarded publish must not be queued")
	}
}

func TestQueueFlushesInFIFOOrderOnReconnect(t *testing.T) {
	f := newScriptedFactory()
	f.set("mqtt://a:1883", func(c *fakemqtt.Client) {})
	m := New("sensor", f.factory(), testConfig())
	m.AddBroker("mqtt://a:1883")

	m.Publish("t", []byte("p1"), 1, false) // queued, disconnected
	m.Publish("t", []byte("p2"), 1, false) // queued, disconnected

	if !m.Connect() {
		t.Fatal("Connect() failed")
	}

	client := f.clientFor("mqtt://a:1883")
	pubs := client.Published()
	if len(pubs) != 2 || string(pubs[0].Payload) != "p1" || string(pubs[1].Payload) != "p2" {
		t.Fatalf("flushed publishes = %+v, want [p1 p2] in order", pubs)
	}
	if m.GetQueuedMessageCount() != 0 {
		t.Errorf("queue should drain fully on a clean flush, got %d remaining", m.GetQueuedMessageCount())
	}
}

func TestConnectionLost_ReconnectsToNextBroker(t *testing.T) {
	f := newScriptedFactory()
	f.set("mqtt://a:1883", func(c *fakemqtt.Client) {})
	f.set("mqtt://b:1883", func(c *fakemqtt.Client) {})
	m := New("sensor", f.factory(), testConfig())
	m.SetBrokers([]string{"mqtt://a:1883", "mqtt://b:1883"})

	if !m.Connect() {
		t.Fatal("Connect() failed")
	}
	uri, _ := m.GetCurrentBrokerURI()
	if uri != "mqtt://a:1883" {
		t.Fatalf("expected initial connection to a, got %q", uri)
	}

	lostCh := make(chan error, 1)
	m.OnConnectionLost(func(err error) { lostCh <- err })

	// Broker a goes down: the lost connection is reported and any
	// reconnect attempt against a fails, forcing fall-through to b.
	clientA := f.clientFor("mqtt://a:1883")
	clientA.ConnectErr = context.DeadlineExceeded
	clientA.SimulateConnectionLost(context.DeadlineExceeded)

	select {
	case <-lostCh:
	case <-time.After(time.Second):
		t.Fatal("OnConnectionLost callback never fired")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.IsConnected() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !m.IsConnected() {
		t.Fatal("manager never reconnected after connection-lost")
	}

	newURI, _ := m.GetCurrentBrokerURI()
	if newURI != "mqtt://b:1883" {
		t.Fatalf("reconnected to %q, want mqtt://b:1883 (a is down)", newURI)
	}
}

func TestBrokerSwitch_MigratesToNewBroker(t *testing.T) {
	f := newScriptedFactory()
	f.set("mqtt://a:1883", func(c *fakemqtt.Client) {})
	f.set("mqtt://b:1883", func(c *fakemqtt.Client) {})
	m := New("sensor", f.factory(), testConfig())
	m.SetBrokers([]string{"mqtt://a:1883", "mqtt://b:1883"})

	if !m.Connect() {
		t.Fatal("Connect() failed")
	}

	m.handleBrokerSwitch("mqtt://b:1883")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if uri, _ := m.GetCurrentBrokerURI(); uri == "mqtt://b:1883" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	uri, _ := m.GetCurrentBrokerURI()
	if uri != "mqtt://b:1883" {
		t.Fatalf("current broker after swap = %q, want mqtt://b:1883", uri)
	}
}

func TestDisconnect_ReturnsToIdle(t *testing.T) {
	f := newScriptedFactory()
	f.set("mqtt://a:1883", func(c *fakemqtt.Client) {})
	m := New("sensor", f.factory(), testConfig())
	m.AddBroker("mqtt://a:1883")

	if !m.Connect() {
		t.Fatal("Connect() failed")
	}

	m.Disconnect()

	if m.IsConnected() {
		t.Fatal("IsConnected() = true immediately after Disconnect()")
	}
	if m.State().Kind != Idle {
		t.Fatalf("State() = %v, want Idle", m.State())
	}
}

func TestSubscribeUnsubscribe_FailFastWhenDisconnected(t *testing.T) {
	m := New("sensor", newScriptedFactory().factory(), testConfig())

	if err := m.Subscribe("t", 1); err != ErrNotConnected {
		t.Fatalf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := m.Unsubscribe("t"); err != ErrNotConnected {
		t.Fatalf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishMessage_PreBuiltMessageEquivalentToPublish(t *testing.T) {
	m := New("sensor", newScriptedFactory().factory(), testConfig())

	m.PublishMessage(queue.Message{Topic: "t", Payload: []byte("m")})
	if m.GetQueuedMessageCount() != 1 {
		t.Fatalf("PublishMessage() while disconnected did not enqueue: count=%d", m.GetQueuedMessageCount())
	}
}

func TestStartStopMonitoring_IsIdempotentAndLeavesNoWorker(t *testing.T) {
	m := New("sensor", newScriptedFactory().factory(), testConfig())

	m.StartMonitoring(context.Background())
	if !m.IsMonitoring() {
		t.Fatal("IsMonitoring() = false after StartMonitoring")
	}
	m.StartMonitoring(context.Background())

	m.StopMonitoring()
	if m.IsMonitoring() {
		t.Fatal("IsMonitoring() = true after StopMonitoring")
	}
}
