// Package fakemqtt provides a hand-rolled mqttclient.Client double for
// tests, avoiding a real broker dependency across the monitor, session,
// and api test suites.
package fakemqtt

import (
	"context"
	"sync"
	"time"

	"github.com/brokerpilot/core/internal/mqttclient"
)

// Token is an immediately-resolved mqttclient.Token.
type Token struct {
	err error
}

// WaitTimeout always returns true; the fake never blocks.
func (t Token) WaitTimeout(time.Duration) bool { return true }

// Error returns the token's configured error, if any.
func (t Token) Error() error { return t.err }

// Published records one Publish call.
type Published struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Client is a scriptable fake satisfying mqttclient.Client.
type Client struct {
	mu sync.Mutex

	// ConnectErr, if set, is returned by every Connect call.
	ConnectErr error
	// PublishErr, if set, is returned by every Publish token.
	PublishErr error

	connected bool
	published []Published
	subs      map[string]mqttclient.MessageHandler
	connectN  int
	onLost    func(err error)
}

// New creates a disconnected fake client.
func New() *Client {
	return &Client{subs: make(map[string]mqttclient.MessageHandler)}
}

// Connect simulates a connect attempt, succeeding unless ConnectErr is set.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectN++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.connected = true
	return nil
}

// Disconnect marks the client disconnected.
func (c *Client) Disconnect(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

// Publish records the call and returns a token carrying PublishErr.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) mqttclient.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, Published{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return Token{err: c.PublishErr}
}

// Subscribe records handler for topic.
func (c *Client) Subscribe(topic string, _ byte, handler mqttclient.MessageHandler) mqttclient.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = handler
	return Token{}
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(topic string) mqttclient.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	return Token{}
}

// IsConnected reports the fake's current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Deliver simulates the broker delivering payload on topic to any matching
// subscription handler registered via Subscribe.
func (c *Client) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	handler := c.subs[topic]
	c.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// SimulateConnectionLost invokes the handler registered via
// OnConnectionLost, mirroring the underlying client's own delivery
// goroutine calling back into the owner asynchronously.
func (c *Client) SimulateConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	onLost := c.onLost
	c.mu.Unlock()
	if onLost != nil {
		onLost(err)
	}
}

// OnConnectionLost registers the callback SimulateConnectionLost invokes.
func (c *Client) OnConnectionLost(handler func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLost = handler
}

// Published returns every recorded Publish call, in order.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Published, len(c.published))
	copy(out, c.published)
	return out
}

// ConnectAttempts returns the number of Connect calls made so far.
func (c *Client) ConnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectN
}
