package pahoclient

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/brokerpilot/core/internal/mqttclient"
)

// defaultConnectTimeout caps every Connect wait; a shorter ctx deadline
// takes precedence.
const defaultConnectTimeout = 10 * time.Second

// defaultKeepAlive is used when Options.KeepAlive is unset.
const defaultKeepAlive = 60 * time.Second

// Client adapts a single paho.mqtt.golang client to mqttclient.Client. It
// is bound to one broker URI for its lifetime; there is no reconnect
// logic here and paho's own auto-reconnect is switched off — broker swaps
// are handled by the Session Manager constructing a fresh Client.
type Client struct {
	uri     string
	inner   pahomqtt.Client
	options *pahomqtt.ClientOptions
}

// New builds a Client bound to uri, ready to Connect. persistenceDir, if
// non-empty, is passed to paho's file-backed message store so QoS 1/2
// in-flight state survives a process restart of this single client (not
// to be confused with the core's offline queue, which never persists).
func New(uri string, opts mqttclient.Options) (*Client, error) {
	pahoOpts := pahomqtt.NewClientOptions()
	pahoOpts.AddBroker(uri)
	pahoOpts.SetClientID(opts.ClientID)
	pahoOpts.SetCleanSession(opts.CleanSession)

	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
		pahoOpts.SetPassword(opts.Password)
	}

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	pahoOpts.SetKeepAlive(keepAlive)

	// Broker-swap migration is owned by the Session Manager, not by paho's
	// own reconnect loop: a lost connection here is reported up via
	// SetConnectionLostHandler and the manager decides whether and where
	// to reconnect.
	pahoOpts.SetAutoReconnect(false)

	if opts.PersistenceDir != "" {
		pahoOpts.SetStore(pahomqtt.NewFileStore(opts.PersistenceDir))
	}

	return &Client{
		uri:     uri,
		options: pahoOpts,
	}, nil
}

// OnConnectionLost registers the callback paho invokes when the transport
// drops outside of an explicit Disconnect. Must be called before Connect.
func (c *Client) OnConnectionLost(handler func(err error)) {
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		handler(err)
	})
}

// Connect attempts the connection. The wait is bounded by ctx's deadline
// when that is shorter than defaultConnectTimeout, else by
// defaultConnectTimeout; Options.ConnectTimeout is not read. ctx is checked
// for cancellation once, before the wait begins.
func (c *Client) Connect(ctx context.Context) error {
	timeout := defaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 && d < timeout {
			timeout = d
		}
	}

	c.inner = pahomqtt.NewClient(c.options)
	token := c.inner.Connect()

	select {
	case <-ctx.Done():
		return fmt.Errorf("connecting to %s: %w", c.uri, ctx.Err())
	default:
	}

	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("connecting to %s: timeout after %v", c.uri, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.uri, err)
	}
	return nil
}

// Disconnect requests a graceful shutdown with the given quiesce period.
func (c *Client) Disconnect(timeout time.Duration) {
	if c.inner == nil {
		return
	}
	ms := uint(timeout.Milliseconds())
	c.inner.Disconnect(ms)
}

// Publish sends payload on topic at the given QoS.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) mqttclient.Token {
	return pahoToken{c.inner.Publish(topic, qos, retained, payload)}
}

// Subscribe registers handler for messages arriving on topic.
func (c *Client) Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) mqttclient.Token {
	return pahoToken{c.inner.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})}
}

// Unsubscribe removes a previously registered subscription.
func (c *Client) Unsubscribe(topic string) mqttclient.Token {
	return pahoToken{c.inner.Unsubscribe(topic)}
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.inner != nil && c.inner.IsConnected()
}

// Factory adapts New to the mqttclient.Factory signature for wiring into
// the Session Manager.
func Factory(uri string, opts mqttclient.Options) (mqttclient.Client, error) {
	return New(uri, opts)
}

// pahoToken adapts a paho.Token to mqttclient.Token.
type pahoToken struct {
	pahomqtt.Token
}

func (t pahoToken) WaitTimeout(d time.Duration) bool {
	return t.Token.WaitTimeout(d)
}

func (t pahoToken) Error() error {
	return t.Token.Error()
}
