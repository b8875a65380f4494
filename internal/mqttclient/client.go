package mqttclient

import (
	"context"
	"time"
)

// MessageHandler receives a message delivered on a subscribed topic.
// Handlers are invoked on the underlying client's own delivery goroutine
// and should not block for extended periods.
type MessageHandler func(topic string, payload []byte)

// Token is the asynchronous completion handle returned by Publish,
// Subscribe, and Unsubscribe.
type Token interface {
	// WaitTimeout blocks until the operation completes or d elapses,
	// returning true if it completed.
	WaitTimeout(d time.Duration) bool
	// Error returns the operation's result, valid after WaitTimeout
	// returns true.
	Error() error
}

// Options configures a (re)connect attempt. It is forwarded to the
// underlying client verbatim; the core treats it as opaque beyond the
// fields it needs for timeouts.
type Options struct {
	ClientID        string
	Username        string
	Password        string
	PersistenceDir  string
	CleanSession    bool
	KeepAlive       time.Duration
	ConnectTimeout  time.Duration
	TLSInsecureSkip bool
}

// ConnectionLostNotifier is implemented by Client implementations that can
// report an unsolicited disconnect on the underlying client's own delivery
// goroutine, mirroring the callback sink's connection_lost(cause) hook.
type ConnectionLostNotifier interface {
	OnConnectionLost(handler func(err error))
}

// Client is the asynchronous MQTT client abstraction the Session Manager
// and Monitor consume. A Client is bound to exactly one broker URI for its
// lifetime; swapping brokers means constructing a new Client.
type Client interface {
	// Connect attempts to establish the connection, honoring ctx for
	// cancellation in addition to any deadline carried in Options.
	Connect(ctx context.Context) error
	// Disconnect requests a graceful shutdown, waiting up to timeout for
	// in-flight operations to settle before tearing down the transport.
	Disconnect(timeout time.Duration)
	// Publish sends payload on topic. The returned token completes when
	// the broker has acknowledged delivery at the requested QoS.
	Publish(topic string, payload []byte, qos byte, retained bool) Token
	// Subscribe registers handler for messages arriving on topic.
	Subscribe(topic string, qos byte, handler MessageHandler) Token
	// Unsubscribe removes a previously registered subscription.
	Unsubscribe(topic string) Token
	// IsConnected reports the last known connection state.
	IsConnected() bool
}

// Factory constructs a fresh Client bound to uri. The Session Manager
// calls this once per connect attempt and once per broker swap; it never
// reuses a Client across brokers.
type Factory func(uri string, opts Options) (Client, error)
