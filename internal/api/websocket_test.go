package api

import (
	"encoding/json"
	"testing"

	"github.com/brokerpilot/core/internal/infrastructure/config"
	"github.com/brokerpilot/core/internal/infrastructure/logging"
)

func testHub() *Hub {
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Default())
}

// hubClient returns a wsClient attached to h with no underlying network
// connection; Broadcast only touches the send channel.
func hubClient(h *Hub, channels ...string) *wsClient {
	c := &wsClient{
		hub:  h,
		send: make(chan []byte, wsSendBuffer),
		subs: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subs[ch] = struct{}{}
	}
	h.join(c)
	return c
}

func TestHub_BroadcastReachesOnlySubscribers(t *testing.T) {
	h := testHub()
	subscribed := hubClient(h, "broker.connected")
	other := hubClient(h, "broker.metrics_updated")

	h.Broadcast("broker.connected", map[string]any{"uri": "mqtt://a:1883"})

	select {
	case frame := <-subscribed.send:
		var msg wsMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("broadcast frame is not JSON: %v", err)
		}
		if msg.Type != wsTypeEvent || msg.Event != "broker.connected" {
			t.Errorf("frame = %+v, want event broker.connected", msg)
		}
	default:
		t.Fatal("subscribed client received nothing")
	}

	select {
	case <-other.send:
		t.Fatal("unsubscribed client received a frame")
	default:
	}
}

func TestHub_LeaveClosesSendOnce(t *testing.T) {
	h := testHub()
	c := hubClient(h, "broker.connected")

	h.leave(c)
	if _, open := <-c.send; open {
		t.Fatal("send channel still open after leave")
	}

	// A second leave for the same client must not panic on double-close.
	h.leave(c)

	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", h.ClientCount())
	}
}

func TestHub_BroadcastSkipsSlowClient(t *testing.T) {
	h := testHub()
	c := hubClient(h, "broker.metrics_updated")

	// Fill the client's buffer so the next broadcast cannot enqueue.
	for i := 0; i < wsSendBuffer; i++ {
		c.send <- []byte("x")
	}

	// Must not block or panic.
	h.Broadcast("broker.metrics_updated", map[string]any{"uri": "mqtt://a:1883"})
}

func TestWSClient_SubscribeFrameUpdatesSubscriptions(t *testing.T) {
	h := testHub()
	c := hubClient(h)

	frame, _ := json.Marshal(wsMessage{ //nolint:errcheck
		Type:    wsTypeSubscribe,
		ID:      "1",
		Payload: wsChannels{Channels: []string{"broker.connected", "broker.connection_lost"}},
	})
	c.handleFrame(frame)

	if !c.subscribed("broker.connected") || !c.subscribed("broker.connection_lost") {
		t.Fatal("subscribe frame did not register channels")
	}

	// The acknowledgement lands on the send channel.
	select {
	case resp := <-c.send:
		var msg wsMessage
		if err := json.Unmarshal(resp, &msg); err != nil || msg.Type != wsTypeResponse {
			t.Errorf("ack frame = %s, want a response frame", resp)
		}
	default:
		t.Fatal("no acknowledgement sent for subscribe frame")
	}

	unframe, _ := json.Marshal(wsMessage{ //nolint:errcheck
		Type:    wsTypeUnsubscribe,
		ID:      "2",
		Payload: wsChannels{Channels: []string{"broker.connected"}},
	})
	c.handleFrame(unframe)

	if c.subscribed("broker.connected") {
		t.Error("unsubscribe frame did not remove the channel")
	}
	if !c.subscribed("broker.connection_lost") {
		t.Error("unsubscribe frame removed a channel it should not have")
	}
}
