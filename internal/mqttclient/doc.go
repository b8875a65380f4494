// Package mqttclient defines the asynchronous MQTT client surface the
// Session Manager and Monitor drive, and the delivery token contract their
// wait_for-style blocking calls rely on.
//
// The interface is intentionally narrow — connect, disconnect, publish,
// subscribe, unsubscribe, connection-state — so it can be satisfied by a
// fake in tests without dragging in a broker. The concrete implementation,
// in the pahoclient subpackage, adapts paho.mqtt.golang to this surface;
// it is a thin wrapper, not a reimplementation of MQTT.
package mqttclient
