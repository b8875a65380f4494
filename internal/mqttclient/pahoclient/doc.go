// Package pahoclient adapts paho.mqtt.golang to the mqttclient.Client
// interface: one broker URI, one client ID, one persistence directory per
// instance, matching the constructor shape the core's external-interface
// contract specifies.
package pahoclient
