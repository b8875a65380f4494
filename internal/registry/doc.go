// Package registry holds the set of candidate MQTT brokers a session can
// bind to, their most recently measured metrics, and the current-broker
// marker.
//
// All state lives behind a single mutex; callers never see a live record,
// only point-in-time snapshots, so a snapshot can safely cross goroutine
// boundaries (the admin API and the websocket feed both hold onto one
// after the registry has moved on).
package registry
