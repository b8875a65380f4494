// Package session is the orchestrator an application embeds: it owns the
// single active MQTT client, drives the connection state machine, performs
// fall-through on connect failure and hot-swap migration on a Monitor's
// switch suggestion, and flushes the Offline Queue on every (re)connect.
//
// The Manager is the only mutator of the active-client slot; the Registry
// and Offline Queue it wraps remain safe for the Monitor and application
// goroutines to read and write concurrently.
package session
