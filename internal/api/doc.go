// Package api implements the brokerpilot admin HTTP API and WebSocket feed.
//
// This package provides:
//   - Read endpoints for health, the broker registry snapshot, and offline
//     queue depth
//   - JWT-protected mutating endpoints for manual broker overrides
//     (mark-unavailable / restore)
//   - A WebSocket hub that relays Monitor metric updates and the Session
//     Manager's connected and connection-lost events to connected clients
//     in real time (a broker swap shows up as a connected event for the
//     new broker)
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server wraps a single session.Manager. It never participates in
// the selection/swap/queue invariants that the Session Manager owns — it is
// ambient observability and manual-override tooling, not part of the core
// control loop. Everything it reports comes from session.Manager's own
// query methods and callbacks.
//
// # Security
//
// Authentication uses JWT tokens minted by internal/auth against a single
// dev-only credential pair (see internal/auth for why). WebSocket
// connections authenticate via a single-use ticket to avoid putting a
// bearer token in a URL.
package api
