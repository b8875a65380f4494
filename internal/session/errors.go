package session

import "errors"

// ErrNotConnected is returned by Subscribe/Unsubscribe when no broker is
// currently connected; publishes never return this error, they queue
// instead.
var ErrNotConnected = errors.New("session: not connected")

// ErrNoBrokersConfigured is logged by a fall-through pass that finds no
// available candidate broker to try; Connect reports that case by
// returning false.
var ErrNoBrokersConfigured = errors.New("session: no brokers configured")
