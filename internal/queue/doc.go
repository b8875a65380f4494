// Package queue implements the bounded FIFO buffer of publishes captured
// while a session is disconnected.
//
// Overflow drops the oldest entry rather than rejecting the newest, on the
// assumption that fresher telemetry is more valuable than stale telemetry
// once a backlog has built up.
package queue
