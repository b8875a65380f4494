// Package monitor runs the periodic broker measurement loop.
//
// On each tick it connects a short-lived MQTT client to every registered
// broker, measures latency, throughput, and reported connection count on
// independent cadences, and folds the results back into a Registry. Metric
// updates and switch suggestions are delivered to the Session Manager via
// callbacks; the Monitor never mutates connection state itself.
package monitor
