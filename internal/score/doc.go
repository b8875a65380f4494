// Package score computes a broker's fitness as a scalar in [0, 1] from its
// most recently measured latency, bandwidth, and connection count.
//
// The function is pure and stateless: the same metrics and weights always
// produce the same score, with no ordering sensitivity. Weight profiles are
// selected by device category from a fixed lookup table.
package score
