package score

// Baseline constants the score components are normalised against. Fixed by
// design, not configurable.
const (
	baselineLatencyMS      = 100.0
	baselineBandwidthBPS   = 1_000_000.0
	baselineConnectionConn = 100.0
)

// Metrics is a broker's most recently measured performance sample.
type Metrics struct {
	LatencyMS       float64
	BandwidthBPS    float64
	ConnectionCount float64
	Available       bool
}

// Score computes the weighted fitness of a broker from its metrics. An
// unavailable broker always scores 0, regardless of its metrics.
func Score(m Metrics, w Weights) float64 {
	if !m.Available {
		return 0
	}

	latencyComponent := 0.0
	if m.LatencyMS > 0 {
		latencyComponent = max0(1 - m.LatencyMS/baselineLatencyMS)
	}

	bandwidthComponent := 0.0
	if m.BandwidthBPS > 0 {
		bandwidthComponent = min1(m.BandwidthBPS / baselineBandwidthBPS)
	}

	connectionComponent := 0.0
	if m.ConnectionCount > 0 {
		connectionComponent = max0(1 - m.ConnectionCount/baselineConnectionConn)
	}

	return w.Latency*latencyComponent + w.Bandwidth*bandwidthComponent + w.Connection*connectionComponent
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
