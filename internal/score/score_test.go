package score

import "testing"

func TestScore_CategoryWeights(t *testing.T) {
	tests := []struct {
		name     string
		metrics  Metrics
		category string
		want     float64
	}{
		{
			name:     "camera profile with moderate metrics",
			metrics:  Metrics{LatencyMS: 50, BandwidthBPS: 500_000, ConnectionCount: 50, Available: true},
			category: "camera",
			want:     0.5,
		},
		{
			name:     "sensor profile with the same moderate metrics",
			metrics:  Metrics{LatencyMS: 50, BandwidthBPS: 500_000, ConnectionCount: 50, Available: true},
			category: "sensor",
			want:     0.5,
		},
		{
			name:     "camera profile with strong metrics",
			metrics:  Metrics{LatencyMS: 10, BandwidthBPS: 2_000_000, ConnectionCount: 10, Available: true},
			category: "camera",
			want:     0.96,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.metrics, WeightsForCategory(tt.category))
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_UnavailableIsAlwaysZero(t *testing.T) {
	m := Metrics{LatencyMS: 1, BandwidthBPS: 10_000_000, ConnectionCount: 1, Available: false}
	if got := Score(m, WeightsForCategory("sensor")); got != 0 {
		t.Errorf("Score() on unavailable broker = %v, want 0", got)
	}
}

func TestScore_BoundedZeroToOne(t *testing.T) {
	cases := []Metrics{
		{LatencyMS: 0, BandwidthBPS: 0, ConnectionCount: 0, Available: true},
		{LatencyMS: 1000, BandwidthBPS: 10, ConnectionCount: 1000, Available: true},
		{LatencyMS: 0.001, BandwidthBPS: 100_000_000, ConnectionCount: 0.001, Available: true},
	}
	for _, m := range cases {
		got := Score(m, WeightsForCategory("sensor"))
		if got < 0 || got > 1 {
			t.Errorf("Score(%+v) = %v, want in [0,1]", m, got)
		}
	}
}

func TestWeightsForCategory_UnknownFallsBackToSensor(t *testing.T) {
	got := WeightsForCategory("something-unrecognised")
	want := WeightsForCategory("sensor")
	if got != want {
		t.Errorf("WeightsForCategory(unknown) = %+v, want %+v", got, want)
	}
}
