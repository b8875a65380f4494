package registry

import (
	"sync"
	"time"

	"github.com/brokerpilot/core/internal/score"
)

// SwitchHysteresis is the minimum score advantage the best available broker
// must hold over the current one before a swap is suggested.
const SwitchHysteresis = 0.10

// Broker is a point-in-time snapshot of one candidate broker's state. It is
// returned by value from every query method; mutating it has no effect on
// the registry.
type Broker struct {
	URI             string
	LatencyMS       float64
	BandwidthBPS    float64
	ConnectionCount float64
	Score           float64
	Available       bool
	LastCheck       time.Time
}

// Registry is the thread-safe collection of candidate brokers for one
// session. Every broker in a registry shares the same category weight
// profile, fixed at construction.
type Registry struct {
	mu           sync.Mutex
	brokers      []Broker
	currentIndex int
	weights      score.Weights
}

// New creates an empty registry that scores brokers using the weight
// profile for category.
func New(category string) *Registry {
	return &Registry{
		currentIndex: -1,
		weights:      score.WeightsForCategory(category),
	}
}

// Add inserts uri if not already present. If the registry was empty, the
// new entry becomes current.
func (r *Registry) Add(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(uri) >= 0 {
		return
	}

	r.brokers = append(r.brokers, Broker{URI: uri, Available: true})
	if len(r.brokers) == 1 {
		r.currentIndex = 0
	}
}

// Remove deletes uri. If it was current, the current index is re-anchored:
// it shifts left when the removed entry preceded it, and clamps to the new
// last index when the removed entry was at or above it.
func (r *Registry) Remove(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(uri)
	if idx < 0 {
		return
	}

	r.brokers = append(r.brokers[:idx], r.brokers[idx+1:]...)

	switch {
	case len(r.brokers) == 0:
		r.currentIndex = -1
	case idx < r.currentIndex:
		r.currentIndex--
	case idx == r.currentIndex:
		if r.currentIndex >= len(r.brokers) {
			r.currentIndex = len(r.brokers) - 1
		}
	}
}

// Clear drops every record and resets the current index.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.brokers = nil
	r.currentIndex = -1
}

// SetCurrent marks uri current. Returns false if uri is not registered.
func (r *Registry) SetCurrent(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(uri)
	if idx < 0 {
		return false
	}
	r.currentIndex = idx
	return true
}

// Current returns the current broker's snapshot and true, or a zero value
// and false if no broker is current.
func (r *Registry) Current() (Broker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentIndex < 0 || r.currentIndex >= len(r.brokers) {
		return Broker{}, false
	}
	return r.brokers[r.currentIndex], true
}

// CurrentURI returns the current broker's URI and true, or "" and false.
func (r *Registry) CurrentURI() (string, bool) {
	b, ok := r.Current()
	if !ok {
		return "", false
	}
	return b.URI, true
}

// All returns an ordered snapshot of every registered broker.
func (r *Registry) All() []Broker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Broker, len(r.brokers))
	copy(out, r.brokers)
	return out
}

// URIs returns the registered URIs in registration order.
func (r *Registry) URIs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.brokers))
	for i, b := range r.brokers {
		out[i] = b.URI
	}
	return out
}

// SetBrokers replaces the registry contents with uris, dropping duplicates
// and preserving first-seen order. The current index is reset to 0 if the
// new list is non-empty, else to -1.
func (r *Registry) SetBrokers(uris []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(uris))
	brokers := make([]Broker, 0, len(uris))
	for _, u := range uris {
		if seen[u] {
			continue
		}
		seen[u] = true
		brokers = append(brokers, Broker{URI: u, Available: true})
	}

	r.brokers = brokers
	if len(brokers) > 0 {
		r.currentIndex = 0
	} else {
		r.currentIndex = -1
	}
}

// UpdateMetrics replaces uri's latency, bandwidth, and connection-count
// readings, stamps last_check, and recomputes its score under the
// registry's weight profile. No-op if uri is not registered.
func (r *Registry) UpdateMetrics(uri string, latencyMS, bandwidthBPS, connectionCount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(uri)
	if idx < 0 {
		return
	}

	b := &r.brokers[idx]
	b.LatencyMS = latencyMS
	b.BandwidthBPS = bandwidthBPS
	b.ConnectionCount = connectionCount
	b.LastCheck = time.Now()
	b.Score = r.computeScore(*b)
}

// MarkUnavailable clears uri's availability and forces its score to 0.
func (r *Registry) MarkUnavailable(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(uri)
	if idx < 0 {
		return
	}
	r.brokers[idx].Available = false
	r.brokers[idx].Score = 0
}

// MarkAvailable sets uri's availability and recomputes its score from the
// last recorded metrics.
func (r *Registry) MarkAvailable(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(uri)
	if idx < 0 {
		return
	}
	r.brokers[idx].Available = true
	r.brokers[idx].Score = r.computeScore(r.brokers[idx])
}

// Best returns the highest-scoring available broker, ties broken by
// registration order. Returns false if no broker is available.
func (r *Registry) Best() (Broker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := -1
	for i, b := range r.brokers {
		if !b.Available {
			continue
		}
		if best < 0 || b.Score > r.brokers[best].Score {
			best = i
		}
	}
	if best < 0 {
		return Broker{}, false
	}
	return r.brokers[best], true
}

// ShouldSwitch reports whether the best available broker beats the current
// one by more than SwitchHysteresis. False if either is absent, or if best
// and current are the same broker.
func (r *Registry) ShouldSwitch() bool {
	best, ok := r.Best()
	if !ok {
		return false
	}

	r.mu.Lock()
	current, ok := Broker{}, r.currentIndex >= 0 && r.currentIndex < len(r.brokers)
	if ok {
		current = r.brokers[r.currentIndex]
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if best.URI == current.URI {
		return false
	}
	return best.Score-current.Score > SwitchHysteresis
}

// indexOf returns the index of uri, or -1. Callers must hold r.mu.
func (r *Registry) indexOf(uri string) int {
	for i, b := range r.brokers {
		if b.URI == uri {
			return i
		}
	}
	return -1
}

// computeScore scores b under the registry's weight profile. Callers must
// hold r.mu.
func (r *Registry) computeScore(b Broker) float64 {
	return score.Score(score.Metrics{
		LatencyMS:       b.LatencyMS,
		BandwidthBPS:    b.BandwidthBPS,
		ConnectionCount: b.ConnectionCount,
		Available:       b.Available,
	}, r.weights)
}
