package routing

import (
	"sort"
	"sync"
	"time"
)

// DefaultAlpha is the EWMA smoothing factor applied to new latency samples.
const DefaultAlpha = 0.3

// Stats is a snapshot of observed provider performance.
type Stats struct {
	Provider    string        `json:"provider"`
	Latency     time.Duration `json:"latency_ewma"`
	Successes   uint64        `json:"successes"`
	Failures    uint64        `json:"failures"`
	LastLatency time.Duration `json:"last_latency"`
	LastSeen    time.Time     `json:"last_seen"`
}

// ErrorRate returns failures over total observations.
func (s Stats) ErrorRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(total)
}

// PerformanceTracker keeps an exponentially weighted moving average of
// per-provider latency plus success and failure counters.
type PerformanceTracker struct {
	mu    sync.RWMutex
	alpha float64
	stats map[string]*Stats
	now   func() time.Time
}

// NewPerformanceTracker creates a tracker; alpha outside (0,1] uses DefaultAlpha.
func NewPerformanceTracker(alpha float64) *PerformanceTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &PerformanceTracker{
		alpha: alpha,
		stats: make(map[string]*Stats),
		now:   time.Now,
	}
}

// Observe records one attempt outcome.
func (p *PerformanceTracker) Observe(id string, latency time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, exists := p.stats[id]
	if !exists {
		s = &Stats{Provider: id, Latency: latency}
		p.stats[id] = s
	} else {
		s.Latency = time.Duration(p.alpha*float64(latency) + (1-p.alpha)*float64(s.Latency))
	}
	s.LastLatency = latency
	s.LastSeen = p.now()
	if ok {
		s.Successes++
	} else {
		s.Failures++
	}
}

// Latency returns the smoothed latency of a provider, if observed.
func (p *PerformanceTracker) Latency(id string) (time.Duration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.stats[id]
	if !ok {
		return 0, false
	}
	return s.Latency, true
}

// Get returns the stats of one provider.
func (p *PerformanceTracker) Get(id string) (Stats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.stats[id]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// Snapshot returns stats for every observed provider, sorted by id.
func (p *PerformanceTracker) Snapshot() []Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Stats, 0, len(p.stats))
	for _, s := range p.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Forget drops the stats of a provider.
func (p *PerformanceTracker) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stats, id)
}
