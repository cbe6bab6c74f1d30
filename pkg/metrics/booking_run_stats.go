// Package metrics keeps in-process statistics about pipeline runs.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of durations.
type LatencyTracker struct {
	mu         sync.Mutex
	samples    []int64 // microseconds
	maxSamples int
}

func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.maxSamples {
		drop := lt.maxSamples / 10
		if drop < 1 {
			drop = 1
		}
		lt.samples = lt.samples[drop:]
	}
	lt.samples = append(lt.samples, d.Microseconds())
}

// LatencyStats summarizes a window in milliseconds.
type LatencyStats struct {
	Samples int     `json:"samples"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	sorted := append([]int64(nil), lt.samples...)
	lt.mu.Unlock()

	n := len(sorted)
	if n == 0 {
		return LatencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	ms := func(us int64) float64 { return float64(us) / 1000 }
	at := func(p float64) int64 { return sorted[int(float64(n-1)*p)] }

	return LatencyStats{
		Samples: n,
		AvgMS:   ms(sum / int64(n)),
		P50MS:   ms(at(0.50)),
		P95MS:   ms(at(0.95)),
		MaxMS:   ms(sorted[n-1]),
	}
}

// SourceStats is the snapshot for one run source.
type SourceStats struct {
	Runs     int64            `json:"runs"`
	ByAction map[string]int64 `json:"by_action"`
	ByError  map[string]int64 `json:"by_error,omitempty"`
	Latency  LatencyStats     `json:"latency"`
}

type sourceEntry struct {
	runs     int64
	byAction map[string]int64
	byError  map[string]int64
	latency  *LatencyTracker
}

// RunRegistry counts runs per source (http, stream, imap, ...).
type RunRegistry struct {
	mu      sync.Mutex
	sources map[string]*sourceEntry
	window  int
}

func NewRunRegistry(windowSize int) *RunRegistry {
	return &RunRegistry{sources: make(map[string]*sourceEntry), window: windowSize}
}

// Record counts one finished run. errorCode may be empty.
func (r *RunRegistry) Record(source, action, errorCode string, d time.Duration) {
	r.mu.Lock()
	e, ok := r.sources[source]
	if !ok {
		e = &sourceEntry{
			byAction: make(map[string]int64),
			byError:  make(map[string]int64),
			latency:  NewLatencyTracker(r.window),
		}
		r.sources[source] = e
	}
	e.runs++
	e.byAction[action]++
	if errorCode != "" {
		e.byError[errorCode]++
	}
	r.mu.Unlock()

	e.latency.Record(d)
}

// Snapshot copies the current counters.
func (r *RunRegistry) Snapshot() map[string]SourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]SourceStats, len(r.sources))
	for name, e := range r.sources {
		s := SourceStats{
			Runs:     e.runs,
			ByAction: make(map[string]int64, len(e.byAction)),
			ByError:  make(map[string]int64, len(e.byError)),
			Latency:  e.latency.Stats(),
		}
		for k, v := range e.byAction {
			s.ByAction[k] = v
		}
		for k, v := range e.byError {
			s.ByError[k] = v
		}
		out[name] = s
	}
	return out
}

var (
	globalRegistry     *RunRegistry
	globalRegistryOnce sync.Once
)

// Runs returns the process-wide registry.
func Runs() *RunRegistry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRunRegistry(1000)
	})
	return globalRegistry
}
