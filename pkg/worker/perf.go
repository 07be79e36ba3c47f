package worker

import (
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const perfWindow = 256

// perfMonitor keeps the latencies of the most recent requests.
type perfMonitor struct {
	mu       sync.Mutex
	samples  []float64
	next     int
	requests int64
}

func newPerfMonitor() *perfMonitor {
	return &perfMonitor{samples: make([]float64, 0, perfWindow)}
}

func (p *perfMonitor) record(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests++
	ms := float64(d.Microseconds()) / 1000
	if len(p.samples) < perfWindow {
		p.samples = append(p.samples, ms)
		return
	}
	p.samples[p.next] = ms
	p.next = (p.next + 1) % perfWindow
}

func (p *perfMonitor) count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// quantile returns the q-quantile of the window in milliseconds, or 0 when no
// request has been recorded.
func (p *perfMonitor) quantile(q float64) float64 {
	p.mu.Lock()
	sorted := slices.Clone(p.samples)
	p.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}
