package server

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcMetrics is one process-metrics reading for a running instance.
type ProcMetrics struct {
	PID        int32
	RSSBytes   uint64
	CPUPercent float64
}

type cpuSample struct {
	pid      int32
	at       time.Time
	cpuTotal float64 // cumulative process CPU seconds
}

// procReader abstracts the per-pid reads so tests can fake them.
type procReader interface {
	ReadProc(pid int32) (rssBytes uint64, cpuSeconds float64, err error)
}

type gopsReader struct{}

func (gopsReader) ReadProc(pid int32) (uint64, float64, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return 0, 0, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	times, err := p.Times()
	if err != nil {
		return 0, 0, err
	}
	return mem.RSS, times.User + times.System, nil
}

// ProcStats computes per-instance CPU percentages from deltas between
// consecutive samples. The state is keyed by instance name, created on
// the first query and discarded with Forget when the instance is
// deleted. The first sample after a supervisor (re)start, and the
// first sample after a pid change, always report 0%.
type ProcStats struct {
	mu      sync.Mutex
	samples map[string]cpuSample
	reader  procReader
	now     func() time.Time
}

// NewProcStats creates an empty metrics sampler.
func NewProcStats() *ProcStats {
	return &ProcStats{
		samples: make(map[string]cpuSample),
		reader:  gopsReader{},
		now:     time.Now,
	}
}

// Sample reads pid/RSS/CPU for one running instance.
func (ps *ProcStats) Sample(instance string, pid int32) (ProcMetrics, error) {
	rss, cpuTotal, err := ps.reader.ReadProc(pid)
	if err != nil {
		return ProcMetrics{}, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	prev, ok := ps.samples[instance]
	ps.samples[instance] = cpuSample{pid: pid, at: now, cpuTotal: cpuTotal}

	metrics := ProcMetrics{PID: pid, RSSBytes: rss}
	if !ok || prev.pid != pid {
		return metrics, nil
	}

	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return metrics, nil
	}

	usage := (cpuTotal - prev.cpuTotal) / elapsed * 100
	if usage < 0 {
		usage = 0
	}
	metrics.CPUPercent = usage

	return metrics, nil
}

// Forget drops the sample state for a deleted instance.
func (ps *ProcStats) Forget(instance string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.samples, instance)
}
