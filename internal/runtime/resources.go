package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the process, reported next to the
// session counters.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

const cpuSampleName = "/cpu/classes/total:cpu-seconds"

// resourceTracker derives CPU usage from the delta between two samples, so
// the first snapshot always reports zero CPU.
type resourceTracker struct {
	mu       sync.Mutex
	samples  []metrics.Sample
	lastCPU  float64
	lastWall time.Time
	numCPU   float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: cpuSampleName}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = []metrics.Sample{{Name: cpuSampleName}}
	}
	metrics.Read(r.samples)
	now := time.Now()

	var usage ResourceUsage
	if v := r.samples[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if !r.lastWall.IsZero() && r.numCPU > 0 {
			if wall := now.Sub(r.lastWall).Seconds(); wall > 0 {
				usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
			}
		}
		r.lastCPU = cpu
	}
	r.lastWall = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = runtime.NumGoroutine()
	return usage
}
