// Package sysstats samples process and host resource usage for the
// /healthz endpoint: gopsutil CPU sampling plus runtime.MemStats,
// reduced to the plain read-only snapshot a health check needs rather
// than a continuously-smoothed gauge feed.
package sysstats

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time resource reading.
type Snapshot struct {
	CPUPercent    float64
	MemoryUsedMB  float64
	MemoryTotalMB float64
	HeapAllocMB   float64
	Goroutines    int
	Uptime        time.Duration
}

// Sampler reports Snapshots relative to its own construction time.
type Sampler struct {
	start time.Time
}

// New builds a Sampler whose Uptime is measured from this call.
func New() *Sampler {
	return &Sampler{start: time.Now()}
}

// Sample takes a fresh reading. The CPU percentage call blocks
// briefly (gopsutil samples over a short interval); callers should not
// invoke Sample on a hot path.
func (s *Sampler) Sample(cpuSampleWindow time.Duration) Snapshot {
	var cpuPercent float64
	if pcts, err := cpu.Percent(cpuSampleWindow, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	}

	var memUsedMB, memTotalMB float64
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsedMB = float64(vm.Used) / (1 << 20)
		memTotalMB = float64(vm.Total) / (1 << 20)
	}

	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)

	return Snapshot{
		CPUPercent:    cpuPercent,
		MemoryUsedMB:  memUsedMB,
		MemoryTotalMB: memTotalMB,
		HeapAllocMB:   float64(rt.HeapAlloc) / (1 << 20),
		Goroutines:    runtime.NumGoroutine(),
		Uptime:        time.Since(s.start),
	}
}
