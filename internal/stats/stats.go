// Package stats samples process and host resource usage for the status
// endpoint and periodic status events.
package stats

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one point-in-time reading. Fields that could not be sampled
// are zero; a degraded reading is still a reading.
type Snapshot struct {
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	Goroutines     int     `json:"goroutines"`
	CPUPercent     float64 `json:"cpuPercent"`
	RSSBytes       uint64  `json:"rssBytes"`
	HostMemUsedPct float64 `json:"hostMemUsedPct"`
}

// Collector samples the current process.
type Collector struct {
	proc    *process.Process
	started time.Time
}

func NewCollector() *Collector {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &Collector{proc: proc, started: time.Now()}
}

// Snapshot returns current readings. Sampling failures degrade to zero
// values rather than failing the caller.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if c.proc != nil {
		if cpu, err := c.proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
		if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
			snap.RSSBytes = info.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		snap.HostMemUsedPct = vm.UsedPercent
	}
	return snap
}
