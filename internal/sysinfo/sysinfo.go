// Package sysinfo reports host facts recorded with each capture run and live
// resource usage for the status API.
package sysinfo

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// HostInfo describes the machine a run was captured on.
type HostInfo struct {
	Hostname         string `json:"hostname"`
	OS               string `json:"os"`
	Arch             string `json:"arch"`
	Platform         string `json:"platform"`
	PlatformVersion  string `json:"platform_version,omitempty"`
	KernelVersion    string `json:"kernel_version,omitempty"`
	CPUModel         string `json:"cpu_model,omitempty"`
	CPUCores         int    `json:"cpu_cores"`
	MemoryTotalBytes uint64 `json:"memory_total_bytes"`
}

// Snapshot is a point-in-time view of resource usage.
type Snapshot struct {
	Hostname          string  `json:"hostname"`
	OS                string  `json:"os"`
	Arch              string  `json:"arch"`
	HostUptimeSec     int64   `json:"host_uptime_sec"`
	ProcessUptimeSec  float64 `json:"process_uptime_sec"`
	CPUCores          int     `json:"cpu_cores"`
	CPUPercent        float64 `json:"cpu_percent"`
	LoadAvg1m         float64 `json:"load_avg_1m"`
	LoadAvg5m         float64 `json:"load_avg_5m"`
	LoadAvg15m        float64 `json:"load_avg_15m"`
	MemoryTotalBytes  uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes   uint64  `json:"memory_used_bytes"`
	MemoryPercent     float64 `json:"memory_percent"`
	ProcessRSSBytes   uint64  `json:"process_rss_bytes"`
	ProcessCPUPercent float64 `json:"process_cpu_percent"`
	Goroutines        int     `json:"goroutines"`
}

// Host gathers host facts. Fields that cannot be read are left empty.
func Host(ctx context.Context) HostInfo {
	hostname, _ := os.Hostname()
	info := HostInfo{
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Platform: runtime.GOOS,
	}

	if h, err := host.InfoWithContext(ctx); err == nil {
		if h.Platform != "" {
			info.Platform = h.Platform
		}
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = cores
	} else {
		info.CPUCores = runtime.NumCPU()
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		info.CPUModel = infos[0].ModelName
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotalBytes = vm.Total
	}

	return info
}

// Collector produces Snapshots for the current process.
type Collector struct {
	hostname  string
	startTime time.Time
	proc      *process.Process
}

// NewCollector creates a Collector. Process metrics are omitted when the
// current process cannot be inspected.
func NewCollector() *Collector {
	hostname, _ := os.Hostname()
	c := &Collector{hostname: hostname, startTime: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// Collect gathers current resource usage. It never fails; unreadable values
// are zero.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	s := Snapshot{
		Hostname:         c.hostname,
		OS:               runtime.GOOS,
		Arch:             runtime.GOARCH,
		ProcessUptimeSec: time.Since(c.startTime).Seconds(),
		Goroutines:       runtime.NumGoroutine(),
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		s.HostUptimeSec = int64(uptime)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUCores = cores
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.LoadAvg1m = avg.Load1
		s.LoadAvg5m = avg.Load5
		s.LoadAvg15m = avg.Load15
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotalBytes = vm.Total
		s.MemoryUsedBytes = vm.Used
		s.MemoryPercent = vm.UsedPercent
	}

	if c.proc != nil {
		if mi, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSSBytes = mi.RSS
		}
		if pct, err := c.proc.CPUPercentWithContext(ctx); err == nil {
			s.ProcessCPUPercent = pct
		}
	}

	return s
}
