package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Resources is a snapshot of box utilisation. Percentages are 0-100.
type Resources struct {
	CPUPercent    float64  `json:"cpu_percent"`
	CPUCores      int      `json:"cpu_cores,omitempty"`
	MemoryPercent float64  `json:"memory_percent"`
	MemoryUsedMB  uint64   `json:"memory_used_mb"`
	MemoryTotalMB uint64   `json:"memory_total_mb"`
	DiskPath      string   `json:"disk_path"`
	DiskPercent   float64  `json:"disk_percent"`
	DiskUsedGB    float64  `json:"disk_used_gb"`
	DiskTotalGB   float64  `json:"disk_total_gb"`
	UptimeDays    int      `json:"uptime_days"`
	Warnings      []string `json:"warnings"`
	// Errors lists metrics that could not be read.
	Errors []string `json:"errors,omitempty"`
}

// Thresholds are the warning levels in percent. Zero disables a warning.
type Thresholds struct {
	CPU    float64
	Memory float64
	Disk   float64
}

type memorySample struct {
	used, total uint64
	percent     float64
}

type diskSample struct {
	used, total uint64
	percent     float64
}

// ResourceMonitor samples CPU, memory, disk and uptime with gopsutil.
type ResourceMonitor struct {
	diskPath   string
	thresholds Thresholds
	interval   time.Duration

	cpuPercent func(ctx context.Context, interval time.Duration) (float64, error)
	cpuCores   func(ctx context.Context) (int, error)
	memory     func(ctx context.Context) (memorySample, error)
	diskUsage  func(ctx context.Context, path string) (diskSample, error)
	uptime     func(ctx context.Context) (uint64, error)
}

// NewResourceMonitor creates a monitor for the filesystem at diskPath.
func NewResourceMonitor(diskPath string, thresholds Thresholds) *ResourceMonitor {
	if diskPath == "" {
		diskPath = "/"
	}
	return &ResourceMonitor{
		diskPath:   diskPath,
		thresholds: thresholds,
		interval:   500 * time.Millisecond,
		cpuPercent: func(ctx context.Context, interval time.Duration) (float64, error) {
			values, err := cpu.PercentWithContext(ctx, interval, false)
			if err != nil {
				return 0, err
			}
			if len(values) == 0 {
				return 0, fmt.Errorf("no cpu samples")
			}
			return values[0], nil
		},
		cpuCores: func(ctx context.Context) (int, error) {
			return cpu.CountsWithContext(ctx, true)
		},
		memory: func(ctx context.Context) (memorySample, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return memorySample{}, err
			}
			return memorySample{used: vm.Used, total: vm.Total, percent: vm.UsedPercent}, nil
		},
		diskUsage: func(ctx context.Context, path string) (diskSample, error) {
			u, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return diskSample{}, err
			}
			return diskSample{used: u.Used, total: u.Total, percent: u.UsedPercent}, nil
		},
		uptime: host.UptimeWithContext,
	}
}

// Sample reads all metrics. A metric that cannot be read is listed in
// Errors; Sample only fails when nothing could be read.
func (m *ResourceMonitor) Sample(ctx context.Context) (*Resources, error) {
	res := &Resources{DiskPath: m.diskPath, Warnings: []string{}}
	read := 0

	if pct, err := m.cpuPercent(ctx, m.interval); err != nil {
		res.Errors = append(res.Errors, "cpu: "+err.Error())
	} else {
		res.CPUPercent = round1(pct)
		read++
	}
	if cores, err := m.cpuCores(ctx); err == nil {
		res.CPUCores = cores
	}

	if vm, err := m.memory(ctx); err != nil {
		res.Errors = append(res.Errors, "memory: "+err.Error())
	} else {
		res.MemoryPercent = round1(vm.percent)
		res.MemoryUsedMB = vm.used / (1024 * 1024)
		res.MemoryTotalMB = vm.total / (1024 * 1024)
		read++
	}

	if du, err := m.diskUsage(ctx, m.diskPath); err != nil {
		res.Errors = append(res.Errors, "disk: "+err.Error())
	} else {
		res.DiskPercent = round1(du.percent)
		res.DiskUsedGB = round1(float64(du.used) / (1 << 30))
		res.DiskTotalGB = round1(float64(du.total) / (1 << 30))
		read++
	}

	if secs, err := m.uptime(ctx); err == nil {
		res.UptimeDays = int(secs / 86400)
	}

	if read == 0 {
		return nil, fmt.Errorf("failed to read system resources: %v", res.Errors)
	}
	res.Warnings = m.warnings(res)
	return res, nil
}

func (m *ResourceMonitor) warnings(res *Resources) []string {
	warnings := []string{}
	if m.thresholds.CPU > 0 && res.CPUPercent >= m.thresholds.CPU {
		warnings = append(warnings, fmt.Sprintf("cpu usage %.0f%%", res.CPUPercent))
	}
	if m.thresholds.Memory > 0 && res.MemoryPercent >= m.thresholds.Memory {
		warnings = append(warnings, fmt.Sprintf("memory usage %.0f%%", res.MemoryPercent))
	}
	if m.thresholds.Disk > 0 && res.DiskPercent >= m.thresholds.Disk {
		warnings = append(warnings, fmt.Sprintf("disk usage %.0f%%", res.DiskPercent))
	}
	return warnings
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
