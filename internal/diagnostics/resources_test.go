package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubMonitor(thresholds Thresholds) *ResourceMonitor {
	m := NewResourceMonitor("/data", thresholds)
	m.cpuPercent = func(context.Context, time.Duration) (float64, error) { return 91.26, nil }
	m.cpuCores = func(context.Context) (int, error) { return 8, nil }
	m.memory = func(context.Context) (memorySample, error) {
		return memorySample{used: 6 << 30, total: 16 << 30, percent: 37.5}, nil
	}
	m.diskUsage = func(_ context.Context, path string) (diskSample, error) {
		return diskSample{used: 45 << 30, total: 50 << 30, percent: 90}, nil
	}
	m.uptime = func(context.Context) (uint64, error) { return 3*86400 + 500, nil }
	return m
}

func TestSampleAndWarnings(t *testing.T) {
	m := stubMonitor(Thresholds{CPU: 90, Memory: 90, Disk: 90})

	res, err := m.Sample(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 91.3, res.CPUPercent)
	assert.Equal(t, 8, res.CPUCores)
	assert.Equal(t, 37.5, res.MemoryPercent)
	assert.Equal(t, uint64(6144), res.MemoryUsedMB)
	assert.Equal(t, uint64(16384), res.MemoryTotalMB)
	assert.Equal(t, "/data", res.DiskPath)
	assert.Equal(t, 45.0, res.DiskUsedGB)
	assert.Equal(t, 50.0, res.DiskTotalGB)
	assert.Equal(t, 3, res.UptimeDays)
	assert.Equal(t, []string{"cpu usage 91%", "disk usage 90%"}, res.Warnings)
	assert.Empty(t, res.Errors)
}

func TestSampleZeroThresholdDisablesWarning(t *testing.T) {
	res, err := stubMonitor(Thresholds{}).Sample(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Warnings)
	assert.Empty(t, res.Warnings)
}

func TestSamplePartialFailure(t *testing.T) {
	m := stubMonitor(Thresholds{Disk: 80})
	m.cpuPercent = func(context.Context, time.Duration) (float64, error) { return 0, errors.New("no /proc/stat") }

	res, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu: no /proc/stat"}, res.Errors)
	assert.Equal(t, []string{"disk usage 90%"}, res.Warnings)
}

func TestSampleTotalFailure(t *testing.T) {
	m := stubMonitor(Thresholds{})
	fail := errors.New("unsupported")
	m.cpuPercent = func(context.Context, time.Duration) (float64, error) { return 0, fail }
	m.memory = func(context.Context) (memorySample, error) { return memorySample{}, fail }
	m.diskUsage = func(context.Context, string) (diskSample, error) { return diskSample{}, fail }

	_, err := m.Sample(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read system resources")
}

func TestNewResourceMonitorDefaultsDiskPath(t *testing.T) {
	assert.Equal(t, "/", NewResourceMonitor("", Thresholds{}).diskPath)
}
