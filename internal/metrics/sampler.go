// Package metrics samples host resource usage and keeps a per-module
// ledger of operation outcomes. System sampling is best-effort: probe
// failures leave fields zeroed rather than failing the sample.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

const gpuCacheTTL = 5 * time.Minute

// Sampler produces one system metrics snapshot per call.
type Sampler interface {
	Sample() core.SystemMetricsSample
}

// SystemSampler reads host usage through gopsutil. CPU percent is
// computed from the delta between consecutive reads, so the first sample
// after start reports zero CPU.
type SystemSampler struct {
	mu           sync.Mutex
	lastCPUTotal float64
	lastCPUIdle  float64

	diskPath string

	lastGPUProbe time.Time
	gpuCache     []core.GPUInfo
}

// NewSystemSampler creates a sampler that reports disk usage for path.
func NewSystemSampler(diskPath string) *SystemSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemSampler{diskPath: diskPath}
}

// Sample gathers one snapshot. Individual probe failures are tolerated.
func (s *SystemSampler) Sample() core.SystemMetricsSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := core.SystemMetricsSample{Timestamp: time.Now()}
	s.sampleCPU(&sample)
	s.sampleMemory(&sample)
	s.sampleDisk(&sample)
	s.sampleNetwork(&sample)
	s.sampleLoad(&sample)
	s.sampleProcesses(&sample)
	s.sampleGPU(&sample)
	return sample
}

func (s *SystemSampler) sampleCPU(sample *core.SystemMetricsSample) {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return
	}

	t := times[0]
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	idle := t.Idle + t.Iowait

	if s.lastCPUTotal > 0 {
		totalDelta := total - s.lastCPUTotal
		idleDelta := idle - s.lastCPUIdle
		if totalDelta > 0 {
			sample.CPUPercent = (1 - idleDelta/totalDelta) * 100
		}
	}
	s.lastCPUTotal = total
	s.lastCPUIdle = idle
}

func (s *SystemSampler) sampleMemory(sample *core.SystemMetricsSample) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	sample.MemTotalMB = float64(vm.Total) / 1024 / 1024
	sample.MemUsedMB = float64(vm.Used) / 1024 / 1024
	sample.MemPercent = vm.UsedPercent
}

func (s *SystemSampler) sampleDisk(sample *core.SystemMetricsSample) {
	usage, err := disk.Usage(s.diskPath)
	if err != nil {
		return
	}
	sample.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
	sample.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
	sample.DiskPercent = usage.UsedPercent
}

func (s *SystemSampler) sampleNetwork(sample *core.SystemMetricsSample) {
	counters, err := net.IOCounters(false)
	if err != nil || len(counters) == 0 {
		return
	}
	sample.NetBytesSent = counters[0].BytesSent
	sample.NetBytesRecv = counters[0].BytesRecv
}

func (s *SystemSampler) sampleLoad(sample *core.SystemMetricsSample) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	sample.LoadAvg1 = avg.Load1
	sample.LoadAvg5 = avg.Load5
	sample.LoadAvg15 = avg.Load15
}

func (s *SystemSampler) sampleProcesses(sample *core.SystemMetricsSample) {
	pids, err := process.Pids()
	if err != nil {
		return
	}
	sample.ProcessCount = len(pids)
}

// sampleGPU reads the GPU inventory through ghw. Inventory is static per
// host so the probe result is cached.
func (s *SystemSampler) sampleGPU(sample *core.SystemMetricsSample) {
	now := time.Now()
	if now.Sub(s.lastGPUProbe) < gpuCacheTTL && s.gpuCache != nil {
		sample.GPUs = append([]core.GPUInfo(nil), s.gpuCache...)
		return
	}
	s.gpuCache = probeGPUs()
	s.lastGPUProbe = now
	sample.GPUs = append([]core.GPUInfo(nil), s.gpuCache...)
}

func probeGPUs() []core.GPUInfo {
	info, err := ghw.GPU()
	if err != nil || info == nil || len(info.GraphicsCards) == 0 {
		return nil
	}

	gpus := make([]core.GPUInfo, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		name := ""
		if card.DeviceInfo != nil {
			switch {
			case card.DeviceInfo.Vendor != nil && card.DeviceInfo.Product != nil:
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name + " " + card.DeviceInfo.Product.Name)
			case card.DeviceInfo.Product != nil:
				name = strings.TrimSpace(card.DeviceInfo.Product.Name)
			case card.DeviceInfo.Vendor != nil:
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name)
			}
		}
		if name == "" {
			name = fmt.Sprintf("GPU %d", card.Index)
		}
		gpus = append(gpus, core.GPUInfo{Name: name})
	}
	return gpus
}
