package core

import "time"

// GPUInfo holds best-effort GPU inventory attached to a system sample.
type GPUInfo struct {
	Name       string  `json:"name"`
	MemTotalMB float64 `json:"mem_total_mb,omitempty"`
}

// SystemMetricsSample is one atomic snapshot of host resource usage,
// taken on the sampler tick or synchronously on demand.
type SystemMetricsSample struct {
	Timestamp    time.Time `json:"timestamp"`
	CPUPercent   float64   `json:"cpu_percent"`
	MemUsedMB    float64   `json:"mem_used_mb"`
	MemTotalMB   float64   `json:"mem_total_mb"`
	MemPercent   float64   `json:"mem_percent"`
	DiskUsedGB   float64   `json:"disk_used_gb"`
	DiskTotalGB  float64   `json:"disk_total_gb"`
	DiskPercent  float64   `json:"disk_percent"`
	NetBytesSent uint64    `json:"net_bytes_sent"`
	NetBytesRecv uint64    `json:"net_bytes_recv"`
	ProcessCount int       `json:"process_count"`
	LoadAvg1     float64   `json:"load_avg_1,omitempty"`
	LoadAvg5     float64   `json:"load_avg_5,omitempty"`
	LoadAvg15    float64   `json:"load_avg_15,omitempty"`
	GPUs         []GPUInfo `json:"gpus,omitempty"`
}

// ModuleMetricsSample records one completed unit of work for a module.
type ModuleMetricsSample struct {
	Timestamp  time.Time      `json:"timestamp"`
	Module     string         `json:"module"`
	Operation  string         `json:"operation"`
	DurationMS float64        `json:"duration_ms"`
	MemoryMB   float64        `json:"memory_mb,omitempty"`
	CPUPercent float64        `json:"cpu_percent,omitempty"`
	Status     string         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
