package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics holds CPU and memory metrics for a single process
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	Service    string    `json:"service"`
	Node       string    `json:"node"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

var (
	processCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sshapp",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of application processes on local nodes.",
		}, []string{"service", "node", "pid"},
	)
	processMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sshapp",
			Subsystem: "process",
			Name:      "memory_mb",
			Help:      "Resident memory in MB of application processes on local nodes.",
		}, []string{"service", "node", "pid"},
	)
	processNumThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sshapp",
			Subsystem: "process",
			Name:      "num_threads",
			Help:      "Number of threads of application processes on local nodes.",
		}, []string{"service", "node", "pid"},
	)
)

// SampleProcesses reads resource usage for pids on this machine and updates
// the process gauges. Processes that vanished in between are skipped.
func SampleProcesses(service, node string, pids []int) []ProcessMetrics {
	now := time.Now()
	out := make([]ProcessMetrics, 0, len(pids))
	for _, pid := range pids {
		m, err := sampleProcess(int32(pid), now) // #nosec G115 -- pids fit in int32
		if err != nil {
			slog.Debug("Failed to collect metrics for process", "service", service, "pid", pid, "error", err)
			continue
		}
		m.Service = service
		m.Node = node
		out = append(out, *m)
		if regOK.Load() {
			p := strconv.Itoa(pid)
			processCPUPercent.WithLabelValues(service, node, p).Set(m.CPUPercent)
			processMemoryMB.WithLabelValues(service, node, p).Set(m.MemoryMB)
			processNumThreads.WithLabelValues(service, node, p).Set(float64(m.NumThreads))
		}
	}
	return out
}

// ForgetProcesses drops the process gauges of a service, e.g. after it stopped.
func ForgetProcesses(service string) {
	l := prometheus.Labels{"service": service}
	processCPUPercent.DeletePartialMatch(l)
	processMemoryMB.DeletePartialMatch(l)
	processNumThreads.DeletePartialMatch(l)
}

func sampleProcess(pid int32, ts time.Time) (*ProcessMetrics, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	m := &ProcessMetrics{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		Timestamp:  ts,
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			m.NumFDs = n
		}
	}
	return m, nil
}
