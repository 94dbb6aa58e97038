package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/INLOpen/lender/metrics"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const defaultMonitorInterval = 15 * time.Second

// SystemCollector is responsible for periodically collecting system-level metrics
// like CPU and Disk usage and publishing them as Prometheus gauges.
type SystemCollector struct {
	diskPath string
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewSystemCollector creates a new collector.
// diskPath should be the path of the disk to monitor (e.g., the local store root).
func NewSystemCollector(diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if interval < 2*time.Second {
		interval = 2 * time.Second
	}
	return &SystemCollector{
		diskPath: diskPath,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger.With("component", "SystemCollector"),
	}
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to finish.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() {
		sc.logger.Info("Stopping system metrics collector")
		close(sc.stopChan)
	})
	sc.wg.Wait()
}

// collect takes one sample of every gauge.
func (sc *SystemCollector) collect() {
	// The interval for cpu.Percent should be slightly less than the ticker interval
	// to avoid race conditions where the next tick arrives before the measurement is done.
	cpuPercentages, err := cpu.Percent(sc.interval-time.Second, false)
	if err == nil && len(cpuPercentages) > 0 {
		metrics.SystemCPUPercent.Set(cpuPercentages[0])
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		metrics.SystemMemPercent.Set(vm.UsedPercent)
	}

	if du, err := disk.Usage(sc.diskPath); err == nil {
		metrics.SystemDiskPercent.Set(du.UsedPercent)
	}
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.collect()
		case <-sc.stopChan:
			return
		}
	}
}
