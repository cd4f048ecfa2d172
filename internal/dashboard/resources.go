package dashboard

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/a-khushal/TickerTUI/logger"
)

// resourceSnapshot is one sample of process-host utilisation plus the
// engine's goroutine count.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	Goroutines  int       `json:"goroutines"`
}

type resourceSampler struct {
	mu       sync.RWMutex
	items    []resourceSnapshot
	limit    int
	interval time.Duration

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

// sampling seams for tests
var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

func newResourceSampler(limit int, interval time.Duration, log *logger.Log) *resourceSampler {
	if limit <= 0 {
		limit = 200
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &resourceSampler{
		limit:    limit,
		interval: interval,
		log:      log,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx)
	}()
}

func (s *resourceSampler) stop() {
	if cancel := s.cancel; cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resourceSnapshot, len(s.items))
	copy(out, s.items)
	return out
}

func (s *resourceSampler) append(snapshot resourceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, snapshot)
	if len(s.items) > s.limit {
		s.items = append([]resourceSnapshot(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *resourceSampler) run(ctx context.Context) {
	defer s.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// cpu.Percent blocks for the interval, so the loop paces itself.
		cpuSamples, err := cpuPercentFn(ctx, s.interval)
		if err != nil {
			s.log.WithComponent("resource_sampler").WithError(err).Debug("failed to sample cpu usage")
			continue
		}

		memStats, err := memoryStatsFn(ctx)
		if err != nil {
			s.log.WithComponent("resource_sampler").WithError(err).Debug("failed to sample memory usage")
			continue
		}

		s.append(resourceSnapshot{
			Timestamp:   time.Now(),
			CPUPercent:  firstSample(cpuSamples),
			MemoryUsed:  memStats.Used,
			MemoryTotal: memStats.Total,
			MemoryPct:   memStats.UsedPercent,
			Goroutines:  runtime.NumGoroutine(),
		})
	}
}

func firstSample(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return samples[0]
}
