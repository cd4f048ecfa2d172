package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	errorsBook    int64
	errorsCandles int64
	warnsBook     int64
	warnsCandles  int64
	depthReads    int64
	klineReads    int64
	tradeReads    int64
	tickerReads   int64
	resyncs       int64
	streams       sync.Map // map[string]*streamStat
)

func recordWarn(component string) {
	if strings.Contains(component, "book") {
		atomic.AddInt64(&warnsBook, 1)
	} else if strings.Contains(component, "candle") {
		atomic.AddInt64(&warnsCandles, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "book") {
		atomic.AddInt64(&errorsBook, 1)
	} else if strings.Contains(component, "candle") {
		atomic.AddInt64(&errorsCandles, 1)
	}
}

func IncrementDepthRead(size int) {
	atomic.AddInt64(&depthReads, 1)
	recordStream("depth_ws", size)
}

func IncrementKlineRead(size int) {
	atomic.AddInt64(&klineReads, 1)
	recordStream("kline_ws", size)
}

func IncrementTradeRead(size int) {
	atomic.AddInt64(&tradeReads, 1)
	recordStream("trade_ws", size)
}

func IncrementTickerRead(size int) {
	atomic.AddInt64(&tickerReads, 1)
	recordStream("ticker_ws", size)
}

func IncrementResync() {
	atomic.AddInt64(&resyncs, 1)
}

func RecordStreamMessage(name string, size int) {
	recordStream(name, size)
}

func recordStream(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	ss := v.(*streamStat)
	atomic.AddInt64(&ss.messages, 1)
	atomic.AddInt64(&ss.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and stream statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		name := k.(string)
		ss := v.(*streamStat)
		streamData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&ss.messages),
			"bytes":    atomic.LoadInt64(&ss.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	usedMB := uint64(0)
	if memStats != nil {
		usedMB = memStats.Used / 1024 / 1024
	}

	fields := Fields{
		"errors_book":    atomic.LoadInt64(&errorsBook),
		"errors_candles": atomic.LoadInt64(&errorsCandles),
		"warns_book":     atomic.LoadInt64(&warnsBook),
		"warns_candles":  atomic.LoadInt64(&warnsCandles),
		"depth_reads":    atomic.LoadInt64(&depthReads),
		"kline_reads":    atomic.LoadInt64(&klineReads),
		"trade_reads":    atomic.LoadInt64(&tradeReads),
		"ticker_reads":   atomic.LoadInt64(&tickerReads),
		"resyncs":        atomic.LoadInt64(&resyncs),
		"cpu_percent":    cpuPct,
		"memory_used_mb": usedMB,
		"goroutines":     runtime.NumGoroutine(),
		"streams":        streamData,
	}

	log.WithComponent("report").WithFields(fields).Info("periodic report")
}
