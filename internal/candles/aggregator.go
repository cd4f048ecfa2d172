// Package candles maintains a bounded, hole-free candle series per
// (symbol, timeframe) by merging REST history with the live kline stream and
// deriving indicator overlays incrementally.
package candles

import (
	"context"
	"fmt"

	"github.com/a-khushal/TickerTUI/internal/indicator"
	"github.com/a-khushal/TickerTUI/internal/metrics"
	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/internal/transport"
	"github.com/a-khushal/TickerTUI/logger"
)

// Stats are cumulative per-aggregator event counts.
type Stats struct {
	Stale        int64
	Duplicates   int64
	GapRefetches int64
	Evictions    int64
}

// Aggregator owns the candle series for one (symbol, timeframe). It is not
// safe for concurrent use; a single topic task owns it and serializes calls.
//
// The series holds at most window candles, the last of which may be open.
// Indicator values are kept aligned index-for-index with the candles; the
// open candle carries provisional values that are recomputed on every
// revision and only committed when the candle closes.
type Aggregator struct {
	symbol string
	tf     models.Timeframe
	step   int64
	window int

	candles []models.Candle
	smaVals []float64
	rsiVals []float64

	sma *indicator.SMA
	rsi *indicator.RSI

	transport transport.Transport
	stats     Stats
	log       *logger.Entry
}

func New(symbol string, tf models.Timeframe, window, smaPeriod, rsiPeriod int, tr transport.Transport) *Aggregator {
	if window <= 0 {
		window = 1000
	}
	return &Aggregator{
		symbol:    symbol,
		tf:        tf,
		step:      tf.StepMillis(),
		window:    window,
		sma:       indicator.NewSMA(smaPeriod),
		rsi:       indicator.NewRSI(rsiPeriod),
		transport: tr,
		log: logger.GetLogger().WithComponent("candle_aggregator").WithFields(logger.Fields{
			"symbol": symbol, "timeframe": string(tf),
		}),
	}
}

func (a *Aggregator) Stats() Stats { return a.stats }
func (a *Aggregator) Len() int     { return len(a.candles) }

// Seed loads the initial series from REST history. Any prior series and
// indicator state is discarded first, so Seed also serves re-seeding after a
// reconnect.
func (a *Aggregator) Seed(ctx context.Context) error {
	klines, err := a.transport.FetchKlines(ctx, a.symbol, a.tf, 0, 0, a.window)
	if err != nil {
		return fmt.Errorf("seed candles %s %s: %w", a.symbol, a.tf, err)
	}

	a.reset()
	for _, c := range klines {
		if n := len(a.candles); n > 0 && c.OpenTime <= a.candles[n-1].OpenTime {
			continue
		}
		a.append(c)
	}

	a.log.WithFields(logger.Fields{"candles": len(a.candles)}).Debug("candle series seeded")
	return nil
}

// Ingest merges one stream candle into the series. Revisions of the open
// candle replace it in place; the next candle appends and commits its
// predecessor; a candle skipping ahead triggers a history refetch for the
// missing range before the new candle is appended. A candle older than the
// series tail is dropped.
func (a *Aggregator) Ingest(ctx context.Context, c models.Candle) error {
	n := len(a.candles)
	if n == 0 {
		a.append(c)
		return nil
	}

	last := a.candles[n-1]
	switch {
	case c.OpenTime < last.OpenTime:
		a.stats.Stale++
		metrics.EmitEvent(logger.GetLogger(), metrics.EventCandleStale, a.symbol, string(models.KindKline), string(a.tf))
		return nil

	case c.OpenTime == last.OpenTime:
		a.replaceLast(c)
		return nil

	case c.OpenTime == last.OpenTime+a.step:
		a.closeLast()
		a.append(c)
		return nil

	default:
		if err := a.refetchGap(ctx, last.OpenTime+a.step, c.OpenTime); err != nil {
			return err
		}
		a.append(c)
		return nil
	}
}

// refetchGap fills [from, to) from REST history. The stream candle that
// exposed the hole is appended by the caller afterwards. A hole at least as
// wide as the retained window cannot be back-filled forward from the old
// tail: the refill would cover only the stretch the window is about to
// evict, leaving a hole before the live candle. That case rebuilds the
// series from the freshest history instead.
func (a *Aggregator) refetchGap(ctx context.Context, from, to int64) error {
	a.stats.GapRefetches++
	metrics.EmitEvent(logger.GetLogger(), metrics.EventCandleGapRefetch, a.symbol, string(models.KindKline), string(a.tf))
	a.log.WithFields(logger.Fields{"from": from, "to": to}).Warn("candle gap, refetching history")

	missing := int((to - from) / a.step)
	if missing >= a.window {
		return a.reseed(ctx, to)
	}
	klines, err := a.transport.FetchKlines(ctx, a.symbol, a.tf, from, to-1, missing)
	if err != nil {
		return fmt.Errorf("refetch candles %s %s: %w", a.symbol, a.tf, err)
	}

	a.closeLast()
	for _, c := range klines {
		if n := len(a.candles); n > 0 && c.OpenTime <= a.candles[n-1].OpenTime {
			continue
		}
		if c.OpenTime >= to {
			break
		}
		c.Closed = true
		a.append(c)
	}
	return nil
}

// reseed discards the series and reloads the latest window of closed candles
// before to, the way Seed does with an end bound.
func (a *Aggregator) reseed(ctx context.Context, to int64) error {
	klines, err := a.transport.FetchKlines(ctx, a.symbol, a.tf, 0, to-1, a.window)
	if err != nil {
		return fmt.Errorf("reseed candles %s %s: %w", a.symbol, a.tf, err)
	}

	a.reset()
	for _, c := range klines {
		if n := len(a.candles); n > 0 && c.OpenTime <= a.candles[n-1].OpenTime {
			continue
		}
		if c.OpenTime >= to {
			break
		}
		c.Closed = true
		a.append(c)
	}
	return nil
}

// reset clears the series and the indicator state.
func (a *Aggregator) reset() {
	a.candles = a.candles[:0]
	a.smaVals = a.smaVals[:0]
	a.rsiVals = a.rsiVals[:0]
	a.sma = indicator.NewSMA(a.sma.Period())
	a.rsi = indicator.NewRSI(a.rsi.Period())
}

// append pushes a candle and its indicator point, evicting the head when the
// window is full. Eviction never disturbs indicator state: the averages run
// over the close sequence, not over retained candles.
func (a *Aggregator) append(c models.Candle) {
	var smaVal, rsiVal float64
	if c.Closed {
		smaVal = a.sma.Commit(c.Close)
		rsiVal = a.rsi.Commit(c.Close)
	} else {
		smaVal = a.sma.Provisional(c.Close)
		rsiVal = a.rsi.Provisional(c.Close)
	}

	a.candles = append(a.candles, c)
	a.smaVals = append(a.smaVals, smaVal)
	a.rsiVals = append(a.rsiVals, rsiVal)

	if len(a.candles) > a.window {
		a.candles = a.candles[1:]
		a.smaVals = a.smaVals[1:]
		a.rsiVals = a.rsiVals[1:]
		a.stats.Evictions++
	}
}

// replaceLast revises the open tail candle in place. A repeat of an already
// closed candle is a duplicate and ignored, the averages have consumed it.
func (a *Aggregator) replaceLast(c models.Candle) {
	n := len(a.candles)
	if a.candles[n-1].Closed {
		a.stats.Duplicates++
		return
	}

	a.candles[n-1] = c
	if c.Closed {
		a.smaVals[n-1] = a.sma.Commit(c.Close)
		a.rsiVals[n-1] = a.rsi.Commit(c.Close)
	} else {
		a.smaVals[n-1] = a.sma.Provisional(c.Close)
		a.rsiVals[n-1] = a.rsi.Provisional(c.Close)
	}
}

// closeLast commits the tail candle if the stream moved on before its final
// revision arrived.
func (a *Aggregator) closeLast() {
	n := len(a.candles)
	if n == 0 || a.candles[n-1].Closed {
		return
	}
	a.candles[n-1].Closed = true
	a.smaVals[n-1] = a.sma.Commit(a.candles[n-1].Close)
	a.rsiVals[n-1] = a.rsi.Commit(a.candles[n-1].Close)
}

// View returns a read-only copy of the series with aligned indicator slices.
func (a *Aggregator) View() models.ChartView {
	candles := make([]models.Candle, len(a.candles))
	copy(candles, a.candles)
	sma := make([]float64, len(a.smaVals))
	copy(sma, a.smaVals)
	rsi := make([]float64, len(a.rsiVals))
	copy(rsi, a.rsiVals)

	return models.ChartView{
		Symbol:    a.symbol,
		Timeframe: a.tf,
		Candles:   candles,
		SMA:       sma,
		RSI:       rsi,
	}
}
