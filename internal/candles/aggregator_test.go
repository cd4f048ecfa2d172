package candles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-khushal/TickerTUI/internal/indicator"
	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/internal/transport"
)

// fakeTransport scripts FetchKlines responses and records the requested
// ranges. When history is set the response is served by range the way the
// real endpoint behaves: forward from start, or the latest candles when only
// an end bound is given. Stream methods are unused here.
type fakeTransport struct {
	klines  []models.Candle
	history []models.Candle
	err     error
	calls   []klineCall
}

type klineCall struct {
	start, end int64
	limit      int
}

func (f *fakeTransport) FetchKlines(_ context.Context, _ string, _ models.Timeframe, start, end int64, limit int) ([]models.Candle, error) {
	f.calls = append(f.calls, klineCall{start, end, limit})
	if f.err != nil {
		return nil, f.err
	}
	if f.history == nil {
		return f.klines, nil
	}
	var out []models.Candle
	for _, c := range f.history {
		if start > 0 && c.OpenTime < start {
			continue
		}
		if end > 0 && c.OpenTime > end {
			continue
		}
		out = append(out, c)
	}
	if len(out) > limit {
		if start > 0 {
			out = out[:limit]
		} else {
			out = out[len(out)-limit:]
		}
	}
	return out, nil
}

func (f *fakeTransport) FetchDepthSnapshot(context.Context, string, int) (*models.DepthSnapshot, error) {
	return nil, nil
}
func (f *fakeTransport) SubscribeDepthDiffs(string) (*transport.Subscription[models.OrderBookDiff], error) {
	return nil, nil
}
func (f *fakeTransport) SubscribeKlines(string, models.Timeframe) (*transport.Subscription[models.Candle], error) {
	return nil, nil
}
func (f *fakeTransport) SubscribeTrades(string) (*transport.Subscription[models.Trade], error) {
	return nil, nil
}
func (f *fakeTransport) SubscribeMiniTickers([]string) (*transport.Subscription[models.WatchPrice], error) {
	return nil, nil
}

func candle(openTime int64, close float64, closed bool) models.Candle {
	return models.Candle{OpenTime: openTime, Open: close, High: close, Low: close, Close: close, Volume: 1, Closed: closed}
}

// step of 1m in milliseconds
const minute = int64(60_000)

func newAggregator(tr transport.Transport, window int) *Aggregator {
	return New("BTCUSDT", models.Timeframe1m, window, 3, 3, tr)
}

func TestSeedBuildsSeries(t *testing.T) {
	tr := &fakeTransport{klines: []models.Candle{
		candle(0, 10, true),
		candle(minute, 11, true),
		candle(2*minute, 12, false),
	}}
	a := newAggregator(tr, 100)

	require.NoError(t, a.Seed(context.Background()))
	view := a.View()
	require.Len(t, view.Candles, 3)
	assert.True(t, view.Candles[0].Closed)
	assert.False(t, view.Candles[2].Closed)
	// Two committed closes plus the open candle reach the SMA period of 3.
	assert.InDelta(t, 11.0, view.SMA[2], 1e-12)
	assert.True(t, indicator.IsUndefined(view.SMA[1]))
}

func TestOpenCandleRevisionsDoNotCompound(t *testing.T) {
	tr := &fakeTransport{klines: []models.Candle{
		candle(0, 10, true),
		candle(minute, 11, true),
	}}
	a := newAggregator(tr, 100)
	require.NoError(t, a.Seed(context.Background()))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Ingest(ctx, candle(2*minute, 12, false)))
	}
	view := a.View()
	require.Len(t, view.Candles, 3)
	assert.InDelta(t, 11.0, view.SMA[2], 1e-12)

	// Closing the candle commits the same value once.
	require.NoError(t, a.Ingest(ctx, candle(2*minute, 12, true)))
	require.NoError(t, a.Ingest(ctx, candle(3*minute, 13, false)))
	view = a.View()
	require.Len(t, view.Candles, 4)
	assert.InDelta(t, 11.0, view.SMA[2], 1e-12)
	assert.InDelta(t, 12.0, view.SMA[3], 1e-12)
}

func TestDuplicateClosedCandleIgnored(t *testing.T) {
	a := newAggregator(&fakeTransport{}, 100)
	ctx := context.Background()

	require.NoError(t, a.Ingest(ctx, candle(0, 10, true)))
	require.NoError(t, a.Ingest(ctx, candle(0, 99, true)))

	view := a.View()
	require.Len(t, view.Candles, 1)
	assert.Equal(t, 10.0, view.Candles[0].Close)
	assert.Equal(t, int64(1), a.Stats().Duplicates)
}

func TestStaleCandleDropped(t *testing.T) {
	a := newAggregator(&fakeTransport{}, 100)
	ctx := context.Background()

	require.NoError(t, a.Ingest(ctx, candle(2*minute, 12, false)))
	require.NoError(t, a.Ingest(ctx, candle(minute, 11, true)))

	view := a.View()
	require.Len(t, view.Candles, 1)
	assert.Equal(t, 2*minute, view.Candles[0].OpenTime)
	assert.Equal(t, int64(1), a.Stats().Stale)
}

func TestContiguousSuccessorNeedsNoRefetch(t *testing.T) {
	tr := &fakeTransport{klines: []models.Candle{
		candle(0, 10, true),
		candle(minute, 11, true),
		candle(2*minute, 12, false),
	}}
	a := newAggregator(tr, 100)
	require.NoError(t, a.Seed(context.Background()))
	seedCalls := len(tr.calls)

	require.NoError(t, a.Ingest(context.Background(), candle(3*minute, 13, false)))

	assert.Len(t, tr.calls, seedCalls, "no extra fetch for a contiguous candle")
	view := a.View()
	require.Len(t, view.Candles, 4)
	assert.True(t, view.Candles[2].Closed, "predecessor committed on rollover")
	assert.Equal(t, int64(0), a.Stats().GapRefetches)
}

func TestGapTriggersRefetch(t *testing.T) {
	tr := &fakeTransport{}
	a := newAggregator(tr, 100)
	ctx := context.Background()

	require.NoError(t, a.Ingest(ctx, candle(2*minute, 12, false)))

	// The next event skips two buckets; the hole is filled from history.
	tr.klines = []models.Candle{
		candle(3*minute, 13, true),
		candle(4*minute, 14, true),
	}
	require.NoError(t, a.Ingest(ctx, candle(5*minute, 15, false)))

	require.Len(t, tr.calls, 1)
	assert.Equal(t, 3*minute, tr.calls[0].start)
	assert.Equal(t, 5*minute-1, tr.calls[0].end)

	view := a.View()
	require.Len(t, view.Candles, 4)
	for i, want := range []int64{2 * minute, 3 * minute, 4 * minute, 5 * minute} {
		assert.Equal(t, want, view.Candles[i].OpenTime)
	}
	assert.True(t, view.Candles[0].Closed, "tail committed before the refill")
	assert.Equal(t, int64(1), a.Stats().GapRefetches)
}

func TestGapWiderThanWindowReseeds(t *testing.T) {
	tr := &fakeTransport{}
	a := newAggregator(tr, 3)
	ctx := context.Background()

	require.NoError(t, a.Ingest(ctx, candle(0, 10, false)))

	// Nine buckets are missing, three times the window. Filling forward from
	// the old tail could never reach the live candle, so the series is
	// rebuilt from the freshest history instead.
	for i := int64(1); i < 10; i++ {
		tr.history = append(tr.history, candle(i*minute, float64(10+i), true))
	}
	require.NoError(t, a.Ingest(ctx, candle(10*minute, 20, false)))

	require.Len(t, tr.calls, 1)
	assert.Equal(t, int64(0), tr.calls[0].start)
	assert.Equal(t, 10*minute-1, tr.calls[0].end)
	assert.Equal(t, 3, tr.calls[0].limit)

	view := a.View()
	require.Len(t, view.Candles, 3)
	for i := 1; i < len(view.Candles); i++ {
		assert.Equal(t, view.Candles[i-1].OpenTime+minute, view.Candles[i].OpenTime,
			"series must stay evenly spaced")
	}
	assert.Equal(t, 10*minute, view.Candles[2].OpenTime)
	assert.False(t, view.Candles[2].Closed)
	assert.True(t, view.Candles[1].Closed)
	assert.Equal(t, int64(1), a.Stats().GapRefetches)
}

func TestGapRefetchFailureSurfaces(t *testing.T) {
	tr := &fakeTransport{err: assert.AnError}
	a := newAggregator(tr, 100)
	ctx := context.Background()

	require.NoError(t, a.Ingest(ctx, candle(0, 10, false)))
	err := a.Ingest(ctx, candle(2*minute, 12, false))
	require.ErrorIs(t, err, assert.AnError)
}

func TestWindowEvictionKeepsIndicatorsStable(t *testing.T) {
	a := newAggregator(&fakeTransport{}, 3)
	ctx := context.Background()

	for i := int64(0); i < 6; i++ {
		require.NoError(t, a.Ingest(ctx, candle(i*minute, float64(10+i), true)))
	}

	view := a.View()
	require.Len(t, view.Candles, 3)
	assert.Equal(t, 3*minute, view.Candles[0].OpenTime)
	// SMA over the last three committed closes: 13, 14, 15.
	assert.InDelta(t, 14.0, view.SMA[2], 1e-12)
	assert.Equal(t, int64(3), a.Stats().Evictions)
}
