package metrics

import "github.com/a-khushal/TickerTUI/logger"

// EventMetric identifies the counter emitted for one reconciliation event.
type EventMetric string

const (
	// EventDiffDropped records diffs dropped from a full ingest buffer.
	EventDiffDropped EventMetric = "diffs_dropped"
	// EventDiffDuplicate records diffs discarded as already applied.
	EventDiffDuplicate EventMetric = "diffs_duplicate"
	// EventBookGap records version discontinuities detected in the diff stream.
	EventBookGap EventMetric = "book_gaps"
	// EventBookCrossed records crossed-book protocol violations.
	EventBookCrossed EventMetric = "book_crossed"
	// EventResync records snapshot resyncs, whatever triggered them.
	EventResync EventMetric = "resyncs"
	// EventCandleStale records candle updates discarded as stale duplicates.
	EventCandleStale EventMetric = "candles_stale"
	// EventCandleGapRefetch records candle time holes repaired over REST.
	EventCandleGapRefetch EventMetric = "candle_gap_refetches"
	// EventTradeRejected records tape inserts rejected as duplicate/out-of-order.
	EventTradeRejected EventMetric = "trades_rejected"
	// EventTradeGap records non-contiguous trade ids, tolerated but counted.
	EventTradeGap EventMetric = "trade_id_gaps"
	// EventStreamDropped records stream messages dropped from a full queue.
	EventStreamDropped EventMetric = "stream_messages_dropped"
)

// EmitEvent logs and emits a counter for one reconciliation event. The value
// is always incremented by one so callers invoke this helper per occurrence.
// Optional metadata (symbol, kind, stage) is attached for per-topic
// aggregation.
func EmitEvent(log *logger.Log, metric EventMetric, symbol, kind, stage string) {
	fields := logger.Fields{}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if kind != "" {
		fields["kind"] = kind
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "reconciler_events", string(metric), 1, "counter", fields)
}
