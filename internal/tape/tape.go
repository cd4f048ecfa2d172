// Package tape keeps the most recent trades for one symbol in a bounded ring.
package tape

import (
	"github.com/gammazero/deque"

	"github.com/a-khushal/TickerTUI/internal/metrics"
	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/logger"
)

// Stats are cumulative tape event counts.
type Stats struct {
	Appended int64
	Rejected int64
	Gaps     int64
	Evicted  int64
}

// Tape is a bounded, id-ordered trade ring. Trades append newest-last; once
// capacity is reached the oldest is evicted. Out-of-order and duplicate
// trades are rejected so the ring is always strictly ascending by id. Not
// safe for concurrent use; the owning topic task serializes calls.
type Tape struct {
	symbol   string
	capacity int

	trades deque.Deque[models.Trade]
	lastID int64

	stats Stats
	log   *logger.Entry
}

func New(symbol string, capacity int) *Tape {
	if capacity <= 0 {
		capacity = 200
	}
	return &Tape{
		symbol:   symbol,
		capacity: capacity,
		log:      logger.GetLogger().WithComponent("trade_tape").WithFields(logger.Fields{"symbol": symbol}),
	}
}

func (t *Tape) Stats() Stats { return t.stats }
func (t *Tape) Len() int     { return t.trades.Len() }

// Append adds one trade. A trade whose id does not advance past the newest
// retained one is rejected; a jump of more than one id is counted as a gap
// but the trade is still kept, the tape shows what arrived.
func (t *Tape) Append(trade models.Trade) bool {
	if t.lastID != 0 && trade.ID <= t.lastID {
		t.stats.Rejected++
		metrics.EmitEvent(logger.GetLogger(), metrics.EventTradeRejected, t.symbol, string(models.KindTrade), "tape")
		return false
	}
	if t.lastID != 0 && trade.ID > t.lastID+1 {
		t.stats.Gaps++
		metrics.EmitEvent(logger.GetLogger(), metrics.EventTradeGap, t.symbol, string(models.KindTrade), "tape")
	}

	t.trades.PushBack(trade)
	t.lastID = trade.ID
	t.stats.Appended++

	if t.trades.Len() > t.capacity {
		t.trades.PopFront()
		t.stats.Evicted++
	}
	return true
}

// Snapshot returns the retained trades oldest to newest.
func (t *Tape) Snapshot() []models.Trade {
	out := make([]models.Trade, t.trades.Len())
	for i := 0; i < t.trades.Len(); i++ {
		out[i] = t.trades.At(i)
	}
	return out
}

// Reset clears the ring but keeps lastID, so trades replayed by a
// reconnecting stream are still rejected as duplicates.
func (t *Tape) Reset() {
	t.trades.Clear()
}
