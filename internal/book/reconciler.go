// Package book maintains a gap-free local order book by merging REST depth
// snapshots with the incremental diff stream.
package book

import (
	"sort"

	"github.com/gammazero/deque"

	"github.com/a-khushal/TickerTUI/internal/metrics"
	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/logger"
)

// State is the reconciler's synchronization phase.
type State string

const (
	StateUninitialized    State = "uninitialized"
	StateAwaitingSnapshot State = "awaiting_snapshot"
	StateLive             State = "live"
	StateStale            State = "stale"
)

// Action tells the owning task what the reconciler needs next.
type Action int

const (
	// ActionNone: nothing to do, keep feeding events.
	ActionNone Action = iota
	// ActionResync: request a fresh snapshot and hand it to ApplySnapshot.
	ActionResync
	// ActionPersistentError: the resync retry budget is exhausted; stop the
	// topic until the user re-subscribes.
	ActionPersistentError
)

// Stats are cumulative per-reconciler event counts for health telemetry.
type Stats struct {
	Duplicates  int64
	Gaps        int64
	Crossed     int64
	BufferDrops int64
	Resyncs     int64
}

// Reconciler is the per-symbol order book state machine. It is not safe for
// concurrent use; a single topic task owns it and serializes all calls.
//
// While a snapshot is in flight, incoming diffs accumulate in a bounded
// buffer. Overflow drops the oldest buffered diff, which later shows up as a
// version gap and forces another resync; bounded memory is preferred over a
// complete buffer.
type Reconciler struct {
	symbol string
	state  State

	bids    []models.PriceLevel // descending price
	asks    []models.PriceLevel // ascending price
	version int64

	buffer    deque.Deque[models.OrderBookDiff]
	bufferCap int

	retries  int
	retryCap int

	stats Stats
	log   *logger.Entry
}

func New(symbol string, bufferCap, retryCap int) *Reconciler {
	if bufferCap <= 0 {
		bufferCap = 1000
	}
	if retryCap <= 0 {
		retryCap = 5
	}
	return &Reconciler{
		symbol:    symbol,
		state:     StateUninitialized,
		bufferCap: bufferCap,
		retryCap:  retryCap,
		log:       logger.GetLogger().WithComponent("book_reconciler").WithFields(logger.Fields{"symbol": symbol}),
	}
}

func (r *Reconciler) State() State   { return r.state }
func (r *Reconciler) Version() int64 { return r.version }
func (r *Reconciler) Stats() Stats   { return r.stats }

// StartSync moves the reconciler into AwaitingSnapshot. Existing levels are
// kept so the last good book stays visible, flagged stale, until the fresh
// snapshot lands.
func (r *Reconciler) StartSync() {
	r.state = StateAwaitingSnapshot
	r.stats.Resyncs++
	logger.IncrementResync()
}

// Ingest feeds one diff from the stream. In Live it either applies the diff
// or detects a discontinuity; in every other state the diff is buffered until
// the snapshot arrives. A rejected diff never mutates the book.
func (r *Reconciler) Ingest(diff models.OrderBookDiff) Action {
	switch r.state {
	case StateLive:
		return r.ingestLive(diff)
	default:
		r.bufferDiff(diff)
		return ActionNone
	}
}

func (r *Reconciler) ingestLive(diff models.OrderBookDiff) Action {
	if diff.LastVersion <= r.version {
		r.stats.Duplicates++
		return ActionNone
	}

	if diff.FirstVersion > r.version+1 {
		r.stats.Gaps++
		r.state = StateStale
		r.bufferDiff(diff)
		r.log.WithFields(logger.Fields{
			"book_version":  r.version,
			"first_version": diff.FirstVersion,
		}).Warn("diff stream gap detected, resyncing")
		metrics.EmitEvent(logger.GetLogger(), metrics.EventBookGap, r.symbol, string(models.KindDepth), "live")
		return ActionResync
	}

	r.apply(diff)

	if r.crossed() {
		r.stats.Crossed++
		r.state = StateStale
		r.log.WithFields(logger.Fields{
			"best_bid": r.bids[0].Price,
			"best_ask": r.asks[0].Price,
		}).Warn("crossed book after apply, resyncing")
		metrics.EmitEvent(logger.GetLogger(), metrics.EventBookCrossed, r.symbol, string(models.KindDepth), "live")
		return ActionResync
	}

	return ActionNone
}

// ApplySnapshot seeds the book from a fresh snapshot and drains the buffered
// diffs. When the earliest retained diff starts past the snapshot (the
// snapshot is already too old), the snapshot is discarded and another one
// requested, up to the retry cap.
func (r *Reconciler) ApplySnapshot(snap *models.DepthSnapshot) Action {
	for r.buffer.Len() > 0 && r.buffer.Front().LastVersion <= snap.LastUpdateID {
		r.buffer.PopFront()
	}

	if r.buffer.Len() > 0 && r.buffer.Front().FirstVersion > snap.LastUpdateID+1 {
		return r.snapshotRejected(snap.LastUpdateID)
	}

	r.bids = normalizeSide(snap.Bids, true)
	r.asks = normalizeSide(snap.Asks, false)
	r.version = snap.LastUpdateID

	for r.buffer.Len() > 0 {
		diff := r.buffer.PopFront()
		if diff.LastVersion <= r.version {
			r.stats.Duplicates++
			continue
		}
		if diff.FirstVersion > r.version+1 {
			// A mid-buffer hole (dropped while buffering); go again.
			r.stats.Gaps++
			r.bufferFront(diff)
			return r.snapshotRejected(r.version)
		}
		r.apply(diff)
	}

	if r.crossed() {
		r.stats.Crossed++
		return r.snapshotRejected(r.version)
	}

	r.state = StateLive
	r.retries = 0
	r.log.WithFields(logger.Fields{"version": r.version}).Debug("book synchronized")
	return ActionNone
}

// ResetRetries restores the resync budget. Called when a fresh stream
// session starts; the cap guards a single session's snapshot attempts.
func (r *Reconciler) ResetRetries() { r.retries = 0 }

// SnapshotFailed records a failed snapshot fetch for the retry budget.
func (r *Reconciler) SnapshotFailed() Action {
	r.retries++
	if r.retries >= r.retryCap {
		return ActionPersistentError
	}
	return ActionResync
}

func (r *Reconciler) snapshotRejected(version int64) Action {
	r.state = StateAwaitingSnapshot
	r.retries++
	if r.retries >= r.retryCap {
		r.log.WithFields(logger.Fields{"retries": r.retries}).Error("resync retry cap reached")
		return ActionPersistentError
	}
	r.log.WithFields(logger.Fields{
		"snapshot_version": version,
		"retries":          r.retries,
	}).Warn("snapshot unusable, re-requesting")
	return ActionResync
}

func (r *Reconciler) bufferDiff(diff models.OrderBookDiff) {
	if r.buffer.Len() >= r.bufferCap {
		r.buffer.PopFront()
		r.stats.BufferDrops++
		metrics.EmitEvent(logger.GetLogger(), metrics.EventDiffDropped, r.symbol, string(models.KindDepth), "buffer")
	}
	r.buffer.PushBack(diff)
}

func (r *Reconciler) bufferFront(diff models.OrderBookDiff) {
	if r.buffer.Len() >= r.bufferCap {
		r.buffer.PopBack()
		r.stats.BufferDrops++
	}
	r.buffer.PushFront(diff)
}

func (r *Reconciler) apply(diff models.OrderBookDiff) {
	r.bids = applySide(r.bids, diff.Bids, true)
	r.asks = applySide(r.asks, diff.Asks, false)
	r.version = diff.LastVersion
}

func (r *Reconciler) crossed() bool {
	return len(r.bids) > 0 && len(r.asks) > 0 && r.bids[0].Price >= r.asks[0].Price
}

// View returns a read-only copy of the book limited to depth levels per side.
// Zero limit returns the full book.
func (r *Reconciler) View(limit int) models.BookView {
	return models.BookView{
		Symbol:      r.symbol,
		Version:     r.version,
		Bids:        copyLevels(r.bids, limit),
		Asks:        copyLevels(r.asks, limit),
		Stale:       r.state != StateLive,
		Initialized: r.version > 0,
	}
}

// applySide folds diff levels into a sorted side. Quantity zero removes the
// level, otherwise it is inserted or updated in place.
func applySide(side []models.PriceLevel, updates []models.PriceLevel, descending bool) []models.PriceLevel {
	for _, u := range updates {
		idx := sort.Search(len(side), func(i int) bool {
			if descending {
				return side[i].Price <= u.Price
			}
			return side[i].Price >= u.Price
		})
		exists := idx < len(side) && side[idx].Price == u.Price

		switch {
		case u.Quantity == 0 && exists:
			side = append(side[:idx], side[idx+1:]...)
		case u.Quantity == 0:
			// Removal of a level outside the local depth window.
		case exists:
			side[idx].Quantity = u.Quantity
		default:
			side = append(side, models.PriceLevel{})
			copy(side[idx+1:], side[idx:])
			side[idx] = u
		}
	}
	return side
}

func normalizeSide(levels []models.PriceLevel, descending bool) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity > 0 {
			out = append(out, lvl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

func copyLevels(levels []models.PriceLevel, limit int) []models.PriceLevel {
	n := len(levels)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]models.PriceLevel, n)
	copy(out, levels[:n])
	return out
}
