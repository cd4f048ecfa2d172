// Package hub owns the per-topic reconcilers and composes their views into a
// single immutable snapshot the rendering loop can read without blocking.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/a-khushal/TickerTUI/internal/book"
	"github.com/a-khushal/TickerTUI/internal/candles"
	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/internal/supervisor"
	"github.com/a-khushal/TickerTUI/internal/tape"
	"github.com/a-khushal/TickerTUI/internal/transport"
	"github.com/a-khushal/TickerTUI/logger"
)

// Options carries the sizing and policy knobs the reconcilers need.
type Options struct {
	Watchlist      []string
	DepthLimit     int
	DiffBuffer     int
	ResyncRetryCap int
	TapeCapacity   int
	CandleWindow   int
	SMAPeriod      int
	RSIPeriod      int
}

// Hub is the single integration point between the stream side and the
// consumer. Topic tasks mutate hub state under a short mutex and publish a
// rebuilt immutable MarketSnapshot through an atomic.Value; CurrentSnapshot
// never blocks on stream progress. Reconciler state survives reconnects so
// the last good data stays visible while a session is down.
type Hub struct {
	transport transport.Transport
	sup       *supervisor.Supervisor
	opts      Options

	mu        sync.Mutex
	books     map[string]*book.Reconciler
	bookViews map[string]models.BookView
	aggs      map[string]*candles.Aggregator
	tapes     map[string]*tape.Tape
	charts    map[string]models.ChartView
	watch     map[string]models.WatchPrice
	health    map[string]models.HealthStatus

	// symbol whose book and tape the snapshot exposes; follows the most
	// recent depth subscription
	selected string

	snapshot atomic.Value // models.MarketSnapshot
	log      *logger.Entry
}

func New(tr transport.Transport, sup *supervisor.Supervisor, opts Options) *Hub {
	h := &Hub{
		transport: tr,
		sup:       sup,
		opts:      opts,
		books:     make(map[string]*book.Reconciler),
		bookViews: make(map[string]models.BookView),
		aggs:      make(map[string]*candles.Aggregator),
		tapes:     make(map[string]*tape.Tape),
		charts:    make(map[string]models.ChartView),
		watch:     make(map[string]models.WatchPrice),
		health:    make(map[string]models.HealthStatus),
		log:       logger.GetLogger().WithComponent("market_hub"),
	}
	h.snapshot.Store(models.MarketSnapshot{
		Time:   time.Now(),
		Charts: map[string]models.ChartView{},
		Health: map[string]models.HealthStatus{},
	})
	return h
}

// CurrentSnapshot returns the latest published snapshot. Never blocks.
func (h *Hub) CurrentSnapshot() models.MarketSnapshot {
	return h.snapshot.Load().(models.MarketSnapshot)
}

// Health returns the topic's current status.
func (h *Hub) Health(topic models.Topic) models.HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health[topic.Key()]
}

// SubscribeSymbol subscribes the full topic set for one symbol: depth, the
// chart timeframe and the trade tape.
func (h *Hub) SubscribeSymbol(symbol string, tf models.Timeframe) error {
	for _, topic := range []models.Topic{
		models.DepthTopic(symbol),
		models.KlineTopic(symbol, tf),
		models.TradeTopic(symbol),
	} {
		if err := h.SubscribeTopic(topic); err != nil {
			return err
		}
	}
	return nil
}

// UnsubscribeSymbol tears down the symbol's depth, chart and trade topics.
func (h *Hub) UnsubscribeSymbol(symbol string, tf models.Timeframe) {
	h.UnsubscribeTopic(models.DepthTopic(symbol))
	h.UnsubscribeTopic(models.KlineTopic(symbol, tf))
	h.UnsubscribeTopic(models.TradeTopic(symbol))
}

// SubscribeTopic starts the topic's reconcile loop. Idempotent: subscribing
// an already-running topic is a no-op.
func (h *Hub) SubscribeTopic(topic models.Topic) error {
	var run supervisor.RunFunc
	switch topic.Kind {
	case models.KindDepth:
		h.mu.Lock()
		h.selected = topic.Symbol
		h.mu.Unlock()
		run = h.depthRun(topic)
	case models.KindKline:
		run = h.klineRun(topic)
	case models.KindTrade:
		run = h.tradeRun(topic)
	case models.KindTicker:
		run = h.tickerRun(topic)
	default:
		return errors.New("unknown stream kind: " + string(topic.Kind))
	}

	_, err := h.sup.Subscribe(topic, run)
	if errors.Is(err, supervisor.ErrAlreadySubscribed) {
		return nil
	}
	return err
}

// UnsubscribeTopic stops the topic and removes its state from the snapshot.
// Idempotent.
func (h *Hub) UnsubscribeTopic(topic models.Topic) {
	h.sup.Unsubscribe(topic)

	h.mu.Lock()
	delete(h.health, topic.Key())
	switch topic.Kind {
	case models.KindDepth:
		delete(h.books, topic.Symbol)
		delete(h.bookViews, topic.Symbol)
	case models.KindKline:
		delete(h.aggs, topic.Key())
		delete(h.charts, topic.Key())
	case models.KindTrade:
		delete(h.tapes, topic.Symbol)
	case models.KindTicker:
		h.watch = make(map[string]models.WatchPrice)
	}
	h.publishLocked()
	h.mu.Unlock()
}

// Close stops all topics.
func (h *Hub) Close() {
	h.sup.Close()
}

func (h *Hub) setHealth(topic models.Topic, status models.HealthStatus) {
	h.mu.Lock()
	h.health[topic.Key()] = status
	h.publishLocked()
	h.mu.Unlock()
}

// publishLocked rebuilds the immutable snapshot from the current views.
// Caller holds h.mu; every nested slice and map is freshly copied so the
// published value can never alias mutable state.
func (h *Hub) publishLocked() {
	snap := models.MarketSnapshot{
		Time:   time.Now(),
		Charts: make(map[string]models.ChartView, len(h.charts)),
		Health: make(map[string]models.HealthStatus, len(h.health)),
	}

	if view, ok := h.bookViews[h.selected]; ok {
		snap.Book = view
	}
	if tp, ok := h.tapes[h.selected]; ok {
		snap.Trades = tp.Snapshot()
	}
	for k, cv := range h.charts {
		snap.Charts[k] = cv
	}
	for k, s := range h.health {
		snap.Health[k] = s
	}
	for _, sym := range h.opts.Watchlist {
		if wp, ok := h.watch[sym]; ok {
			snap.WatchPrices = append(snap.WatchPrices, wp)
		}
	}

	h.snapshot.Store(snap)
}

type snapshotResult struct {
	snap *models.DepthSnapshot
	err  error
}

// depthRun is one depth session: subscribe to the diff stream, fetch the
// snapshot in the background and drive the reconciler state machine until the
// stream drops or the retry budget runs out.
func (h *Hub) depthRun(topic models.Topic) supervisor.RunFunc {
	symbol := topic.Symbol

	h.mu.Lock()
	rec, ok := h.books[symbol]
	if !ok {
		rec = book.New(symbol, h.opts.DiffBuffer, h.opts.ResyncRetryCap)
		h.books[symbol] = rec
	}
	h.mu.Unlock()

	return func(ctx context.Context, attempt int) error {
		h.setHealth(topic, models.HealthResyncing)

		sub, err := h.transport.SubscribeDepthDiffs(symbol)
		if err != nil {
			h.setHealth(topic, models.HealthDisconnected)
			return err
		}
		defer sub.Close()

		snapCh := make(chan snapshotResult, 1)
		requestSnapshot := func() {
			go func() {
				snap, err := h.transport.FetchDepthSnapshot(ctx, symbol, h.opts.DepthLimit)
				select {
				case snapCh <- snapshotResult{snap, err}:
				case <-ctx.Done():
				}
			}()
		}

		// A new session gets a fresh resync budget.
		rec.ResetRetries()
		rec.StartSync()
		requestSnapshot()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()

			case diff, open := <-sub.C:
				if !open {
					h.setHealth(topic, models.HealthDisconnected)
					return sub.Cause()
				}
				action := rec.Ingest(diff)
				h.publishBook(symbol, rec)
				switch action {
				case book.ActionResync:
					rec.StartSync()
					h.setHealth(topic, models.HealthResyncing)
					requestSnapshot()
				case book.ActionPersistentError:
					h.setHealth(topic, models.HealthPersistentError)
					return supervisor.ErrHalt
				}

			case res := <-snapCh:
				if res.err != nil {
					h.log.WithFields(logger.Fields{"symbol": symbol}).WithError(res.err).Warn("depth snapshot fetch failed")
					if rec.SnapshotFailed() == book.ActionPersistentError {
						h.setHealth(topic, models.HealthPersistentError)
						return supervisor.ErrHalt
					}
					requestSnapshot()
					continue
				}
				switch rec.ApplySnapshot(res.snap) {
				case book.ActionNone:
					h.setHealth(topic, models.HealthLive)
					h.publishBook(symbol, rec)
				case book.ActionResync:
					requestSnapshot()
				case book.ActionPersistentError:
					h.setHealth(topic, models.HealthPersistentError)
					return supervisor.ErrHalt
				}
			}
		}
	}
}

// publishBook copies the reconciler's current view into hub state. Only the
// owning depth task calls this, so the reconciler itself needs no lock.
func (h *Hub) publishBook(symbol string, rec *book.Reconciler) {
	view := rec.View(h.opts.DepthLimit)
	h.mu.Lock()
	h.bookViews[symbol] = view
	h.publishLocked()
	h.mu.Unlock()
}

// klineRun seeds the candle series from history, then folds in the live
// stream. Seeding repeats on every session so a reconnect closes any hole
// opened while disconnected.
func (h *Hub) klineRun(topic models.Topic) supervisor.RunFunc {
	key := topic.Key()

	h.mu.Lock()
	agg, ok := h.aggs[key]
	if !ok {
		agg = candles.New(topic.Symbol, topic.Timeframe, h.opts.CandleWindow, h.opts.SMAPeriod, h.opts.RSIPeriod, h.transport)
		h.aggs[key] = agg
	}
	h.mu.Unlock()

	return func(ctx context.Context, attempt int) error {
		h.setHealth(topic, models.HealthResyncing)

		sub, err := h.transport.SubscribeKlines(topic.Symbol, topic.Timeframe)
		if err != nil {
			h.setHealth(topic, models.HealthDisconnected)
			return err
		}
		defer sub.Close()

		if err := agg.Seed(ctx); err != nil {
			h.setHealth(topic, models.HealthDisconnected)
			return err
		}
		h.publishChart(key, agg)
		h.setHealth(topic, models.HealthLive)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, open := <-sub.C:
				if !open {
					h.setHealth(topic, models.HealthDisconnected)
					return sub.Cause()
				}
				if err := agg.Ingest(ctx, c); err != nil {
					// A failed gap refetch restarts the session; the next
					// Seed rebuilds the series.
					h.setHealth(topic, models.HealthDisconnected)
					return err
				}
				h.publishChart(key, agg)
			}
		}
	}
}

func (h *Hub) publishChart(key string, agg *candles.Aggregator) {
	h.mu.Lock()
	h.charts[key] = agg.View()
	h.publishLocked()
	h.mu.Unlock()
}

// tradeRun appends stream trades to the symbol's tape. The tape survives
// reconnects; replayed trades are deduplicated by id.
func (h *Hub) tradeRun(topic models.Topic) supervisor.RunFunc {
	symbol := topic.Symbol

	h.mu.Lock()
	tp, ok := h.tapes[symbol]
	if !ok {
		tp = tape.New(symbol, h.opts.TapeCapacity)
		h.tapes[symbol] = tp
	}
	h.mu.Unlock()

	return func(ctx context.Context, attempt int) error {
		sub, err := h.transport.SubscribeTrades(symbol)
		if err != nil {
			h.setHealth(topic, models.HealthDisconnected)
			return err
		}
		defer sub.Close()

		h.setHealth(topic, models.HealthLive)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case trade, open := <-sub.C:
				if !open {
					h.setHealth(topic, models.HealthDisconnected)
					return sub.Cause()
				}
				h.mu.Lock()
				tp.Append(trade)
				h.publishLocked()
				h.mu.Unlock()
			}
		}
	}
}

// tickerRun maintains watchlist prices from the combined mini-ticker stream.
func (h *Hub) tickerRun(topic models.Topic) supervisor.RunFunc {
	return func(ctx context.Context, attempt int) error {
		sub, err := h.transport.SubscribeMiniTickers(h.opts.Watchlist)
		if err != nil {
			h.setHealth(topic, models.HealthDisconnected)
			return err
		}
		defer sub.Close()

		h.setHealth(topic, models.HealthLive)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case wp, open := <-sub.C:
				if !open {
					h.setHealth(topic, models.HealthDisconnected)
					return sub.Cause()
				}
				h.mu.Lock()
				h.watch[wp.Symbol] = wp
				h.publishLocked()
				h.mu.Unlock()
			}
		}
	}
}
