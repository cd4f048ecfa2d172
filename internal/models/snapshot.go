package models

import (
	"math"
	"time"
)

// Undefined marks indicator entries for which not enough history exists yet.
func Undefined() float64 { return math.NaN() }

// IsUndefined reports whether an indicator entry has no value.
func IsUndefined(v float64) bool { return math.IsNaN(v) }

// BookView is the read-only order book exposed to the consumer. Bids are
// sorted descending, asks ascending. Stale is set while the book is known to
// be behind the stream and a resync is in flight; the levels then show the
// last good state rather than going blank.
type BookView struct {
	Symbol      string       `json:"symbol"`
	Version     int64        `json:"version"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
	Stale       bool         `json:"stale"`
	Initialized bool         `json:"initialized"`
}

func (b BookView) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

func (b BookView) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// ChartView is one (symbol, timeframe) candle series plus its indicator
// series. SMA and RSI are aligned to Candles by index; entries without enough
// history hold Undefined().
type ChartView struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Candles   []Candle  `json:"candles"`
	SMA       []float64 `json:"sma"`
	RSI       []float64 `json:"rsi"`
}

// MarketSnapshot is the internally consistent view the hub hands to the
// rendering loop. It is immutable once published; absence of data shows up as
// zero-value fields, never as an error.
type MarketSnapshot struct {
	Time        time.Time               `json:"time"`
	Book        BookView                `json:"book"`
	Charts      map[string]ChartView    `json:"charts"`
	Trades      []Trade                 `json:"trades"`
	WatchPrices []WatchPrice            `json:"watch_prices"`
	Health      map[string]HealthStatus `json:"health"`
}

// Chart returns the view for one (symbol, timeframe), if present.
func (s *MarketSnapshot) Chart(symbol string, tf Timeframe) (ChartView, bool) {
	cv, ok := s.Charts[KlineTopic(symbol, tf).Key()]
	return cv, ok
}

// HealthOf returns the topic's status, HealthNotSubscribed when absent.
func (s *MarketSnapshot) HealthOf(topic Topic) HealthStatus {
	return s.Health[topic.Key()]
}
