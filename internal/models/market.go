package models

import "fmt"

// StreamKind identifies which push stream a Topic refers to.
type StreamKind string

const (
	KindDepth  StreamKind = "depth"
	KindKline  StreamKind = "kline"
	KindTrade  StreamKind = "trade"
	KindTicker StreamKind = "ticker"
)

// Topic is one logical subscription: (symbol, stream kind, optional
// timeframe). Topics are immutable once created and used as map keys via Key.
type Topic struct {
	Symbol    string
	Kind      StreamKind
	Timeframe Timeframe
}

func DepthTopic(symbol string) Topic {
	return Topic{Symbol: symbol, Kind: KindDepth}
}

func KlineTopic(symbol string, tf Timeframe) Topic {
	return Topic{Symbol: symbol, Kind: KindKline, Timeframe: tf}
}

func TradeTopic(symbol string) Topic {
	return Topic{Symbol: symbol, Kind: KindTrade}
}

// TickerTopic covers the whole watchlist with a single combined stream, so it
// carries no symbol of its own.
func TickerTopic() Topic {
	return Topic{Kind: KindTicker}
}

func (t Topic) Key() string {
	if t.Kind == KindKline {
		return fmt.Sprintf("%s:%s:%s", t.Symbol, t.Kind, t.Timeframe)
	}
	if t.Symbol == "" {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s:%s", t.Symbol, t.Kind)
}

// PriceLevel is one (price, quantity) pair on either side of the book.
// Quantity zero means "remove this level" when carried inside a diff.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// DepthSnapshot is a point-in-time order book fetched over REST. Bids are
// sorted by descending price, asks by ascending price. LastUpdateID is the
// version of the last update folded into the snapshot.
type DepthSnapshot struct {
	LastUpdateID int64        `json:"last_update_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// OrderBookDiff is one contiguous incremental update covering versions
// FirstVersion..LastVersion inclusive.
type OrderBookDiff struct {
	FirstVersion int64        `json:"first_version"`
	LastVersion  int64        `json:"last_version"`
	EventTime    int64        `json:"event_time"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// Candle is one OHLCV bar. OpenTime is in epoch milliseconds. The only candle
// allowed to mutate in place is the unclosed trailing one of a series.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Closed   bool    `json:"closed"`
}

// Trade is a single tape entry. ID is the exchange's monotonically increasing
// trade id, used for ordering and duplicate detection only.
type Trade struct {
	ID           int64   `json:"id"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	Time         int64   `json:"time"`
	IsBuyerMaker bool    `json:"is_buyer_maker"`
}

// WatchPrice is the latest mini-ticker reading for a watchlist symbol.
type WatchPrice struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
	ChangePct float64 `json:"change_pct"`
}

// HealthStatus summarizes connectivity and reconciliation confidence for one
// topic. The zero value means the topic is not subscribed.
type HealthStatus string

const (
	HealthNotSubscribed   HealthStatus = ""
	HealthLive            HealthStatus = "live"
	HealthResyncing       HealthStatus = "resyncing"
	HealthDisconnected    HealthStatus = "disconnected"
	HealthPersistentError HealthStatus = "persistent_error"
)
