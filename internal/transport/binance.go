package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/a-khushal/TickerTUI/internal/channel"
	"github.com/a-khushal/TickerTUI/internal/metrics"
	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/logger"
)

const combinedStreamURL = "wss://stream.binance.com:9443/stream"

// Binance implements Transport against the Binance spot API: REST for
// snapshots and history, the official websocket streams for pushes, and one
// hand-rolled combined connection for the watchlist mini tickers. All REST
// calls share a rate limiter so parallel topic tasks cannot exceed the
// exchange budget.
type Binance struct {
	client    *binance.Client
	limiter   *rate.Limiter
	queueSize int
	log       *logger.Log
}

// NewBinance builds the adapter. Public market data needs no credentials.
func NewBinance(requestsPerSecond, burst, queueSize int) *Binance {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Binance{
		client:    binance.NewClient("", ""),
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		queueSize: queueSize,
		log:       logger.GetLogger(),
	}
}

func (b *Binance) FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (*models.DepthSnapshot, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := b.client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, transportErr("depth snapshot "+symbol, err)
	}

	return &models.DepthSnapshot{
		LastUpdateID: res.LastUpdateID,
		Bids:         b.parseLevels(symbol, res.Bids),
		Asks:         b.parseLevels(symbol, res.Asks),
	}, nil
}

func (b *Binance) FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, start, end int64, limit int) ([]models.Candle, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	svc := b.client.NewKlinesService().Symbol(symbol).Interval(string(tf))
	if start > 0 {
		svc = svc.StartTime(start)
	}
	if end > 0 {
		svc = svc.EndTime(end)
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, transportErr(fmt.Sprintf("klines %s %s", symbol, tf), err)
	}

	now := time.Now().UnixMilli()
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime < now)
		if err != nil {
			b.log.WithComponent("binance_transport").WithError(err).WithFields(logger.Fields{
				"symbol": symbol, "open_time": k.OpenTime,
			}).Warn("skipping malformed kline")
			continue
		}
		candles = append(candles, c)
	}

	return candles, nil
}

func (b *Binance) SubscribeDepthDiffs(symbol string) (*Subscription[models.OrderBookDiff], error) {
	q := channel.NewQueue[models.OrderBookDiff](b.queueSize)
	errCh := make(chan error, 1)

	handler := func(event *binance.WsDepthEvent) {
		logger.IncrementDepthRead(len(event.Bids) + len(event.Asks))
		diff := models.OrderBookDiff{
			FirstVersion: event.FirstUpdateID,
			LastVersion:  event.LastUpdateID,
			EventTime:    event.Time,
			Bids:         b.parseLevels(symbol, event.Bids),
			Asks:         b.parseLevels(symbol, event.Asks),
		}
		if q.Send(diff) {
			metrics.EmitEvent(b.log, metrics.EventStreamDropped, symbol, string(models.KindDepth), "transport")
		}
	}

	doneC, stopC, err := binance.WsDepthServe100Ms(symbol, handler, b.errHandler(errCh))
	if err != nil {
		return nil, transportErr("subscribe depth "+symbol, err)
	}
	go func() {
		<-doneC
		q.Close()
	}()

	return NewSubscription(q.C(), errCh, func() { close(stopC) }), nil
}

func (b *Binance) SubscribeKlines(symbol string, tf models.Timeframe) (*Subscription[models.Candle], error) {
	q := channel.NewQueue[models.Candle](b.queueSize)
	errCh := make(chan error, 1)

	handler := func(event *binance.WsKlineEvent) {
		logger.IncrementKlineRead(1)
		k := event.Kline
		c, err := klineToCandle(k.StartTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.IsFinal)
		if err != nil {
			b.log.WithComponent("binance_transport").WithError(err).WithFields(logger.Fields{
				"symbol": symbol, "open_time": k.StartTime,
			}).Warn("skipping malformed kline event")
			return
		}
		if q.Send(c) {
			metrics.EmitEvent(b.log, metrics.EventStreamDropped, symbol, string(models.KindKline), "transport")
		}
	}

	doneC, stopC, err := binance.WsKlineServe(symbol, string(tf), handler, b.errHandler(errCh))
	if err != nil {
		return nil, transportErr(fmt.Sprintf("subscribe klines %s %s", symbol, tf), err)
	}
	go func() {
		<-doneC
		q.Close()
	}()

	return NewSubscription(q.C(), errCh, func() { close(stopC) }), nil
}

func (b *Binance) SubscribeTrades(symbol string) (*Subscription[models.Trade], error) {
	q := channel.NewQueue[models.Trade](b.queueSize)
	errCh := make(chan error, 1)

	handler := func(event *binance.WsTradeEvent) {
		logger.IncrementTradeRead(1)
		price, err1 := strconv.ParseFloat(event.Price, 64)
		qty, err2 := strconv.ParseFloat(event.Quantity, 64)
		if err1 != nil || err2 != nil {
			b.log.WithComponent("binance_transport").WithFields(logger.Fields{
				"symbol": symbol, "trade_id": event.TradeID,
			}).Warn("skipping malformed trade event")
			return
		}
		trade := models.Trade{
			ID:           event.TradeID,
			Price:        price,
			Quantity:     qty,
			Time:         event.TradeTime,
			IsBuyerMaker: event.IsBuyerMaker,
		}
		if q.Send(trade) {
			metrics.EmitEvent(b.log, metrics.EventStreamDropped, symbol, string(models.KindTrade), "transport")
		}
	}

	doneC, stopC, err := binance.WsTradeServe(symbol, handler, b.errHandler(errCh))
	if err != nil {
		return nil, transportErr("subscribe trades "+symbol, err)
	}
	go func() {
		<-doneC
		q.Close()
	}()

	return NewSubscription(q.C(), errCh, func() { close(stopC) }), nil
}

// SubscribeMiniTickers opens one combined-stream connection carrying a mini
// ticker for every watchlist symbol. The official client serves one symbol
// per connection, so this stream speaks the combined endpoint directly.
func (b *Binance) SubscribeMiniTickers(symbols []string) (*Subscription[models.WatchPrice], error) {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	url := combinedStreamURL + "?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, transportErr("dial combined stream", err)
	}

	q := channel.NewQueue[models.WatchPrice](b.queueSize)
	errCh := make(chan error, 1)

	go func() {
		defer q.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			logger.IncrementTickerRead(len(payload))

			wp, ok := parseMiniTicker(payload)
			if !ok {
				continue
			}
			if q.Send(wp) {
				metrics.EmitEvent(b.log, metrics.EventStreamDropped, wp.Symbol, string(models.KindTicker), "transport")
			}
		}
	}()

	return NewSubscription(q.C(), errCh, func() { _ = conn.Close() }), nil
}

func (b *Binance) errHandler(errCh chan error) binance.ErrHandler {
	return func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
	}
}

func (b *Binance) parseLevels(symbol string, levels []common.PriceLevel) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		price, qty, err := lvl.Parse()
		if err != nil {
			b.log.WithComponent("binance_transport").WithError(err).WithFields(logger.Fields{
				"symbol": symbol, "price": lvl.Price,
			}).Warn("skipping malformed price level")
			continue
		}
		out = append(out, models.PriceLevel{Price: price, Quantity: qty})
	}
	return out
}

func klineToCandle(openTime int64, open, high, low, closeStr, volume string, closed bool) (models.Candle, error) {
	o, err := strconv.ParseFloat(open, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("open %q: %w", open, err)
	}
	h, err := strconv.ParseFloat(high, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("high %q: %w", high, err)
	}
	l, err := strconv.ParseFloat(low, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("low %q: %w", low, err)
	}
	c, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("close %q: %w", closeStr, err)
	}
	v, err := strconv.ParseFloat(volume, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("volume %q: %w", volume, err)
	}

	return models.Candle{
		OpenTime: openTime,
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
		Volume:   v,
		Closed:   closed,
	}, nil
}

// combinedMessage is the envelope of the multiplexed stream endpoint.
type combinedMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
		Open   string `json:"o"`
	} `json:"data"`
}

func parseMiniTicker(payload []byte) (models.WatchPrice, bool) {
	var msg combinedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.WatchPrice{}, false
	}
	if msg.Data.Symbol == "" {
		return models.WatchPrice{}, false
	}

	closePrice, err := strconv.ParseFloat(msg.Data.Close, 64)
	if err != nil {
		return models.WatchPrice{}, false
	}
	openPrice, err := strconv.ParseFloat(msg.Data.Open, 64)
	if err != nil {
		return models.WatchPrice{}, false
	}

	changePct := 0.0
	if openPrice > 0 {
		changePct = (closePrice - openPrice) / openPrice * 100
	}

	return models.WatchPrice{
		Symbol:    msg.Data.Symbol,
		LastPrice: closePrice,
		ChangePct: changePct,
	}, true
}
