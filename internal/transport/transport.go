// Package transport provides the capability set the reconcilers consume:
// request/response snapshot and history fetches plus subscribable push
// streams. Streams are lazy, infinite and non-restartable; once a stream's
// channel closes the owner must subscribe again.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/a-khushal/TickerTUI/internal/models"
)

// ErrStreamEnded is reported on a subscription's Err channel when the remote
// closed the stream without a transport-level error.
var ErrStreamEnded = errors.New("stream ended")

// Subscription is one live push-channel subscription. C delivers messages in
// arrival order until the stream ends, after which C is closed; Err then
// holds the terminal cause when there was one. Close tears the stream down.
type Subscription[T any] struct {
	C   <-chan T
	Err <-chan error

	stop func()
	once sync.Once
}

func NewSubscription[T any](c <-chan T, errCh <-chan error, stop func()) *Subscription[T] {
	return &Subscription[T]{C: c, Err: errCh, stop: stop}
}

// Close terminates the subscription. Idempotent; pending messages already in
// C may still be drained afterwards.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Cause returns the terminal error after C has closed, or ErrStreamEnded for
// a clean remote close.
func (s *Subscription[T]) Cause() error {
	select {
	case err := <-s.Err:
		if err != nil {
			return err
		}
	default:
	}
	return ErrStreamEnded
}

// Transport is the exchange capability set. Implementations must be safe for
// concurrent use; every method may be called from a different topic task.
type Transport interface {
	// FetchDepthSnapshot returns a point-in-time order book limited to the
	// given depth per side.
	FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (*models.DepthSnapshot, error)

	// FetchKlines returns historical candles for (symbol, timeframe). Zero
	// start/end leave the range open on that end; limit bounds the count.
	FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, start, end int64, limit int) ([]models.Candle, error)

	// SubscribeDepthDiffs opens the incremental depth update stream.
	SubscribeDepthDiffs(symbol string) (*Subscription[models.OrderBookDiff], error)

	// SubscribeKlines opens the live candle stream for one timeframe.
	SubscribeKlines(symbol string, tf models.Timeframe) (*Subscription[models.Candle], error)

	// SubscribeTrades opens the trade tape stream.
	SubscribeTrades(symbol string) (*Subscription[models.Trade], error)

	// SubscribeMiniTickers opens one combined stream covering the whole
	// watchlist.
	SubscribeMiniTickers(symbols []string) (*Subscription[models.WatchPrice], error)
}
