// Package indicator computes chart overlays incrementally. Each indicator
// keeps O(period) state, accepts one committed close at a time and can
// evaluate a provisional value for the still-open candle without touching the
// committed state.
package indicator

import (
	"math"

	"github.com/gammazero/deque"
)

// Undefined marks indicator points with no value yet (warm-up, evictions).
func Undefined() float64 { return math.NaN() }

// IsUndefined reports whether v is the undefined marker.
func IsUndefined(v float64) bool { return math.IsNaN(v) }

// SMA is a simple moving average over the last period committed closes,
// maintained with a running sum.
type SMA struct {
	period int
	window deque.Deque[float64]
	sum    float64
}

func NewSMA(period int) *SMA {
	if period <= 0 {
		period = 20
	}
	return &SMA{period: period}
}

func (s *SMA) Period() int { return s.period }

// Commit folds one closed candle's close into the average and returns the
// value at that point, or undefined until period closes have been seen.
func (s *SMA) Commit(close float64) float64 {
	s.window.PushBack(close)
	s.sum += close
	if s.window.Len() > s.period {
		s.sum -= s.window.PopFront()
	}
	return s.Value()
}

// Value returns the average of the current window without mutating it.
func (s *SMA) Value() float64 {
	if s.window.Len() < s.period {
		return Undefined()
	}
	return s.sum / float64(s.period)
}

// Provisional evaluates the average as if close were committed next. State is
// untouched, so the open candle can be revised any number of times.
func (s *SMA) Provisional(close float64) float64 {
	if s.window.Len()+1 < s.period {
		return Undefined()
	}
	sum := s.sum + close
	if s.window.Len() >= s.period {
		sum -= s.window.Front()
	}
	return sum / float64(s.period)
}

// RSI is Wilder's relative strength index. The first value is seeded from the
// plain mean of the first period up/down moves, then smoothed with
// avg = (avg*(period-1) + move) / period.
type RSI struct {
	period    int
	prevClose float64
	seeded    bool

	warmupGain float64
	warmupLoss float64
	changes    int

	avgGain float64
	avgLoss float64
}

func NewRSI(period int) *RSI {
	if period <= 0 {
		period = 14
	}
	return &RSI{period: period}
}

func (r *RSI) Period() int { return r.period }

// Commit folds one closed candle's close and returns the index at that point,
// or undefined while warming up. The first close only seeds prevClose.
func (r *RSI) Commit(close float64) float64 {
	if !r.seeded {
		r.prevClose = close
		r.seeded = true
		return Undefined()
	}

	gain, loss := move(close - r.prevClose)
	r.prevClose = close

	if r.changes < r.period {
		r.warmupGain += gain
		r.warmupLoss += loss
		r.changes++
		if r.changes < r.period {
			return Undefined()
		}
		r.avgGain = r.warmupGain / float64(r.period)
		r.avgLoss = r.warmupLoss / float64(r.period)
		return r.Value()
	}

	r.changes++
	r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
	r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	return r.Value()
}

// Value returns the index over committed closes only.
func (r *RSI) Value() float64 {
	if r.changes < r.period {
		return Undefined()
	}
	return fromAverages(r.avgGain, r.avgLoss)
}

// Provisional evaluates the index as if close were committed next, without
// mutating state.
func (r *RSI) Provisional(close float64) float64 {
	if !r.seeded || r.changes+1 < r.period {
		return Undefined()
	}

	gain, loss := move(close - r.prevClose)

	if r.changes < r.period {
		avgGain := (r.warmupGain + gain) / float64(r.period)
		avgLoss := (r.warmupLoss + loss) / float64(r.period)
		return fromAverages(avgGain, avgLoss)
	}

	avgGain := (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
	avgLoss := (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	return fromAverages(avgGain, avgLoss)
}

func move(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func fromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
