package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMAWarmupAndMean(t *testing.T) {
	s := NewSMA(3)

	assert.True(t, IsUndefined(s.Commit(1)))
	assert.True(t, IsUndefined(s.Commit(2)))
	assert.InDelta(t, 2.0, s.Commit(3), 1e-12)
	assert.InDelta(t, 3.0, s.Commit(4), 1e-12)
	assert.InDelta(t, 4.0, s.Commit(5), 1e-12)
}

func TestSMAMatchesArithmeticMean(t *testing.T) {
	const period = 20
	s := NewSMA(period)

	closes := make([]float64, 0, 50)
	for i := 0; i < 50; i++ {
		c := 100 + float64(i%7)*3.5
		closes = append(closes, c)
		got := s.Commit(c)
		if len(closes) < period {
			assert.True(t, IsUndefined(got))
			continue
		}
		sum := 0.0
		for _, v := range closes[len(closes)-period:] {
			sum += v
		}
		assert.InDelta(t, sum/period, got, 1e-9, "at close %d", i)
	}
}

func TestSMAProvisionalDoesNotMutate(t *testing.T) {
	s := NewSMA(3)
	s.Commit(1)
	s.Commit(2)
	s.Commit(3)

	// Revise the open candle repeatedly; committed state must not drift.
	for i := 0; i < 10; i++ {
		assert.InDelta(t, (2.0+3.0+9.0)/3, s.Provisional(9), 1e-12)
	}
	assert.InDelta(t, 2.0, s.Value(), 1e-12)
	assert.InDelta(t, 3.0, s.Commit(4), 1e-12)
}

func TestSMAProvisionalDuringWarmup(t *testing.T) {
	s := NewSMA(3)
	s.Commit(1)
	assert.True(t, IsUndefined(s.Provisional(2)))
	s.Commit(2)
	// Two committed plus the provisional close completes the window.
	assert.InDelta(t, 2.0, s.Provisional(3), 1e-12)
}

func TestRSIWarmupLength(t *testing.T) {
	r := NewRSI(14)

	// Seed close plus 13 changes: still undefined.
	for i := 0; i <= 13; i++ {
		v := r.Commit(100 + float64(i))
		if i < 13 {
			assert.True(t, IsUndefined(v), "change %d", i)
		}
	}
	assert.True(t, IsUndefined(r.Value()))

	// The 14th change produces the first value.
	assert.False(t, IsUndefined(r.Commit(120)))
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	r := NewRSI(5)
	for i := 0; i <= 5; i++ {
		r.Commit(float64(i))
	}
	assert.InDelta(t, 100.0, r.Value(), 1e-12)
}

func TestRSIAllLossesIsZero(t *testing.T) {
	r := NewRSI(5)
	for i := 0; i <= 5; i++ {
		r.Commit(float64(-i))
	}
	assert.InDelta(t, 0.0, r.Value(), 1e-12)
}

func TestRSIFlatSeriesIsFifty(t *testing.T) {
	r := NewRSI(5)
	for i := 0; i <= 5; i++ {
		r.Commit(42)
	}
	assert.InDelta(t, 50.0, r.Value(), 1e-12)
}

func TestRSIWilderSmoothing(t *testing.T) {
	// Classic worked example: period 3, closes 10, 11, 10.5, 11.5, 12.
	r := NewRSI(3)
	r.Commit(10)
	r.Commit(11)   // +1
	r.Commit(10.5) // -0.5
	first := r.Commit(11.5) // +1

	avgGain := 2.0 / 3
	avgLoss := 0.5 / 3
	rs := avgGain / avgLoss
	require.InDelta(t, 100-100/(1+rs), first, 1e-12)

	next := r.Commit(12) // +0.5
	avgGain = (avgGain*2 + 0.5) / 3
	avgLoss = (avgLoss * 2) / 3
	rs = avgGain / avgLoss
	assert.InDelta(t, 100-100/(1+rs), next, 1e-12)
}

func TestRSIProvisionalDoesNotCompound(t *testing.T) {
	r := NewRSI(3)
	r.Commit(10)
	r.Commit(11)
	r.Commit(10.5)
	r.Commit(11.5)

	committed := r.Value()
	p := r.Provisional(12)
	// Re-evaluating the same open close any number of times yields the same
	// value and leaves committed state alone.
	for i := 0; i < 10; i++ {
		assert.InDelta(t, p, r.Provisional(12), 1e-12)
	}
	assert.InDelta(t, committed, r.Value(), 1e-12)

	// Committing for real matches the last provisional evaluation.
	assert.InDelta(t, p, r.Commit(12), 1e-12)
}

func TestRSIProvisionalCompletesWarmup(t *testing.T) {
	r := NewRSI(3)
	r.Commit(10)
	r.Commit(11)
	assert.True(t, IsUndefined(r.Provisional(12)))
	r.Commit(10.5)
	// Two committed changes plus the provisional one reach the period.
	assert.False(t, IsUndefined(r.Provisional(11.5)))
	assert.True(t, IsUndefined(r.Value()))
}
