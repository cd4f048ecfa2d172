package models

import (
	"testing"
	"time"
)

func TestTopicKeys(t *testing.T) {
	cases := []struct {
		topic Topic
		want  string
	}{
		{DepthTopic("BTCUSDT"), "BTCUSDT:depth"},
		{TradeTopic("ETHUSDT"), "ETHUSDT:trade"},
		{KlineTopic("BTCUSDT", Timeframe1h), "BTCUSDT:kline:1h"},
		{TickerTopic(), "ticker"},
	}
	for _, tc := range cases {
		if got := tc.topic.Key(); got != tc.want {
			t.Errorf("Key() = %q, want %q", got, tc.want)
		}
	}
}

func TestTimeframeValidation(t *testing.T) {
	for _, tf := range []Timeframe{Timeframe1m, Timeframe15m, Timeframe1h, Timeframe1d, Timeframe1w, Timeframe1M} {
		if !tf.Valid() {
			t.Errorf("%s should be valid", tf)
		}
	}
	for _, tf := range []Timeframe{"", "2m", "1H", "90s"} {
		if tf.Valid() {
			t.Errorf("%q should be invalid", tf)
		}
	}
}

func TestTimeframeStepMillis(t *testing.T) {
	if got := Timeframe1m.StepMillis(); got != 60_000 {
		t.Errorf("1m step = %d, want 60000", got)
	}
	if got := Timeframe1h.StepMillis(); got != int64((time.Hour)/time.Millisecond) {
		t.Errorf("1h step = %d", got)
	}
}

func TestUndefinedMarker(t *testing.T) {
	if !IsUndefined(Undefined()) {
		t.Fatal("Undefined() must report as undefined")
	}
	if IsUndefined(0) || IsUndefined(-3.5) {
		t.Fatal("real values must not report as undefined")
	}
}

func TestBookViewBestLevels(t *testing.T) {
	var empty BookView
	if _, ok := empty.BestBid(); ok {
		t.Fatal("empty book has no best bid")
	}

	view := BookView{
		Bids: []PriceLevel{{Price: 100, Quantity: 1}, {Price: 99, Quantity: 2}},
		Asks: []PriceLevel{{Price: 101, Quantity: 1}},
	}
	bid, ok := view.BestBid()
	if !ok || bid.Price != 100 {
		t.Fatalf("best bid = %+v, ok=%v", bid, ok)
	}
	ask, ok := view.BestAsk()
	if !ok || ask.Price != 101 {
		t.Fatalf("best ask = %+v, ok=%v", ask, ok)
	}
}

func TestMarketSnapshotAccessors(t *testing.T) {
	snap := MarketSnapshot{
		Charts: map[string]ChartView{
			"BTCUSDT:kline:1h": {Symbol: "BTCUSDT", Timeframe: Timeframe1h},
		},
		Health: map[string]HealthStatus{"BTCUSDT:depth": HealthLive},
	}

	if _, ok := snap.Chart("BTCUSDT", Timeframe1h); !ok {
		t.Fatal("expected chart for subscribed timeframe")
	}
	if _, ok := snap.Chart("BTCUSDT", Timeframe1m); ok {
		t.Fatal("unexpected chart for unsubscribed timeframe")
	}

	if got := snap.HealthOf(DepthTopic("BTCUSDT")); got != HealthLive {
		t.Fatalf("health = %q", got)
	}
	if got := snap.HealthOf(TradeTopic("BTCUSDT")); got != HealthNotSubscribed {
		t.Fatalf("unsubscribed health = %q", got)
	}
}
