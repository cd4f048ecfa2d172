package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `app:
  name: "TestApp"
  version: "1.0"
market:
  watchlist: ["BTCUSDT", "ETHUSDT"]
  symbol: ETHUSDT
  timeframe: 5m
  zoom: 4
book:
  depth_limit: 10
  diff_buffer: 100
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Market.Symbol != "ETHUSDT" {
		t.Errorf("unexpected symbol: %s", cfg.Market.Symbol)
	}
	if cfg.Book.DiffBuffer != 100 {
		t.Errorf("unexpected diff buffer: %d", cfg.Book.DiffBuffer)
	}
	// Defaults fill the sections the file omits.
	if cfg.Tape.Capacity != 200 {
		t.Errorf("unexpected tape capacity: %d", cfg.Tape.Capacity)
	}
	if cfg.Stream.BackoffMax != 30*time.Second {
		t.Errorf("unexpected backoff max: %s", cfg.Stream.BackoffMax)
	}
}

func TestSanitizeClampsSelection(t *testing.T) {
	cfg := &Config{}
	cfg.Market.Symbol = "DOGEUSDT" // not on the default watchlist
	cfg.Market.Timeframe = "7m"    // not a valid interval
	cfg.Market.Zoom = 99
	cfg.Sanitize()

	if cfg.Market.Symbol != "BTCUSDT" {
		t.Errorf("symbol not reset to watchlist head: %s", cfg.Market.Symbol)
	}
	if cfg.Market.Timeframe != "1h" {
		t.Errorf("timeframe not defaulted: %s", cfg.Market.Timeframe)
	}
	if cfg.Market.Zoom != 32 {
		t.Errorf("zoom not clamped: %d", cfg.Market.Zoom)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TTUI_TEST_SYMBOL", "BTCUSDT")
	out := expandEnv([]byte("symbol: ${TTUI_TEST_SYMBOL}"))
	if string(out) != "symbol: BTCUSDT" {
		t.Errorf("unexpected expansion: %s", out)
	}
}

func TestValidateRejectsBadSymbol(t *testing.T) {
	path := writeTempConfig(t, `market:
  watchlist: ["btc/usdt"]
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for lowercase symbol")
	}
}
