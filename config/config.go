package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/a-khushal/TickerTUI/internal/models"
)

type Config struct {
	App     AppConfig     `yaml:"app"`
	Market  MarketConfig  `yaml:"market"`
	Chart   ChartConfig   `yaml:"chart"`
	Book    BookConfig    `yaml:"book"`
	Tape    TapeConfig    `yaml:"tape"`
	Stream  StreamConfig  `yaml:"stream"`
	Rest    RestConfig    `yaml:"rest"`
	Monitor MonitorConfig `yaml:"monitor"`
	Logging LoggingConfig `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// MarketConfig is the startup subscription state: the watchlist, the selected
// symbol and timeframe, and the chart zoom. It mirrors what the UI
// collaborator persists between runs.
type MarketConfig struct {
	Watchlist []string `yaml:"watchlist"`
	Symbol    string   `yaml:"symbol"`
	Timeframe string   `yaml:"timeframe"`
	Zoom      int      `yaml:"zoom"`
}

type ChartConfig struct {
	// WindowSize is the retained candle window per (symbol, timeframe).
	WindowSize int `yaml:"window_size"`
	SMAPeriod  int `yaml:"sma_period"`
	RSIPeriod  int `yaml:"rsi_period"`
}

type BookConfig struct {
	// DepthLimit bounds the snapshot depth requested over REST.
	DepthLimit int `yaml:"depth_limit"`
	// DiffBuffer bounds diffs held while a snapshot is in flight. When it
	// fills, the oldest diffs are dropped, which forces a gap and a resync.
	DiffBuffer int `yaml:"diff_buffer"`
	// ResyncRetryCap is the number of consecutive failed resyncs tolerated
	// before the topic is marked with a persistent error.
	ResyncRetryCap int `yaml:"resync_retry_cap"`
}

type TapeConfig struct {
	Capacity int `yaml:"capacity"`
}

type StreamConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	BackoffJitter float64       `yaml:"backoff_jitter"`
}

type RestConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// MonitorConfig controls the optional JSON monitoring endpoint that exposes
// hub health, recent reconciler events and resource usage.
type MonitorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	History         int           `yaml:"history"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultWatchlist matches the symbols the ticker ships with before the user
// edits the watchlist.
func DefaultWatchlist() []string {
	return []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "ADAUSDT"}
}

var envVarRegexp = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references in the raw yaml before unmarshal so
// secrets and host-specific paths can live outside the file.
func expandEnv(data []byte) []byte {
	return envVarRegexp.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarRegexp.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(expandEnv(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.Sanitize()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Sanitize fills defaults and clamps user-editable values so a hand-edited
// file can never leave the engine without a usable subscription state.
func (c *Config) Sanitize() {
	if c.App.Name == "" {
		c.App.Name = "tickertui"
	}

	if len(c.Market.Watchlist) == 0 {
		c.Market.Watchlist = DefaultWatchlist()
	}
	for i, s := range c.Market.Watchlist {
		c.Market.Watchlist[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	found := false
	for _, s := range c.Market.Watchlist {
		if s == c.Market.Symbol {
			found = true
			break
		}
	}
	if !found {
		c.Market.Symbol = c.Market.Watchlist[0]
	}

	if !models.Timeframe(c.Market.Timeframe).Valid() {
		c.Market.Timeframe = string(models.Timeframe1h)
	}

	if c.Market.Zoom < 1 {
		c.Market.Zoom = 1
	}
	if c.Market.Zoom > 32 {
		c.Market.Zoom = 32
	}

	if c.Chart.WindowSize <= 0 {
		c.Chart.WindowSize = 1000
	}
	if c.Chart.SMAPeriod <= 0 {
		c.Chart.SMAPeriod = 20
	}
	if c.Chart.RSIPeriod <= 0 {
		c.Chart.RSIPeriod = 14
	}

	if c.Book.DepthLimit <= 0 {
		c.Book.DepthLimit = 20
	}
	if c.Book.DiffBuffer <= 0 {
		c.Book.DiffBuffer = 1000
	}
	if c.Book.ResyncRetryCap <= 0 {
		c.Book.ResyncRetryCap = 5
	}

	if c.Tape.Capacity <= 0 {
		c.Tape.Capacity = 200
	}

	if c.Stream.QueueSize <= 0 {
		c.Stream.QueueSize = 1000
	}
	if c.Stream.BackoffBase <= 0 {
		c.Stream.BackoffBase = 500 * time.Millisecond
	}
	if c.Stream.BackoffMax <= 0 {
		c.Stream.BackoffMax = 30 * time.Second
	}
	if c.Stream.BackoffJitter < 0 || c.Stream.BackoffJitter > 1 {
		c.Stream.BackoffJitter = 0.2
	}

	if c.Rest.RequestsPerSecond <= 0 {
		c.Rest.RequestsPerSecond = 10
	}
	if c.Rest.Burst <= 0 {
		c.Rest.Burst = 20
	}

	if c.Monitor.Address == "" {
		c.Monitor.Address = "127.0.0.1:8089"
	}
	if c.Monitor.RefreshInterval <= 0 {
		c.Monitor.RefreshInterval = 5 * time.Second
	}
	if c.Monitor.History <= 0 {
		c.Monitor.History = 200
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

var symbolRegexp = regexp.MustCompile(`^[A-Z0-9]{5,20}$`)

func validateConfig(c *Config) error {
	for _, s := range c.Market.Watchlist {
		if !symbolRegexp.MatchString(s) {
			return fmt.Errorf("invalid symbol in watchlist: %q", s)
		}
	}

	if c.Stream.BackoffBase > c.Stream.BackoffMax {
		return fmt.Errorf("backoff_base %s exceeds backoff_max %s", c.Stream.BackoffBase, c.Stream.BackoffMax)
	}

	if c.Book.DiffBuffer < c.Book.DepthLimit {
		return fmt.Errorf("diff_buffer %d smaller than depth_limit %d", c.Book.DiffBuffer, c.Book.DepthLimit)
	}

	return nil
}

// Timeframe returns the selected timeframe as a typed value. Sanitize
// guarantees validity.
func (c *Config) Timeframe() models.Timeframe {
	return models.Timeframe(c.Market.Timeframe)
}
