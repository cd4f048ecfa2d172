// Package dashboard hosts an optional JSON monitoring endpoint: topic health,
// a market data summary, recent reconciler events, warnings and resource
// usage. It reads the same immutable snapshots the rendering loop does.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/a-khushal/TickerTUI/config"
	"github.com/a-khushal/TickerTUI/internal/metrics"
	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/logger"
)

// snapshotSource is the read side of the market hub.
type snapshotSource interface {
	CurrentSnapshot() models.MarketSnapshot
}

// Server exposes the monitoring API while the engine runs.
type Server struct {
	cfg          config.MonitorConfig
	log          *logger.Log
	hub          snapshotSource
	events       *eventStore
	logs         *logStore
	eventHandler metrics.MetricHandlerID
	sampler      *resourceSampler
	httpServer   *http.Server
}

// NewServer builds the monitor when enabled; returns nil when disabled.
func NewServer(cfg config.MonitorConfig, hub snapshotSource, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	events := newEventStore(cfg.History)
	handlerID := metrics.RegisterMetricHandler(events.handle)

	logs := newLogStore(cfg.History)
	log.AddHook(logs)

	return &Server{
		cfg:          cfg,
		log:          log,
		hub:          hub,
		events:       events,
		logs:         logs,
		eventHandler: handlerID,
		sampler:      newResourceSampler(cfg.History, cfg.RefreshInterval, log),
	}
}

// Run serves the API until the context is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}
	s.sampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.eventHandler)
	s.logs.close()
	s.sampler.stop()
}

// Address reports the listen address after normalization.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/api/health", s.handleHealth)
	router.GET("/api/market", s.handleMarket)
	router.GET("/api/events", s.handleEvents)
	router.GET("/api/logs", s.handleLogs)
	router.GET("/api/resources", s.handleResources)

	return router, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.hub.CurrentSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"snapshot_time": snap.Time.Format(time.RFC3339Nano),
		"snapshot_age":  time.Since(snap.Time).String(),
		"topics":        snap.Health,
	})
}

func (s *Server) handleMarket(c *gin.Context) {
	snap := s.hub.CurrentSnapshot()

	book := gin.H{
		"symbol":      snap.Book.Symbol,
		"version":     snap.Book.Version,
		"stale":       snap.Book.Stale,
		"initialized": snap.Book.Initialized,
		"bid_levels":  len(snap.Book.Bids),
		"ask_levels":  len(snap.Book.Asks),
	}
	if best, ok := snap.Book.BestBid(); ok {
		book["best_bid"] = best.Price
	}
	if best, ok := snap.Book.BestAsk(); ok {
		book["best_ask"] = best.Price
	}

	charts := make(map[string]gin.H, len(snap.Charts))
	for key, cv := range snap.Charts {
		summary := gin.H{"candles": len(cv.Candles)}
		if n := len(cv.Candles); n > 0 {
			summary["last_open_time"] = cv.Candles[n-1].OpenTime
			summary["last_close"] = cv.Candles[n-1].Close
		}
		charts[key] = summary
	}

	payload := gin.H{
		"book":         book,
		"charts":       charts,
		"trades":       len(snap.Trades),
		"watch_prices": snap.WatchPrices,
	}
	if n := len(snap.Trades); n > 0 {
		payload["last_trade_id"] = snap.Trades[n-1].ID
	}

	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleEvents(c *gin.Context) {
	eventsSnapshot := s.events.snapshot()
	payload := make([]gin.H, 0, len(eventsSnapshot))
	for _, m := range eventsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": payload})
}

func (s *Server) handleLogs(c *gin.Context) {
	logsSnapshot := s.logs.snapshot()
	payload := make([]gin.H, 0, len(logsSnapshot))
	for _, l := range logsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.sampler.snapshot()})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "127.0.0.1:8089"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "127.0.0.1" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "127.0.0.1"
		}
		if port == "" {
			port = "8089"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8089")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8089")
	}

	return addr
}
