package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/a-khushal/TickerTUI/config"
	"github.com/a-khushal/TickerTUI/internal/dashboard"
	"github.com/a-khushal/TickerTUI/internal/hub"
	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/internal/supervisor"
	"github.com/a-khushal/TickerTUI/internal/transport"
	"github.com/a-khushal/TickerTUI/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":   cfg.App.Name,
		"version":   cfg.App.Version,
		"symbol":    cfg.Market.Symbol,
		"timeframe": cfg.Market.Timeframe,
	}).Info("starting tickertui engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	binance := transport.NewBinance(cfg.Rest.RequestsPerSecond, cfg.Rest.Burst, cfg.Stream.QueueSize)

	sup := supervisor.New(supervisor.BackoffPolicy{
		Base:   cfg.Stream.BackoffBase,
		Max:    cfg.Stream.BackoffMax,
		Jitter: cfg.Stream.BackoffJitter,
	}, cfg.Stream.BackoffMax)

	marketHub := hub.New(binance, sup, hub.Options{
		Watchlist:      cfg.Market.Watchlist,
		DepthLimit:     cfg.Book.DepthLimit,
		DiffBuffer:     cfg.Book.DiffBuffer,
		ResyncRetryCap: cfg.Book.ResyncRetryCap,
		TapeCapacity:   cfg.Tape.Capacity,
		CandleWindow:   cfg.Chart.WindowSize,
		SMAPeriod:      cfg.Chart.SMAPeriod,
		RSIPeriod:      cfg.Chart.RSIPeriod,
	})
	defer marketHub.Close()

	if err := marketHub.SubscribeTopic(models.TickerTopic()); err != nil {
		log.WithError(err).Error("Failed to subscribe watchlist tickers")
		os.Exit(1)
	}
	if err := marketHub.SubscribeSymbol(cfg.Market.Symbol, cfg.Timeframe()); err != nil {
		log.WithError(err).Error("Failed to subscribe selected symbol")
		os.Exit(1)
	}

	if monitor := dashboard.NewServer(cfg.Monitor, marketHub, log); monitor != nil {
		go func() {
			if err := monitor.Run(ctx); err != nil {
				log.WithError(err).Error("monitor server failed")
			}
		}()
		log.WithFields(logger.Fields{"address": monitor.Address()}).Info("monitor server listening")
	}

	go logHealth(ctx, marketHub, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutting down")
	cancel()
}

// logHealth periodically reports topic status and top-of-book so a headless
// run leaves a usable trace.
func logHealth(ctx context.Context, marketHub *hub.Hub, cfg *config.Config) {
	log := logger.GetLogger().WithComponent("health_report")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := marketHub.CurrentSnapshot()
			fields := logger.Fields{
				"book_version": snap.Book.Version,
				"book_stale":   snap.Book.Stale,
				"trades":       len(snap.Trades),
				"watch_prices": len(snap.WatchPrices),
			}
			for topic, status := range snap.Health {
				fields["topic_"+topic] = string(status)
			}
			if cv, ok := snap.Chart(cfg.Market.Symbol, cfg.Timeframe()); ok {
				fields["candles"] = len(cv.Candles)
			}
			log.WithFields(fields).Info("market data health")
		}
	}
}
