// Command oddsgrid fetches racing odds from configured sources,
// aggregates them into one deduplicated card per date, and serves an
// operational status API.
//
// Usage:
//
//	oddsgrid -config oddsgrid.yaml -once            # one cycle, then exit
//	oddsgrid -config oddsgrid.yaml -serve           # cycle loop + status API
//	oddsgrid -config oddsgrid.yaml -date 2025-01-29 # aggregate a specific date
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oddsgrid/oddsgrid/internal/aggregate"
	"github.com/oddsgrid/oddsgrid/internal/config"
	"github.com/oddsgrid/oddsgrid/internal/engine"
	"github.com/oddsgrid/oddsgrid/internal/heal"
	"github.com/oddsgrid/oddsgrid/internal/source"
	"github.com/oddsgrid/oddsgrid/internal/status"
	"github.com/oddsgrid/oddsgrid/internal/store"
)

func main() {
	configPath := flag.String("config", "oddsgrid.yaml", "path to YAML config file")
	date := flag.String("date", "", "race date YYYY-MM-DD (default: today)")
	once := flag.Bool("once", false, "run a single aggregation cycle and exit")
	interval := flag.Duration("interval", 5*time.Minute, "delay between aggregation cycles")
	serve := flag.Bool("serve", false, "serve the status API")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *date, *once, *interval, *serve); err != nil {
		logger.Error("oddsgrid: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, date string, once bool, interval time.Duration, serve bool) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("no sources configured in %s", configPath)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "oddsgrid.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	health := engine.NewHealthTracker(cfg.Fetch.HealthIncrement, cfg.Fetch.HealthDecrement)
	browsers := engine.NewBrowserManager(engine.BrowserConfig{
		RemoteURL:       cfg.Browser.Remote,
		RecycleInterval: cfg.Browser.RecycleInterval,
		NavTimeout:      cfg.Browser.NavTimeout,
		Logger:          logger,
	})
	defer browsers.Close()

	fetcher := engine.New(
		engine.Config{
			Timeout:     cfg.Fetch.Timeout,
			Retries:     cfg.Fetch.Retries,
			BackoffBase: cfg.Fetch.BackoffBase,
			Logger:      logger,
		},
		health,
		engine.NewHTTPEngine(cfg.Fetch.Timeout,
			engine.WithUserAgent(cfg.Fetch.UserAgent),
			engine.WithMaxBytes(cfg.Fetch.MaxBytes)),
		engine.NewBrowserEngine(browsers),
		engine.NewStealthEngine(browsers),
	)
	defer fetcher.Close()

	report := heal.NewReport()
	healer := heal.New(
		heal.NewProbe(cfg.Heal.ProbeTimeout),
		func(ctx context.Context, url, src string) ([]byte, error) {
			return fetcher.Fetch(ctx, url, engine.Options{Source: src})
		},
		report, logger)

	client := source.NewClient(fetcher, healer, st, cfg.Breaker, cfg.Pace, logger)

	registry := source.NewRegistry()
	for i := range cfg.Sources {
		registry.Register(source.NewGeneric(&cfg.Sources[i], client, logger))
	}

	cache := aggregate.NewCache(st, cfg.Aggregate.CacheMaxAge)
	agg := aggregate.New(cfg.Aggregate, client, registry, cfg.Sources, cache, logger)

	statusServer := status.NewServer(client, report, cfg.Sources, logger)
	if serve {
		go func() {
			if err := statusServer.Serve(ctx, cfg.Serve.Addr, cfg.Serve.AllowedOrigins); err != nil {
				logger.Error("status api stopped", "error", err)
			}
		}()
	}

	cycle := func() error {
		// Resolved per cycle so a daemon crossing midnight rolls over
		// to the new card.
		res, err := agg.Run(ctx, cycleDate(date, time.Now))
		var timeout *aggregate.AggregationTimeout
		if errors.As(err, &timeout) {
			logger.Warn("cycle incomplete", "error", timeout)
		} else if err != nil {
			return err
		}

		statusServer.SetResult(res)
		if err := aggregate.WriteResult(filepath.Join(cfg.DataDir, cfg.Aggregate.ResultPath), res); err != nil {
			logger.Warn("result artifact write failed", "error", err)
		}
		if err := report.WriteFile(filepath.Join(cfg.DataDir, cfg.Heal.ReportPath)); err != nil {
			logger.Warn("healing report write failed", "error", err)
		}
		return nil
	}

	if err := cycle(); err != nil {
		return err
	}
	if once {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := cycle(); err != nil {
				logger.Error("cycle failed", "error", err)
			}
		}
	}
}

// cycleDate picks the race day for a cycle: the explicit -date flag
// when given, otherwise the current day at cycle time.
func cycleDate(explicit string, now func() time.Time) string {
	if explicit != "" {
		return explicit
	}
	return now().Format("2006-01-02")
}
