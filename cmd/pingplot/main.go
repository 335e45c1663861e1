package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/api"
	"github.com/aaronlmathis/pingplot/internal/config"
	"github.com/aaronlmathis/pingplot/internal/logging"
	"github.com/aaronlmathis/pingplot/internal/monitor"
	"github.com/aaronlmathis/pingplot/internal/poller"
	"github.com/aaronlmathis/pingplot/internal/probe"
	"github.com/aaronlmathis/pingplot/internal/sink"
	"github.com/aaronlmathis/pingplot/internal/timeseries"
	"github.com/aaronlmathis/pingplot/internal/tui"
	"github.com/aaronlmathis/pingplot/internal/version"
	"github.com/aaronlmathis/pingplot/internal/ws"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// The terminal renderer owns stdout; logs then go to the log file only
	tuiMode := cfg.Renderer.Mode == "tui"
	logger, err := logging.NewLogger(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Stdout: !tuiMode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, tuiMode); err != nil {
		logger.Error("Exiting with error", zap.Error(err))
		if tuiMode {
			fmt.Fprintf(os.Stderr, "%s: %v\n", version.Name, err)
		}
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, tuiMode bool) error {
	info := version.Get()
	logger.Info("Starting pingplot",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.Int("endpoints", len(cfg.Endpoints)),
		zap.String("pollInterval", cfg.PollInterval),
		zap.String("probeMethod", cfg.Probe.Method),
	)

	prober, err := probe.New(cfg.Probe.Method, logger.Named("probe"))
	if err != nil {
		return err
	}

	sinks, history, err := openSinks(logger, cfg.Persistence)
	if err != nil {
		return err
	}

	endpoints := make([]poller.Endpoint, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		endpoints[i] = poller.Endpoint{Name: ep.Host, Active: ep.Active}
	}

	mon, err := monitor.New(logger.Named("monitor"), prober, monitor.Config{
		Endpoints:    endpoints,
		Interval:     cfg.PollIntervalDuration(),
		ProbeTimeout: cfg.ProbeTimeoutDuration(),
		Store: timeseries.Config{
			MaxPoints:    cfg.MaxPoints,
			MaxSeries:    len(endpoints),
			MaxWSClients: cfg.Server.MaxWSClients,
		},
	}, sinks)
	if err != nil {
		sinks.Close()
		return err
	}
	defer func() {
		if err := mon.Close(); err != nil {
			logger.Error("Failed to close sinks", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Server.Enabled {
		hub := ws.NewHub(logger.Named("ws"), mon.StoreHealth(), cfg.Server.MaxWSClients)
		apiServer := api.NewServer(logger.Named("api"), mon, hub, history, api.Options{
			ControlPerMinute: cfg.Server.ControlPerMinute,
			StreamInterval:   cfg.RefreshIntervalDuration(),
		})
		apiServer.Start(ctx)
		defer apiServer.Stop()

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErr := make(chan error, 1)
		go func() {
			logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
				cancel()
			}
		}()

		defer func() {
			logger.Info("Server shutting down...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
			}
			select {
			case err := <-serverErr:
				logger.Error("Server failed", zap.Error(err))
			default:
			}
		}()
	}

	if cfg.Autostart {
		if err := mon.Start(ctx); err != nil {
			logger.Warn("Autostart skipped", zap.Error(err))
		}
	}

	if tuiMode {
		screen, err := tcell.NewScreen()
		if err != nil {
			return fmt.Errorf("failed to open terminal: %w", err)
		}
		if err := screen.Init(); err != nil {
			return fmt.Errorf("failed to initialize terminal: %w", err)
		}
		ui := tui.New(logger.Named("tui"), screen, mon, cfg.RefreshIntervalDuration())
		if err := ui.Run(ctx); err != nil {
			return err
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("Shutting down")
	return nil
}

// openSinks builds the configured persistence sinks. The SQLite sink doubles
// as the history source for the API.
func openSinks(logger *zap.Logger, cfg config.PersistenceConfig) (*sink.Fanout, api.HistorySource, error) {
	var (
		sinks   []sink.Sink
		history api.HistorySource
	)

	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	if cfg.CSVPath != "" {
		csvSink, err := sink.NewCSVSink(cfg.CSVPath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, csvSink)
		logger.Info("CSV sink enabled", zap.String("path", cfg.CSVPath))
	}

	if cfg.SQLitePath != "" {
		sqliteSink, err := sink.NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, sqliteSink)
		history = sqliteSink
		logger.Info("SQLite sink enabled",
			zap.String("path", cfg.SQLitePath),
			zap.String("runId", sqliteSink.RunID()))
	}

	return sink.NewFanout(logger.Named("sink"), cfg.PersistFailures, sinks...), history, nil
}
