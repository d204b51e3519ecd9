package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/config"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/dictionary"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/metrics"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/server"
)

const (
	serviceName    = "dictionary-server"
	serviceVersion = server.ServiceVersion
)

// options holds command-line overrides applied on top of the config file
type options struct {
	configPath string
	workers    int
	queueSize  int
	overflow   string
	rateLimit  float64
	adminAddr  string
	watch      bool
	logLevel   string
	logFormat  string
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           serviceName + " <port> <dictionary-file>",
		Short:         "Multithreaded UDP dictionary lookup server",
		Args:          cobra.ExactArgs(2),
		Version:       serviceVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, opts.configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to YAML configuration file")
	flags.IntVar(&opts.workers, "workers", 0, "Number of worker goroutines")
	flags.IntVar(&opts.queueSize, "queue-size", 0, "Capacity of the request queue")
	flags.StringVar(&opts.overflow, "overflow", "", "Queue overflow policy (drop_newest or drop_oldest)")
	flags.Float64Var(&opts.rateLimit, "rate-limit", 0, "Maximum accepted datagrams per second (0 disables)")
	flags.StringVar(&opts.adminAddr, "admin-addr", "", "Enable the admin HTTP API on host:port")
	flags.BoolVar(&opts.watch, "watch", false, "Reload the dictionary when the file changes")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (text or json)")

	return cmd
}

// buildConfig layers defaults, the config file, positional arguments and flags
func buildConfig(cmd *cobra.Command, opts *options, args []string) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	port, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: port must be a number, got %q", config.ErrInvalidConfig, args[0])
	}
	cfg.Server.UDPPort = port
	cfg.Dictionary.Path = args[1]

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers.Count = opts.workers
	}
	if flags.Changed("queue-size") {
		cfg.Queue.Capacity = opts.queueSize
	}
	if flags.Changed("overflow") {
		cfg.Queue.Overflow = opts.overflow
	}
	if flags.Changed("rate-limit") {
		cfg.Server.RateLimit = opts.rateLimit
	}
	if flags.Changed("watch") {
		cfg.Dictionary.Watch = opts.watch
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
	if flags.Changed("admin-addr") {
		host, portStr, err := net.SplitHostPort(opts.adminAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: admin-addr: %w", config.ErrInvalidConfig, err)
		}
		adminPort, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: admin-addr port must be a number, got %q", config.ErrInvalidConfig, portStr)
		}
		cfg.Admin.Enabled = true
		cfg.Admin.Address = host
		cfg.Admin.Port = adminPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// serve runs the service until a termination signal or a fatal error
func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.String("dictionary_path", cfg.Dictionary.Path),
		slog.Int("workers", cfg.Workers.Count),
		slog.Int("queue_capacity", cfg.Queue.Capacity),
		slog.String("overflow", cfg.Queue.Overflow),
		slog.Float64("rate_limit", cfg.Server.RateLimit),
		slog.Bool("watch", cfg.Dictionary.Watch),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics with runtime collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	store, err := dictionary.New(cfg.Dictionary.Path,
		logger.With(slog.String("component", "dictionary")),
		dictionary.WithMetrics(appMetrics),
	)
	if err != nil {
		logger.Error("Failed to load dictionary", slog.String("error", err.Error()))
		return err
	}

	listener := server.NewListener(cfg, store, logger.With(slog.String("component", "udp")), appMetrics)

	var httpServer *server.HTTPServer
	if cfg.Admin.Enabled {
		httpServer = server.NewHTTPServer(cfg, store, listener, logger.With(slog.String("component", "http")), appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return err
		}
	}

	// SIGINT/SIGTERM stop the service
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP reloads the dictionary
	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, syscall.SIGHUP)
	defer signal.Stop(hupChan)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The listener ending for any reason ends the service
		defer stop()
		if err := listener.Start(gctx); err != nil {
			logger.Error("UDP listener failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	ready := listener.Ready()
	g.Go(func() error {
		select {
		case <-ready:
			logger.Info("Service started successfully, waiting for signals...",
				slog.String("udp_address", listener.LocalAddr().String()),
				slog.Int("entries", store.Count()),
			)
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-hupChan:
				logger.Info("Received reload signal", slog.String("signal", sig.String()))
				store.Reload()
			}
		}
	})

	if cfg.Dictionary.Watch {
		watcher := dictionary.NewWatcher(store, logger.With(slog.String("component", "watcher")), cfg.Dictionary.GetDebounce())
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if httpServer != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpServer.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	err = g.Wait()

	stats := listener.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("requests_processed", stats.RequestsProcessed),
		slog.Uint64("queue_rejected", stats.QueueRejected),
		slog.Uint64("rate_limited", stats.RateLimited),
		slog.Uint64("receive_errors", stats.ReceiveErrors),
	)

	if err != nil {
		return err
	}

	logger.Info("Service stopped")
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
