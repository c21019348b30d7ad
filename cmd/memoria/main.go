package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goclaw/memoria/config"
	"github.com/goclaw/memoria/pkg/api"
	"github.com/goclaw/memoria/pkg/api/handlers"
	grpcserver "github.com/goclaw/memoria/pkg/grpc"
	"github.com/goclaw/memoria/pkg/logger"
	"github.com/goclaw/memoria/pkg/memory"
	"github.com/goclaw/memoria/pkg/metrics"
	"github.com/goclaw/memoria/pkg/storage/badger"
	"github.com/goclaw/memoria/pkg/telemetry/tracing"
	"github.com/goclaw/memoria/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")
	watchFlag   = flag.Bool("watch", true, "Reload tuning when the config file changes")

	// CLI overrides
	serverPort = flag.Int("port", 0, "Override server port")
	grpcPort   = flag.Int("grpc-port", 0, "Enable the gRPC server on this port")
	logLevel   = flag.String("log-level", "", "Override log level")
	dataDir    = flag.String("data", "", "Override the badger data directory")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

// options carries the parsed command line into run.
type options struct {
	ConfigPath string
	Watch      bool
	Debug      bool
	Overrides  map[string]interface{}

	// LogWriter replaces the configured log output when set.
	LogWriter io.Writer
}

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		ConfigPath: *configPath,
		Watch:      *watchFlag,
		Debug:      *debugMode,
		Overrides:  buildOverrides(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "memoria: %s\n", err)
		os.Exit(1)
	}
}

// run wires the engine and its surfaces and blocks until ctx is cancelled or
// the HTTP server fails.
func run(ctx context.Context, opts options) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return fmt.Errorf("failed to load configuration:\n%w", err)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Writer: opts.LogWriter,
	}
	if cfg.App.Debug || opts.Debug {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)
	defer log.Close()

	log.Info("Starting memoria",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	store, err := badger.NewBadgerStorage(&badger.Config{
		Path:              cfg.Storage.Badger.Path,
		InMemory:          cfg.Storage.Badger.InMemory,
		SyncWrites:        cfg.Storage.Badger.SyncWrites,
		ValueLogFileSize:  cfg.Storage.Badger.ValueLogFileSize,
		NumVersionsToKeep: cfg.Storage.Badger.NumVersionsToKeep,
	})
	if err != nil {
		_ = shutdownTracing(context.Background())
		return fmt.Errorf("failed to open badger storage: %w", err)
	}
	log.Info("Initialized Badger storage",
		"path", cfg.Storage.Badger.Path,
		"in_memory", cfg.Storage.Badger.InMemory,
	)

	metricsManager := metrics.NewManager(metrics.ConfigFrom(cfg.Metrics))
	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	eng := memory.NewEngine(cfg, store,
		memory.WithLogger(log),
		memory.WithMetrics(metricsManager),
		memory.WithTracer(tracing.Tracer()),
	)
	if err := eng.Start(ctx); err != nil {
		_ = store.Close()
		_ = shutdownTracing(context.Background())
		return fmt.Errorf("failed to start memory engine: %w", err)
	}

	if opts.Watch && opts.ConfigPath != "" {
		watchConfig(ctx, loader, opts.ConfigPath, cfg, eng, log)
	}

	var httpServer *api.HTTPServer
	serverErr := make(chan error, 2)
	if cfg.Server.Enabled {
		httpServer = api.NewHTTPServer(cfg, log, &api.Handlers{
			Memory: handlers.NewMemoryHandler(eng, log, handlers.MemoryHandlerOptions{
				MaxBodyBytes: cfg.Server.HTTP.MaxBodyBytes,
			}),
			Health:  handlers.NewHealthHandler(eng),
			Metrics: metricsManager,
		})
		go func() {
			log.Info("Starting HTTP server", "address", httpServer.Addr())
			if err := httpServer.Start(); err != nil {
				serverErr <- err
			}
		}()
	}

	var grpcServer *grpcserver.Server
	if cfg.Server.GRPC.Enabled {
		grpcServer, err = grpcserver.New(grpcserver.ConfigFrom(cfg),
			grpcserver.WithLogger(log),
			grpcserver.WithMetrics(metricsManager),
		)
		if err == nil {
			grpcserver.NewMemoryService(eng).Register(grpcServer)
			err = grpcServer.Start()
		}
		if err != nil {
			serverErr <- fmt.Errorf("grpc server: %w", err)
			grpcServer = nil
		}
	}

	log.Info("memoria is running",
		"http_enabled", cfg.Server.Enabled,
		"http_port", cfg.Server.Port,
		"grpc_enabled", cfg.Server.GRPC.Enabled,
		"grpc_port", cfg.Server.GRPC.Port,
		"metrics_port", cfg.Metrics.Port,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown requested", "cause", context.Cause(ctx))
	case err := <-serverErr:
		log.Error("Server error", "error", err)
		runErr = err
	}

	// The root context is gone by now; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if httpServer != nil {
		log.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if grpcServer != nil {
		log.Info("Shutting down gRPC server")
		if err := grpcServer.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("grpc shutdown: %w", err))
		}
	}

	log.Info("Stopping memory engine")
	if err := eng.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine stop: %w", err))
	}
	if err := store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	for _, err := range errs {
		log.Error("Shutdown error", "error", err)
	}

	log.Info("memoria stopped")
	return errors.Join(append([]error{runErr}, errs...)...)
}

// watchConfig applies hot-reloadable settings whenever the config file
// changes. The watcher stops with ctx.
func watchConfig(ctx context.Context, loader *config.Loader, path string, cfg *config.Config, eng *memory.Engine, log logger.Logger) {
	w, err := config.NewWatcher(path, loader, config.WithWatcherLogger(log))
	if err != nil {
		log.Warn("Config hot reload disabled", "error", err)
		return
	}

	current := config.ExtractHotReloadable(cfg)
	reloads := make(chan *config.Config, 1)
	w.OnChange(func(next *config.Config) {
		select {
		case reloads <- next:
		case <-ctx.Done():
		}
	})

	go func() {
		defer w.Stop()
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-reloads:
				updated := config.ExtractHotReloadable(next)
				if !updated.Changed(current) {
					continue
				}
				if updated.LogLevel != current.LogLevel {
					log.SetLevel(logger.ParseLevel(updated.LogLevel))
					log.Info("Log level changed", "level", updated.LogLevel)
				}
				if updated.TuningChanged(current) {
					eng.ApplyTuning(memory.TuningFromHotReload(updated))
					log.Info("Memory tuning reloaded", "path", path)
				}
				current = updated
			}
		}
	}()
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *grpcPort != 0 {
		overrides["server.grpc.enabled"] = true
		overrides["server.grpc.port"] = *grpcPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *dataDir != "" {
		overrides["storage.badger.path"] = *dataDir
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	b := version.Current()
	fmt.Printf("memoria %s\n", b.Short())
	fmt.Printf("Build Time: %s\n", b.BuildTime)
	fmt.Printf("Go Version: %s\n", b.GoVersion)
}

func printHelp() {
	fmt.Printf("memoria - Tiered persona memory and retrieval engine\n\n")
	fmt.Printf("Usage: memoria [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  memoria                                  # Run with default config\n")
	fmt.Printf("  memoria -config config.yaml              # Use specific config file\n")
	fmt.Printf("  memoria -port 8081 -log-level debug      # Override specific options\n")
	fmt.Printf("  memoria -grpc-port 9090                  # Also serve gRPC\n")
	fmt.Printf("  memoria -version                         # Print version info\n")
}
