package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/server"
	"github.com/raaihank/pii-sentinel/internal/store"
)

var (
	version = server.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		showVersion bool
		healthCheck string
	)

	cmd := &cobra.Command{
		Use:          "sentinel",
		Short:        "PII classification and masking service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "PII-Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
				return nil
			}
			if healthCheck != "" {
				return performHealthCheck(cmd, healthCheck)
			}
			return serve(cmd.Context(), configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to configuration file")
	flags.BoolVar(&showVersion, "version", false, "Show version information")
	flags.StringVar(&healthCheck, "health-check", "", "Check the health endpoint at this base URL and exit")
	flags.Lookup("health-check").NoOptDefVal = "http://localhost:8080"

	return cmd
}

func serve(ctx context.Context, configPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}
	log, err := logger.New(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting PII-Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.String("config_file", loader.ConfigFile()),
		zap.Int("port", cfg.Server.Port),
	)

	opts := []server.Option{}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(metrics.NewMetrics(cfg.Metrics.Namespace)))
	}

	if cfg.Cache.Enabled {
		runCache, err := cache.NewRunCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize run cache: %w", err)
		}
		defer runCache.Close()
		opts = append(opts,
			server.WithResultCache(runCache),
			server.WithRunSummaryStore(runCache),
			server.WithDuplicateTracker(runCache),
		)
	}

	if cfg.Storage.Enabled {
		st, err := store.NewStore(cfg.Storage, log.WithComponent("store").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize result store: %w", err)
		}
		defer st.Close()
		opts = append(opts, server.WithScanSink(st), server.WithRunResults(st))
	}

	srv, err := server.New(cfg, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Hot reload of the detector; other sections need a restart
	if loader.ConfigFile() != "" {
		loader.Watch(func(next *config.Config) {
			if err := srv.Reload(next.Privacy); err != nil {
				log.Warn("Ignoring configuration change", zap.Error(err))
			}
		}, func(err error) {
			log.Warn("Invalid configuration change ignored", zap.Error(err))
		})
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("Shutdown signal received")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return err
		}

		log.Info("Server shutdown complete")
		return nil
	}
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(cmd *cobra.Command, baseURL string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Health check passed")
	return nil
}
