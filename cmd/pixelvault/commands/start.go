package commands

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pixelvault/pixelvault/internal/logger"
	"github.com/pixelvault/pixelvault/pkg/assets"
	"github.com/pixelvault/pixelvault/pkg/config"
	"github.com/pixelvault/pixelvault/pkg/fetch"
	"github.com/pixelvault/pixelvault/pkg/flight"
	"github.com/pixelvault/pixelvault/pkg/metrics"
	"github.com/pixelvault/pixelvault/pkg/proxy"
	"github.com/pixelvault/pixelvault/pkg/resize"
	"github.com/pixelvault/pixelvault/pkg/server"
	"github.com/pixelvault/pixelvault/pkg/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pixelvault server",
	Long: `Start the pixelvault image proxy with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/pixelvault/config.yaml.

Examples:
  # Start with default config location
  pixelvault start

  # Start with custom config
  pixelvault start --config /etc/pixelvault/config.yaml

  # Override settings via environment
  PIXELVAULT_LOGGING_LEVEL=DEBUG pixelvault start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("pixelvault starting",
		"version", Version,
		"config", getConfigSource(GetConfigFile()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	st, err := store.New(cfg.Cache.Root, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	logger.Info("cache store ready",
		logger.KeyPath, st.Root(), "ttl", cfg.Cache.TTL)

	lib, err := assets.Load(cfg.Assets.Dir)
	if err != nil {
		return fmt.Errorf("failed to load error assets: %w", err)
	}

	pool := resize.NewPool(resize.Config{
		Workers:      cfg.Resizer.Workers,
		RecycleAfter: cfg.Resizer.RecycleAfter,
	}, m)
	pool.Start(ctx)
	defer pool.Stop()

	registry := flight.NewRegistry[fetch.Result]()
	fetcher, err := fetch.New(fetch.Config{
		Store:    st,
		Registry: registry,
		Resizer:  pool,
		MaxSize:  cfg.Upstream.MaxSize.Int64(),
		TempDir:  cfg.Upstream.TempDir,
		Client:   &http.Client{Timeout: cfg.Upstream.Timeout},
		Metrics:  m,
	})
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}

	gate, err := proxy.NewRefererGate(cfg.Referer.Allowed)
	if err != nil {
		return fmt.Errorf("failed to compile referer patterns: %w", err)
	}

	handler := proxy.NewHandler(proxy.HandlerConfig{
		Store:       st,
		Registry:    registry,
		Fetcher:     fetcher,
		Assets:      lib,
		Gate:        gate,
		BypassHosts: cfg.Upstream.BypassHosts,
		Metrics:     m,
	})

	g, ctx := errgroup.WithContext(ctx)

	srv := server.NewServer(cfg.Server, handler)
	g.Go(func() error {
		return srv.Start(ctx)
	})

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(m, cfg.Metrics.Port)
		g.Go(func() error {
			return ms.Start(ctx)
		})
	}

	if cfg.Assets.Watch && cfg.Assets.Dir != "" {
		g.Go(func() error {
			return lib.Watch(ctx.Done())
		})
	}

	logger.Info("server is running, press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.Error("server error", logger.KeyError, err)
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// getConfigSource describes where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
