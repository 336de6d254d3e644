package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/cargohold/pkg/auth"
	"github.com/cuemby/cargohold/pkg/config"
	"github.com/cuemby/cargohold/pkg/health"
	"github.com/cuemby/cargohold/pkg/httpapi"
	"github.com/cuemby/cargohold/pkg/index"
	"github.com/cuemby/cargohold/pkg/log"
	"github.com/cuemby/cargohold/pkg/metrics"
	"github.com/cuemby/cargohold/pkg/objectstore"
	"github.com/cuemby/cargohold/pkg/prefetch"
	"github.com/cuemby/cargohold/pkg/publish"
	"github.com/cuemby/cargohold/pkg/security"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/tokencache"
	"github.com/cuemby/cargohold/pkg/upstream"
	"github.com/cuemby/cargohold/pkg/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cargohold",
	Short:   "cargohold - a self-hosted, crates.io-compatible Cargo registry",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("cargohold version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("config", "", "Path to a cargohold.toml config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs as JSON regardless of the configured format")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry HTTP server",
	RunE:  runServe,
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if jsonOut, _ := cmd.Flags().GetBool("log-json"); jsonOut {
		cfg.Log.Format = "json"
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.Format == "json",
	})
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.Registry.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	driver, dsn := "sqlite", "file:"+cfg.SQLitePath()+"?cache=shared&_pragma=busy_timeout(5000)"
	if cfg.Postgres.Enabled {
		driver = "pgx"
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.Postgres.User, cfg.Postgres.Pwd, cfg.Postgres.Address, cfg.Postgres.Port, cfg.Postgres.DB)
	}
	st, err := store.Open(driver, dsn, int(cfg.Registry.MaxDBConnections))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var backend objectstore.Backend
	if cfg.S3.Enabled {
		backend, err = objectstore.NewS3(objectstore.S3Config{
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.CratesBucket,
			AllowHTTP: cfg.S3.AllowHTTP,
		})
	} else {
		backend, err = objectstore.NewFilesystem(cfg.BinPath())
	}
	if err != nil {
		return fmt.Errorf("initializing object store backend: %w", err)
	}
	blobs, err := objectstore.NewFacade(backend, "crates", int(cfg.Registry.CacheSize), int64(cfg.Registry.MaxCrateSizeBytes)*4)
	if err != nil {
		return fmt.Errorf("initializing object store facade: %w", err)
	}

	var upstreamBlobs *objectstore.Facade
	var upstreamBackend objectstore.Backend
	if cfg.Proxy.Enabled {
		if cfg.S3.Enabled {
			upstreamBackend, err = objectstore.NewS3(objectstore.S3Config{
				AccessKey: cfg.S3.AccessKey,
				SecretKey: cfg.S3.SecretKey,
				Region:    cfg.S3.Region,
				Endpoint:  cfg.S3.Endpoint,
				Bucket:    cfg.S3.UpstreamBucket,
				AllowHTTP: cfg.S3.AllowHTTP,
			})
		} else {
			upstreamBackend, err = objectstore.NewFilesystem(cfg.UpstreamBinPath())
		}
		if err != nil {
			return fmt.Errorf("initializing upstream object store backend: %w", err)
		}
		upstreamBlobs, err = objectstore.NewFacade(upstreamBackend, "upstream", int(cfg.Registry.CacheSize), int64(cfg.Registry.MaxCrateSizeBytes)*4)
		if err != nil {
			return fmt.Errorf("initializing upstream object store facade: %w", err)
		}
	}

	var cache tokencache.Cache = tokencache.NullCache{}
	if cfg.TokenCache.Enabled {
		cache = tokencache.New(cfg.TokenCache.MaxCapacity, time.Duration(cfg.TokenCache.TTLSeconds)*time.Second)
	}

	secretsKey := security.DeriveKeyFromClusterID(cfg.Registry.DataDir)
	cookieSigner := security.NewCookieSigner(secretsKey)
	secretsManager, err := security.NewSecretsManager(secretsKey)
	if err != nil {
		return fmt.Errorf("initializing secrets manager: %w", err)
	}

	extractor := auth.New(auth.Config{
		Store:        st,
		Cache:        cache,
		Cookies:      cookieSigner,
		Retries:      2,
		RetryDelay:   20 * time.Millisecond,
		AuthRequired: cfg.Registry.AuthRequired,
	})

	indexSvc := index.New(st, index.Config{
		DownloadURL:  fmt.Sprintf("%s://%s:%d%s/api/v1/crates/{crate}/{version}/download", cfg.Origin.Protocol, cfg.Origin.Hostname, cfg.Origin.Port, cfg.Origin.Path),
		APIURL:       fmt.Sprintf("%s://%s:%d%s", cfg.Origin.Protocol, cfg.Origin.Hostname, cfg.Origin.Port, cfg.Origin.Path),
		AuthRequired: cfg.Registry.AuthRequired,
	})

	dispatcher := webhook.New(webhook.Config{
		Store:          st,
		Secrets:        secretsManager,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Webhook.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Webhook.MaxBackoffSeconds) * time.Second,
	})

	publishSvc := publish.New(publish.Config{
		Store:               st,
		Blobs:               blobs,
		Notifier:            dispatcher,
		MaxCrateSize:        int64(cfg.Registry.MaxCrateSizeBytes),
		RequiredFields:      cfg.Registry.RequiredCrateFields,
		NewCratesRestricted: cfg.Registry.NewCratesRestricted,
	})

	healthRegistry := health.NewRegistry(Version)
	healthRegistry.Register("store", health.NewStoreChecker(st))
	healthRegistry.Register("objectstore", health.NewObjectStoreChecker(blobs))
	if cfg.Postgres.Enabled {
		pgAddr := fmt.Sprintf("%s:%d", cfg.Postgres.Address, cfg.Postgres.Port)
		healthRegistry.Register("postgres-tcp", health.NewTCPChecker(pgAddr))
	}

	collector := metrics.NewCollector(st)
	collector.Start()
	defer collector.Stop()

	apiCfg := httpapi.Config{
		Store:     st,
		Auth:      extractor,
		Index:     indexSvc,
		Publish:   publishSvc,
		Cache:     cache,
		Health:    healthRegistry,
		RateLimit: httpapi.NewRateLimiter(20, 40),
	}

	var pool *prefetch.Pool
	if cfg.Proxy.Enabled {
		client := upstream.NewClient(upstream.ClientConfig{IndexURL: cfg.Proxy.Index, DownloadURL: cfg.Proxy.URL})
		pool = prefetch.New(prefetch.Config{
			Store:              st,
			Blobs:              upstreamBlobs,
			Client:             client,
			NumWorkers:         cfg.Proxy.NumThreads,
			UpdateCacheTimeout: time.Minute,
			UpdateInterval:     15 * time.Minute,
			StaleAfter:         time.Hour,
			DownloadOnUpdate:   cfg.Proxy.DownloadOnUpdate,
		})
		apiCfg.Upstream = upstream.New(upstream.Config{Store: st, Blobs: upstreamBlobs, Client: client, Queue: pool})
		healthRegistry.Register("upstream", health.NewHTTPChecker(cfg.Proxy.Index).WithTimeout(5*time.Second))
	}

	server := httpapi.NewServer(apiCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	if pool != nil {
		pool.Start(ctx)
		defer pool.Stop()
	}
	go server.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Origin.Hostname, cfg.Origin.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Origin.Hostname, cfg.Origin.Port+1)
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", addr).Msg("cargohold listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}
