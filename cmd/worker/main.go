package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/bootstrap"
	"github.com/abdul-hamid-achik/vodpipe/internal/config"
	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/health"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/metrics"
	"github.com/abdul-hamid-achik/vodpipe/internal/search"
	"github.com/abdul-hamid-achik/vodpipe/internal/status"
	"github.com/abdul-hamid-achik/vodpipe/internal/tracing"
	"github.com/abdul-hamid-achik/vodpipe/internal/transcode"
	"github.com/abdul-hamid-achik/vodpipe/internal/vod"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string
	migrate    bool
)

func main() {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Consume VOD pipeline tasks",
		Version:       bootstrap.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "YAML file with buckets and queue names (default $VODPIPE_CONFIG)")
	root.Flags().BoolVar(&migrate, "migrate", true, "Apply database migrations on start")

	if err := root.Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	closeLog, err := bootstrap.Logger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = closeLog() }()
	log := logger.Default()
	log.Info("configuration loaded", "environment", cfg.Environment, "buckets", len(cfg.Buckets))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	shutdownTracing, err := bootstrap.Tracing(ctx, cfg, "vodpipe-worker")
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	pool, err := bootstrap.Database(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer pool.Close()

	storageMgr, err := bootstrap.Storage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	redisClient, err := bootstrap.Redis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	tcfg := transcode.DefaultConfig()
	tcfg.FFmpegPath = cfg.FFmpegPath
	tcfg.FFprobePath = cfg.FFprobePath
	tcfg.TempDir = cfg.TempDir
	transcoder, err := transcode.NewFFmpeg(tcfg)
	if err != nil {
		return fmt.Errorf("transcoder unavailable: %w", err)
	}

	client, err := bootstrap.Broker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	deps := &vod.Dependencies{
		DB:         db.NewStore(pool),
		Storage:    storageMgr,
		Uploader:   bootstrap.Uploader(cfg),
		Transcoder: transcoder,
		Publisher:  client,
		Search:     search.NewNotifier(client, cfg.SearchQueue),
	}
	if redisClient != nil {
		deps.Status = status.NewChecker(redisClient, cfg.StatusCacheTTL)
		deps.Locker = status.NewLocker(redisClient)
	}

	worker := vod.NewWorker(deps, vod.Config{
		Queue:         cfg.VodQueue,
		FailoverQueue: cfg.VodFailoverQueue,
		TempDir:       cfg.TempDir,
	})

	metrics.SetAppInfo(bootstrap.Version, cfg.Environment, "worker")

	listeners := 0
	for _, queue := range []string{cfg.VodQueue, cfg.VodFailoverQueue} {
		for i := 0; i < cfg.WorkerConcurrency; i++ {
			if err := client.AddListener(ctx, queue, worker); err != nil {
				return fmt.Errorf("failed to listen on %s: %w", queue, err)
			}
			listeners++
		}
	}
	log.Info("listening", "queues", []string{cfg.VodQueue, cfg.VodFailoverQueue}, "consumers", listeners)

	checker := health.NewChecker().
		WithDatabase(pool).
		WithRedis(redisClient).
		With("broker", client.Healthy).
		With("storage", storageMgr.HealthCheck)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", health.LivenessHandler())
	mux.Handle("/ready", health.ReadinessHandler(checker))

	adminServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.MetricsPort),
		Handler:           tracing.HTTPMiddleware("vodpipe-worker-admin")(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("admin server starting", "port", cfg.MetricsPort)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := client.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop admin server: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("worker stopped gracefully")
	return nil
}
