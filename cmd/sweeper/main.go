package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/bootstrap"
	"github.com/abdul-hamid-achik/vodpipe/internal/config"
	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/vod"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	stalledAfter time.Duration
	batchSize    int32
)

func main() {
	root := &cobra.Command{
		Use:           "sweeper",
		Short:         "Recover uploads whose Process task was lost",
		Version:       bootstrap.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	defaults := vod.DefaultSweepConfig()
	root.Flags().StringVar(&configPath, "config", "", "YAML file with buckets and queue names (default $VODPIPE_CONFIG)")
	root.Flags().DurationVar(&stalledAfter, "stalled-after", defaults.StalledAfter, "Minimum upload age before it is checked")
	root.Flags().Int32Var(&batchSize, "batch-size", defaults.BatchSize, "Maximum uploads checked per run")

	if err := root.Execute(); err != nil {
		slog.Error("sweep failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	closeLog, err := bootstrap.Logger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = closeLog() }()
	log := logger.Default()

	log.Info("starting sweeper job")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithLogger(ctx, log)

	pool, err := bootstrap.Database(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	storageMgr, err := bootstrap.Storage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	client, err := bootstrap.Broker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), time.Minute)
		defer ccancel()
		if err := client.Close(cctx); err != nil {
			log.Error("failed to flush broker", "error", err)
		}
	}()

	sweepCfg := vod.DefaultSweepConfig()
	sweepCfg.StalledAfter = stalledAfter
	sweepCfg.BatchSize = batchSize

	stats, err := vod.RunSweep(ctx, &vod.SweepDependencies{
		Queries:   db.New(pool),
		Storage:   storageMgr,
		Requester: vod.NewRequester(client, cfg.VodQueue),
	}, sweepCfg, time.Now())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	log.Info("sweeper completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"requeued", stats.Requeued,
		"aborted", stats.Aborted,
		"deleted", stats.Deleted,
		"pending", stats.Pending,
		"errors", stats.Errors,
	)
	return nil
}
