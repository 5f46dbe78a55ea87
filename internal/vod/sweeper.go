package vod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/metrics"
	"github.com/abdul-hamid-achik/vodpipe/internal/storage"
	"github.com/google/uuid"
)

type SweepDependencies struct {
	Queries   db.Querier
	Storage   *storage.Manager
	Requester *Requester
}

type SweepConfig struct {
	// StalledAfter is how old an unfastified upload must be before it is looked at.
	StalledAfter time.Duration
	// AbandonAfter is when an unfinished upload is given up on.
	AbandonAfter time.Duration
	BatchSize    int32
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		StalledAfter: 15 * time.Minute,
		AbandonAfter: MaxAge,
		BatchSize:    100,
	}
}

type SweepStats struct {
	Requeued int
	Aborted  int
	Deleted  int
	Pending  int
	Errors   int
}

// RunSweep finds uploads whose Process task was lost or expired. Finished
// sessions are re-requested; sessions older than AbandonAfter are aborted
// and their VOD deleted.
func RunSweep(ctx context.Context, deps *SweepDependencies, cfg SweepConfig, now time.Time) (*SweepStats, error) {
	log := logger.FromContext(ctx)
	log.Info("starting upload sweep")
	start := time.Now()

	rows, err := deps.Queries.ListStalledUploads(ctx, db.ListStalledUploadsParams{
		CreatedAt: db.Timestamptz(now.Add(-cfg.StalledAfter)),
		Limit:     cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled uploads: %w", err)
	}

	stats := &SweepStats{}
	for _, row := range rows {
		if err := sweepOne(ctx, deps, cfg, now, row, stats); err != nil {
			log.Warn("failed to sweep upload",
				"vod_uuid", db.FromUUID(row.VideoUuid).String(),
				"error", err,
			)
			stats.Errors++
		}
	}

	log.Info("upload sweep completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"requeued", stats.Requeued,
		"aborted", stats.Aborted,
		"deleted", stats.Deleted,
		"pending", stats.Pending,
		"errors", stats.Errors,
	)
	return stats, nil
}

func sweepOne(ctx context.Context, deps *SweepDependencies, cfg SweepConfig, now time.Time, row db.ListStalledUploadsRow, stats *SweepStats) error {
	vodUUID := db.FromUUID(row.VideoUuid)
	backend, err := deps.Storage.Get(row.Bucket)
	if err != nil {
		return err
	}

	source := SegmentID{VideoUUID: vodUUID, Quality: row.ID, Segment: SourceSegment(row.RawContainerFormat)}
	sessionID := row.SessionID.String
	abandoned := now.Sub(row.CreatedAt.Time) > cfg.AbandonAfter

	finished, err := backend.IsSessionFinished(ctx, source.Key(), sessionID)
	switch {
	case err == nil && finished:
		if err := deps.Requester.RequestVodProcessing(ctx, vodUUID, row.ID, sessionID, false); err != nil {
			return err
		}
		stats.Requeued++
	case errors.Is(err, storage.ErrSessionNotFound) && abandoned:
		if err := deps.Requester.RequestDelete(ctx, []uuid.UUID{vodUUID}); err != nil {
			return err
		}
		stats.Deleted++
	case err != nil && !errors.Is(err, storage.ErrSessionNotFound):
		return fmt.Errorf("check session: %w", err)
	case abandoned:
		if err := backend.AbortSession(ctx, source.Key(), sessionID); err != nil {
			return fmt.Errorf("abort session: %w", err)
		}
		metrics.SweeperAbortedTotal.Inc()
		stats.Aborted++
		if err := deps.Requester.RequestDelete(ctx, []uuid.UUID{vodUUID}); err != nil {
			return err
		}
	default:
		stats.Pending++
	}
	return nil
}
