package vod

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/google/uuid"
)

// errClipAlreadyExecuted rolls back a clip transaction that lost the race
// for its staged request.
var errClipAlreadyExecuted = errors.New("staged clip already executed")

// generateStagedClip materializes a pending clip request as a new VOD. The
// transcode and upload happen before any DB write so the transaction only
// covers metadata.
func (w *Worker) generateStagedClip(ctx context.Context, j job, clipID int64) error {
	log := logger.FromContext(ctx).With("staged_clip_id", clipID)
	ctx = logger.WithLogger(ctx, log)

	clip, err := w.db.GetStagedClip(ctx, clipID)
	if err != nil {
		return fmt.Errorf("get staged clip %d: %w", clipID, err)
	}
	if clip.ExecuteTime.Valid {
		log.Info("staged clip already executed")
		return nil
	}

	sourceUUID := db.FromUUID(clip.VodUuid)
	assoc, md, err := w.sourceRecords(ctx, sourceUUID)
	if err != nil {
		return err
	}
	if !md.HasFastify {
		return ErrNotFastified
	}

	backend, err := w.bucket(ctx, j, md.Bucket)
	if err != nil {
		return err
	}

	if w.locker != nil {
		unlock, ok, err := w.locker.TryLock(ctx, "staged-clip:"+strconv.FormatInt(clipID, 10), w.cfg.ClipLockTTL)
		if err != nil {
			log.Warn("clip lock unavailable, relying on database guard", "error", err)
		} else if !ok {
			return ErrClipLocked
		} else {
			defer unlock()
		}
	}

	url, err := w.segmentURL(ctx, backend, NewSegmentID(sourceUUID, FastifySegment))
	if err != nil {
		return err
	}

	dir, err := w.tempDir("clip")
	if err != nil {
		return err
	}
	defer removeAll(ctx, dir)
	output := filepath.Join(dir, FastifySegment)

	start := time.Duration(clip.StartOffsetMs) * time.Millisecond
	end := time.Duration(clip.EndOffsetMs) * time.Millisecond
	if err := timed(ctx, TypeGenerateStagedClip, "transcode", func() error {
		return w.transcoder.Clip(ctx, url, output, start, end, clip.Audio)
	}); err != nil {
		return err
	}

	probe, err := w.transcoder.Probe(ctx, output)
	if err != nil {
		return err
	}
	hash, err := fileMD5(output)
	if err != nil {
		return err
	}

	clipUUID := uuid.New()
	clipPg := db.UUID(clipUUID)
	target := NewSegmentID(clipUUID, FastifySegment)
	log = log.With("clip_uuid", clipUUID.String())

	if err := timed(ctx, TypeGenerateStagedClip, "upload", func() error {
		return w.uploader.UploadFile(ctx, backend, target.Key(), output, ContainerMIME("mp4"))
	}); err != nil {
		return fmt.Errorf("upload %s: %w", target, err)
	}

	var clipStart, clipEnd time.Time
	if assoc.StartTime.Valid {
		clipStart = assoc.StartTime.Time.Add(start)
		clipEnd = assoc.StartTime.Time.Add(end)
	}

	err = w.db.ExecTx(ctx, func(q db.Querier) error {
		if _, err := q.ReserveVodAssociation(ctx, db.ReserveVodAssociationParams{
			VideoUuid:          clipPg,
			MatchUuid:          assoc.MatchUuid,
			UserUuid:           clip.UserUuid,
			StartTime:          db.Timestamptz(clipStart),
			EndTime:            db.Timestamptz(clipEnd),
			RawContainerFormat: "mp4",
			IsClip:             true,
		}); err != nil {
			return fmt.Errorf("reserve association: %w", err)
		}
		if err := q.CreateVodMetadata(ctx, db.CreateVodMetadataParams{
			VideoUuid:  clipPg,
			ID:         DefaultMetadataID,
			ResX:       int32(probe.Width),
			ResY:       int32(probe.Height),
			Fps:        int32(probe.FrameRate + 0.5),
			MinBitrate: probe.Bitrate,
			AvgBitrate: probe.Bitrate,
			MaxBitrate: probe.Bitrate,
			Bucket:     md.Bucket,
		}); err != nil {
			return fmt.Errorf("create metadata: %w", err)
		}
		if err := q.CreateVodClip(ctx, db.CreateVodClipParams{
			ClipUuid:      clipPg,
			ParentVodUuid: clip.VodUuid,
			ClipUserUuid:  clip.UserUuid,
			Title:         clip.Title,
			Description:   clip.Description,
		}); err != nil {
			return fmt.Errorf("create clip: %w", err)
		}
		if assoc.MatchUuid.Valid {
			if err := q.LinkClipToMatch(ctx, db.LinkClipToMatchParams{MatchUuid: assoc.MatchUuid, ClipUuid: clipPg}); err != nil {
				return fmt.Errorf("link match: %w", err)
			}
		}
		if err := q.StoreVodMd5(ctx, db.StoreVodMd5Params{VideoUuid: clipPg, Md5: db.Text(hash)}); err != nil {
			return fmt.Errorf("store md5: %w", err)
		}
		if err := q.MarkVodFastify(ctx, db.MarkVodFastifyParams{VideoUuid: clipPg, ID: DefaultMetadataID}); err != nil {
			return fmt.Errorf("mark fastify: %w", err)
		}
		n, err := q.MarkStagedClipExecuted(ctx, db.MarkStagedClipExecutedParams{ID: clipID, ClipUuid: clipPg})
		if err != nil {
			return fmt.Errorf("mark staged clip: %w", err)
		}
		if n == 0 {
			return errClipAlreadyExecuted
		}
		return nil
	})
	if err != nil {
		if derr := backend.Delete(ctx, target.Key()); derr != nil {
			log.Warn("failed to delete orphaned clip upload", "segment", target.Key(), "error", derr)
		}
		if errors.Is(err, errClipAlreadyExecuted) {
			log.Info("staged clip executed by another worker")
			return nil
		}
		return err
	}

	if err := w.RequestGeneratePreview(ctx, clipUUID, j.priority); err != nil {
		return fmt.Errorf("request preview: %w", err)
	}
	if err := w.RequestGenerateThumbnail(ctx, clipUUID, j.priority); err != nil {
		return fmt.Errorf("request thumbnail: %w", err)
	}
	if w.search != nil {
		w.search.RequestSyncVod(ctx, []uuid.UUID{clipUUID})
	}
	log.Info("staged clip created")
	return nil
}
