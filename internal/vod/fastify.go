package vod

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/storage"
	"github.com/google/uuid"
)

// fastify remuxes an uploaded VOD so playback can start before the whole
// file is fetched, then fans out the dependent stages.
func (w *Worker) fastify(ctx context.Context, j job, t ProcessTask) error {
	log := logger.FromContext(ctx)
	vodID := db.UUID(t.VodUUID)
	mdID := t.MetadataID()

	assoc, err := w.db.GetVodAssociation(ctx, vodID)
	if err != nil {
		return fmt.Errorf("get association: %w", err)
	}
	md, err := w.db.GetVodMetadata(ctx, db.GetVodMetadataParams{VideoUuid: vodID, ID: mdID})
	if err != nil {
		return fmt.Errorf("get metadata %s: %w", mdID, err)
	}

	if md.HasFastify {
		log.Info("vod already fastified, dispatching downstream")
		return w.dispatchDownstream(ctx, j, t.VodUUID)
	}

	backend, err := w.bucket(ctx, j, md.Bucket)
	if err != nil {
		return err
	}

	source := SegmentID{VideoUUID: t.VodUUID, Quality: mdID, Segment: SourceSegment(assoc.RawContainerFormat)}
	target := SegmentID{VideoUUID: t.VodUUID, Quality: mdID, Segment: FastifySegment}

	sessionID := t.Session()
	if sessionID == "" && md.SessionID.Valid {
		sessionID = md.SessionID.String
	}
	if sessionID != "" {
		finished, err := backend.IsSessionFinished(ctx, source.Key(), sessionID)
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			log.Warn("upload session unknown to backend", "session_id", sessionID)
			return ErrUploadPending
		case err != nil:
			return fmt.Errorf("check session %s: %w", sessionID, err)
		case !finished:
			log.Debug("upload session still open", "session_id", sessionID)
			return ErrUploadPending
		}
	}

	dir, err := w.tempDir("fastify")
	if err != nil {
		return err
	}
	defer removeAll(ctx, dir)

	input := filepath.Join(dir, source.Segment)
	output := filepath.Join(dir, FastifySegment)

	if err := timed(ctx, TypeProcess, "download", func() error {
		_, err := storage.DownloadToFile(ctx, backend, source.Key(), input)
		return err
	}); err != nil {
		return fmt.Errorf("download %s: %w", source, err)
	}

	if err := timed(ctx, TypeProcess, "transcode", func() error {
		return w.transcoder.Fastify(ctx, input, output)
	}); err != nil {
		return err
	}

	hash, err := fileMD5(output)
	if err != nil {
		return err
	}

	if err := timed(ctx, TypeProcess, "upload", func() error {
		return w.uploader.UploadFile(ctx, backend, target.Key(), output, ContainerMIME("mp4"))
	}); err != nil {
		return fmt.Errorf("upload %s: %w", target, err)
	}

	err = w.db.ExecTx(ctx, func(q db.Querier) error {
		if err := q.MarkVodFastify(ctx, db.MarkVodFastifyParams{VideoUuid: vodID, ID: mdID}); err != nil {
			return fmt.Errorf("mark fastify: %w", err)
		}
		if err := q.StoreVodMd5(ctx, db.StoreVodMd5Params{VideoUuid: vodID, Md5: db.Text(hash)}); err != nil {
			return fmt.Errorf("store md5: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := backend.Delete(ctx, source.Key()); err != nil {
		log.Warn("failed to delete source segment", "segment", source.Key(), "error", err)
	}

	w.makePublicIfNeeded(ctx, backend, t.VodUUID, target)
	return w.dispatchDownstream(ctx, j, t.VodUUID)
}

// dispatchDownstream queues preview, thumbnail and pending staged clips at
// the priority the fastify ran at.
func (w *Worker) dispatchDownstream(ctx context.Context, j job, vodUUID uuid.UUID) error {
	if err := w.RequestGeneratePreview(ctx, vodUUID, j.priority); err != nil {
		return fmt.Errorf("request preview: %w", err)
	}
	if err := w.RequestGenerateThumbnail(ctx, vodUUID, j.priority); err != nil {
		return fmt.Errorf("request thumbnail: %w", err)
	}

	clips, err := w.db.ListPendingStagedClips(ctx, db.UUID(vodUUID))
	if err != nil {
		return fmt.Errorf("list staged clips: %w", err)
	}
	for _, c := range clips {
		if err := w.RequestStagedClip(ctx, c.ID, j.priority); err != nil {
			return fmt.Errorf("request staged clip %d: %w", c.ID, err)
		}
	}
	return nil
}
