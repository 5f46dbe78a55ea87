package vod

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// vodLength is the recorded duration, or zero to let the transcoder probe.
func vodLength(a db.VodAssociation) time.Duration {
	if !a.StartTime.Valid || !a.EndTime.Valid {
		return 0
	}
	d := a.EndTime.Time.Sub(a.StartTime.Time)
	if d < 0 {
		return 0
	}
	return d
}

// sourceRecords loads the association and source metadata of a VOD.
func (w *Worker) sourceRecords(ctx context.Context, vodUUID uuid.UUID) (db.VodAssociation, db.VodMetadatum, error) {
	vodID := db.UUID(vodUUID)
	assoc, err := w.db.GetVodAssociation(ctx, vodID)
	if err != nil {
		return assoc, db.VodMetadatum{}, fmt.Errorf("get association: %w", err)
	}
	md, err := w.db.GetVodMetadata(ctx, db.GetVodMetadataParams{VideoUuid: vodID, ID: DefaultMetadataID})
	if err != nil {
		return assoc, md, fmt.Errorf("get metadata: %w", err)
	}
	return assoc, md, nil
}

func (w *Worker) generatePreview(ctx context.Context, j job, vodUUID uuid.UUID) error {
	log := logger.FromContext(ctx)

	assoc, md, err := w.sourceRecords(ctx, vodUUID)
	if err != nil {
		return err
	}
	if md.HasPreview {
		log.Info("preview already generated")
		return nil
	}
	if !md.HasFastify {
		return ErrNotFastified
	}

	backend, err := w.bucket(ctx, j, md.Bucket)
	if err != nil {
		return err
	}
	url, err := w.segmentURL(ctx, backend, NewSegmentID(vodUUID, FastifySegment))
	if err != nil {
		return err
	}

	dir, err := w.tempDir("preview")
	if err != nil {
		return err
	}
	defer removeAll(ctx, dir)
	output := filepath.Join(dir, PreviewSegment)

	if err := timed(ctx, TypeGeneratePreview, "transcode", func() error {
		return w.transcoder.Preview(ctx, url, output, vodLength(assoc))
	}); err != nil {
		return err
	}

	target := NewSegmentID(vodUUID, PreviewSegment)
	if err := timed(ctx, TypeGeneratePreview, "upload", func() error {
		return w.uploader.UploadFile(ctx, backend, target.Key(), output, ContainerMIME("mp4"))
	}); err != nil {
		return fmt.Errorf("upload %s: %w", target, err)
	}

	err = w.db.ExecTx(ctx, func(q db.Querier) error {
		return q.MarkVodPreview(ctx, db.MarkVodPreviewParams{VideoUuid: db.UUID(vodUUID), ID: DefaultMetadataID})
	})
	if err != nil {
		return fmt.Errorf("mark preview: %w", err)
	}

	w.notifyUpdate(ctx, vodUUID)
	return nil
}

func (w *Worker) generateThumbnail(ctx context.Context, j job, vodUUID uuid.UUID) error {
	log := logger.FromContext(ctx)

	_, err := w.db.GetVodThumbnail(ctx, db.UUID(vodUUID))
	switch {
	case err == nil:
		log.Info("thumbnail already generated")
		return nil
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("get thumbnail: %w", err)
	}

	assoc, md, err := w.sourceRecords(ctx, vodUUID)
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
	url, err := w.segmentURL(ctx, backend, NewSegmentID(vodUUID, FastifySegment))
	if err != nil {
		return err
	}

	dir, err := w.tempDir("thumbnail")
	if err != nil {
		return err
	}
	defer removeAll(ctx, dir)
	output := filepath.Join(dir, ThumbnailSegment)

	if err := timed(ctx, TypeGenerateThumbnail, "transcode", func() error {
		return w.transcoder.Thumbnail(ctx, url, output, vodLength(assoc))
	}); err != nil {
		return err
	}

	img, err := imaging.Open(output)
	if err != nil {
		return fmt.Errorf("read thumbnail dimensions: %w", err)
	}
	bounds := img.Bounds()

	target := NewSegmentID(vodUUID, ThumbnailSegment)
	if err := timed(ctx, TypeGenerateThumbnail, "upload", func() error {
		return w.uploader.UploadFile(ctx, backend, target.Key(), output, "image/jpeg")
	}); err != nil {
		return fmt.Errorf("upload %s: %w", target, err)
	}

	err = w.db.ExecTx(ctx, func(q db.Querier) error {
		return q.AddVodThumbnail(ctx, db.AddVodThumbnailParams{
			VideoUuid: db.UUID(vodUUID),
			Bucket:    md.Bucket,
			Filepath:  target.Key(),
			Width:     int32(bounds.Dx()),
			Height:    int32(bounds.Dy()),
		})
	})
	if err != nil {
		return fmt.Errorf("add thumbnail: %w", err)
	}

	w.makePublicIfNeeded(ctx, backend, vodUUID, target)
	w.notifyUpdate(ctx, vodUUID)
	return nil
}
