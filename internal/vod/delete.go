package vod

import (
	"context"
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func (w *Worker) deleteVods(ctx context.Context, j job, vodUUIDs []uuid.UUID) error {
	var result *multierror.Error
	for _, id := range vodUUIDs {
		vctx := logger.WithVodUUID(ctx, id.String())
		if err := w.deleteVod(vctx, j, id); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}

// deleteVod removes the DB records first, then the objects. The main object
// is deleted even when the copy records conflicted so storage never holds a
// VOD the caller asked to remove.
func (w *Worker) deleteVod(ctx context.Context, j job, vodUUID uuid.UUID) error {
	log := logger.FromContext(ctx)
	vodID := db.UUID(vodUUID)

	assoc, err := w.db.GetVodAssociation(ctx, vodID)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Info("vod already deleted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get association: %w", err)
	}

	md, err := w.db.GetVodMetadata(ctx, db.GetVodMetadataParams{VideoUuid: vodID, ID: DefaultMetadataID})
	hasMetadata := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("get metadata: %w", err)
	}

	var backend storage.Backend
	if hasMetadata {
		if backend, err = w.bucket(ctx, j, md.Bucket); err != nil {
			return err
		}
	}

	txErr := w.db.ExecTx(ctx, func(q db.Querier) error {
		if _, err := q.DeleteVodStorageCopies(ctx, vodID); err != nil {
			return fmt.Errorf("delete storage copies: %w", err)
		}
		if _, err := q.DeleteVodAssociation(ctx, vodID); err != nil {
			return fmt.Errorf("delete association: %w", err)
		}
		return nil
	})
	if txErr != nil {
		if !isConflict(txErr) {
			return txErr
		}
		txErr = apperror.Wrap(txErr, apperror.ErrConflict)
		log.Warn("storage copy records conflicted, deleting object anyway", "error", txErr)
	}

	if backend == nil {
		return txErr
	}

	primary := NewSegmentID(vodUUID, FastifySegment)
	extra := []SegmentID{
		NewSegmentID(vodUUID, SourceSegment(assoc.RawContainerFormat)),
		NewSegmentID(vodUUID, PreviewSegment),
		NewSegmentID(vodUUID, ThumbnailSegment),
	}
	if !md.HasFastify {
		primary, extra[0] = extra[0], primary
	}

	if err := deleteObject(ctx, backend, primary); err != nil {
		return multierror.Append(txErr, err).ErrorOrNil()
	}

	var cleanup *multierror.Error
	for _, seg := range extra {
		if err := deleteObject(ctx, backend, seg); err != nil {
			cleanup = multierror.Append(cleanup, err)
		}
	}
	if err := cleanup.ErrorOrNil(); err != nil {
		log.Warn("failed to delete derived segments", "error", err)
	}
	return txErr
}

func deleteObject(ctx context.Context, b storage.Backend, seg SegmentID) error {
	err := b.Delete(ctx, seg.Key())
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("delete %s: %w", seg, err)
}

// isConflict reports integrity and serialization failures.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || (len(pgErr.Code) == 5 && pgErr.Code[:2] == "23")
}
