package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/vod"
	"github.com/abdul-hamid-achik/vodpipe/internal/vodctl/output"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type uploadOptions struct {
	bucket    string
	quality   string
	container string
	match     string
	user      string
	public    bool
	duration  time.Duration
}

type uploadResult struct {
	VodUUID   string `json:"vod_uuid"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	SessionID string `json:"session_id"`
	Size      int64  `json:"size"`
}

func newUploadCmd(a *app) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a recording and queue it for processing",
		Long: `Upload a raw recording through a multipart session, register it and
queue a high priority Process task.

Examples:
  vodctl upload match.mp4
  vodctl upload capture.ts --match <uuid> --user <uuid> --duration 42m
  vodctl upload highlight.mp4 --public --bucket vods-eu`,
		Args: cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			return a.upload(ctx, args[0], opts)
		}),
	}
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "Destination bucket (default from config)")
	cmd.Flags().StringVar(&opts.quality, "id", vod.DefaultMetadataID, "Metadata id")
	cmd.Flags().StringVar(&opts.container, "container", "", "Container format: mp4 or mpegts (default from extension)")
	cmd.Flags().StringVar(&opts.match, "match", "", "Match uuid the recording belongs to")
	cmd.Flags().StringVar(&opts.user, "user", "", "Owning user uuid")
	cmd.Flags().BoolVar(&opts.public, "public", false, "Make the VOD publicly readable")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Recording length, used for preview and thumbnail timing")
	return cmd
}

func (a *app) upload(ctx context.Context, path string, opts *uploadOptions) error {
	log := logger.FromContext(ctx)

	match, err := optionalUUID(opts.match)
	if err != nil {
		return fmt.Errorf("invalid --match: %w", err)
	}
	user, err := optionalUUID(opts.user)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	container := opts.container
	if container == "" {
		container = containerFor(path)
	}
	bucket := opts.bucket
	if bucket == "" {
		bucket = a.cfg.DefaultBucket
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	mgr, err := a.buckets(ctx)
	if err != nil {
		return err
	}
	backend, err := mgr.Get(bucket)
	if err != nil {
		return err
	}
	queries, err := a.database(ctx)
	if err != nil {
		return err
	}
	req, err := a.requester(ctx)
	if err != nil {
		return err
	}

	vodUUID := uuid.New()
	seg := vod.SegmentID{VideoUUID: vodUUID, Quality: opts.quality, Segment: vod.SourceSegment(container)}

	bar := output.NewByteProgress(info.Size(), filepath.Base(path), a.quietMode || a.jsonOutput)
	uploader := *a.multipart()
	uploader.Progress = bar.Add
	sessionID, err := uploader.Upload(ctx, backend, seg.Key(), vod.ContainerMIME(container), f, info.Size())
	bar.Finish()
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}

	start := time.Now().UTC()
	var end time.Time
	if opts.duration > 0 {
		end = start.Add(opts.duration)
	}

	err = queries.ExecTx(ctx, func(q db.Querier) error {
		if _, err := q.ReserveVodAssociation(ctx, db.ReserveVodAssociationParams{
			VideoUuid:          db.UUID(vodUUID),
			MatchUuid:          db.NullUUID(match),
			UserUuid:           db.NullUUID(user),
			StartTime:          db.Timestamptz(start),
			EndTime:            db.Timestamptz(end),
			RawContainerFormat: container,
			IsPublic:           opts.public,
		}); err != nil {
			return fmt.Errorf("reserve association: %w", err)
		}
		return q.CreateVodMetadata(ctx, db.CreateVodMetadataParams{
			VideoUuid: db.UUID(vodUUID),
			ID:        opts.quality,
			Bucket:    bucket,
			SessionID: db.Text(sessionID),
		})
	})
	if err != nil {
		if derr := backend.Delete(context.WithoutCancel(ctx), seg.Key()); derr != nil {
			log.Warn("failed to delete unregistered upload", "key", seg.Key(), "error", derr)
		}
		return fmt.Errorf("register vod: %w", err)
	}

	if err := req.RequestVodProcessing(ctx, vodUUID, opts.quality, sessionID, true); err != nil {
		return fmt.Errorf("queue processing: %w", err)
	}

	result := uploadResult{
		VodUUID:   vodUUID.String(),
		Bucket:    bucket,
		Key:       seg.Key(),
		SessionID: sessionID,
		Size:      info.Size(),
	}
	if a.printer.IsJSON() {
		return a.printer.JSON(result)
	}
	a.printer.Success("uploaded %s as %s", filepath.Base(path), result.VodUUID)
	a.printer.KeyValue("Object", bucket+"/"+result.Key)
	a.printer.KeyValue("Session", sessionID)
	a.printer.Info("queued %s on %s", vod.TypeProcess, req.Queue())
	return nil
}

func containerFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".m2ts", ".mts":
		return "mpegts"
	default:
		return "mp4"
	}
}

func optionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}
