package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/vod"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

type vodStatus struct {
	VodUUID   string     `json:"vod_uuid"`
	MatchUUID string     `json:"match_uuid,omitempty"`
	Container string     `json:"container"`
	IsClip    bool       `json:"is_clip"`
	IsPublic  bool       `json:"is_public"`
	MD5       string     `json:"md5,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Bucket    string     `json:"bucket"`
	SessionID string     `json:"session_id,omitempty"`
	Fastified bool       `json:"fastified"`
	Preview   bool       `json:"preview"`
	Thumbnail *thumbnail `json:"thumbnail,omitempty"`
}

type thumbnail struct {
	Path   string `json:"path"`
	Width  int32  `json:"width"`
	Height int32  `json:"height"`
}

func newStatusCmd(a *app) *cobra.Command {
	var quality string
	cmd := &cobra.Command{
		Use:   "status <vod-uuid>",
		Short: "Show how far a VOD has progressed through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			ids, err := parseUUIDs(args)
			if err != nil {
				return err
			}
			queries, err := a.database(ctx)
			if err != nil {
				return err
			}
			st, err := loadStatus(ctx, queries, ids[0], quality)
			if err != nil {
				return err
			}
			return a.printStatus(st)
		}),
	}
	cmd.Flags().StringVar(&quality, "id", vod.DefaultMetadataID, "Metadata id")
	return cmd
}

func loadStatus(ctx context.Context, q db.Querier, id uuid.UUID, quality string) (*vodStatus, error) {
	vodID := db.UUID(id)
	assoc, err := q.GetVodAssociation(ctx, vodID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vod %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get association: %w", err)
	}
	md, err := q.GetVodMetadata(ctx, db.GetVodMetadataParams{VideoUuid: vodID, ID: quality})
	if err != nil {
		return nil, fmt.Errorf("get metadata %s: %w", quality, err)
	}

	st := &vodStatus{
		VodUUID:   db.FromUUID(assoc.VideoUuid).String(),
		Container: assoc.RawContainerFormat,
		IsClip:    assoc.IsClip,
		IsPublic:  assoc.IsPublic,
		MD5:       assoc.Md5.String,
		CreatedAt: assoc.CreatedAt.Time,
		Bucket:    md.Bucket,
		SessionID: md.SessionID.String,
		Fastified: md.HasFastify,
		Preview:   md.HasPreview,
	}
	if assoc.MatchUuid.Valid {
		st.MatchUUID = db.FromUUID(assoc.MatchUuid).String()
	}

	thumb, err := q.GetVodThumbnail(ctx, vodID)
	switch {
	case err == nil:
		st.Thumbnail = &thumbnail{Path: thumb.Filepath, Width: thumb.Width, Height: thumb.Height}
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get thumbnail: %w", err)
	}
	return st, nil
}

func (a *app) printStatus(st *vodStatus) error {
	if a.printer.IsJSON() {
		return a.printer.JSON(st)
	}

	p := a.printer
	p.Section("VOD " + st.VodUUID)
	if st.MatchUUID != "" {
		p.KeyValue("Match", st.MatchUUID)
	}
	p.KeyValue("Bucket", st.Bucket)
	p.KeyValue("Container", st.Container)
	p.KeyValue("Created", st.CreatedAt.Format(time.RFC3339))
	if st.SessionID != "" {
		p.KeyValue("Session", st.SessionID)
	}
	if st.MD5 != "" {
		p.KeyValue("MD5", st.MD5)
	}
	p.Flag("Clip", st.IsClip)
	p.Flag("Public", st.IsPublic)

	p.Section("Stages")
	p.Flag("Fastified", st.Fastified)
	p.Flag("Preview", st.Preview)
	if st.Thumbnail != nil {
		p.KeyValue("Thumbnail", fmt.Sprintf("%s (%dx%d)", st.Thumbnail.Path, st.Thumbnail.Width, st.Thumbnail.Height))
	} else {
		p.Flag("Thumbnail", false)
	}
	return nil
}
