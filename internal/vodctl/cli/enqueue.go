package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/abdul-hamid-achik/vodpipe/internal/rabbitmq"
	"github.com/abdul-hamid-achik/vodpipe/internal/vod"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type enqueueResult struct {
	Type     string   `json:"type"`
	Queue    string   `json:"queue"`
	Priority uint8    `json:"priority"`
	Targets  []string `json:"targets"`
}

func newEnqueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a pipeline task",
		Long: `Queue a single pipeline stage. Stages are idempotent, so re-queueing a
finished stage is harmless.

Examples:
  vodctl enqueue process <vod-uuid> --session <id> --high
  vodctl enqueue preview <vod-uuid> --priority 5
  vodctl enqueue clip 1234
  vodctl enqueue delete <vod-uuid> <vod-uuid>`,
	}

	var (
		session  string
		quality  string
		high     bool
		priority uint8
	)

	process := &cobra.Command{
		Use:   "process <vod-uuid>",
		Short: "Fastify an uploaded VOD and fan out its stages",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			ids, err := parseUUIDs(args)
			if err != nil {
				return err
			}
			req, err := a.requester(ctx)
			if err != nil {
				return err
			}
			if err := req.RequestVodProcessing(ctx, ids[0], quality, session, high); err != nil {
				return err
			}
			p := rabbitmq.DefaultPriority
			if high {
				p = rabbitmq.HighPriority
			}
			return a.reportEnqueued(vod.TypeProcess, req.Queue(), p, args)
		}),
	}
	process.Flags().StringVar(&session, "session", "", "Upload session id to wait for")
	process.Flags().StringVar(&quality, "id", "", "Metadata id (default source)")
	process.Flags().BoolVar(&high, "high", false, "Queue at high priority")

	preview := a.vodStageCmd("preview", "Generate the preview clip", vod.TypeGeneratePreview, &priority,
		func(r *vod.Requester, ctx context.Context, id uuid.UUID, p uint8) error {
			return r.RequestGeneratePreview(ctx, id, p)
		})
	thumbnail := a.vodStageCmd("thumbnail", "Generate the thumbnail", vod.TypeGenerateThumbnail, &priority,
		func(r *vod.Requester, ctx context.Context, id uuid.UUID, p uint8) error {
			return r.RequestGenerateThumbnail(ctx, id, p)
		})

	clip := &cobra.Command{
		Use:   "clip <staged-clip-id>",
		Short: "Materialize a staged clip request",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid staged clip id %q: %w", args[0], err)
			}
			req, err := a.requester(ctx)
			if err != nil {
				return err
			}
			if err := req.RequestStagedClip(ctx, id, priority); err != nil {
				return err
			}
			return a.reportEnqueued(vod.TypeGenerateStagedClip, req.Queue(), priority, args)
		}),
	}
	clip.Flags().Uint8Var(&priority, "priority", 0, "Message priority (0-255)")

	del := &cobra.Command{
		Use:   "delete <vod-uuid>...",
		Short: "Delete VODs and their objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			ids, err := parseUUIDs(args)
			if err != nil {
				return err
			}
			req, err := a.requester(ctx)
			if err != nil {
				return err
			}
			if err := req.RequestDelete(ctx, ids); err != nil {
				return err
			}
			return a.reportEnqueued(vod.TypeDelete, req.Queue(), rabbitmq.DefaultPriority, args)
		}),
	}

	cmd.AddCommand(process, preview, thumbnail, clip, del)
	return cmd
}

func (a *app) vodStageCmd(use, short, taskType string, priority *uint8, request func(*vod.Requester, context.Context, uuid.UUID, uint8) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <vod-uuid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, args []string) error {
			ids, err := parseUUIDs(args)
			if err != nil {
				return err
			}
			req, err := a.requester(ctx)
			if err != nil {
				return err
			}
			if err := request(req, ctx, ids[0], *priority); err != nil {
				return err
			}
			return a.reportEnqueued(taskType, req.Queue(), *priority, args)
		}),
	}
	cmd.Flags().Uint8Var(priority, "priority", 0, "Message priority (0-255)")
	return cmd
}

func (a *app) reportEnqueued(taskType, queue string, priority uint8, targets []string) error {
	if a.printer.IsJSON() {
		return a.printer.JSON(enqueueResult{Type: taskType, Queue: queue, Priority: priority, Targets: targets})
	}
	for _, t := range targets {
		a.printer.Success("queued %s for %s on %s (priority %d)", taskType, t, queue, priority)
	}
	return nil
}

func parseUUIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid vod uuid %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
