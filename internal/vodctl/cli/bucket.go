package cli

import (
	"context"

	"github.com/abdul-hamid-achik/vodpipe/internal/status"
	"github.com/abdul-hamid-achik/vodpipe/internal/vodctl/output"
	"github.com/spf13/cobra"
)

type bucketState struct {
	Bucket string `json:"bucket"`
	Status string `json:"status"`
}

func newBucketCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucket",
		Short: "Read or change bucket outage flags",
		Long: `Workers consult a per-bucket flag before touching storage:

  up        process normally
  down      defer work for an hour
  failover  move work to the failover queue

Examples:
  vodctl bucket status
  vodctl bucket set vods failover`,
	}

	get := &cobra.Command{
		Use:   "status [bucket]...",
		Short: "Show bucket flags (default every configured bucket)",
		RunE: a.runE(func(ctx context.Context, args []string) error {
			flags, err := a.bucketFlags(ctx)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				for _, b := range a.cfg.Buckets {
					names = append(names, b.Name)
				}
			}

			states := make([]bucketState, 0, len(names))
			for _, name := range names {
				st, err := flags.Status(ctx, name)
				if err != nil {
					return err
				}
				states = append(states, bucketState{Bucket: name, Status: string(st)})
			}

			if a.printer.IsJSON() {
				return a.printer.JSON(states)
			}
			table := output.NewTable(a.stdout(), []string{"BUCKET", "STATUS"}, a.quietMode)
			for _, s := range states {
				table.Row(s.Bucket, output.BucketStatusColor(s.Status))
			}
			return table.Render()
		}),
	}

	set := &cobra.Command{
		Use:       "set <bucket> <up|down|failover>",
		Short:     "Set a bucket flag",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(status.Up), string(status.Down), string(status.Failover)},
		RunE: a.runE(func(ctx context.Context, args []string) error {
			st, err := status.Parse(args[1])
			if err != nil {
				return err
			}
			flags, err := a.bucketFlags(ctx)
			if err != nil {
				return err
			}
			if err := flags.Set(ctx, args[0], st); err != nil {
				return err
			}
			if a.printer.IsJSON() {
				return a.printer.JSON(bucketState{Bucket: args[0], Status: string(st)})
			}
			a.printer.Success("bucket %s is now %s", args[0], output.BucketStatusColor(string(st)))
			return nil
		}),
	}

	cmd.AddCommand(get, set)
	return cmd
}
