// Package cli implements vodctl, the operator tool for the VOD pipeline.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/bootstrap"
	"github.com/abdul-hamid-achik/vodpipe/internal/config"
	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/status"
	"github.com/abdul-hamid-achik/vodpipe/internal/storage"
	"github.com/abdul-hamid-achik/vodpipe/internal/vod"
	"github.com/abdul-hamid-achik/vodpipe/internal/vodctl/output"
	"github.com/spf13/cobra"
)

// BucketFlags reads and writes operator bucket flags.
type BucketFlags interface {
	Status(ctx context.Context, bucket string) (status.Status, error)
	Set(ctx context.Context, bucket string, st status.Status) error
}

// app holds the flags and the dependencies a command opens on demand. Tests
// pre-populate the dependency fields to skip the real connections.
type app struct {
	configPath string
	jsonOutput bool
	quietMode  bool
	noColor    bool
	logLevel   string

	out    io.Writer
	errOut io.Writer

	cfg     *config.Config
	printer *output.Printer

	publisher vod.Publisher
	queries   db.TxQuerier
	storage   *storage.Manager
	uploader  *storage.MultipartUploader
	flags     BucketFlags

	closers []func() error
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "vodctl",
		Short: "vodctl - inspect and drive the VOD pipeline",
		Long: `vodctl talks to the same broker, database and buckets as the worker.

Get started:
  vodctl upload match.mp4 --match <uuid>     # Upload and queue processing
  vodctl status <vod-uuid>                   # Show pipeline progress
  vodctl enqueue preview <vod-uuid>          # Re-run one stage
  vodctl bucket set vods failover            # Route work to the failover queue`,
		Version: bootstrap.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			logger.Init(a.logLevel)

			if a.cfg == nil {
				cfg, err := config.Load(a.configPath)
				if err != nil {
					return err
				}
				a.cfg = cfg
			}

			opts := []output.Option{
				output.WithJSON(a.jsonOutput),
				output.WithQuiet(a.quietMode),
				output.WithNoColor(a.noColor),
			}
			if a.out != nil {
				opts = append(opts, output.WithOutput(a.out))
			}
			if a.errOut != nil {
				opts = append(opts, output.WithErrOutput(a.errOut))
			}
			a.printer = output.New(opts...)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML file with buckets and queue names (default $VODPIPE_CONFIG)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output as JSON (for scripting)")
	root.PersistentFlags().BoolVar(&a.quietMode, "quiet", false, "Suppress non-error output")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level for library output")

	root.SetVersionTemplate("vodctl version {{.Version}}\n")

	root.AddCommand(newEnqueueCmd(a))
	root.AddCommand(newUploadCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newBucketCmd(a))
	return root
}

// runE wraps a command body so everything it opened is closed afterwards.
func (a *app) runE(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := a.close(); err == nil {
				err = cerr
			}
		}()
		return fn(logger.WithLogger(cmd.Context(), logger.Default()), args)
	}
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) requester(ctx context.Context) (*vod.Requester, error) {
	if a.publisher == nil {
		client, err := bootstrap.Broker(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.publisher = client
		a.closers = append(a.closers, func() error {
			// Publish is buffered; Close waits for the buffer to drain.
			cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return client.Close(cctx)
		})
	}
	return vod.NewRequester(a.publisher, a.cfg.VodQueue), nil
}

func (a *app) database(ctx context.Context) (db.TxQuerier, error) {
	if a.queries == nil {
		pool, err := bootstrap.Database(ctx, a.cfg, false)
		if err != nil {
			return nil, err
		}
		a.queries = db.NewStore(pool)
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	}
	return a.queries, nil
}

func (a *app) buckets(ctx context.Context) (*storage.Manager, error) {
	if a.storage == nil {
		mgr, err := bootstrap.Storage(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.storage = mgr
	}
	return a.storage, nil
}

func (a *app) multipart() *storage.MultipartUploader {
	if a.uploader == nil {
		a.uploader = bootstrap.Uploader(a.cfg)
	}
	return a.uploader
}

func (a *app) bucketFlags(ctx context.Context) (BucketFlags, error) {
	if a.flags == nil {
		rdb, err := bootstrap.Redis(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if rdb == nil {
			return nil, errors.New("REDIS_URL is required for bucket flags")
		}
		a.flags = status.NewChecker(rdb, a.cfg.StatusCacheTTL)
		a.closers = append(a.closers, rdb.Close)
	}
	return a.flags, nil
}

func (a *app) stdout() io.Writer {
	if a.out != nil {
		return a.out
	}
	return os.Stdout
}
