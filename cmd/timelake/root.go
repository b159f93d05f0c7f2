package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Garsdal/timelake/internal/config"
	"github.com/Garsdal/timelake/internal/lake"
	"github.com/Garsdal/timelake/internal/metrics"
	"github.com/Garsdal/timelake/internal/storage"
)

// app carries what every command needs once the root command has loaded the
// configuration.
type app struct {
	in  io.Reader
	out io.Writer

	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	cmd := &cobra.Command{
		Use:   "timelake",
		Short: "Manage time-series datasets in a TimeLake",
		Long: `timelake stores time-series datasets as day-partitioned Parquet tables
under one root, a local directory or an s3:// prefix, and keeps a catalog of
them next to the data.

Settings come from TIMELAKE_* environment variables; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.flushMetrics()
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)

	flags := cmd.PersistentFlags()
	flags.String("path", "", "lake root, a local path or s3://bucket/prefix (env TIMELAKE_PATH)")
	flags.String("backend", "", "storage backend: local, s3 (default: from the path)")
	flags.String("endpoint", "", "S3-compatible endpoint such as localhost:9000")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	flags.String("metrics-file", "", "write a Prometheus textfile snapshot after the command")

	cmd.AddCommand(
		newInitCmd(a),
		newWriteCmd(a),
		newUpsertCmd(a),
		newReadCmd(a),
		newDatasetsCmd(a),
		newCatalogCmd(a),
		newFeatureCmd(a),
		newHistoryCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

// setup loads the configuration, applies flag overrides and installs the
// logger.
func (a *app) setup(flags *pflag.FlagSet) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"path", &cfg.Lake.Path},
		{"backend", &cfg.Storage.Backend},
		{"endpoint", &cfg.Storage.Endpoint},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
		{"metrics-file", &cfg.Metrics.TextfilePath},
	}
	for _, o := range overrides {
		if !flags.Changed(o.flag) {
			continue
		}
		v, err := flags.GetString(o.flag)
		if err != nil {
			return err
		}
		*o.dst = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	if cfg.Metrics.TextfilePath != "" {
		a.registry = metrics.NewRegistry()
	}
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %q (expected debug, info, warn, error)", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %q (expected text, json)", cfg.Format)
	}
	return slog.New(handler), nil
}

func (a *app) flushMetrics() error {
	if a.registry == nil {
		return nil
	}
	if err := metrics.WriteTextfile(a.registry, a.cfg.Metrics.TextfilePath); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}

// context bounds a command by the configured operation timeout.
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d := a.cfg.Table.OperationTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (a *app) lakeOptions() (lake.Options, error) {
	path := a.cfg.Lake.Path
	creds := a.cfg.Storage.Credentials()

	var (
		backend storage.Backend
		err     error
	)
	if a.cfg.Storage.Backend != "" {
		backend, err = storage.New(storage.Kind(a.cfg.Storage.Backend), path, creds, a.logger)
	} else {
		backend, err = storage.ForPath(path, creds, a.logger)
	}
	if err != nil {
		return lake.Options{}, err
	}

	return lake.Options{
		TimestampColumn: a.cfg.Lake.TimestampColumn,
		PartitionBy:     a.cfg.Lake.PartitionBy,
		Backend:         backend,
		ScanConcurrency: a.cfg.Table.ScanConcurrency,
		Logger:          a.logger,
	}, nil
}

func (a *app) openLake(ctx context.Context) (*lake.Lake, error) {
	opts, err := a.lakeOptions()
	if err != nil {
		return nil, err
	}
	return lake.Open(ctx, a.cfg.Lake.Path, opts)
}
