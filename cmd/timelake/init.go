package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Garsdal/timelake/internal/lake"
)

func newInitCmd(a *app) *cobra.Command {
	var (
		timestampColumn string
		partitionBy     []string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a lake, or show the config of an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			opts, err := a.lakeOptions()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timestamp-column") {
				opts.TimestampColumn = timestampColumn
			}
			if cmd.Flags().Changed("partition-by") {
				opts.PartitionBy = partitionBy
			}

			l, err := lake.Create(ctx, a.cfg.Lake.Path, opts)
			if err != nil {
				return err
			}

			cfg := l.Config()
			fmt.Fprintf(a.out, "lake:             %s\n", l.Path())
			fmt.Fprintf(a.out, "store id:         %s\n", cfg.StoreID)
			fmt.Fprintf(a.out, "timestamp column: %s\n", cfg.TimestampColumn)
			fmt.Fprintf(a.out, "partition by:     %s\n", strings.Join(cfg.PartitionBy, ", "))
			fmt.Fprintf(a.out, "backend:          %s\n", cfg.BackendKind)
			return nil
		},
	}

	cmd.Flags().StringVar(&timestampColumn, "timestamp-column", "", "time column of every dataset (env TIMELAKE_TIMESTAMP_COLUMN)")
	cmd.Flags().StringSliceVar(&partitionBy, "partition-by", nil, "extra partition columns after the day column (env TIMELAKE_PARTITION_BY)")
	return cmd
}
