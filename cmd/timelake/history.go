package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Garsdal/timelake/internal/table"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history [DATASET]",
		Short: "List the commits of a dataset table, or of the catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}

			var commits []table.CommitInfo
			if len(args) == 1 {
				commits, err = l.History(ctx, args[0])
			} else {
				commits, err = l.Catalog().History(ctx)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tTIME\tOPERATION\tFILES\tRECORDS")
			for _, c := range commits {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n",
					c.Version,
					time.UnixMilli(c.TimestampMs).UTC().Format(time.RFC3339),
					c.Operation,
					c.Files,
					c.Records,
				)
			}
			return tw.Flush()
		},
	}
}
