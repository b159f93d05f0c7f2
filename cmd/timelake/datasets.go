package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDatasetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the datasets of a lake",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			datasets, err := l.Datasets(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPARTITIONS\tCOLUMNS\tCREATED\tPATH")
			for _, d := range datasets {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					d.Name,
					strings.Join(d.PartitionColumns, ","),
					len(d.Schema),
					d.CreatedAt.Format(time.RFC3339),
					d.Path,
				)
			}
			return tw.Flush()
		},
	}
}
