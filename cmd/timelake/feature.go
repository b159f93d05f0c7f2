package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Garsdal/timelake/internal/feature"
	"github.com/Garsdal/timelake/internal/lakeerr"
)

func newFeatureCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "Manage feature definitions computed on read",
	}
	cmd.AddCommand(
		newFeatureAddCmd(a),
		newFeatureListCmd(a),
		newFeatureGetCmd(a),
		newFeatureUpdateCmd(a),
		newFeatureRemoveCmd(a),
	)
	return cmd
}

func newFeatureAddCmd(a *app) *cobra.Command {
	var (
		source  string
		periods int
		fill    string
	)

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a lag feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fillValue any
			if cmd.Flags().Changed("fill") {
				props, err := parseAssignments([]string{"fill=" + fill})
				if err != nil {
					return err
				}
				fillValue = props["fill"]
			}

			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			f := feature.Lag(args[0], source, periods, fillValue)
			if err := l.AddFeature(ctx, f); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "added feature %s (lag %d of %s)\n", f.Name, f.Periods, f.SourceColumn)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "column to lag")
	cmd.Flags().IntVar(&periods, "periods", 1, "number of rows to shift")
	cmd.Flags().StringVar(&fill, "fill", "", "value replacing nulls in the feature column")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newFeatureListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			names, err := l.Features(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tSOURCE\tPERIODS\tUPDATED")
			for _, name := range names {
				f, ok, err := l.Feature(ctx, name)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", f.Name, f.Kind, f.SourceColumn, f.Periods, f.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newFeatureGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Print a feature definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			f, ok, err := l.Feature(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return &lakeerr.NotFoundError{Kind: "feature", Name: args[0]}
			}
			b, err := json.MarshalIndent(f, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, string(b))
			return nil
		},
	}
}

func newFeatureUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update NAME KEY=VALUE...",
		Short: "Change attributes of a feature",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			if _, err := l.UpdateFeature(ctx, args[0], props); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "updated feature %s\n", args[0])
			return nil
		},
	}
}

func newFeatureRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a feature definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			if err := l.RemoveFeature(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "removed feature %s\n", args[0])
			return nil
		},
	}
}
