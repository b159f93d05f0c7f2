package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lake"
	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/table"
)

// whereOps lists the --where operators, longest first so that ">=" is not
// read as ">".
var whereOps = []table.Op{table.OpNe, table.OpGe, table.OpLe, table.OpEq, table.OpGt, table.OpLt}

// parseWhere parses "column<op>value" against the dataset schema.
func parseWhere(expr string, schema map[string]string) (table.Filter, error) {
	for _, op := range whereOps {
		i := strings.Index(expr, string(op))
		if i <= 0 {
			continue
		}
		column := strings.TrimSpace(expr[:i])
		raw := strings.TrimSpace(expr[i+len(op):])

		typ, ok := schema[column]
		if !ok {
			return table.Filter{}, &lakeerr.ValidationError{Field: column, Reason: "filter column does not exist"}
		}
		var value any = raw
		if frame.Type(typ) != frame.TypeString {
			value, _ = frame.ParseString(raw)
		}
		return table.Filter{Column: column, Op: op, Value: value}, nil
	}
	return table.Filter{}, fmt.Errorf("invalid filter %q (expected column=value, !=, <, <=, >, >=)", expr)
}

func newReadCmd(a *app) *cobra.Command {
	var (
		start  string
		end    string
		where  []string
		output string
		limit  int

		features  []string
		noCompute bool
		horizon   string
	)

	cmd := &cobra.Command{
		Use:   "read DATASET",
		Short: "Print the rows of a dataset, optionally limited to a day range",
		Long: `Read prints the rows of DATASET whose day partition lies in [--start, --end].
Bounds are whole days: a time of day in a bound is ignored.

--feature adds registered features, computed over the rows read. --horizon
drops rows inserted later than --end (or now) minus the horizon.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := lake.ReadOptions{}
			var err error
			if opts.Start, err = parseDay(start); err != nil {
				return err
			}
			if opts.End, err = parseDay(end); err != nil {
				return err
			}
			if opts.Horizon, err = lake.ParseHorizon(horizon); err != nil {
				return err
			}
			opts.Features = features
			opts.ComputeIfMissing = !noCompute

			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			if len(where) > 0 {
				entry, ok, err := l.Dataset(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return &lakeerr.NotFoundError{Kind: "dataset", Name: args[0]}
				}
				for _, expr := range where {
					f, err := parseWhere(expr, entry.Schema)
					if err != nil {
						return err
					}
					opts.Filters = append(opts.Filters, f)
				}
			}

			rows, err := l.Read(ctx, args[0], opts)
			if err != nil {
				return err
			}
			if limit > 0 && rows.NumRows() > limit {
				idx := make([]int, limit)
				for i := range idx {
					idx[i] = i
				}
				rows = rows.Take(idx)
			}
			return encodeFrame(a.out, rows, output)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first day to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day to include (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&where, "where", nil, "row filter such as asset_id=MSFT (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, csv, jsonl")
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many rows")
	cmd.Flags().StringSliceVar(&features, "feature", nil, "feature to include (repeatable or comma-separated)")
	cmd.Flags().BoolVar(&noCompute, "no-compute", false, "skip requested features that are not stored columns")
	cmd.Flags().StringVar(&horizon, "horizon", "", "insertion cutoff before --end or now, e.g. 1d, 3h, 30m")
	return cmd
}
