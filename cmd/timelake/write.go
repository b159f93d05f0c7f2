package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/table"
)

// loadInput reads the frame named by the optional file argument.
func (a *app) loadInput(args []string, format string) (*frame.Frame, error) {
	file := ""
	if len(args) > 1 {
		file = args[1]
	}
	format, err := inputFormat(format, file)
	if err != nil {
		return nil, err
	}

	r, err := openInput(file, a.in)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return decodeFrame(r, format)
}

func newWriteCmd(a *app) *cobra.Command {
	var (
		format string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "write DATASET [FILE]",
		Short: "Append to or overwrite a dataset from CSV or JSON lines",
		Long: `Write reads rows from FILE, or stdin when FILE is omitted or "-", and
appends them to DATASET or replaces its contents. The dataset is created on
first write.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := table.Mode(mode)
			if !m.Valid() {
				return fmt.Errorf("unknown mode %q (expected append, overwrite)", mode)
			}
			f, err := a.loadInput(args, format)
			if err != nil {
				return err
			}

			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			if err := l.Write(ctx, args[0], f, m); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %d rows to %s (%s)\n", f.NumRows(), args[0], m)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "input format: csv, jsonl (default: from the file extension)")
	cmd.Flags().StringVar(&mode, "mode", string(table.ModeAppend), "write mode: append, overwrite")
	return cmd
}

func newUpsertCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "upsert DATASET [FILE]",
		Short: "Merge rows into a dataset keyed on the timestamp column",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.loadInput(args, format)
			if err != nil {
				return err
			}

			ctx, cancel := a.context(cmd)
			defer cancel()

			l, err := a.openLake(ctx)
			if err != nil {
				return err
			}
			res, err := l.Upsert(ctx, args[0], f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "upserted %s: %d updated, %d inserted\n", args[0], res.RowsUpdated, res.RowsInserted)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "input format: csv, jsonl (default: from the file extension)")
	return cmd
}
