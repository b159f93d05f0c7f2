package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Garsdal/timelake/internal/catalog"
	"github.com/Garsdal/timelake/internal/lakeerr"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and edit catalog entries",
	}
	cmd.AddCommand(
		newCatalogListCmd(a),
		newCatalogGetCmd(a),
		newCatalogUpdateCmd(a),
		newCatalogDeleteCmd(a),
	)
	return cmd
}

func (a *app) openCatalog(cmd *cobra.Command) (context.Context, *catalog.Store, context.CancelFunc, error) {
	ctx, cancel := a.context(cmd)
	l, err := a.openLake(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, l.Catalog(), cancel, nil
}

func newCatalogListCmd(a *app) *cobra.Command {
	var entryType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cat, done, err := a.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer done()

			entries, err := cat.List(ctx, catalog.EntryType(entryType))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tNAME\tUPDATED")
			for _, e := range entries {
				h := e.EntryHeader()
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.ID, e.Type(), h.Name, h.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&entryType, "type", "", "only list entries of this type (timelake_config, dataset)")
	return cmd
}

func newCatalogGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Print a catalog entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cat, done, err := a.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer done()

			e, ok, err := cat.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return &lakeerr.NotFoundError{Kind: "catalog entry", Name: args[0]}
			}
			return printEntry(a, e)
		},
	}
}

func printEntry(a *app, e catalog.Entry) error {
	props, err := catalog.Properties(e)
	if err != nil {
		return err
	}
	h := e.EntryHeader()
	doc := map[string]any{
		catalog.ColumnID:         h.ID,
		catalog.ColumnName:       h.Name,
		catalog.ColumnEntryType:  e.Type(),
		catalog.ColumnCreatedAt:  h.CreatedAt,
		catalog.ColumnUpdatedAt:  h.UpdatedAt,
		catalog.ColumnProperties: props,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(b))
	return nil
}

// parseAssignments turns key=value arguments into an update payload. Values
// that are valid JSON are decoded; anything else is kept as a string.
func parseAssignments(args []string) (map[string]any, error) {
	props := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected key=value)", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		props[key] = v
	}
	return props, nil
}

func newCatalogUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update ID KEY=VALUE...",
		Short: "Merge properties into a catalog entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			ctx, cat, done, err := a.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer done()

			ok, err := cat.Update(ctx, args[0], props)
			if err != nil {
				return err
			}
			if !ok {
				return &lakeerr.NotFoundError{Kind: "catalog entry", Name: args[0]}
			}
			fmt.Fprintf(a.out, "updated %s\n", args[0])
			return nil
		},
	}
}

func newCatalogDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a catalog entry; the dataset table is left in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cat, done, err := a.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer done()

			ok, err := cat.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return &lakeerr.NotFoundError{Kind: "catalog entry", Name: args[0]}
			}
			fmt.Fprintf(a.out, "deleted %s\n", args[0])
			return nil
		},
	}
}
