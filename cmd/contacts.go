package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-form/internal/store"
)

// newContactsCmd inspects the stored snapshot. It downloads a private copy
// and never uploads.
func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Inspect stored contact submissions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of stored submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshot(cmd, func(snap *store.Snapshot) error {
				n, err := snap.Count(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	})

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the newest submissions as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshot(cmd, func(snap *store.Snapshot) error {
				recs, err := snap.Records(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return writeRecords(cmd.OutOrStdout(), recs)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum rows to print, 0 for all")
	cmd.AddCommand(list)

	return cmd
}

func withSnapshot(cmd *cobra.Command, fn func(*store.Snapshot) error) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	app, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer app.Close()

	snap, err := app.Store().FetchOrCreate(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	defer func() {
		if cerr := snap.Close(); cerr != nil {
			app.Logger().Warn("snapshot cleanup failed", zap.Error(cerr))
		}
	}()
	return fn(snap)
}

func writeRecords(w io.Writer, recs []store.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range recs {
		row := map[string]any{"contact_id": rec.ID}
		for _, f := range rec.Fields() {
			row[f.Name] = f.Value
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encode record %d: %w", rec.ID, err)
		}
	}
	return nil
}
