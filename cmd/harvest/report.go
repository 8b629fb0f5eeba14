package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ligustah/harvest/internal/catalog"
	"github.com/ligustah/harvest/internal/config"
	"github.com/ligustah/harvest/internal/ledger"
	"github.com/ligustah/harvest/internal/progress"
	"github.com/ligustah/harvest/pkg/dataset"
)

// reportEvents is how many audit lines the report shows.
const reportEvents = 10

func newReportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Summarise the dataset on disk",
		Long: `Print image counts per label and partition, ledger row counts, catalog
totals and the most recent audit events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, config.Config{})
			if err != nil {
				return err
			}
			return runReport(cmd, cfg)
		},
	}
}

func runReport(cmd *cobra.Command, cfg config.Config) error {
	layout, err := openLayout(cfg)
	if err != nil {
		return err
	}

	inv, err := dataset.Scan(layout)
	if err != nil {
		return exitWith(ExitGeneralError, err)
	}
	meta, err := ledger.ReadMetadataRecords(layout.MetadataPath())
	if err != nil {
		return exitWith(ExitGeneralError, err)
	}
	hashes, err := ledger.ReadHashRecords(layout.HashLedgerPath())
	if err != nil {
		return exitWith(ExitGeneralError, err)
	}
	events, err := ledger.TailEvents(layout.AuditLogPath(), reportEvents)
	if err != nil {
		return exitWith(ExitGeneralError, err)
	}

	w := cmd.OutOrStdout()
	title := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)

	title.Fprintf(w, "Dataset report: %s\n", layout.Root())
	fmt.Fprintf(w, "  Total images: %d\n", inv.Total)
	for _, label := range layout.Labels() {
		fmt.Fprintf(w, "  %s:", label)
		for _, p := range layout.Partitions() {
			fmt.Fprintf(w, " %s=%d", p, inv.Count(label, p))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  Metadata records: %d\n", len(meta))
	fmt.Fprintf(w, "  Hashed files: %d\n", len(hashes))

	var total int64
	for _, h := range hashes {
		total += h.Size
	}
	fmt.Fprintf(w, "  Recorded size: %s\n", progress.FormatBytes(total))
	if n := len(inv.StagingFiles); n > 0 {
		color.New(color.FgYellow).Fprintf(w, "  Staging leftovers: %d\n", n)
	}

	if err := reportCatalog(cmd, layout); err != nil {
		return exitWith(ExitStorageError, err)
	}

	title.Fprintf(w, "Recent audit events\n")
	if len(events) == 0 {
		dim.Fprintln(w, "  (none)")
	}
	for _, e := range events {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}

// reportCatalog prints catalog totals. A dataset without a catalog is
// reported as such rather than getting an empty one created.
func reportCatalog(cmd *cobra.Command, layout *dataset.Layout) error {
	w := cmd.OutOrStdout()
	if _, err := os.Stat(layout.CatalogPath()); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, "  Catalog: none")
		return nil
	}

	store, err := catalog.Open(layout.CatalogPath())
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Counts(cmd.Context())
	if err != nil {
		return err
	}
	n := 0
	for _, c := range counts {
		n += c.N
	}
	fmt.Fprintf(w, "  Catalogued assets: %d\n", n)
	for _, c := range counts {
		fmt.Fprintf(w, "    %s/%s: %d\n", c.Label, c.Partition, c.N)
	}

	recent, err := store.Recent(cmd.Context(), 1)
	if err != nil {
		return err
	}
	if len(recent) == 1 {
		fmt.Fprintf(w, "  Last accepted: %s at %s\n", recent[0].RelativePath, recent[0].CreatedAt.Format("2006-01-02 15:04:05"))
		if recent[0].MirroredKey != "" {
			fmt.Fprintf(w, "  Mirrored as: %s\n", recent[0].MirroredKey)
		}
	}
	return nil
}
