package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ligustah/harvest/internal/config"
	"github.com/ligustah/harvest/internal/harvest"
	"github.com/ligustah/harvest/internal/logger"
	"github.com/ligustah/harvest/internal/progress"
	"github.com/ligustah/harvest/pkg/dataset"
)

type runFlags struct {
	limit        int
	scanner      string
	noScrub      bool
	maxFileSize  string
	mirrorBucket string
	mirrorPrefix string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest every configured source",
		Long: `Query every configured source, validate each candidate image and file the
accepted ones into the dataset. Each label stops once its limit is reached;
accepted images are split between train and unseen by the train fraction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			override, err := f.override(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, g, override)
			if err != nil {
				return err
			}
			return runHarvest(cmd, cfg, g.quiet)
		},
	}

	fl := cmd.Flags()
	fl.IntVarP(&f.limit, "limit", "n", 0, "Accepted images per source (default from config)")
	fl.StringVar(&f.scanner, "scanner", "", "Malware scanner: auto, defender, clamav, none")
	fl.BoolVar(&f.noScrub, "no-scrub", false, "Keep image metadata instead of re-encoding")
	fl.StringVar(&f.maxFileSize, "max-file-size", "", "Largest accepted file, e.g. 50MB")
	fl.StringVar(&f.mirrorBucket, "mirror", "", "Bucket URL to mirror accepted images to")
	fl.StringVar(&f.mirrorPrefix, "mirror-prefix", "", "Key prefix inside the mirror bucket")
	return cmd
}

func (f *runFlags) override(cmd *cobra.Command) (config.Config, error) {
	var o config.Config
	o.Limit = f.limit
	o.Scanner = f.scanner
	o.NoScrub = f.noScrub
	o.Mirror = config.MirrorConfig{Bucket: f.mirrorBucket, Prefix: f.mirrorPrefix}
	if f.maxFileSize != "" {
		size, err := progress.ParseBytes(f.maxFileSize)
		if err != nil {
			return config.Config{}, exitWith(ExitInvalidArgs, err)
		}
		o.MaxFileSize = size
	}
	return o, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runHarvest(cmd *cobra.Command, cfg config.Config, quiet bool) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cfg, cmd.OutOrStdout(), quiet)
	if err != nil {
		return err
	}
	defer a.Close()

	reqs, err := a.requests()
	if err != nil {
		return exitWith(ExitInvalidArgs, err)
	}

	runID := uuid.NewString()
	logger.Info("run started", "run_id", runID, "output", cfg.OutputRoot, "requests", len(reqs))
	a.ledger.RecordEventf("Run %s started", runID)

	sum, runErr := a.harvester.Run(ctx, reqs)
	a.reporter.Finish()
	a.publishLedgers(context.WithoutCancel(ctx))
	printSummary(cmd, sum)

	logger.Info("run finished", "run_id", runID, "accepted", sum.AcceptedTotal(), "rejected", sum.RejectedTotal())

	switch {
	case errors.Is(runErr, context.Canceled):
		statusf(cmd, "Run interrupted; committed images are kept")
		return exitWith(ExitGeneralError, nil)
	case runErr != nil:
		return exitWith(ExitGeneralError, runErr)
	case len(reqs) > 0 && len(sum.Skipped) >= len(reqs) && sum.AcceptedTotal() == 0:
		return exitWith(ExitSourceNotAccess, errors.New("no source could be harvested"))
	}
	return nil
}

func printSummary(cmd *cobra.Command, sum *harvest.Summary) {
	w := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	bold.Fprintln(w, "\nRun summary")
	labels := make([]string, 0, len(sum.Accepted))
	for l := range sum.Accepted {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		green.Fprintf(w, "  %-12s %d accepted\n", l, sum.Accepted[l])
	}
	parts := make([]string, 0, len(sum.Partitions))
	for p := range sum.Partitions {
		parts = append(parts, string(p))
	}
	sort.Strings(parts)
	for _, p := range parts {
		green.Fprintf(w, "  %-12s %d\n", p, sum.Partitions[dataset.Partition(p)])
	}
	for _, k := range []harvest.Kind{harvest.KindPolicy, harvest.KindNetwork, harvest.KindIO} {
		if n := sum.Rejected[k]; n > 0 {
			red.Fprintf(w, "  rejected (%s): %d\n", k, n)
		}
	}
	for _, s := range sum.Skipped {
		yellow.Fprintf(w, "  skipped %s\n", s)
	}
}
