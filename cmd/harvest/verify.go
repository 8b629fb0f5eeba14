package main

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ligustah/harvest/internal/config"
	"github.com/ligustah/harvest/internal/ledger"
	"github.com/ligustah/harvest/internal/mirror"
)

var errNoMirror = errors.New("no mirror bucket configured")

func newVerifyCmd(g *globalFlags) *cobra.Command {
	var checkMirror bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the dataset against its hash ledger",
		Long: `Re-hash every file in the hash ledger and compare it to the recorded digest.
Also reports images with no ledger row, rows recorded twice and staging files
left behind. With --mirror the mirror bucket is checked against the ledger too.

Exits with status 7 when any problem is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, config.Config{})
			if err != nil {
				return err
			}
			return runVerify(cmd, cfg, checkMirror)
		},
	}
	cmd.Flags().BoolVar(&checkMirror, "mirror", false, "Also verify the configured mirror bucket")
	return cmd
}

func runVerify(cmd *cobra.Command, cfg config.Config, checkMirror bool) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	layout, err := openLayout(cfg)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	statusf(cmd, "Verifying %s", layout.Root())
	result, err := ledger.Verify(ctx, layout)
	if err != nil {
		return exitWith(ExitGeneralError, err)
	}

	valid := result.Valid
	if result.Valid {
		green.Fprintf(w, "✓ %d files match the hash ledger\n", result.Records)
	} else {
		red.Fprintf(w, "✗ Dataset verification failed\n")
		red.Fprintf(w, "  missing: %d, hash mismatches: %d, unrecorded: %d, duplicates: %d, staging leftovers: %d\n",
			result.Missing, result.HashMismatches, result.Unrecorded, result.Duplicates, result.StagingFiles)
		for _, e := range result.Errors {
			red.Fprintf(w, "  - %s\n", e)
		}
	}

	if checkMirror {
		if cfg.Mirror.Bucket == "" {
			return exitWith(ExitInvalidArgs, errNoMirror)
		}
		records, err := ledger.ReadHashRecords(layout.HashLedgerPath())
		if err != nil {
			return exitWith(ExitGeneralError, err)
		}
		pub, err := mirror.Open(ctx, cfg.Mirror.Bucket, cfg.Mirror.Prefix, layout)
		if err != nil {
			return exitWith(ExitStorageError, err)
		}
		defer pub.Close()

		mres, err := pub.Verify(ctx, records)
		if err != nil {
			return exitWith(ExitStorageError, err)
		}
		if mres.Valid {
			green.Fprintf(w, "✓ %d objects match in %s\n", mres.Objects, cfg.Mirror.Bucket)
		} else {
			valid = false
			red.Fprintf(w, "✗ Mirror verification failed: %d missing, %d size mismatches, %d hash mismatches\n",
				mres.Missing, mres.SizeMismatches, mres.HashMismatches)
			for _, e := range mres.Errors {
				red.Fprintf(w, "  - %s\n", e)
			}
		}
	}

	if !valid {
		return exitWith(ExitValidationFailed, nil)
	}
	return nil
}
