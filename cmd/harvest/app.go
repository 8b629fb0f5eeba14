package main

import (
	"context"
	"fmt"
	"io"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/harvest/internal/catalog"
	"github.com/ligustah/harvest/internal/config"
	"github.com/ligustah/harvest/internal/discovery"
	"github.com/ligustah/harvest/internal/fetch"
	"github.com/ligustah/harvest/internal/guard"
	"github.com/ligustah/harvest/internal/harvest"
	harvesthttp "github.com/ligustah/harvest/internal/http"
	"github.com/ligustah/harvest/internal/ledger"
	"github.com/ligustah/harvest/internal/logger"
	"github.com/ligustah/harvest/internal/mirror"
	"github.com/ligustah/harvest/internal/progress"
	"github.com/ligustah/harvest/internal/ratelimit"
	"github.com/ligustah/harvest/internal/scan"
	"github.com/ligustah/harvest/internal/split"
	"github.com/ligustah/harvest/internal/validate"
	"github.com/ligustah/harvest/pkg/dataset"
)

// app holds everything one command invocation needs. One rate limiter and
// one HTTP client are shared by discovery and downloads.
type app struct {
	cfg       config.Config
	layout    *dataset.Layout
	ledger    *ledger.Ledger
	guard     *guard.Allowlist
	client    *harvesthttp.Client
	catalog   *catalog.Store
	mirror    *mirror.Publisher
	reporter  *progress.Reporter
	harvester *harvest.Harvester
}

func partitionsOf(names []string) []dataset.Partition {
	out := make([]dataset.Partition, len(names))
	for i, n := range names {
		out[i] = dataset.Partition(n)
	}
	return out
}

func openLayout(cfg config.Config) (*dataset.Layout, error) {
	layout, err := dataset.NewLayout(cfg.OutputRoot, cfg.Labels, partitionsOf(cfg.Partitions))
	if err != nil {
		return nil, exitWith(ExitInvalidArgs, err)
	}
	return layout, nil
}

// newApp wires the acquisition pipeline from cfg and prepares the dataset
// directories and ledgers.
func newApp(ctx context.Context, cfg config.Config, out io.Writer, quiet bool) (*app, error) {
	layout, err := openLayout(cfg)
	if err != nil {
		return nil, err
	}
	if err := layout.Init(); err != nil {
		return nil, exitWith(ExitGeneralError, fmt.Errorf("initialise dataset: %w", err))
	}

	lg := ledger.New(layout)
	if err := lg.Init(); err != nil {
		return nil, exitWith(ExitGeneralError, err)
	}

	scanner, err := scan.New(cfg.Scanner)
	if err != nil {
		return nil, exitWith(ExitInvalidArgs, err)
	}
	logger.Info("malware scanner selected", "scanner", scanner.Name())

	assigner, err := split.NewAssigner(cfg.TrainFraction, layout.Partitions())
	if err != nil {
		return nil, exitWith(ExitInvalidArgs, err)
	}

	a := &app{
		cfg:      cfg,
		layout:   layout,
		ledger:   lg,
		guard:    guard.New(cfg.TrustedHosts),
		reporter: progress.NewReporter(progress.Options{Output: out, Quiet: quiet}),
	}

	limiter := ratelimit.New(cfg.RateInterval)
	a.client = harvesthttp.NewClient(harvesthttp.Options{
		Timeout:         cfg.Timeout,
		MaxBodySize:     cfg.MaxFileSize,
		UserAgent:       cfg.UserAgent,
		RetryAttempts:   cfg.Retry.Attempts,
		RetryBackoff:    cfg.Retry.Backoff,
		RetryMaxBackoff: cfg.Retry.MaxBackoff,
	}, limiter)

	a.catalog, err = catalog.Open(layout.CatalogPath())
	if err != nil {
		return nil, exitWith(ExitStorageError, err)
	}

	if cfg.Mirror.Bucket != "" {
		a.mirror, err = mirror.Open(ctx, cfg.Mirror.Bucket, cfg.Mirror.Prefix, layout)
		if err != nil {
			a.Close()
			return nil, exitWith(ExitStorageError, err)
		}
	}

	validator := validate.New(validate.Options{
		MaxSize:   cfg.MaxFileSize,
		MaxPixels: cfg.MaxPixels,
		Scanner:   scanner,
		Scrub:     !cfg.NoScrub,
	})
	a.harvester, err = harvest.New(harvest.Options{
		Guard:         a.guard,
		Stager:        fetch.NewStager(a.client, layout),
		Validator:     validator,
		Ledger:        lg,
		Assigner:      assigner,
		Layout:        layout,
		Catalog:       a.catalog,
		Mirror:        a.mirror,
		Progress:      a.reporter,
		TrainFraction: cfg.TrainFraction,
	})
	if err != nil {
		a.Close()
		return nil, exitWith(ExitGeneralError, err)
	}
	return a, nil
}

// requests builds one harvest request per configured source.
func (a *app) requests() ([]harvest.Request, error) {
	reqs := make([]harvest.Request, 0, len(a.cfg.Sources))
	for _, s := range a.cfg.Sources {
		var src discovery.Source
		switch s.Type {
		case config.SourceOpenI:
			src = &discovery.OpenI{Client: a.client, Query: s.Query}
		case config.SourceGallery:
			src = &discovery.Gallery{
				Client:     a.client,
				Hosts:      a.guard,
				URL:        s.URL,
				Selector:   s.Selector,
				SourceName: s.Name,
			}
		default:
			return nil, fmt.Errorf("unknown source type %q", s.Type)
		}
		reqs = append(reqs, harvest.Request{Source: src, Label: s.Label, Limit: a.cfg.SourceLimit(s)})
	}
	return reqs, nil
}

// publishLedgers copies the ledgers to the mirror when one is configured.
func (a *app) publishLedgers(ctx context.Context) {
	if a.mirror == nil {
		return
	}
	if err := a.mirror.PublishLedgers(ctx); err != nil {
		logger.Error("ledger mirror failed", "err", err)
		a.ledger.RecordEventf("Ledger mirror failed: %v", err)
	}
}

func (a *app) Close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
}
