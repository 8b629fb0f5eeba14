// Package harvest drives candidates from discovery sources through the
// acquisition pipeline.
//
// For each candidate the Harvester checks the URL against the allowlist,
// stages the download, validates the staged file, hashes it, rejects
// duplicate content, picks a partition and renames the file into
// <root>/<label>/<partition>/<image_id><ext>. Accepted files get one hash
// ledger row and one metadata row, and are then indexed in the catalog and
// published to the mirror when those are configured.
//
// A rejected candidate leaves no file behind and produces exactly one audit
// line. Rejections are grouped by Kind:
//
//	KindPolicy   untrusted host, size limit, failed validation, duplicate
//	KindNetwork  timeout, connection failure, non-2xx status
//	KindIO       local filesystem failure
//
// # Usage
//
//	h, err := harvest.New(harvest.Options{
//	    Guard:     guard.New(cfg.TrustedHosts),
//	    Stager:    fetch.NewStager(client, layout),
//	    Validator: validate.New(validate.DefaultOptions()),
//	    Ledger:    ledger.New(layout),
//	    Assigner:  assigner,
//	    Layout:    layout,
//	})
//	sum, err := h.Run(ctx, []harvest.Request{{Source: openi, Label: "healthy", Limit: 15}})
package harvest
